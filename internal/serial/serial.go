// Package serial provides a strict FIFO, single-worker execution context.
//
// Every task submitted to an Executor runs on the same goroutine, one at a
// time, in submission order. A task that submits more work to the executor it
// is running on gets that work executed inline, so nested calls never wait
// behind themselves.
package serial

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("serial: executor closed")

type workerKey struct{}

type task struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error // nil for fire-and-forget
}

// Executor is a single-consumer work queue. The queue is unbounded so that a
// task may enqueue follow-up work without blocking the worker.
type Executor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []task
	closed bool

	exited chan struct{}
}

// New starts the worker goroutine.
func New() *Executor {
	e := &Executor{exited: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	go e.loop()
	return e
}

// OnWorker reports whether ctx belongs to a task running on e.
func (e *Executor) OnWorker(ctx context.Context) bool {
	w, _ := ctx.Value(workerKey{}).(*Executor)
	return w == e
}

// Do runs fn on the worker and waits for it. When called from a task already
// running on e, fn runs inline. If ctx ends before fn starts, fn is skipped and
// ctx.Err() is returned; once started, fn runs to completion.
func (e *Executor) Do(ctx context.Context, fn func(context.Context) error) error {
	if e.OnWorker(ctx) {
		return fn(ctx)
	}
	done := make(chan error, 1)
	if err := e.push(task{ctx: ctx, fn: fn, done: done}); err != nil {
		return err
	}
	return <-done
}

// Go enqueues fn without waiting. Unlike Do it never runs inline, which keeps
// follow-up work ordered after the task that scheduled it.
func (e *Executor) Go(ctx context.Context, fn func(context.Context) error) error {
	return e.push(task{ctx: context.WithoutCancel(ctx), fn: fn})
}

func (e *Executor) push(t task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.queue = append(e.queue, t)
	e.cond.Signal()
	return nil
}

// Len returns the number of queued tasks not yet started.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Close stops accepting work, drains the queue and waits for the worker.
// Safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		e.cond.Signal()
	}
	e.mu.Unlock()
	<-e.exited
}

func (e *Executor) loop() {
	defer close(e.exited)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		t := e.queue[0]
		e.queue[0] = task{}
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.exec(t)
	}
}

func (e *Executor) exec(t task) {
	var err error
	defer func() {
		if t.done != nil {
			t.done <- err
		}
	}()
	if err = t.ctx.Err(); err != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	err = t.fn(context.WithValue(t.ctx, workerKey{}, e))
}

// PanicError is returned by Do when the task panicked. The worker survives.
type PanicError struct{ Value any }

func (p *PanicError) Error() string { return "serial: task panicked" }
