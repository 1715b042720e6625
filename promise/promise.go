// Package promise implements a single-assignment asynchronous result.
//
// A Promise is created with a run function that eventually resolves it with
// exactly one of Keep, Fail, Abort or Cancel. Resolution is idempotent: the
// first call wins and later calls report false instead of panicking.
//
// Promises built with New and the combinators are lazy. They start on Run,
// on Await, or when a derived promise starts. Go, Resolved and Rejected
// return promises that are already running or settled.
//
//	p := promise.Go(func() ([]byte, error) { return fetch(ctx, key) })
//	n := promise.Then(p, func(b []byte) (int, error) { return len(b), nil })
//	size, err := n.Await(ctx)
package promise

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of a Promise.
type State uint8

const (
	Pending State = iota
	Succeeded
	Failed
	Aborted
	Canceled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

var (
	ErrAborted    = errors.New("promise: aborted")
	ErrCanceled   = errors.New("promise: canceled")
	ErrAlreadyRun = errors.New("promise: already run")
	ErrPending    = errors.New("promise: pending")
)

// Promise is a single-assignment result cell. The zero value is not usable;
// construct with New, Go, Resolved or Rejected.
type Promise[T any] struct {
	run     func(*Promise[T])
	started atomic.Bool

	mu        sync.Mutex
	state     State
	value     T
	err       error
	done      chan struct{}
	callbacks []func()
	cancelers []func()
}

// New returns a lazy promise. run is invoked once, on the first Run, Await or
// chained start, and must arrange for exactly one resolution.
func New[T any](run func(p *Promise[T])) *Promise[T] {
	return &Promise[T]{run: run, done: make(chan struct{})}
}

// Go starts fn on its own goroutine and resolves the promise with its result.
func Go[T any](fn func() (T, error)) *Promise[T] {
	p := New(func(p *Promise[T]) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					p.Fail(panicError(r))
				}
			}()
			v, err := fn()
			if err != nil {
				p.Fail(err)
				return
			}
			p.Keep(v)
		}()
	})
	p.start()
	return p
}

// Resolved returns a promise that already succeeded with v.
func Resolved[T any](v T) *Promise[T] {
	p := settled[T]()
	p.Keep(v)
	return p
}

// Rejected returns a promise that already failed with err.
func Rejected[T any](err error) *Promise[T] {
	p := settled[T]()
	p.Fail(err)
	return p
}

func settled[T any]() *Promise[T] {
	p := &Promise[T]{done: make(chan struct{})}
	p.started.Store(true)
	return p
}

// Run triggers the run function. Calling it more than once returns
// ErrAlreadyRun and has no other effect.
func (p *Promise[T]) Run() error {
	if !p.start() {
		return ErrAlreadyRun
	}
	return nil
}

func (p *Promise[T]) start() bool {
	if !p.started.CompareAndSwap(false, true) {
		return false
	}
	if p.run == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			p.Fail(panicError(r))
		}
	}()
	p.run(p)
	return true
}

// Keep resolves the promise with v. It reports false if already resolved.
func (p *Promise[T]) Keep(v T) bool { return p.resolve(Succeeded, v, nil) }

// Fail resolves the promise with err. A nil err is replaced with a generic one
// so a failed promise always carries an error.
func (p *Promise[T]) Fail(err error) bool {
	if err == nil {
		err = errors.New("promise: failed with nil error")
	}
	var zero T
	return p.resolve(Failed, zero, err)
}

// Abort resolves the promise without a value or a failure cause.
func (p *Promise[T]) Abort() bool {
	var zero T
	return p.resolve(Aborted, zero, ErrAborted)
}

// Cancel resolves the promise as canceled and runs every handle registered
// with OnCancel.
func (p *Promise[T]) Cancel() bool {
	var zero T
	return p.resolve(Canceled, zero, ErrCanceled)
}

func (p *Promise[T]) resolve(state State, v T, err error) bool {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return false
	}
	p.state, p.value, p.err = state, v, err
	callbacks := p.callbacks
	var cancelers []func()
	if state == Canceled {
		cancelers = p.cancelers
	}
	p.callbacks, p.cancelers = nil, nil
	close(p.done)
	p.mu.Unlock()

	for _, fn := range cancelers {
		fn()
	}
	for _, fn := range callbacks {
		fn()
	}
	return true
}

// OnCancel attaches an upstream task handle. fn runs when the promise is
// canceled, immediately if it already was, and never otherwise.
func (p *Promise[T]) OnCancel(fn func()) {
	p.mu.Lock()
	switch p.state {
	case Pending:
		p.cancelers = append(p.cancelers, fn)
		p.mu.Unlock()
	case Canceled:
		p.mu.Unlock()
		fn()
	default:
		p.mu.Unlock()
	}
}

// Adopt resolves p with the outcome of src once src settles. Cancelling p
// cancels src.
func (p *Promise[T]) Adopt(src *Promise[T]) {
	p.OnCancel(func() { src.Cancel() })
	src.whenDone(func() {
		state, v, err := src.snapshot()
		p.resolve(state, v, err)
	})
	src.start()
}

// whenDone runs fn once the promise is terminal, inline if it already is.
func (p *Promise[T]) whenDone(fn func()) {
	p.mu.Lock()
	if p.state == Pending {
		p.callbacks = append(p.callbacks, fn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn()
}

func (p *Promise[T]) snapshot() (State, T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.value, p.err
}

// State returns the current state without blocking.
func (p *Promise[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Resolved reports whether the promise reached a terminal state.
func (p *Promise[T]) Resolved() bool { return p.State() != Pending }

// Done is closed once the promise is terminal. It does not start the promise.
func (p *Promise[T]) Done() <-chan struct{} { return p.done }

// Result returns the outcome without blocking. A pending promise returns
// ErrPending; aborted and canceled promises return ErrAborted and ErrCanceled.
func (p *Promise[T]) Result() (T, error) {
	state, v, err := p.snapshot()
	if state == Pending {
		var zero T
		return zero, ErrPending
	}
	return v, err
}

// Await starts the promise if needed and blocks until it settles or ctx ends.
// When ctx ends first the promise is canceled and ctx.Err() is returned.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	p.start()
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		if p.Cancel() {
			var zero T
			return zero, ctx.Err()
		}
		return p.Result()
	}
}

type panicErr struct{ v any }

func (e panicErr) Error() string { return fmt.Sprintf("promise: panic: %v", e.v) }

func panicError(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("promise: panic: %w", err)
	}
	return panicErr{v: v}
}
