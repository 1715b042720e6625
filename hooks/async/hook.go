// Package asynchook moves Hooks calls off the cache's hot path onto a small
// worker pool. When the queue is full, events are dropped and counted.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := tiercache.New(tiercache.Options[User]{
//	    Layers: []layer.Layer{mem, disk, origin},
//	    Codec:  codec.JSON[User]{},
//	    Hooks:  hooks, // or raw if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

type Hooks struct {
	inner   tiercache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards send vs close
	closed  bool
	dropped atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(inner tiercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for range workers {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers queued events and stops the workers. Events sent after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped is the number of events discarded because the queue was full or
// the dispatcher was closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) Hit(l string, i int) { h.try(func() { h.inner.Hit(l, i) }) }
func (h *Hooks) Miss(k string)       { h.try(func() { h.inner.Miss(k) }) }
func (h *Hooks) SelfHeal(k, l, r string) {
	h.try(func() { h.inner.SelfHeal(k, l, r) })
}
func (h *Hooks) PromoteFailed(k, l string, err error) {
	h.try(func() { h.inner.PromoteFailed(k, l, err) })
}
func (h *Hooks) EvictFailed(k, l string, err error) {
	h.try(func() { h.inner.EvictFailed(k, l, err) })
}
func (h *Hooks) WriteFailed(op, k, l string, err error) {
	h.try(func() { h.inner.WriteFailed(op, k, l, err) })
}
