package tiercache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	c "github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/layer"
	"github.com/unkn0wn-root/tiercache/promise"
)

type cache[V any] struct {
	layers  []layer.Layer
	names   []string
	codec   c.Codec[V]
	log     Logger
	hooks   Hooks
	enabled bool

	mu     sync.Mutex
	closed bool
	bg     sync.WaitGroup // promotions and fan-outs still writing
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if len(opts.Layers) == 0 {
		return nil, fmt.Errorf("tiercache: at least one layer is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("tiercache: codec is required")
	}

	ch := &cache[V]{
		layers:  make([]layer.Layer, len(opts.Layers)),
		names:   make([]string, len(opts.Layers)),
		codec:   opts.Codec,
		enabled: !opts.Disabled,
	}
	for i, l := range opts.Layers {
		if l == nil {
			return nil, fmt.Errorf("tiercache: layer %d is nil", i)
		}
		ch.layers[i] = l
		ch.names[i] = l.Name()
	}

	// defaults
	ch.log = coalesce[Logger](opts.Logger, NopLogger{})
	ch.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	return ch, nil
}

func (ch *cache[V]) Enabled() bool { return ch.enabled }

func (ch *cache[V]) Layers() []string {
	out := make([]string, len(ch.names))
	copy(out, ch.names)
	return out
}

func (ch *cache[V]) Retrieve(ctx context.Context, key string) *promise.Promise[V] {
	if !ch.enabled {
		return promise.Rejected[V](&MissError{Key: key})
	}
	if ch.isClosed() {
		return promise.Rejected[V](ErrClosed)
	}
	ctx, cancel := context.WithCancel(ctx)
	p := promise.Go(func() (V, error) {
		defer cancel()
		return ch.retrieve(ctx, key)
	})
	p.OnCancel(cancel)
	return p
}

func (ch *cache[V]) retrieve(ctx context.Context, key string) (V, error) {
	var zero V
	for i, l := range ch.layers {
		raw, err := l.Retrieve(ctx, key).Await(ctx)
		if err != nil {
			if layer.IsMiss(err) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			ch.log.Warn("layer retrieve failed", layerFields(key, l.Name(), err))
			return zero, &LayerError{Op: "retrieve", Key: key, Layer: l.Name(), Err: err}
		}

		v, err := ch.codec.Decode(raw)
		if err != nil {
			// the bad copy may have been promoted from any slower layer
			ch.evictCorrupt(context.WithoutCancel(ctx), key, i)
			ch.hooks.SelfHeal(key, l.Name(), "value_decode")
			return zero, &DecodeError{Key: key, Layer: l.Name(), Err: err}
		}

		ch.hooks.Hit(l.Name(), i)
		if i > 0 {
			ch.promote(context.WithoutCancel(ctx), key, raw, i)
		}
		return v, nil
	}
	ch.hooks.Miss(key)
	return zero, &MissError{Key: key, Layers: ch.Layers()}
}

// promote writes raw into every layer faster than hit, in the background.
func (ch *cache[V]) promote(ctx context.Context, key string, raw []byte, hit int) {
	ch.track(func() {
		for _, l := range ch.layers[:hit] {
			if err := l.Store(ctx, key, raw); err != nil {
				ch.hooks.PromoteFailed(key, l.Name(), err)
				ch.log.Debug("promotion failed", layerFields(key, l.Name(), err))
			}
		}
	})
}

func (ch *cache[V]) evictCorrupt(ctx context.Context, key string, from int) {
	for _, l := range ch.layers[from:] {
		if err := l.Remove(ctx, key); err != nil {
			ch.hooks.EvictFailed(key, l.Name(), err)
			ch.log.Warn("evicting corrupt entry failed", layerFields(key, l.Name(), err))
		}
	}
	ch.log.Debug("evicted corrupt entry", Fields{"key": key, "from": ch.names[from]})
}

func (ch *cache[V]) Store(ctx context.Context, key string, value V) *promise.Promise[Report] {
	if !ch.enabled {
		return promise.Resolved(Report{Op: OpStore, Key: key})
	}
	raw, err := ch.codec.Encode(value)
	if err != nil {
		return promise.Rejected[Report](fmt.Errorf("tiercache: encode %q: %w", key, err))
	}
	return ch.fanout(ctx, OpStore, key, func(ctx context.Context, l layer.Layer) error {
		return l.Store(ctx, key, raw)
	})
}

func (ch *cache[V]) Remove(ctx context.Context, key string) *promise.Promise[Report] {
	if !ch.enabled {
		return promise.Resolved(Report{Op: OpRemove, Key: key})
	}
	return ch.fanout(ctx, OpRemove, key, func(ctx context.Context, l layer.Layer) error {
		return l.Remove(ctx, key)
	})
}

func (ch *cache[V]) RemoveAll(ctx context.Context) *promise.Promise[Report] {
	if !ch.enabled {
		return promise.Resolved(Report{Op: OpRemoveAll})
	}
	return ch.fanout(ctx, OpRemoveAll, "", func(ctx context.Context, l layer.Layer) error {
		return l.RemoveAll(ctx)
	})
}

// fanout applies fn to every layer in order without stopping at the first
// failure. The work outlives ctx cancellation so fire-and-forget callers
// still get consistent layers.
func (ch *cache[V]) fanout(ctx context.Context, op, key string, fn func(context.Context, layer.Layer) error) *promise.Promise[Report] {
	ctx = context.WithoutCancel(ctx)
	p := promise.New(func(p *promise.Promise[Report]) {
		ok := ch.track(func() {
			rep := Report{Op: op, Key: key, Results: make([]LayerResult, 0, len(ch.layers))}
			for _, l := range ch.layers {
				err := fn(ctx, l)
				if err != nil {
					ch.hooks.WriteFailed(op, key, l.Name(), err)
					f := layerFields(key, l.Name(), err)
					f["op"] = op
					ch.log.Debug("layer write failed", f)
				}
				rep.Results = append(rep.Results, LayerResult{Layer: l.Name(), Err: err})
			}
			p.Keep(rep)
		})
		if !ok {
			p.Fail(ErrClosed)
		}
	})
	_ = p.Run()
	return p
}

func (ch *cache[V]) Fetch(ctx context.Context, key string, load LoadFunc[V]) *promise.Promise[V] {
	if load == nil {
		return ch.Retrieve(ctx, key)
	}
	p := promise.Recover(ch.Retrieve(ctx, key), func(err error, next *promise.Promise[V]) {
		if !errors.Is(err, ErrCacheMiss) {
			next.Fail(err)
			return
		}
		next.Adopt(promise.Go(func() (V, error) {
			v, err := load(ctx, key)
			if err != nil {
				return v, err
			}
			// outcome is reported through hooks
			_ = ch.Store(ctx, key, v)
			return v, nil
		}))
	})
	_ = p.Run()
	return p
}

// track runs fn on a goroutine counted by Close. It reports false, without
// running fn, once the cache is closed.
func (ch *cache[V]) track(fn func()) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return false
	}
	ch.bg.Add(1)
	go func() {
		defer ch.bg.Done()
		fn()
	}()
	return true
}

func (ch *cache[V]) isClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

// Close waits for background writes, then closes every layer.
func (ch *cache[V]) Close(ctx context.Context) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	ch.mu.Unlock()

	var errs []error
	done := make(chan struct{})
	go func() {
		ch.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("tiercache: waiting for background writes: %w", ctx.Err()))
	}

	for _, l := range ch.layers {
		if err := l.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tiercache: close %s: %w", l.Name(), err))
		}
	}
	return errors.Join(errs...)
}
