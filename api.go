package tiercache

import (
	"context"

	c "github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/layer"
	"github.com/unkn0wn-root/tiercache/promise"
)

// LoadFunc produces a value for key when every layer missed.
type LoadFunc[V any] func(ctx context.Context, key string) (V, error)

// Cache is the high-level, multi-tier cache API.
// V is the caller's value type. Serialization is handled by a pluggable Codec[V].
type Cache[V any] interface {
	Enabled() bool
	Layers() []string // layer names, fastest first
	Close(context.Context) error

	// Retrieve cascades through the layers in order. A hit is promoted into
	// every faster layer; a value that fails to decode is evicted from the
	// layer that held it and every slower one.
	Retrieve(ctx context.Context, key string) *promise.Promise[V]

	// Fetch is Retrieve that falls back to load on a full miss and stores
	// the loaded value.
	Fetch(ctx context.Context, key string, load LoadFunc[V]) *promise.Promise[V]

	// Store, Remove and RemoveAll fan out to every layer in order. They never
	// block the caller; await the promise for per-layer outcomes.
	Store(ctx context.Context, key string, value V) *promise.Promise[Report]
	Remove(ctx context.Context, key string) *promise.Promise[Report]
	RemoveAll(ctx context.Context) *promise.Promise[Report]
}

// Options tune the cache. Layers and Codec are required.
type Options[V any] struct {
	// Required
	Layers []layer.Layer // fastest first; order is fixed for the cache's lifetime
	Codec  c.Codec[V]

	Logger   Logger // if nil, NopLogger is used
	Hooks    Hooks  // if nil, NopHooks is used
	Disabled bool   // default false (enabled)
}

func New[V any](opts Options[V]) (Cache[V], error) {
	ch, err := newCache[V](opts)
	if err != nil {
		return nil, err
	}
	return ch, nil
}
