// Package memory is the in-process tier: a sharded map of byte slices.
//
// It is unbounded and has no eviction. Use layer/bigcache or layer/ristretto
// when the memory tier needs a ceiling.
package memory

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/tiercache/layer"
	"github.com/unkn0wn-root/tiercache/promise"
)

const defaultShards = 32

type shard struct {
	mu sync.RWMutex
	m  map[string][]byte
}

type Layer struct {
	name   string
	shards []*shard
}

var _ layer.Layer = (*Layer)(nil)

type Config struct {
	Name   string // default "memory"
	Shards int    // default 32
}

func New(cfg Config) *Layer {
	if cfg.Name == "" {
		cfg.Name = "memory"
	}
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}
	l := &Layer{name: cfg.Name, shards: make([]*shard, cfg.Shards)}
	for i := range l.shards {
		l.shards[i] = &shard{m: make(map[string][]byte)}
	}
	return l
}

// shardFor maps a key to its shard by hashing it.
func (l *Layer) shardFor(key string) *shard {
	return l.shards[xxhash.Sum64String(key)%uint64(len(l.shards))]
}

func (l *Layer) Name() string { return l.name }

// Store keeps a private copy so later mutation of value by the caller cannot
// change what is cached.
func (l *Layer) Store(_ context.Context, key string, value []byte) error {
	b := make([]byte, len(value))
	copy(b, value)
	s := l.shardFor(key)
	s.mu.Lock()
	s.m[key] = b
	s.mu.Unlock()
	return nil
}

func (l *Layer) Retrieve(_ context.Context, key string) *promise.Promise[[]byte] {
	s := l.shardFor(key)
	s.mu.RLock()
	b, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return layer.Miss()
	}
	out := make([]byte, len(b))
	copy(out, b)
	return layer.Hit(out)
}

func (l *Layer) Remove(_ context.Context, key string) error {
	s := l.shardFor(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (l *Layer) RemoveAll(context.Context) error {
	for _, s := range l.shards {
		s.mu.Lock()
		clear(s.m)
		s.mu.Unlock()
	}
	return nil
}

// Len returns the number of cached keys across all shards.
func (l *Layer) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

func (l *Layer) Close(ctx context.Context) error { return l.RemoveAll(ctx) }
