// Package ristretto is a cost-bounded in-process tier on dgraph-io/ristretto.
// Each entry costs its length in bytes, so MaxCost is a byte budget.
package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/tiercache/layer"
	"github.com/unkn0wn-root/tiercache/promise"
)

type Layer struct {
	name string
	ttl  time.Duration
	c    *rc.Cache
}

var _ layer.Layer = (*Layer)(nil)

type Config struct {
	Name        string // default "ristretto"
	NumCounters int64  // ~10x expected item count
	MaxCost     int64  // bytes
	BufferItems int64  // default 64
	TTL         time.Duration
	Metrics     bool
}

func New(cfg Config) (*Layer, error) {
	if cfg.Name == "" {
		cfg.Name = "ristretto"
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 {
		return nil, errors.New("ristretto: NumCounters and MaxCost must be positive")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Layer{name: cfg.Name, ttl: cfg.TTL, c: c}, nil
}

func (l *Layer) Name() string { return l.name }

// Store waits for the write buffer so the entry is visible to the next
// Retrieve. A write dropped by the admission policy yields layer.ErrRejected.
func (l *Layer) Store(_ context.Context, key string, value []byte) error {
	b := make([]byte, len(value))
	copy(b, value)
	if !l.c.SetWithTTL(key, b, int64(len(b)), l.ttl) {
		return layer.ErrRejected
	}
	l.c.Wait()
	return nil
}

func (l *Layer) Retrieve(_ context.Context, key string) *promise.Promise[[]byte] {
	v, ok := l.c.Get(key)
	if !ok {
		return layer.Miss()
	}
	b, ok := v.([]byte)
	if !ok {
		// not written by this layer
		l.c.Del(key)
		return layer.Miss()
	}
	return layer.Hit(b)
}

func (l *Layer) Remove(_ context.Context, key string) error {
	l.c.Del(key)
	return nil
}

func (l *Layer) RemoveAll(context.Context) error {
	l.c.Clear()
	return nil
}

func (l *Layer) Close(context.Context) error {
	l.c.Wait()
	l.c.Close()
	return nil
}

// Metrics is nil unless Config.Metrics was set.
func (l *Layer) Metrics() *rc.Metrics { return l.c.Metrics }
