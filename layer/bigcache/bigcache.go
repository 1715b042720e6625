// Package bigcache is a bounded in-process tier on allegro/bigcache.
package bigcache

import (
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/tiercache/layer"
	"github.com/unkn0wn-root/tiercache/promise"
)

type Layer struct {
	name string
	c    *bc.BigCache
}

var _ layer.Layer = (*Layer)(nil)

type Config struct {
	Name               string        // default "bigcache"
	LifeWindow         time.Duration // global entry lifetime; 0 = 10m
	CleanWindow        time.Duration
	Shards             int
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Layer, error) {
	if cfg.Name == "" {
		cfg.Name = "bigcache"
	}
	if cfg.LifeWindow <= 0 {
		cfg.LifeWindow = 10 * time.Minute
	}
	conf := bc.DefaultConfig(cfg.LifeWindow)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Layer{name: cfg.Name, c: c}, nil
}

func (l *Layer) Name() string { return l.name }

// Store copies value into bigcache's own ring buffer. Per-entry TTL is not
// supported; LifeWindow applies to everything.
func (l *Layer) Store(_ context.Context, key string, value []byte) error {
	return l.c.Set(key, value)
}

func (l *Layer) Retrieve(_ context.Context, key string) *promise.Promise[[]byte] {
	b, err := l.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return layer.Miss()
	}
	if err != nil {
		return promise.Rejected[[]byte](err)
	}
	return layer.Hit(b)
}

func (l *Layer) Remove(_ context.Context, key string) error {
	if err := l.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (l *Layer) RemoveAll(context.Context) error {
	return l.c.Reset()
}

// Len is the number of entries, including expired ones not yet cleaned.
func (l *Layer) Len() int { return l.c.Len() }

func (l *Layer) Stats() bc.Stats { return l.c.Stats() }

func (l *Layer) Close(context.Context) error {
	return l.c.Close()
}
