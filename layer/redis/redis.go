// Package redis is a shared tier on redis/go-redis. Several processes can
// point at the same namespace and see each other's writes.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache/layer"
	"github.com/unkn0wn-root/tiercache/promise"
)

var ErrNilClient = errors.New("redis layer: nil client")

const scanBatch = 500

type Layer struct {
	name        string
	prefix      string
	pattern     string // SCAN MATCH for the namespace
	ttl         time.Duration
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ layer.Layer = (*Layer)(nil)

type Config struct {
	Client      goredis.UniversalClient
	Name        string        // default "redis"
	Namespace   string        // keys are stored as "tiercache:<ns>:<key>"
	TTL         time.Duration // 0 = no expiry
	CloseClient bool          // set true only if this layer exclusively owns the client
}

func New(cfg Config) (*Layer, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Name == "" {
		cfg.Name = "redis"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	prefix := "tiercache:" + cfg.Namespace + ":"
	return &Layer{
		name:        cfg.Name,
		prefix:      prefix,
		pattern:     globEscaper.Replace(prefix) + "*",
		ttl:         max(cfg.TTL, 0),
		rdb:         cfg.Client,
		closeClient: cfg.CloseClient,
	}, nil
}

func (l *Layer) Name() string { return l.name }

func (l *Layer) key(k string) string { return l.prefix + k }

// globEscaper quotes the metacharacters of Redis MATCH patterns so a namespace
// like "a*" cannot reach keys of namespace "ab".
var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func (l *Layer) Store(ctx context.Context, key string, value []byte) error {
	return l.rdb.Set(ctx, l.key(key), value, l.ttl).Err()
}

// Retrieve runs the GET on its own goroutine; cancelling the promise cancels
// the command.
func (l *Layer) Retrieve(ctx context.Context, key string) *promise.Promise[[]byte] {
	ctx, cancel := context.WithCancel(ctx)
	p := promise.Go(func() ([]byte, error) {
		defer cancel()
		b, err := l.rdb.Get(ctx, l.key(key)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil, layer.ErrMiss
		}
		if err != nil {
			return nil, err // transport/server error
		}
		return b, nil
	})
	p.OnCancel(cancel)
	return p
}

func (l *Layer) Remove(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, l.key(key)).Err()
}

// RemoveAll deletes only this layer's namespace, in SCAN batches.
func (l *Layer) RemoveAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := l.rdb.Scan(ctx, cursor, l.pattern, scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := l.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close releases the underlying redis client only when this layer owns it.
// Safe to call multiple times.
func (l *Layer) Close(context.Context) error {
	if l.closeClient {
		if err := l.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
