package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tiercache/layer"
)

func TestNew_NilClient(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestLayer_KeyNamespacing(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = rdb.Close() })

	l, err := New(Config{Client: rdb, Namespace: "img"})
	require.NoError(t, err)
	assert.Equal(t, "redis", l.Name())
	assert.Equal(t, "tiercache:img:https://x/1.png", l.key("https://x/1.png"))
}

func TestLayer_ScanPatternEscapesNamespace(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = rdb.Close() })

	cases := map[string]string{
		"img":   `tiercache:img:*`,
		"a*":    `tiercache:a\*:*`,
		"q?[x]": `tiercache:q\?\[x\]:*`,
		`back\`: `tiercache:back\\:*`,
	}
	for ns, want := range cases {
		l, err := New(Config{Client: rdb, Namespace: ns})
		require.NoError(t, err)
		assert.Equal(t, want, l.pattern, "namespace %q", ns)
	}
}

// Needs a live server: TIERCACHE_TEST_REDIS=127.0.0.1:6379 go test ./layer/redis
func TestLayer_LiveServer(t *testing.T) {
	addr := os.Getenv("TIERCACHE_TEST_REDIS")
	if addr == "" {
		t.Skip("TIERCACHE_TEST_REDIS not set")
	}
	ctx := context.Background()
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	l, err := New(Config{Client: rdb, Namespace: "test-" + time.Now().Format("150405.000"), CloseClient: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close(ctx) })

	_, err = l.Retrieve(ctx, "k").Await(ctx)
	assert.True(t, layer.IsMiss(err))

	require.NoError(t, l.Store(ctx, "k", []byte{0, 1, 2}))
	got, err := l.Retrieve(ctx, "k").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, got)

	require.NoError(t, l.Store(ctx, "k2", []byte("x")))
	require.NoError(t, l.RemoveAll(ctx))
	_, err = l.Retrieve(ctx, "k2").Await(ctx)
	assert.True(t, layer.IsMiss(err))
}
