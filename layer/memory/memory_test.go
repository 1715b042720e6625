package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tiercache/layer"
)

func TestLayer_StoreRetrieve(t *testing.T) {
	ctx := context.Background()
	l := New(Config{})
	assert.Equal(t, "memory", l.Name())

	t.Run("miss on empty", func(t *testing.T) {
		_, err := l.Retrieve(ctx, "nope").Await(ctx)
		assert.True(t, layer.IsMiss(err))
	})
	t.Run("hit after store", func(t *testing.T) {
		require.NoError(t, l.Store(ctx, "k", []byte("v1")))
		got, err := l.Retrieve(ctx, "k").Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)
	})
	t.Run("store overwrites", func(t *testing.T) {
		require.NoError(t, l.Store(ctx, "k", []byte("v2")))
		got, err := l.Retrieve(ctx, "k").Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})
}

func TestLayer_CopiesBytes(t *testing.T) {
	ctx := context.Background()
	l := New(Config{Shards: 2})

	in := []byte("abc")
	require.NoError(t, l.Store(ctx, "k", in))
	in[0] = 'X'

	out, err := l.Retrieve(ctx, "k").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out, "caller mutation leaked into the cache")

	out[1] = 'Y'
	again, err := l.Retrieve(ctx, "k").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again, "returned slice aliases cached bytes")
}

func TestLayer_RemoveAndRemoveAll(t *testing.T) {
	ctx := context.Background()
	l := New(Config{Shards: 4})
	for i := range 100 {
		require.NoError(t, l.Store(ctx, fmt.Sprintf("k%d", i), []byte{byte(i)}))
	}
	assert.Equal(t, 100, l.Len())

	require.NoError(t, l.Remove(ctx, "k7"))
	require.NoError(t, l.Remove(ctx, "k7"), "removing an absent key is not an error")
	_, err := l.Retrieve(ctx, "k7").Await(ctx)
	assert.True(t, layer.IsMiss(err))
	assert.Equal(t, 99, l.Len())

	require.NoError(t, l.RemoveAll(ctx))
	require.NoError(t, l.RemoveAll(ctx))
	assert.Equal(t, 0, l.Len())
}

func TestLayer_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	l := New(Config{Shards: 8})
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				k := fmt.Sprintf("k%d", i%20)
				_ = l.Store(ctx, k, []byte{byte(g)})
				_, _ = l.Retrieve(ctx, k).Await(ctx)
				if i%50 == 0 {
					_ = l.Remove(ctx, k)
				}
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, l.Len(), 20)
}
