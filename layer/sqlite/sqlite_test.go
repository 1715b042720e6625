package sqlite

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tiercache/layer"
)

func openTest(t *testing.T, limit int64, mutate ...func(*Config)) (*Layer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	cfg := Config{Path: path, SizeLimit: limit}
	for _, m := range mutate {
		m(&cfg)
	}
	l, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close(context.Background()) })
	return l, path
}

// sumSizes reads SUM(size) directly, bypassing the bookkept total.
func sumSizes(t *testing.T, l *Layer) int64 {
	t.Helper()
	var sum int64
	require.NoError(t, l.do(context.Background(), func(ctx context.Context) error {
		return l.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM cache`).Scan(&sum)
	}))
	return sum
}

func assertSizeInvariant(t *testing.T, l *Layer) {
	t.Helper()
	total, err := l.TotalSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sumSizes(t, l), total, "admin.totalSize must equal SUM(cache.size)")
	assert.LessOrEqual(t, total, l.SizeLimit())
}

func retrieve(t *testing.T, l *Layer, key string) ([]byte, error) {
	t.Helper()
	ctx := context.Background()
	return l.Retrieve(ctx, key).Await(ctx)
}

func payload(n int, b byte) []byte { return bytes.Repeat([]byte{b}, n) }

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, Config{SizeLimit: 10})
	assert.Error(t, err, "path is required")
	_, err = Open(ctx, Config{Path: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err, "size limit is required")
}

func TestLayer_StoreRetrieveRemove(t *testing.T) {
	ctx := context.Background()
	l, _ := openTest(t, 1<<20)
	assert.Equal(t, "sqlite", l.Name())

	_, err := retrieve(t, l, "k")
	assert.True(t, layer.IsMiss(err))

	require.NoError(t, l.Store(ctx, "k", []byte{0, 1, 2, 255}))
	got, err := retrieve(t, l, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 255}, got)

	require.NoError(t, l.Store(ctx, "k", []byte("replaced")))
	got, err = retrieve(t, l, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), got)
	assertSizeInvariant(t, l)

	require.NoError(t, l.Remove(ctx, "k"))
	require.NoError(t, l.Remove(ctx, "k"), "removing an absent key is a no-op")
	_, err = retrieve(t, l, "k")
	assert.True(t, layer.IsMiss(err))

	total, err := l.TotalSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, total, "remove must give the bytes back")
}

func TestLayer_EmptyValue(t *testing.T) {
	ctx := context.Background()
	l, _ := openTest(t, 100)
	require.NoError(t, l.Store(ctx, "empty", nil))
	got, err := retrieve(t, l, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestLayer_SizeInvariantAcrossOperations(t *testing.T) {
	ctx := context.Background()
	l, _ := openTest(t, 500)

	for i := range 40 {
		key := fmt.Sprintf("k%d", i%13)
		require.NoError(t, l.Store(ctx, key, payload(10+i%37, byte(i))))
		if i%5 == 0 {
			require.NoError(t, l.Remove(ctx, fmt.Sprintf("k%d", (i+3)%13)))
		}
		if i%7 == 0 {
			_, _ = retrieve(t, l, key)
		}
		assertSizeInvariant(t, l)
	}
	_, err := l.Prune(ctx, 100)
	require.NoError(t, err)
	assertSizeInvariant(t, l)
}

func TestLayer_EvictsLeastRecentlyAccessed(t *testing.T) {
	ctx := context.Background()
	var evicted []string
	l, _ := openTest(t, 100, func(c *Config) {
		c.OnEvict = func(key string, size int64) {
			assert.Equal(t, int64(30), size)
			evicted = append(evicted, key)
		}
	})

	require.NoError(t, l.Store(ctx, "a", payload(30, 'a')))
	require.NoError(t, l.Store(ctx, "b", payload(30, 'b')))
	require.NoError(t, l.Store(ctx, "c", payload(30, 'c')))

	// reading a makes b the oldest
	_, err := retrieve(t, l, "a")
	require.NoError(t, err)

	require.NoError(t, l.Store(ctx, "d", payload(30, 'd')))
	assert.Equal(t, []string{"b"}, evicted)

	_, err = retrieve(t, l, "b")
	assert.True(t, layer.IsMiss(err), "b should have been evicted")
	for _, k := range []string{"a", "c", "d"} {
		_, err := retrieve(t, l, k)
		assert.NoError(t, err, "%s should survive", k)
	}

	total, err := l.TotalSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(90), total)
	assertSizeInvariant(t, l)

	st, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Evictions)
	assert.Equal(t, int64(3), st.Entries)
}

func TestLayer_SequentialStoresEvictOldestFirst(t *testing.T) {
	ctx := context.Background()
	var evicted []string
	l, _ := openTest(t, 100, func(c *Config) {
		c.OnEvict = func(key string, _ int64) { evicted = append(evicted, key) }
	})

	wantTotals := []int64{30, 60, 90, 90, 90}
	wantEvicted := [][]string{nil, nil, nil, {"k1"}, {"k1", "k2"}}
	for i := range 5 {
		key := fmt.Sprintf("k%d", i+1)
		require.NoError(t, l.Store(ctx, key, payload(30, byte('1'+i))))

		total, err := l.TotalSize(ctx)
		require.NoError(t, err)
		assert.Equal(t, wantTotals[i], total, "total after storing %s", key)
		assert.Equal(t, wantEvicted[i], evicted, "evictions after storing %s", key)
		assertSizeInvariant(t, l)
	}

	for _, k := range []string{"k1", "k2"} {
		_, err := retrieve(t, l, k)
		assert.True(t, layer.IsMiss(err), "%s should have been evicted", k)
	}
	for _, k := range []string{"k3", "k4", "k5"} {
		_, err := retrieve(t, l, k)
		assert.NoError(t, err, "%s should survive", k)
	}
}

func TestLayer_EvictionOrderIsStableWithFrozenClock(t *testing.T) {
	ctx := context.Background()
	frozen := time.Unix(1_700_000_000, 0)
	l, _ := openTest(t, 40, func(c *Config) { c.Now = func() time.Time { return frozen } })

	for _, k := range []string{"1", "2", "3", "4"} {
		require.NoError(t, l.Store(ctx, k, payload(10, 'x')))
	}
	require.NoError(t, l.Store(ctx, "5", payload(20, 'y')))

	for _, k := range []string{"1", "2"} {
		_, err := retrieve(t, l, k)
		assert.True(t, layer.IsMiss(err), "%s should be evicted first", k)
	}
	for _, k := range []string{"3", "4", "5"} {
		_, err := retrieve(t, l, k)
		assert.NoError(t, err)
	}
}

func TestLayer_HitSurvivesQueueClosingBeforeBump(t *testing.T) {
	ctx := context.Background()
	l, _ := openTest(t, 1<<10)
	require.NoError(t, l.Store(ctx, "k", []byte("v")))

	started, release := make(chan struct{}), make(chan struct{})
	require.NoError(t, l.exec.Go(ctx, func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	type result struct {
		b   []byte
		err error
	}
	got := make(chan result, 1)
	go func() {
		b, err := l.Retrieve(ctx, "k").Await(ctx)
		got <- result{b, err}
	}()
	require.Eventually(t, func() bool { return l.exec.Len() == 1 }, 2*time.Second, time.Millisecond,
		"lookup should be queued behind the blocker")

	go l.exec.Close()
	noop := func(context.Context) error { return nil }
	require.Eventually(t, func() bool { return l.exec.Go(ctx, noop) != nil }, 2*time.Second, time.Millisecond,
		"executor should stop accepting work")
	close(release)

	select {
	case r := <-got:
		require.NoError(t, r.err)
		assert.Equal(t, []byte("v"), r.b)
	case <-time.After(2 * time.Second):
		t.Fatal("Retrieve did not resolve")
	}
}

func TestLayer_EntryTooLarge(t *testing.T) {
	ctx := context.Background()
	l, _ := openTest(t, 50)

	require.NoError(t, l.Store(ctx, "k", payload(20, 'a')))
	err := l.Store(ctx, "k", payload(51, 'b'))
	assert.ErrorIs(t, err, ErrEntryTooLarge)

	_, err = retrieve(t, l, "k")
	assert.True(t, layer.IsMiss(err), "the stale value must not survive a rejected replacement")
	assertSizeInvariant(t, l)
	total, err := l.TotalSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestLayer_RemoveAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, _ := openTest(t, 1000)
	for i := range 10 {
		require.NoError(t, l.Store(ctx, fmt.Sprintf("k%d", i), payload(10, byte(i))))
	}

	for range 2 {
		require.NoError(t, l.RemoveAll(ctx))
		n, err := l.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		total, err := l.TotalSize(ctx)
		require.NoError(t, err)
		assert.Zero(t, total)
	}

	// the store still works after clearing
	require.NoError(t, l.Store(ctx, "k1", []byte("again")))
	got, err := retrieve(t, l, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("again"), got)
}

func TestLayer_MissFilterSkipsUnknownKeys(t *testing.T) {
	ctx := context.Background()
	l, _ := openTest(t, 1000)
	require.NoError(t, l.Store(ctx, "known", []byte("v")))

	for i := range 50 {
		_, err := retrieve(t, l, fmt.Sprintf("unknown-%d", i))
		assert.True(t, layer.IsMiss(err))
	}
	st, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Greater(t, st.FilterSkips, uint64(0))

	_, err = retrieve(t, l, "known")
	assert.NoError(t, err)
}

func TestLayer_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	l, err := Open(ctx, Config{Path: path, SizeLimit: 1000})
	require.NoError(t, err)
	require.NoError(t, l.Store(ctx, "k", []byte("durable")))
	require.NoError(t, l.Close(ctx))
	require.NoError(t, l.Close(ctx), "second Close is a no-op")

	assert.ErrorIs(t, l.Store(ctx, "x", []byte("y")), ErrClosed)

	re, err := Open(ctx, Config{Path: path, SizeLimit: 1000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = re.Close(ctx) })

	got, err := re.Retrieve(ctx, "k").Await(ctx)
	require.NoError(t, err, "miss filter must be rebuilt from disk")
	assert.Equal(t, []byte("durable"), got)
	assertSizeInvariant(t, re)
}

func TestLayer_ReopenWithSmallerLimitShrinks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	l, err := Open(ctx, Config{Path: path, SizeLimit: 100})
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, l.Store(ctx, k, payload(30, 'x')))
	}
	require.NoError(t, l.Close(ctx))

	re, err := Open(ctx, Config{Path: path, SizeLimit: 60})
	require.NoError(t, err)
	t.Cleanup(func() { _ = re.Close(ctx) })

	_, err = re.Retrieve(ctx, "a").Await(ctx)
	assert.True(t, layer.IsMiss(err), "oldest entry is pruned to fit the new limit")
	assertSizeInvariant(t, re)
}

func TestLayer_ConcurrentUse(t *testing.T) {
	ctx := context.Background()
	l, _ := openTest(t, 2000)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				key := fmt.Sprintf("k%d", (g*7+i)%25)
				switch i % 4 {
				case 0, 1:
					assert.NoError(t, l.Store(ctx, key, payload(20+g, byte(i))))
				case 2:
					_, err := l.Retrieve(ctx, key).Await(ctx)
					if err != nil {
						assert.True(t, layer.IsMiss(err), "unexpected error %v", err)
					}
				case 3:
					assert.NoError(t, l.Remove(ctx, key))
				}
			}
		}()
	}
	wg.Wait()
	assertSizeInvariant(t, l)
}
