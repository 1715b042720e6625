package resp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/layer"
	"github.com/unkn0wn-root/tiercache/layer/memory"
)

func newTestHandler(t *testing.T) *handler {
	t.Helper()
	c, err := tiercache.New(tiercache.Options[[]byte]{
		Layers: []layer.Layer{memory.New(memory.Config{Name: "l1"}), memory.New(memory.Config{Name: "l2"})},
		Codec:  codec.Bytes{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	h, err := newHandler(c, nil)
	require.NoError(t, err)
	return h
}

func cmd(name string, args ...string) command {
	c := command{name: name}
	for _, a := range args {
		c.args = append(c.args, []byte(a))
	}
	return c
}

func TestNewHandler_NilCache(t *testing.T) {
	_, err := newHandler(nil, nil)
	assert.Error(t, err)
}

func TestHandle_Commands(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t)

	t.Run("ping", func(t *testing.T) {
		assert.Equal(t, writeString("PONG"), h.handle(ctx, cmd("PING")))
		assert.Equal(t, writeBulk([]byte("hi")), h.handle(ctx, cmd("ping", "hi")))
	})
	t.Run("get miss", func(t *testing.T) {
		assert.Equal(t, writeNil(), h.handle(ctx, cmd("GET", "k")))
	})
	t.Run("set then get", func(t *testing.T) {
		assert.Equal(t, writeString("OK"), h.handle(ctx, cmd("SET", "k", "v")))
		assert.Equal(t, writeBulk([]byte("v")), h.handle(ctx, cmd("GET", "k")))
	})
	t.Run("exists", func(t *testing.T) {
		assert.Equal(t, writeInt(1), h.handle(ctx, cmd("EXISTS", "k", "absent")))
	})
	t.Run("del", func(t *testing.T) {
		assert.Equal(t, writeInt(1), h.handle(ctx, cmd("DEL", "k")))
		assert.Equal(t, writeNil(), h.handle(ctx, cmd("GET", "k")))
	})
	t.Run("flushall", func(t *testing.T) {
		h.handle(ctx, cmd("SET", "a", "1"))
		assert.Equal(t, writeString("OK"), h.handle(ctx, cmd("FLUSHALL")))
		assert.Equal(t, writeNil(), h.handle(ctx, cmd("GET", "a")))
	})
	t.Run("quit", func(t *testing.T) {
		assert.True(t, h.handle(ctx, cmd("QUIT")).closeConn)
	})
}

func TestHandle_Errors(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler(t)

	for _, c := range []command{cmd("GET"), cmd("SET", "k"), cmd("DEL"), cmd("EXISTS")} {
		out := h.handle(ctx, c)
		assert.Contains(t, out.err, "wrong number of arguments", c.name)
	}
	out := h.handle(ctx, cmd("HGETALL", "k"))
	assert.Equal(t, "ERR unknown command 'HGETALL'", out.err)
}

func TestFailedEverywhere(t *testing.T) {
	ok := tiercache.Report{Results: []tiercache.LayerResult{{Layer: "a", Err: assert.AnError}, {Layer: "b"}}}
	assert.NoError(t, failedEverywhere(ok))

	bad := tiercache.Report{Op: tiercache.OpStore, Results: []tiercache.LayerResult{{Layer: "a", Err: assert.AnError}}}
	assert.Error(t, failedEverywhere(bad))
	assert.NoError(t, failedEverywhere(tiercache.Report{}))
}
