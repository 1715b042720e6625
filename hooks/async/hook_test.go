package asynchook

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unkn0wn-root/tiercache"
)

type countingHooks struct {
	tiercache.NopHooks
	mu     sync.Mutex
	events []string
	gate   chan struct{}
}

func (c *countingHooks) record(e string) {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *countingHooks) Hit(l string, _ int)                   { c.record("hit:" + l) }
func (c *countingHooks) Miss(string)                           { c.record("miss") }
func (c *countingHooks) WriteFailed(op, _, l string, _ error) { c.record(op + ":" + l) }

func TestHooks_DeliversBeforeClose(t *testing.T) {
	inner := &countingHooks{}
	h := New(inner, 2, 16)

	h.Hit("memory", 0)
	h.Miss("k")
	h.WriteFailed(tiercache.OpStore, "k", "sqlite", errors.New("x"))
	h.Close()
	h.Close()

	assert.ElementsMatch(t, []string{"hit:memory", "miss", "store:sqlite"}, inner.events)
	assert.Zero(t, h.Dropped())

	h.Miss("late")
	assert.Equal(t, uint64(1), h.Dropped())
}

func TestHooks_DropsWhenFull(t *testing.T) {
	inner := &countingHooks{gate: make(chan struct{})}
	h := New(inner, 1, 1)

	// one event blocks in the worker, one fills the queue, the rest drop
	for range 10 {
		h.Miss("k")
	}
	assert.GreaterOrEqual(t, h.Dropped(), uint64(8))
	close(inner.gate)
	h.Close()
}
