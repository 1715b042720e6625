package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newBuf() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestHooks_RedactsKeys(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{})

	h.WriteFailed("store", "https://example.com/secret.png", "sqlite", errors.New("disk full"))
	out := buf.String()
	assert.NotContains(t, out, "secret.png")
	assert.Contains(t, out, "tiercache.write_failed")
	assert.Contains(t, out, "disk full")

	buf.Reset()
	h = New(l, Options{Redact: strings.ToUpper})
	h.Miss("abc")
	assert.Contains(t, buf.String(), "key=ABC")
}

func TestHooks_Sampling(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{HitEvery: 5})
	for range 10 {
		h.Hit("memory", 0)
	}
	assert.Equal(t, 2, strings.Count(buf.String(), "tiercache.hit"))
}

func TestHooks_NilLogger(t *testing.T) {
	h := New(nil, Options{})
	h.Hit("m", 0)
	h.EvictFailed("k", "m", errors.New("x"))
}
