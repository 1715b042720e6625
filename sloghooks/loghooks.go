// Package sloghooks logs tiercache events through log/slog with sampling and
// key redaction. Hits and misses are sampled; failures are always logged.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	HitEvery      uint64
	MissEvery     uint64
	SelfHealEvery uint64
	// Optional key redactor. Defaults to a SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr      atomic.Uint64
	missCtr     atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Hit(layer string, index int) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("tiercache.hit",
		"layer", layer,
		"index", index)
}

func (h *Hooks) Miss(key string) {
	if h.l == nil || !sample(h.opts.MissEvery, &h.missCtr) {
		return
	}
	h.l.Debug("tiercache.miss",
		"key", h.redact(key))
}

func (h *Hooks) SelfHeal(key, layer, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Info("tiercache.self_heal",
		"key", h.redact(key),
		"layer", layer,
		"reason", reason)
}

func (h *Hooks) PromoteFailed(key, layer string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.promote_failed",
		"key", h.redact(key),
		"layer", layer,
		"err", err)
}

func (h *Hooks) EvictFailed(key, layer string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tiercache.evict_failed",
		"key", h.redact(key),
		"layer", layer,
		"err", err)
}

func (h *Hooks) WriteFailed(op, key, layer string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.write_failed",
		"op", op,
		"key", h.redact(key),
		"layer", layer,
		"err", err)
}
