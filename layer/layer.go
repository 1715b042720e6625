// Package layer defines the storage tier abstraction used by tiercache.
//
// Implementations MUST be byte-for-byte transparent: a successful Retrieve
// returns exactly the bytes previously passed to Store for that key. No
// framing, no re-encoding. If a tier compresses internally it must fully
// reverse that before handing bytes back.
//
// Absence is reported by failing the Retrieve promise with an error for which
// IsMiss returns true. Any other failure is treated by the orchestrator as a
// hard I/O error and stops the cascade.
package layer

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/tiercache/promise"
)

var (
	// ErrMiss is the generic "not in this layer" signal.
	ErrMiss = errors.New("cache miss")
	// ErrRejected reports a write refused by a bounded store under pressure.
	ErrRejected = errors.New("layer: write rejected")
)

// Layer is one tier of the cache. All methods must be safe for concurrent use.
type Layer interface {
	// Name identifies the layer in logs, hooks and errors (e.g. "memory", "sqlite").
	Name() string

	// Store upserts value under key. Best-effort; a layer may legitimately
	// ignore writes (the origin never accepts them).
	Store(ctx context.Context, key string, value []byte) error

	// Retrieve resolves with the stored bytes on hit and fails with ErrMiss
	// (possibly wrapped) on absence.
	Retrieve(ctx context.Context, key string) *promise.Promise[[]byte]

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// RemoveAll clears the layer.
	RemoveAll(ctx context.Context) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// IsMiss reports whether err signals absence, through any wrapping.
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}

// Miss returns an already-failed promise carrying ErrMiss.
func Miss() *promise.Promise[[]byte] {
	return promise.Rejected[[]byte](ErrMiss)
}

// Hit returns an already-kept promise carrying b.
func Hit(b []byte) *promise.Promise[[]byte] {
	return promise.Resolved(b)
}
