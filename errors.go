package tiercache

import (
	"errors"
	"fmt"
	"strings"

	"github.com/unkn0wn-root/tiercache/layer"
)

// ErrCacheMiss matches (via errors.Is) every miss, whether reported by a
// single layer or by the whole cache.
var ErrCacheMiss = layer.ErrMiss

// ErrClosed is returned by operations started after Close.
var ErrClosed = errors.New("tiercache: cache closed")

// MissError is returned when every layer missed.
type MissError struct {
	Key    string
	Layers []string // consulted, in order
}

func (e *MissError) Error() string {
	return fmt.Sprintf("tiercache: cache miss for %q", e.Key)
}

func (e *MissError) Unwrap() error { return ErrCacheMiss }

// DecodeError is returned when a layer produced bytes the codec rejected.
// The entry has been evicted from Layer and every slower layer.
type DecodeError struct {
	Key   string
	Layer string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tiercache: decode %q from %s: %v", e.Key, e.Layer, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// LayerError wraps a hard (non-miss) failure of one layer. Layer specific
// causes stay reachable through errors.Is / errors.As.
type LayerError struct {
	Op    string
	Key   string
	Layer string
	Err   error
}

func (e *LayerError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("tiercache: %s on %s: %v", e.Op, e.Layer, e.Err)
	}
	return fmt.Sprintf("tiercache: %s %q on %s: %v", e.Op, e.Key, e.Layer, e.Err)
}

func (e *LayerError) Unwrap() error { return e.Err }

// FanoutError aggregates the per-layer failures of a store/remove fan-out.
type FanoutError struct {
	Op       string
	Key      string
	Failures []LayerResult
}

func (e *FanoutError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Layer, f.Err))
	}
	if e.Key == "" {
		return fmt.Sprintf("tiercache: %s failed on %d layer(s): %s", e.Op, len(e.Failures), strings.Join(parts, "; "))
	}
	return fmt.Sprintf("tiercache: %s %q failed on %d layer(s): %s",
		e.Op, e.Key, len(e.Failures), strings.Join(parts, "; "))
}

func (e *FanoutError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
