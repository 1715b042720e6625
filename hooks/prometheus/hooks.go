// Package promhooks exports tiercache events as Prometheus counters.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/tiercache"
)

type Hooks struct {
	lookups        *prometheus.CounterVec
	selfHeals      *prometheus.CounterVec
	promoteErrors  *prometheus.CounterVec
	evictErrors    *prometheus.CounterVec
	writeErrors    *prometheus.CounterVec
	evictedEntries *prometheus.CounterVec
	evictedBytes   *prometheus.CounterVec
}

var _ tiercache.Hooks = (*Hooks)(nil)

// New registers the counters with reg (prometheus.DefaultRegisterer when nil).
// namespace prefixes every metric name, e.g. "tiercache".
func New(reg prometheus.Registerer, namespace string) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Hooks{
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Total number of lookups by serving layer; layer=\"\" for full misses.",
		}, []string{"status" /* hit | miss */, "layer"}),
		selfHeals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_heals_total",
			Help:      "Corrupt entries evicted after a decode failure.",
		}, []string{"layer", "reason"}),
		promoteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promote_errors_total",
			Help:      "Failed write-backs into faster layers.",
		}, []string{"layer"}),
		evictErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evict_errors_total",
			Help:      "Failed removals of corrupt entries.",
		}, []string{"layer"}),
		writeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Failed store/remove fan-out calls.",
		}, []string{"op", "layer"}),
		evictedEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_entries_total",
			Help:      "Entries pruned by size-bounded layers.",
		}, []string{"layer"}),
		evictedBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_bytes_total",
			Help:      "Bytes pruned by size-bounded layers.",
		}, []string{"layer"}),
	}
}

func (h *Hooks) Hit(layer string, _ int) { h.lookups.WithLabelValues("hit", layer).Inc() }
func (h *Hooks) Miss(string)             { h.lookups.WithLabelValues("miss", "").Inc() }

func (h *Hooks) SelfHeal(_, layer, reason string) {
	h.selfHeals.WithLabelValues(layer, reason).Inc()
}

func (h *Hooks) PromoteFailed(_, layer string, _ error) {
	h.promoteErrors.WithLabelValues(layer).Inc()
}

func (h *Hooks) EvictFailed(_, layer string, _ error) {
	h.evictErrors.WithLabelValues(layer).Inc()
}

func (h *Hooks) WriteFailed(op, _, layer string, _ error) {
	h.writeErrors.WithLabelValues(op, layer).Inc()
}

// OnEvict returns a callback for a size-bounded layer's eviction hook, such
// as sqlite.Config.OnEvict.
func (h *Hooks) OnEvict(layer string) func(key string, size int64) {
	entries := h.evictedEntries.WithLabelValues(layer)
	bytes := h.evictedBytes.WithLabelValues(layer)
	return func(_ string, size int64) {
		entries.Inc()
		bytes.Add(float64(size))
	}
}
