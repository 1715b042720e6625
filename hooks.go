package tiercache

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking: the cache calls them on hot
// paths. Wrap a slow implementation with hooks/async.
type Hooks interface {
	// A lookup was served by the layer at index (0 = fastest).
	Hit(layer string, index int)

	// Every layer missed for key.
	Miss(key string)

	// An entry read from layer was unusable and the cache evicted it from
	// that layer and every slower one. reason ∈ {"value_decode"}
	SelfHeal(key, layer, reason string)

	// Write-back of a hit into a faster layer failed.
	PromoteFailed(key, layer string, err error)

	// Evicting a corrupt entry from layer failed. The caller still receives
	// the original decode error.
	EvictFailed(key, layer string, err error)

	// A fan-out operation failed on one layer.
	// op ∈ {"store", "remove", "remove_all"}
	WriteFailed(op, key, layer string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hit(string, int)                           {}
func (NopHooks) Miss(string)                               {}
func (NopHooks) SelfHeal(string, string, string)           {}
func (NopHooks) PromoteFailed(string, string, error)       {}
func (NopHooks) EvictFailed(string, string, error)         {}
func (NopHooks) WriteFailed(string, string, string, error) {}
