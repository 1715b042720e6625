package tiercache

const (
	OpStore     = "store"
	OpRemove    = "remove"
	OpRemoveAll = "remove_all"
)

// LayerResult is the outcome of one layer in a fan-out.
type LayerResult struct {
	Layer string
	Err   error
}

// Report lists per-layer outcomes of Store, Remove or RemoveAll, in layer
// order. Fire-and-forget callers can ignore it.
type Report struct {
	Op      string
	Key     string // empty for RemoveAll
	Results []LayerResult
}

// OK reports whether every layer succeeded.
func (r Report) OK() bool { return r.Err() == nil }

// Err returns a *FanoutError listing failed layers, or nil.
func (r Report) Err() error {
	var failed []LayerResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &FanoutError{Op: r.Op, Key: r.Key, Failures: failed}
}
