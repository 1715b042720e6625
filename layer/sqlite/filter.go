package sqlite

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// missFilter remembers every key ever stored since the last reset. A negative
// answer is certain, so Retrieve can skip the database for it. Removed keys
// stay in the filter and only cost a false positive.
type missFilter struct {
	mu sync.RWMutex
	bf *bloom.BloomFilter
}

func newMissFilter(items uint, fp float64) *missFilter {
	return &missFilter{bf: bloom.NewWithEstimates(items, fp)}
}

func (f *missFilter) add(key string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.bf.AddString(key)
	f.mu.Unlock()
}

func (f *missFilter) mayContain(key string) bool {
	if f == nil {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bf.TestString(key)
}

func (f *missFilter) reset() {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.bf.ClearAll()
	f.mu.Unlock()
}
