// Package cache holds recent analyses keyed by normalized address.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// Results is a concurrent-safe LRU of analyses with TTL expiration.
type Results struct {
	lru       *expirable.LRU[string, *model.Analysis]
	size      int
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	HitRate    float64 `json:"hit_rate"`
}

// New creates a cache holding at most size analyses for ttl each. A
// non-positive ttl disables expiration.
func New(size int, ttl time.Duration) *Results {
	if size < 1 {
		size = 1
	}
	if ttl < 0 {
		ttl = 0
	}
	r := &Results{size: size}
	r.lru = expirable.NewLRU[string, *model.Analysis](size, func(string, *model.Analysis) {
		r.evictions.Add(1)
	}, ttl)
	return r
}

// Get returns a copy of the cached analysis for key, or nil on miss or
// expiration.
func (r *Results) Get(key string) *model.Analysis {
	a, ok := r.lru.Get(key)
	if !ok {
		r.misses.Add(1)
		return nil
	}
	r.hits.Add(1)
	return a.Clone()
}

// Put stores a copy of an analysis, evicting the least recently used entry at capacity.
func (r *Results) Put(key string, a *model.Analysis) {
	if a == nil {
		return
	}
	r.lru.Add(key, a.Clone())
}

// Remove drops key from the cache.
func (r *Results) Remove(key string) {
	r.lru.Remove(key)
}

// Purge empties the cache.
func (r *Results) Purge() {
	r.lru.Purge()
}

// Stats returns current cache statistics.
func (r *Results) Stats() Stats {
	hits := r.hits.Load()
	misses := r.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:    r.lru.Len(),
		MaxEntries: r.size,
		Hits:       hits,
		Misses:     misses,
		Evictions:  r.evictions.Load(),
		HitRate:    rate,
	}
}
