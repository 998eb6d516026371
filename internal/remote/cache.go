package remote

import (
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lm-remote/LMBridge/internal/api/middleware"
)

// ListingTTL is how long a fetched listing counts as fresh. Expiry only
// triggers a refresh attempt; it never empties the cache, so a stale
// listing keeps serving lookups while the remote is unreachable.
const ListingTTL = 60 * time.Second

// listingCache holds one model listing plus its fetch time. Refreshes
// are idempotent overwrites; when two requests race past the freshness
// check both fetch and the last write wins.
type listingCache struct {
	name string // metrics label and log tag: loras or checkpoints

	mu        sync.RWMutex
	items     []gjson.Result
	fetchedAt time.Time

	stats CacheStats
}

// CacheStats tracks listing cache performance for the status endpoint.
type CacheStats struct {
	Items       int   `json:"items"`
	AgeSeconds  int64 `json:"age_seconds"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	StaleServes int64 `json:"stale_serves"`
}

func newListingCache(name string) *listingCache {
	return &listingCache{name: name}
}

// fresh reports whether the cache can be served without a refresh:
// populated and younger than the TTL. An empty cache is never fresh,
// so a remote that was down at startup gets retried on the next use.
func (lc *listingCache) fresh() bool {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return len(lc.items) > 0 && time.Since(lc.fetchedAt) < ListingTTL
}

// snapshot returns the current items. Callers must not mutate them.
func (lc *listingCache) snapshot() []gjson.Result {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.items
}

// store replaces the cached items and restamps the fetch time.
func (lc *listingCache) store(items []gjson.Result) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.items = items
	lc.fetchedAt = time.Now()
}

func (lc *listingCache) recordHit() {
	lc.mu.Lock()
	lc.stats.Hits++
	lc.mu.Unlock()
	middleware.RecordListingCacheHit(lc.name)
}

func (lc *listingCache) recordMiss() {
	lc.mu.Lock()
	lc.stats.Misses++
	lc.mu.Unlock()
	middleware.RecordListingCacheMiss(lc.name)
}

func (lc *listingCache) recordStaleServe() {
	lc.mu.Lock()
	lc.stats.StaleServes++
	lc.mu.Unlock()
	middleware.RecordListingCacheStaleServe(lc.name)
}

// Stats returns a copy of the counters with the current size and age.
func (lc *listingCache) Stats() CacheStats {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	stats := lc.stats
	stats.Items = len(lc.items)
	if lc.fetchedAt.IsZero() {
		stats.AgeSeconds = -1
	} else {
		stats.AgeSeconds = int64(time.Since(lc.fetchedAt).Seconds())
	}
	return stats
}
