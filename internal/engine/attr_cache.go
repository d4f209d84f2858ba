package engine

import (
	"log/slog"
	"time"
)

// AttrCache remembers recently seen base attribute hashes. Attribute sets
// recur identically across many prefix updates; suppressing repeats
// removes the bulk of redundant upserts. Owned by the consumer goroutine.
type AttrCache struct {
	seen   map[string]int64
	maxAge time.Duration
}

func NewAttrCache(maxAge time.Duration) *AttrCache {
	return &AttrCache{
		seen:   make(map[string]int64),
		maxAge: maxAge,
	}
}

// Seen touches the hash and reports whether it was already cached. A hit
// means the record can be dropped.
func (c *AttrCache) Seen(hash string) bool {
	_, ok := c.seen[hash]
	c.seen[hash] = time.Now().UnixMilli()
	if ok {
		GetMetrics().AttrCacheSuppressed.Inc()
	}
	return ok
}

// Purge drops entries older than the cache age. Called from the 10-second
// housekeeping tick.
func (c *AttrCache) Purge() {
	purgeBefore := time.Now().UnixMilli() - c.maxAge.Milliseconds()

	kept := make(map[string]int64, len(c.seen))
	for hash, lastSeen := range c.seen {
		if lastSeen > purgeBefore {
			kept[hash] = lastSeen
		}
	}

	purged := len(c.seen) - len(kept)
	c.seen = kept
	GetMetrics().AttrCacheSize.Set(float64(len(kept)))

	if purged > 0 {
		slog.Info("attr_cache_purged",
			slog.Int("purged", purged),
			slog.Int("size", len(kept)))
	}
}

// Len reports the current cache size.
func (c *AttrCache) Len() int {
	return len(c.seen)
}
