package engine

import (
	"context"
	"log/slog"
	"strings"

	"bgpdata-consumer-go/internal/db"
)

// RouterEntry mirrors one row of the routers table.
type RouterEntry struct {
	Name    string
	Hash    string
	UpCount int
}

// RouterCache is a read-through mirror of the routers table, rebuilt
// after every router upsert so peer-update synthesis sees committed
// state. Owned by the consumer goroutine; no locking.
type RouterCache struct {
	entries map[string]*RouterEntry
}

func NewRouterCache() *RouterCache {
	return &RouterCache{entries: make(map[string]*RouterEntry)}
}

// Refresh reloads the cache from the database.
func (c *RouterCache) Refresh(ctx context.Context, handle *db.Handle) {
	rows, err := handle.Select(ctx, "SELECT name,hash_id,state FROM routers")
	if err != nil {
		slog.Warn("router_cache_refresh_failed", slog.String("error", err.Error()))
		return
	}
	if len(rows) == 0 {
		return
	}

	c.entries = make(map[string]*RouterEntry, len(rows))
	for _, row := range rows {
		hash := strings.ReplaceAll(row["hash_id"], "-", "")
		entry, ok := c.entries[hash]
		if !ok {
			entry = &RouterEntry{Name: row["name"], Hash: hash}
			c.entries[hash] = entry
		}
		if row["state"] == "up" {
			entry.UpCount++
		}

		slog.Debug("router_cache_entry",
			slog.String("name", row["name"]),
			slog.String("hash", hash),
			slog.String("state", row["state"]))
	}
}

// UpCounts returns hash → live connection count for cascade synthesis.
func (c *RouterCache) UpCounts() map[string]int {
	counts := make(map[string]int, len(c.entries))
	for hash, entry := range c.entries {
		counts[hash] = entry.UpCount
	}
	return counts
}

// Len reports the number of cached routers.
func (c *RouterCache) Len() int {
	return len(c.entries)
}
