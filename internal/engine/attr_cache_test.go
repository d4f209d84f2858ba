package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAttrCacheSuppressesRepeats(t *testing.T) {
	cache := NewAttrCache(20 * time.Minute)

	assert.False(t, cache.Seen("hash-a"), "first sighting passes through")
	for i := 0; i < 99; i++ {
		assert.True(t, cache.Seen("hash-a"), "repeats are suppressed")
	}
	assert.Equal(t, 1, cache.Len())

	assert.False(t, cache.Seen("hash-b"))
	assert.Equal(t, 2, cache.Len())
}

func TestAttrCachePurgeDropsOldEntries(t *testing.T) {
	cache := NewAttrCache(50 * time.Millisecond)

	cache.Seen("hash-old")
	time.Sleep(80 * time.Millisecond)
	cache.Seen("hash-new")

	cache.Purge()

	assert.Equal(t, 1, cache.Len())
	// hash-old was purged, so it passes through again.
	assert.False(t, cache.Seen("hash-old"))
}

func TestAttrCachePurgeKeepsRefreshed(t *testing.T) {
	cache := NewAttrCache(50 * time.Millisecond)

	cache.Seen("hash-a")
	time.Sleep(30 * time.Millisecond)
	cache.Seen("hash-a") // touch refreshes the timestamp
	time.Sleep(30 * time.Millisecond)

	cache.Purge()
	assert.Equal(t, 1, cache.Len())
}
