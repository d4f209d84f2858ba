package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteIsSticky(t *testing.T) {
	pool := newTestPool(t, 2)

	first := pool.Route("key-a")
	for i := 0; i < 100; i++ {
		assert.Same(t, first, pool.Route("key-a"))
	}
}

func TestRouteKeysDisjointAcrossWriters(t *testing.T) {
	pool := newTestPool(t, 2)

	owner := make(map[string]*Writer)
	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("key-%d", i%10)
		w := pool.Route(key)

		if prev, ok := owner[key]; ok {
			require.Same(t, prev, w, "key moved writers mid-stream")
		}
		owner[key] = w
	}

	// Every key is assigned to exactly one writer.
	assigned := 0
	for _, w := range pool.writers {
		assigned += len(w.assigned)
		for k := range w.assigned {
			require.Same(t, w, owner[k])
		}
	}
	assert.Equal(t, 10, assigned)
}

func TestRoutePrefersIdleWriter(t *testing.T) {
	pool := newTestPool(t, 2)

	w0 := pool.Route("key-a")
	w1 := pool.Route("key-b")
	assert.NotSame(t, w0, w1, "second key goes to the idle writer")
}

func TestScaleUpRespectsMax(t *testing.T) {
	pool := newTestPool(t, 3)

	require.NoError(t, pool.ScaleUp(nil))
	assert.Equal(t, 3, pool.Size())
}

func TestScaleDownRemovesTail(t *testing.T) {
	pool := newTestPool(t, 2)
	tail := pool.writers[1]

	require.NoError(t, pool.ScaleDown(nil))
	assert.Equal(t, 1, pool.Size())
	assert.Same(t, pool.writers[0], pool.Route("key-x"))
	assert.Equal(t, int32(writerStopped), tail.state.Load())
}

func TestScaleDownSingleWriterIsNoop(t *testing.T) {
	pool := newTestPool(t, 1)

	require.NoError(t, pool.ScaleDown(nil))
	assert.Equal(t, 1, pool.Size())
}

func TestRebalanceClearsOverloadedWriter(t *testing.T) {
	pool := newTestPool(t, 2)

	w := pool.Route("key-a")
	pool.Route("key-a2") // may land anywhere
	w.assigned["key-b"] = struct{}{}
	w.aboveCount = 5

	rebalanced, err := pool.Rebalance(nil)
	require.NoError(t, err)
	assert.True(t, rebalanced)
	assert.Empty(t, w.assigned)
	assert.Zero(t, w.aboveCount)

	// The keys re-route freely afterwards.
	again := pool.Route("key-a")
	assert.Contains(t, again.assigned, "key-a")
}

func TestRebalanceSkipsSingleKeyWriter(t *testing.T) {
	pool := newTestPool(t, 2)

	w := pool.Route("key-only")
	w.aboveCount = 5

	rebalanced, err := pool.Rebalance(nil)
	require.NoError(t, err)
	assert.False(t, rebalanced)
	assert.Contains(t, w.assigned, "key-only")
}

func TestSnapshot(t *testing.T) {
	pool := newTestPool(t, 2)
	pool.Route("key-a")

	stats := pool.Snapshot()
	require.Len(t, stats, 2)
	assert.Equal(t, 1, stats[0].Assigned+stats[1].Assigned)
}
