package engine

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"bgpdata-consumer-go/internal/db"
)

// newMockHandleFactory returns a db handle factory backed by sqlmock and
// the mocks it has produced, in creation order.
func newMockHandleFactory(t *testing.T) (func() (*db.Handle, error), *[]sqlmock.Sqlmock) {
	t.Helper()
	mocks := &[]sqlmock.Sqlmock{}

	factory := func() (*db.Handle, error) {
		raw, mock, err := sqlmock.New()
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { raw.Close() })
		mock.MatchExpectationsInOrder(false)
		*mocks = append(*mocks, mock)
		return db.NewHandleFromDB(sqlx.NewDb(raw, "sqlmock"), nil), nil
	}
	return factory, mocks
}

func testPoolConfig() PoolConfig {
	return PoolConfig{
		QueueSize:             100,
		MaxWriters:            3,
		AllowedOverQueueTimes: 2,
		ScaleBackAfter:        0,
		RebalanceAfter:        0,
		DrainDeadline:         5 * time.Second,
		BatchRecords:          50,
		BatchTime:             20 * time.Millisecond,
		Retries:               1,
	}
}

func newTestPool(t *testing.T, writers int) *WriterPool {
	t.Helper()
	factory, _ := newMockHandleFactory(t)

	pool, err := NewWriterPool(WriterTypeDefault, testPoolConfig(), factory)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Shutdown(nil) })

	for pool.Size() < writers {
		require.NoError(t, pool.ScaleUp(nil))
	}
	return pool
}
