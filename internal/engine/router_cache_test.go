package engine

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bgpdata-consumer-go/internal/db"
)

func TestRouterCacheRefresh(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	handle := db.NewHandleFromDB(sqlx.NewDb(raw, "sqlmock"), nil)

	mock.ExpectQuery("SELECT name,hash_id,state FROM routers").
		WillReturnRows(sqlmock.NewRows([]string{"name", "hash_id", "state"}).
			AddRow("rtr1", "aaaa-bbbb-cccc", "up").
			AddRow("rtr2", "dddd-eeee-ffff", "down"))

	cache := NewRouterCache()
	cache.Refresh(context.Background(), handle)

	require.Equal(t, 2, cache.Len())

	// Hash dashes are stripped for cascade lookups.
	counts := cache.UpCounts()
	assert.Equal(t, 1, counts["aaaabbbbcccc"])
	assert.Equal(t, 0, counts["ddddeeeeffff"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRouterCacheRefreshFailureKeepsState(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	handle := db.NewHandleFromDB(sqlx.NewDb(raw, "sqlmock"), nil)

	mock.ExpectQuery("SELECT name,hash_id,state FROM routers").
		WillReturnRows(sqlmock.NewRows([]string{"name", "hash_id", "state"}).
			AddRow("rtr1", "aaaa", "up"))

	cache := NewRouterCache()
	cache.Refresh(context.Background(), handle)
	require.Equal(t, 1, cache.Len())

	// A failed refresh leaves the previous mirror intact.
	mock.ExpectQuery("SELECT name,hash_id,state FROM routers").
		WillReturnError(assert.AnError)
	cache.Refresh(context.Background(), handle)
	assert.Equal(t, 1, cache.Len())
}
