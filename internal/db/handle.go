package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Handle wraps one database connection. Each writer owns its own Handle so
// bulk statements never contend on a shared pool.
type Handle struct {
	dsn     string
	db      *sqlx.DB
	metrics StatementMetrics
}

// StatementMetrics receives per-statement outcomes. A nil-safe no-op
// implementation is used when metrics are not wired.
type StatementMetrics interface {
	ObserveStatement(table string, d time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveStatement(string, time.Duration, error) {}

// NewHandle creates an unconnected handle for the given DSN.
func NewHandle(dsn string, metrics StatementMetrics) *Handle {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Handle{dsn: dsn, metrics: metrics}
}

// NewHandleFromDB wraps an existing sqlx.DB. Used by tests with sqlmock.
func NewHandleFromDB(db *sqlx.DB, metrics StatementMetrics) *Handle {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Handle{db: db, metrics: metrics}
}

// Connect opens the connection. A handle is single-owner, so the pool is
// pinned to one connection.
func (h *Handle) Connect() error {
	if h.db != nil {
		return nil
	}
	db, err := sqlx.Connect("pgx", h.dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	h.db = db
	return nil
}

// Disconnect closes the connection.
func (h *Handle) Disconnect() error {
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

// Update executes a statement, retrying transient failures up to retries
// times with exponential backoff. On final failure the statement is dropped:
// the bus redelivers on restart and the schema absorbs duplicates by upsert.
func (h *Handle) Update(ctx context.Context, query string, retries int) error {
	if h.db == nil {
		return fmt.Errorf("database not connected")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.Reset()

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		start := time.Now()
		_, err = h.db.ExecContext(ctx, query)
		h.metrics.ObserveStatement(tableOf(query), time.Since(start), err)

		if err == nil {
			return nil
		}

		if !isTransient(err) {
			slog.Error("db_statement_failed",
				slog.String("error", err.Error()))
			return err
		}

		slog.Warn("db_statement_retry",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}

	slog.Error("db_statement_dropped",
		slog.Int("retries", retries),
		slog.String("error", err.Error()))
	return err
}

// Select runs a query and returns all rows as string maps keyed by column
// name. NULLs come back as empty strings.
func (h *Handle) Select(ctx context.Context, query string) ([]map[string]string, error) {
	if h.db == nil {
		return nil, fmt.Errorf("database not connected")
	}

	rows, err := h.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select failed: %w", err)
	}
	defer rows.Close()

	var out []map[string]string
	for rows.Next() {
		raw := map[string]interface{}{}
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("row scan failed: %w", err)
		}

		row := make(map[string]string, len(raw))
		for col, v := range raw {
			switch t := v.(type) {
			case nil:
				row[col] = ""
			case []byte:
				row[col] = string(t)
			case time.Time:
				row[col] = t.Format("2006-01-02 15:04:05")
			default:
				row[col] = fmt.Sprintf("%v", t)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// isTransient reports whether an execution error is worth retrying:
// connection-level failures, deadlocks and serialization aborts.
func isTransient(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"57P01", // admin_shutdown
			"08000", "08003", "08006": // connection exceptions
			return true
		}
		return false
	}

	// Driver-level I/O errors surface without a SQLSTATE.
	return pgconn.SafeToRetry(err)
}

// tableOf extracts the target table from a bulk statement for metric labels.
func tableOf(query string) string {
	upper := strings.ToUpper(query)
	if i := strings.Index(upper, "INSERT INTO "); i >= 0 {
		return firstWord(query[i+len("INSERT INTO "):])
	}
	if i := strings.Index(upper, "UPDATE "); i >= 0 {
		return firstWord(query[i+len("UPDATE "):])
	}
	return "other"
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " (\n\t"); i >= 0 {
		return s[:i]
	}
	return s
}
