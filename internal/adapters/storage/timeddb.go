package storage

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"coachhub/internal/adapters/http/perf"
)

// SQLDB is the database interface used by the session and audit stores.
// Both *sql.DB and *TimedDB satisfy it.
type SQLDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var _ SQLDB = (*sql.DB)(nil)

// DefaultSlowQuery is used when no positive threshold is configured.
const DefaultSlowQuery = 50 * time.Millisecond

// TimedDB wraps a *sql.DB, warning about slow statements and feeding the
// perf collector.
type TimedDB struct {
	db        *sql.DB
	collector *perf.Collector
	slow      time.Duration
}

var _ SQLDB = (*TimedDB)(nil)

// NewTimedDB wraps db with timing instrumentation.
// PRE: db is a valid database connection
// POST: Statements slower than slow are logged at warn level; every statement is recorded to collector when non-nil
func NewTimedDB(db *sql.DB, collector *perf.Collector, slow time.Duration) *TimedDB {
	if slow <= 0 {
		slow = DefaultSlowQuery
	}
	return &TimedDB{db: db, collector: collector, slow: slow}
}

// RawDB returns the unwrapped connection for schema setup and pool tuning.
func (t *TimedDB) RawDB() *sql.DB {
	return t.db
}

func (t *TimedDB) observe(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	ms := float64(elapsed.Microseconds()) / 1000.0

	switch {
	case elapsed >= t.slow:
		slog.Warn("slow_query", "op", op, "duration_ms", ms, "error", err)
	case err != nil:
		slog.Debug("query_failed", "op", op, "duration_ms", ms, "error", err)
	default:
		slog.Debug("query", "op", op, "duration_ms", ms)
	}

	t.collector.Record(perf.Entry{
		Kind:       perf.KindQuery,
		Path:       op,
		DurationMs: ms,
		Timestamp:  start,
	})
}

// ExecContext times sql.DB.ExecContext.
func (t *TimedDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := t.db.ExecContext(ctx, query, args...)
	t.observe("ExecContext", start, err)
	return res, err
}

// QueryContext times sql.DB.QueryContext.
func (t *TimedDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := t.db.QueryContext(ctx, query, args...)
	t.observe("QueryContext", start, err)
	return rows, err
}

// QueryRowContext times sql.DB.QueryRowContext. Scan errors surface later
// and are not part of the measurement.
func (t *TimedDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	start := time.Now()
	row := t.db.QueryRowContext(ctx, query, args...)
	t.observe("QueryRowContext", start, row.Err())
	return row
}

// BeginTx times sql.DB.BeginTx.
func (t *TimedDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	start := time.Now()
	tx, err := t.db.BeginTx(ctx, opts)
	t.observe("BeginTx", start, err)
	return tx, err
}

// PingContext verifies the connection for the health endpoint.
func (t *TimedDB) PingContext(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

// Close closes the underlying connection.
func (t *TimedDB) Close() error {
	return t.db.Close()
}
