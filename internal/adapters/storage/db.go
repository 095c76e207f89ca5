package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// TimeLayout is the stored form of every timestamp column. It is fixed width,
// so text comparison in SQL agrees with time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// schema is applied idempotently on every start.
const schema = `
CREATE TABLE IF NOT EXISTS browser_session (
	id TEXT PRIMARY KEY,
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	trainer_access_token TEXT NOT NULL DEFAULT '',
	trainer_refresh_token TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_event (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	category TEXT NOT NULL,
	action TEXT NOT NULL,
	severity TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	actor_role TEXT NOT NULL DEFAULT '',
	subject_id TEXT NOT NULL DEFAULT '',
	subject_name TEXT NOT NULL DEFAULT '',
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_event_actor ON audit_event(actor_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_browser_session_created ON browser_session(created_at);
`

// addedColumns brings databases created before a column existed up to date.
var addedColumns = []string{
	`ALTER TABLE browser_session ADD COLUMN trainer_access_token TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE browser_session ADD COLUMN trainer_refresh_token TEXT NOT NULL DEFAULT ''`,
}

// InitDB initializes the database schema.
// PRE: db is a valid database connection
// POST: All tables are created, WAL mode and foreign keys enabled
func InitDB(ctx context.Context, db *sql.DB) error {
	// WAL is rejected by in-memory databases; that is fine for tests.
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode=WAL")
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	for _, stmt := range addedColumns {
		if _, err := db.ExecContext(ctx, stmt); err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}
