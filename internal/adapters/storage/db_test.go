package storage

import (
	"context"
	"database/sql"
	"slices"
	"testing"

	_ "modernc.org/sqlite"
)

// openTestDB creates an in-memory SQLite database pinned to one connection.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func objectNames(t *testing.T, db *sql.DB, kind string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%' ORDER BY name", kind)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			t.Fatalf("scan: %v", err)
		}
		names = append(names, n)
	}
	return names
}

func TestInitDB_CreatesSchema(t *testing.T) {
	db := openTestDB(t)
	if err := InitDB(context.Background(), db); err != nil {
		t.Fatalf("InitDB: %v", err)
	}

	tables := objectNames(t, db, "table")
	want := []string{"audit_event", "browser_session"}
	if !slices.Equal(tables, want) {
		t.Errorf("tables = %v, want %v", tables, want)
	}
	indexes := objectNames(t, db, "index")
	for _, idx := range []string{"idx_audit_event_actor", "idx_browser_session_created"} {
		if !slices.Contains(indexes, idx) {
			t.Errorf("missing index %s in %v", idx, indexes)
		}
	}
}

func TestInitDB_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := InitDB(ctx, db); err != nil {
			t.Fatalf("InitDB run %d: %v", i+1, err)
		}
	}
	if _, err := db.Exec(`INSERT INTO browser_session (id, access_token, created_at, updated_at) VALUES ('s', 'a', 'now', 'now')`); err != nil {
		t.Fatalf("insert after repeated init: %v", err)
	}
}

func TestInitDB_AddsTrainerColumnsToOlderTable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.Exec(`CREATE TABLE browser_session (
		id TEXT PRIMARY KEY,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		t.Fatalf("create older table: %v", err)
	}
	if err := InitDB(ctx, db); err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO browser_session (id, access_token, trainer_access_token, trainer_refresh_token, created_at, updated_at)
		VALUES ('s', 'a', 'ta', 'tr', 'now', 'now')`); err != nil {
		t.Fatalf("insert with trainer columns: %v", err)
	}
}
