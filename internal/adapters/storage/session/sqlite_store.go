package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coachhub/internal/adapters/storage"
)

// SQLiteStore implements Store on the browser_session table.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new browser session store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get loads an entry.
// PRE: id is non-empty
// POST: Returns the entry or ErrNotFound
func (s *SQLiteStore) Get(ctx context.Context, id string) (Entry, error) {
	var e Entry
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, access_token, refresh_token, trainer_access_token, trainer_refresh_token, created_at, updated_at
		 FROM browser_session WHERE id = ?`, id,
	).Scan(&e.ID, &e.Tokens.AccessToken, &e.Tokens.RefreshToken,
		&e.Trainer.AccessToken, &e.Trainer.RefreshToken, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("load browser session: %w", err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Entry{}, fmt.Errorf("browser session %s: bad created_at: %w", id, err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return Entry{}, fmt.Errorf("browser session %s: bad updated_at: %w", id, err)
	}
	return e, nil
}

// Save inserts or replaces an entry. created_at is kept from the first insert.
// PRE: entry.ID is non-empty
// POST: A later Get returns entry's tokens
func (s *SQLiteStore) Save(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		return errors.New("browser session requires an id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO browser_session (id, access_token, refresh_token, trainer_access_token, trainer_refresh_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   trainer_access_token = excluded.trainer_access_token,
		   trainer_refresh_token = excluded.trainer_refresh_token,
		   updated_at = excluded.updated_at`,
		entry.ID, entry.Tokens.AccessToken, entry.Tokens.RefreshToken,
		entry.Trainer.AccessToken, entry.Trainer.RefreshToken,
		entry.CreatedAt.UTC().Format(storage.TimeLayout), entry.UpdatedAt.UTC().Format(storage.TimeLayout))
	if err != nil {
		return fmt.Errorf("save browser session: %w", err)
	}
	return nil
}

// CompareAndSwap replaces the tokens of entry old.ID with next's while the
// stored pairs still equal old's. The comparison and the write are one statement.
// PRE: old.ID == next.ID
// POST: Returns false without writing when the entry is missing or has changed
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, old, next Entry) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE browser_session SET
		   access_token = ?, refresh_token = ?,
		   trainer_access_token = ?, trainer_refresh_token = ?,
		   updated_at = ?
		 WHERE id = ?
		   AND access_token = ? AND refresh_token = ?
		   AND trainer_access_token = ? AND trainer_refresh_token = ?`,
		next.Tokens.AccessToken, next.Tokens.RefreshToken,
		next.Trainer.AccessToken, next.Trainer.RefreshToken,
		next.UpdatedAt.UTC().Format(storage.TimeLayout),
		old.ID,
		old.Tokens.AccessToken, old.Tokens.RefreshToken,
		old.Trainer.AccessToken, old.Trainer.RefreshToken)
	if err != nil {
		return false, fmt.Errorf("swap browser session tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swap browser session tokens: %w", err)
	}
	return n == 1, nil
}

// Delete removes an entry.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM browser_session WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete browser session: %w", err)
	}
	return nil
}

// DeleteCreatedBefore removes entries created before cutoff.
// POST: Returns the number of entries removed
func (s *SQLiteStore) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM browser_session WHERE created_at < ?`,
		cutoff.UTC().Format(storage.TimeLayout))
	if err != nil {
		return 0, fmt.Errorf("purge browser sessions: %w", err)
	}
	return res.RowsAffected()
}
