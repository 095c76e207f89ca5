package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coachhub/internal/adapters/storage"
	domain "coachhub/internal/domain/audit"
)

const columns = `id, timestamp, category, action, severity, actor_id, actor_role, subject_id, subject_name, ip_address, user_agent`

// SQLiteStore implements Store on the audit_event table.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new audit event store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save persists an audit event.
// PRE: event.Validate() == nil
// POST: Event is persisted with its timestamp in RFC 3339 UTC
func (s *SQLiteStore) Save(ctx context.Context, event domain.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_event (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.UTC().Format(storage.TimeLayout), string(event.Category), string(event.Action),
		string(event.Severity), event.ActorID, event.ActorRole, event.SubjectID, event.SubjectName,
		event.IPAddress, event.UserAgent)
	if err != nil {
		return fmt.Errorf("save audit event: %w", err)
	}
	return nil
}

// List returns audit events matching filter.
// PRE: limit > 0
// POST: Returns events ordered by timestamp desc
func (s *SQLiteStore) List(ctx context.Context, filter Filter, limit int) ([]domain.Event, error) {
	query := `SELECT ` + columns + ` FROM audit_event WHERE 1=1`
	var args []any

	if filter.Category != nil {
		query += " AND category = ?"
		args = append(args, string(*filter.Category))
	}
	if filter.Action != nil {
		query += " AND action = ?"
		args = append(args, string(*filter.Action))
	}
	if filter.ActorID != nil {
		query += " AND actor_id = ?"
		args = append(args, *filter.ActorID)
	}
	if filter.SubjectID != nil {
		query += " AND subject_id = ?"
		args = append(args, *filter.SubjectID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetByID retrieves a specific audit event.
// PRE: id is non-empty
// POST: Returns the event or ErrNotFound
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Event, error) {
	e, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM audit_event WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (domain.Event, error) {
	var e domain.Event
	var ts string
	err := row.Scan(&e.ID, &ts, &e.Category, &e.Action, &e.Severity, &e.ActorID, &e.ActorRole,
		&e.SubjectID, &e.SubjectName, &e.IPAddress, &e.UserAgent)
	if err != nil {
		return domain.Event{}, err
	}
	e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return domain.Event{}, fmt.Errorf("audit event %s: bad timestamp: %w", e.ID, err)
	}
	return e, nil
}
