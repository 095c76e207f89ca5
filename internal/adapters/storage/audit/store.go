package audit

import (
	"context"
	"errors"

	domain "coachhub/internal/domain/audit"
)

// ErrNotFound is returned when no event has the requested id.
var ErrNotFound = errors.New("audit event not found")

// Store defines the interface for audit event persistence.
type Store interface {
	// Save persists an audit event.
	// PRE: event.Validate() == nil
	// POST: Event is persisted
	Save(ctx context.Context, event domain.Event) error

	// List returns audit events matching filter.
	// PRE: limit > 0
	// POST: Returns events ordered by timestamp desc
	List(ctx context.Context, filter Filter, limit int) ([]domain.Event, error)

	// GetByID retrieves a specific audit event.
	// PRE: id is non-empty
	// POST: Returns the event or ErrNotFound
	GetByID(ctx context.Context, id string) (domain.Event, error)
}

// Filter narrows List. Nil fields match everything.
type Filter struct {
	Category  *domain.Category
	Action    *domain.Action
	ActorID   *string
	SubjectID *string
}

var _ Store = (*SQLiteStore)(nil)
