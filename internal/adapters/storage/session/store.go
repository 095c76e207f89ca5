package session

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "coachhub/internal/domain/session"
)

// ErrNotFound is returned when no browser session has the requested id.
var ErrNotFound = errors.New("browser session not found")

// Entry is the server-side half of a browser session: the opaque id held in
// the session cookie and the token pair currently acting for that browser.
// Trainer holds the trainer's own pair while the browser impersonates a
// trainee and is zero otherwise.
type Entry struct {
	ID        string
	Tokens    domain.TokenPair
	Trainer   domain.TokenPair
	CreatedAt time.Time
	UpdatedAt time.Time
}

// sameTokens reports whether a and b hold the same acting and trainer pairs.
func sameTokens(a, b Entry) bool {
	return a.Tokens.Equal(b.Tokens) && a.Trainer.Equal(b.Trainer)
}

// Store defines the interface for browser session persistence.
type Store interface {
	// Get loads an entry.
	// PRE: id is non-empty
	// POST: Returns the entry or ErrNotFound
	Get(ctx context.Context, id string) (Entry, error)

	// Save inserts or replaces an entry.
	// PRE: entry.ID is non-empty
	// POST: A later Get returns entry
	Save(ctx context.Context, entry Entry) error

	// CompareAndSwap replaces the tokens of entry old.ID with next's, but only
	// while the stored acting and trainer pairs still equal old's.
	// PRE: old.ID == next.ID
	// POST: Returns false without writing when the entry is missing or has changed
	CompareAndSwap(ctx context.Context, old, next Entry) (bool, error)

	// Delete removes an entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteCreatedBefore removes entries created before cutoff.
	// POST: Returns the number of entries removed
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// MemoryStore keeps entries in a map. It backs tests and single-process
// development runs without a database file.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) Save(_ context.Context, entry Entry) error {
	if entry.ID == "" {
		return errors.New("browser session requires an id")
	}
	m.mu.Lock()
	m.entries[entry.ID] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) CompareAndSwap(_ context.Context, old, next Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries[old.ID]
	if !ok || !sameTokens(cur, old) {
		return false, nil
	}
	cur.Tokens, cur.Trainer, cur.UpdatedAt = next.Tokens, next.Trainer, next.UpdatedAt
	m.entries[old.ID] = cur
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}
