package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	sessionstore "coachhub/internal/adapters/storage/session"
	"coachhub/internal/domain/account"
	"coachhub/internal/domain/guard"
	"coachhub/internal/domain/impersonation"
	"coachhub/internal/domain/session"
)

// Session store errors
var (
	ErrUnknownSession = errors.New("browser session does not exist")
	ErrSessionChanged = errors.New("browser session tokens changed concurrently")
)

// swapAttempts bounds how often a conditional write is retried when another
// request refreshed the acting pair in between.
const swapAttempts = 3

// SessionStore holds the token pair acting for each browser, keyed by the
// opaque id in the session cookie. While a trainer impersonates a trainee it
// also holds the trainer's own pair.
type SessionStore struct {
	store  sessionstore.Store
	maxAge time.Duration
	now    func() time.Time
}

// NewSessionStore wraps a persistent store.
// PRE: store is non-nil, maxAge > 0
func NewSessionStore(store sessionstore.Store, maxAge time.Duration) *SessionStore {
	return &SessionStore{store: store, maxAge: maxAge, now: time.Now}
}

// Create stores tokens under a fresh id.
// PRE: tokens.AccessToken is non-empty
// POST: Returns the new id
func (s *SessionStore) Create(ctx context.Context, tokens session.TokenPair) (string, error) {
	now := s.now()
	id := uuid.NewString()
	if err := s.store.Save(ctx, sessionstore.Entry{ID: id, Tokens: tokens, CreatedAt: now, UpdatedAt: now}); err != nil {
		return "", err
	}
	return id, nil
}

// entry loads id, removing it when expired.
// POST: ok is false for unknown or expired ids; err only for storage failures
func (s *SessionStore) entry(ctx context.Context, id string) (sessionstore.Entry, bool, error) {
	e, err := s.store.Get(ctx, id)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return sessionstore.Entry{}, false, nil
	}
	if err != nil {
		return sessionstore.Entry{}, false, err
	}
	if s.now().Sub(e.CreatedAt) > s.maxAge {
		_ = s.store.Delete(ctx, id)
		return sessionstore.Entry{}, false, nil
	}
	return e, true, nil
}

// Tokens returns the token pair acting for id. Expired entries are removed
// and reported as missing.
// POST: ok is false for unknown or expired ids; err only for storage failures
func (s *SessionStore) Tokens(ctx context.Context, id string) (session.TokenPair, bool, error) {
	e, ok, err := s.entry(ctx, id)
	return e.Tokens, ok, err
}

// Held returns every pair the session holds: the acting pair and, during an
// impersonation, the trainer's own pair.
// POST: Empty for unknown or expired ids
func (s *SessionStore) Held(ctx context.Context, id string) ([]session.TokenPair, error) {
	e, ok, err := s.entry(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	held := []session.TokenPair{e.Tokens}
	if !e.Trainer.IsZero() {
		held = append(held, e.Trainer)
	}
	return held, nil
}

// SwapTokensIf replaces the acting pair with next only while it still equals
// expected. When expected has since been set aside as the trainer's pair, the
// trainer's pair is replaced instead and swapped reports false.
// POST: swapped is true only when the acting pair is now next
func (s *SessionStore) SwapTokensIf(ctx context.Context, id string, expected, next session.TokenPair) (swapped bool, err error) {
	e, ok, err := s.entry(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	n := e
	n.UpdatedAt = s.now()
	switch {
	case e.Tokens.Equal(expected):
		n.Tokens = next
	case !e.Trainer.IsZero() && e.Trainer.Equal(expected):
		n.Trainer = next
		_, err := s.store.CompareAndSwap(ctx, e, n)
		return false, err
	default:
		return false, nil
	}
	return s.store.CompareAndSwap(ctx, e, n)
}

// BeginImpersonation sets trainer aside and makes trainee the acting pair.
// PRE: trainer is the pair currently acting for id
// POST: On success Tokens returns trainee and EndImpersonation restores trainer.
// Returns ErrSessionChanged when the acting pair is no longer trainer and
// impersonation.ErrNestedImpersonation when a trainer pair is already set aside.
func (s *SessionStore) BeginImpersonation(ctx context.Context, id string, trainer, trainee session.TokenPair) error {
	e, ok, err := s.entry(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownSession
	}
	if !e.Trainer.IsZero() {
		return impersonation.ErrNestedImpersonation
	}
	if !e.Tokens.Equal(trainer) {
		return ErrSessionChanged
	}
	n := e
	n.Tokens, n.Trainer, n.UpdatedAt = trainee, e.Tokens, s.now()
	swapped, err := s.store.CompareAndSwap(ctx, e, n)
	if err != nil {
		return err
	}
	if !swapped {
		return ErrSessionChanged
	}
	return nil
}

// EndImpersonation makes the trainer's own pair the acting pair again.
// POST: restored is false when no trainer pair was set aside; the session is
// then unchanged
// INVARIANT: The restored pair is byte-identical to the one BeginImpersonation set aside
func (s *SessionStore) EndImpersonation(ctx context.Context, id string) (restored bool, err error) {
	for range swapAttempts {
		e, ok, err := s.entry(ctx, id)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, ErrUnknownSession
		}
		if e.Trainer.IsZero() {
			return false, nil
		}
		n := e
		n.Tokens, n.Trainer, n.UpdatedAt = e.Trainer, session.TokenPair{}, s.now()
		swapped, err := s.store.CompareAndSwap(ctx, e, n)
		if err != nil {
			return false, err
		}
		if swapped {
			return true, nil
		}
	}
	return false, ErrSessionChanged
}

// Delete removes the session. Missing ids are ignored.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Purge removes every session older than the max age.
func (s *SessionStore) Purge(ctx context.Context) (int64, error) {
	return s.store.DeleteCreatedBefore(ctx, s.now().Add(-s.maxAge))
}

// SessionVerifier is the slice of the authentication service the resolver needs.
type SessionVerifier interface {
	VerifySession(ctx context.Context, tokens session.TokenPair) (account.User, session.TokenPair, error)
}

type verified struct {
	tokens session.TokenPair
	user   account.User
	at     time.Time
}

// SessionResolver turns a session id into the three-phase Session value.
// Verification for the same id and tokens is shared between concurrent
// requests, and a verified user is reused for the same tokens until ttl passes.
type SessionResolver struct {
	sessions *SessionStore
	verifier SessionVerifier
	timeout  time.Duration
	ttl      time.Duration
	now      func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]verified
}

// NewSessionResolver creates a resolver.
// PRE: timeout > 0
func NewSessionResolver(sessions *SessionStore, verifier SessionVerifier, timeout, ttl time.Duration) *SessionResolver {
	return &SessionResolver{
		sessions: sessions,
		verifier: verifier,
		timeout:  timeout,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]verified),
	}
}

// Resolved is a browser session as seen by one request.
type Resolved struct {
	Session session.Session
	// Impersonating is set while the session holds a trainer's own pair aside.
	Impersonating bool
}

// Resolve returns the session for id.
// POST: unauthenticated for a missing or rejected session; loading when the
// store or the authentication service cannot answer within the timeout;
// authenticated otherwise
func (r *SessionResolver) Resolve(ctx context.Context, id string) session.Session {
	return r.Lookup(ctx, id).Session
}

// Lookup resolves id and reports whether it is impersonating. When the
// trainee pair of an impersonating session is rejected, the trainer's own
// pair is restored and verified in its place; the session is kept.
// POST: Same phases as Resolve
func (r *SessionResolver) Lookup(ctx context.Context, id string) Resolved {
	if id == "" {
		return Resolved{Session: session.Anonymous()}
	}
	e, ok, err := r.sessions.entry(ctx, id)
	if err != nil {
		slog.Warn("session_event", "event", "store_unavailable", "error", err)
		return Resolved{Session: session.Loading()}
	}
	if !ok {
		r.Forget(id)
		return Resolved{Session: session.Anonymous()}
	}
	res := Resolved{Impersonating: !e.Trainer.IsZero()}

	if u, hit := r.cached(id, e.Tokens); hit {
		res.Session = session.Authenticated(u)
		return res
	}

	v, err, _ := r.group.Do(flightKey(id, e.Tokens), func() (any, error) {
		return r.verify(ctx, id, e.Tokens)
	})
	if err == nil {
		res.Session = session.Authenticated(v.(account.User))
		return res
	}
	if errors.Is(err, guard.ErrUnauthenticated) {
		r.Forget(id)
		if res.Impersonating {
			return r.endRejected(ctx, id)
		}
		slog.Info("session_event", "event", "session_rejected", "reason", err)
		if derr := r.sessions.Delete(ctx, id); derr != nil {
			slog.Warn("session_event", "event", "delete_failed", "error", derr)
		}
		return Resolved{Session: session.Anonymous()}
	}
	slog.Warn("session_event", "event", "verify_unavailable", "error", err)
	res.Session = session.Loading()
	return res
}

// endRejected restores the trainer's own pair after the trainee pair was
// rejected, then resolves the session again with it.
func (r *SessionResolver) endRejected(ctx context.Context, id string) Resolved {
	restored, err := r.sessions.EndImpersonation(ctx, id)
	if err != nil {
		slog.Warn("impersonation_event", "event", "auto_end_failed", "error", err)
		return Resolved{Session: session.Loading(), Impersonating: true}
	}
	if restored {
		slog.Info("impersonation_event", "event", "auto_ended", "reason", "trainee_session_rejected")
	}
	return r.Lookup(ctx, id)
}

// Refresh discards any cached verdict for id and verifies again.
func (r *SessionResolver) Refresh(ctx context.Context, id string) session.Session {
	r.Forget(id)
	return r.Resolve(ctx, id)
}

// Forget drops the cached verdict for id.
func (r *SessionResolver) Forget(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

func (r *SessionResolver) cached(id string, tokens session.TokenPair) (account.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cache[id]
	if !ok || !c.tokens.Equal(tokens) || r.now().Sub(c.at) >= r.ttl {
		return account.User{}, false
	}
	return c.user, true
}

// verify runs detached from the first caller's cancellation so that a
// client disconnect does not fail the requests sharing this flight.
func (r *SessionResolver) verify(ctx context.Context, id string, tokens session.TokenPair) (account.User, error) {
	vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	u, fresh, err := r.verifier.VerifySession(vctx, tokens)
	if err != nil {
		if vctx.Err() != nil && !errors.Is(err, guard.ErrUnauthenticated) {
			return account.User{}, fmt.Errorf("verify session: %w", vctx.Err())
		}
		return account.User{}, err
	}
	if !fresh.Equal(tokens) {
		swapped, err := r.sessions.SwapTokensIf(vctx, id, tokens, fresh)
		switch {
		case err != nil:
			slog.Warn("session_event", "event", "refresh_write_failed", "error", err)
		case !swapped:
			// The session moved on while this pair was being verified.
			slog.Info("session_event", "event", "refresh_discarded", "user_id", u.ID)
			return u, nil
		default:
			slog.Debug("session_event", "event", "tokens_refreshed", "user_id", u.ID)
		}
	}

	r.mu.Lock()
	r.cache[id] = verified{tokens: fresh, user: u, at: r.now()}
	r.mu.Unlock()
	return u, nil
}

// flightKey identifies one verification. The access token is part of the key
// so a token swap never joins a flight started for the previous pair.
func flightKey(id string, tokens session.TokenPair) string {
	return id + "\x00" + tokens.AccessToken
}
