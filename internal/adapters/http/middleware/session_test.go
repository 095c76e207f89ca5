package middleware

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sessionstore "coachhub/internal/adapters/storage/session"
	"coachhub/internal/domain/account"
	"coachhub/internal/domain/guard"
	"coachhub/internal/domain/impersonation"
	"coachhub/internal/domain/session"
)

// fakeVerifier maps access tokens to users; everything else is rejected.
type fakeVerifier struct {
	mu      sync.Mutex
	users   map[string]account.User
	refresh map[string]session.TokenPair
	delay   time.Duration
	err     error
	calls   atomic.Int32
}

func (f *fakeVerifier) VerifySession(ctx context.Context, tokens session.TokenPair) (account.User, session.TokenPair, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return account.User{}, tokens, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return account.User{}, tokens, f.err
	}
	if next, ok := f.refresh[tokens.AccessToken]; ok {
		return f.users[next.AccessToken], next, nil
	}
	u, ok := f.users[tokens.AccessToken]
	if !ok {
		return account.User{}, tokens, guard.ErrUnauthenticated
	}
	return u, tokens, nil
}

var (
	trainerUser = account.User{ID: "trainer-1", Role: account.RoleTrainer, FirstName: "Tom"}
	traineeUser = account.User{ID: "trainee-7", Role: account.RoleTrainee, FirstName: "Jane", LastName: "Doe"}
	adminUser   = account.User{ID: "admin-1", Role: account.RoleAdmin}
)

func newResolver(t *testing.T, v *fakeVerifier) (*SessionResolver, *SessionStore) {
	t.Helper()
	if v.users == nil {
		v.users = map[string]account.User{
			"trainer-access": trainerUser,
			"trainee-access": traineeUser,
			"admin-access":   adminUser,
		}
	}
	store := NewSessionStore(sessionstore.NewMemoryStore(), time.Hour)
	return NewSessionResolver(store, v, 200*time.Millisecond, time.Minute), store
}

func TestResolve_NoIDIsAnonymous(t *testing.T) {
	r, _ := newResolver(t, &fakeVerifier{})
	if got := r.Resolve(context.Background(), ""); got.Phase() != session.PhaseUnauthenticated {
		t.Errorf("phase = %s, want unauthenticated", got.Phase())
	}
	if got := r.Resolve(context.Background(), "unknown"); got.Phase() != session.PhaseUnauthenticated {
		t.Errorf("unknown id: phase = %s, want unauthenticated", got.Phase())
	}
}

func TestResolve_AuthenticatedAndCached(t *testing.T) {
	v := &fakeVerifier{}
	r, store := newResolver(t, v)
	ctx := context.Background()
	id, err := store.Create(ctx, session.TokenPair{AccessToken: "trainer-access", RefreshToken: "r"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 3; i++ {
		got := r.Resolve(ctx, id)
		if got.Phase() != session.PhaseAuthenticated || got.User.ID != "trainer-1" {
			t.Fatalf("resolve %d = %+v", i, got)
		}
	}
	if v.calls.Load() != 1 {
		t.Errorf("verifier calls = %d, want 1 (cached)", v.calls.Load())
	}

	r.Refresh(ctx, id)
	if v.calls.Load() != 2 {
		t.Errorf("verifier calls after Refresh = %d, want 2", v.calls.Load())
	}
}

// TestResolve_TokenSwapBypassesCache covers login, impersonation start and end:
// a new pair must never reuse the verdict for the old one.
func TestResolve_TokenSwapBypassesCache(t *testing.T) {
	r, store := newResolver(t, &fakeVerifier{})
	ctx := context.Background()
	id, _ := store.Create(ctx, session.TokenPair{AccessToken: "trainer-access"})

	if got := r.Resolve(ctx, id); got.Role() != account.RoleTrainer {
		t.Fatalf("role = %s, want TRAINER", got.Role())
	}
	if err := store.BeginImpersonation(ctx, id, session.TokenPair{AccessToken: "trainer-access"}, session.TokenPair{AccessToken: "trainee-access"}); err != nil {
		t.Fatalf("BeginImpersonation: %v", err)
	}
	if got := r.Resolve(ctx, id); got.Role() != account.RoleTrainee {
		t.Errorf("role after swap = %s, want TRAINEE", got.Role())
	}
}

func TestResolve_RejectedSessionIsDeleted(t *testing.T) {
	r, store := newResolver(t, &fakeVerifier{})
	ctx := context.Background()
	id, _ := store.Create(ctx, session.TokenPair{AccessToken: "revoked"})

	if got := r.Resolve(ctx, id); got.Phase() != session.PhaseUnauthenticated {
		t.Fatalf("phase = %s, want unauthenticated", got.Phase())
	}
	if _, ok, _ := store.Tokens(ctx, id); ok {
		t.Error("rejected session should be deleted")
	}
}

func TestResolve_TransientFailureIsLoading(t *testing.T) {
	v := &fakeVerifier{err: errors.New("connection refused")}
	r, store := newResolver(t, v)
	ctx := context.Background()
	id, _ := store.Create(ctx, session.TokenPair{AccessToken: "trainer-access"})

	if got := r.Resolve(ctx, id); got.Phase() != session.PhaseLoading {
		t.Errorf("phase = %s, want loading", got.Phase())
	}
	if _, ok, _ := store.Tokens(ctx, id); !ok {
		t.Error("transient failure must not delete the session")
	}
}

func TestResolve_TimeoutIsLoading(t *testing.T) {
	v := &fakeVerifier{delay: time.Second}
	r, store := newResolver(t, v)
	ctx := context.Background()
	id, _ := store.Create(ctx, session.TokenPair{AccessToken: "trainer-access"})

	start := time.Now()
	got := r.Resolve(ctx, id)
	if got.Phase() != session.PhaseLoading {
		t.Errorf("phase = %s, want loading", got.Phase())
	}
	if time.Since(start) > 900*time.Millisecond {
		t.Errorf("resolve took %v, should be bounded by the verify timeout", time.Since(start))
	}
}

func TestResolve_RefreshedTokensAreWrittenBack(t *testing.T) {
	fresh := session.TokenPair{AccessToken: "trainer-access", RefreshToken: "r2"}
	v := &fakeVerifier{refresh: map[string]session.TokenPair{"expired-access": fresh}}
	r, store := newResolver(t, v)
	ctx := context.Background()
	id, _ := store.Create(ctx, session.TokenPair{AccessToken: "expired-access", RefreshToken: "r1"})

	if got := r.Resolve(ctx, id); got.User == nil || got.User.ID != "trainer-1" {
		t.Fatalf("resolve = %+v", got)
	}
	tokens, _, _ := store.Tokens(ctx, id)
	if !tokens.Equal(fresh) {
		t.Errorf("stored tokens = %+v, want refreshed pair", tokens)
	}
}

func TestResolve_ConcurrentRequestsShareVerification(t *testing.T) {
	v := &fakeVerifier{delay: 50 * time.Millisecond}
	r, store := newResolver(t, v)
	ctx := context.Background()
	id, _ := store.Create(ctx, session.TokenPair{AccessToken: "admin-access"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := r.Resolve(ctx, id); got.Role() != account.RoleAdmin {
				t.Errorf("role = %s, want ADMIN", got.Role())
			}
		}()
	}
	wg.Wait()
	if v.calls.Load() != 1 {
		t.Errorf("verifier calls = %d, want 1", v.calls.Load())
	}
}

func TestSessionStore_Expiry(t *testing.T) {
	mem := sessionstore.NewMemoryStore()
	store := NewSessionStore(mem, time.Hour)
	ctx := context.Background()
	id, _ := store.Create(ctx, session.TokenPair{AccessToken: "a"})

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, ok, _ := store.Tokens(ctx, id); ok {
		t.Error("expired session should read as missing")
	}
	if _, err := mem.Get(ctx, id); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Error("expired session should be removed")
	}
	if err := store.BeginImpersonation(ctx, id, session.TokenPair{AccessToken: "a"}, session.TokenPair{AccessToken: "b"}); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("BeginImpersonation on removed session: err = %v", err)
	}
}

func TestSessionStore_Purge(t *testing.T) {
	store := NewSessionStore(sessionstore.NewMemoryStore(), time.Hour)
	ctx := context.Background()
	store.Create(ctx, session.TokenPair{AccessToken: "a"})
	store.Create(ctx, session.TokenPair{AccessToken: "b"})

	store.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	n, err := store.Purge(ctx)
	if err != nil || n != 2 {
		t.Errorf("Purge = %d, %v; want 2, nil", n, err)
	}
}

var (
	trainerPair = session.TokenPair{AccessToken: "trainer-access", RefreshToken: "trainer-refresh"}
	traineePair = session.TokenPair{AccessToken: "trainee-access", RefreshToken: "trainee-refresh"}
)

// impersonatingSession creates a session acting with traineePair that holds
// trainerPair aside.
func impersonatingSession(t *testing.T, store *SessionStore) string {
	t.Helper()
	ctx := context.Background()
	id, err := store.Create(ctx, trainerPair)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.BeginImpersonation(ctx, id, trainerPair, traineePair); err != nil {
		t.Fatalf("BeginImpersonation: %v", err)
	}
	return id
}

func TestSessionStore_BeginEndImpersonation(t *testing.T) {
	store := NewSessionStore(sessionstore.NewMemoryStore(), time.Hour)
	ctx := context.Background()
	id := impersonatingSession(t, store)

	if got, _, _ := store.Tokens(ctx, id); got != traineePair {
		t.Errorf("acting = %+v, want trainee pair", got)
	}
	held, err := store.Held(ctx, id)
	if err != nil || len(held) != 2 || held[1] != trainerPair {
		t.Errorf("Held = %+v, %v", held, err)
	}
	if err := store.BeginImpersonation(ctx, id, traineePair, session.TokenPair{AccessToken: "other"}); !errors.Is(err, impersonation.ErrNestedImpersonation) {
		t.Errorf("second begin: err = %v, want ErrNestedImpersonation", err)
	}

	restored, err := store.EndImpersonation(ctx, id)
	if err != nil || !restored {
		t.Fatalf("EndImpersonation = %v, %v", restored, err)
	}
	if got, _, _ := store.Tokens(ctx, id); got != trainerPair {
		t.Errorf("acting after end = %+v, want trainer pair", got)
	}
	if restored, err := store.EndImpersonation(ctx, id); err != nil || restored {
		t.Errorf("second end = %v, %v; want false, nil", restored, err)
	}
}

func TestSessionStore_BeginRefusesChangedSession(t *testing.T) {
	store := NewSessionStore(sessionstore.NewMemoryStore(), time.Hour)
	ctx := context.Background()
	id, _ := store.Create(ctx, trainerPair)

	stale := session.TokenPair{AccessToken: "trainer-access-old"}
	if err := store.BeginImpersonation(ctx, id, stale, traineePair); !errors.Is(err, ErrSessionChanged) {
		t.Errorf("err = %v, want ErrSessionChanged", err)
	}
	if got, _, _ := store.Tokens(ctx, id); got != trainerPair {
		t.Errorf("acting = %+v, must be unchanged", got)
	}
}

func TestSessionStore_SwapTokensIf(t *testing.T) {
	store := NewSessionStore(sessionstore.NewMemoryStore(), time.Hour)
	ctx := context.Background()
	id, _ := store.Create(ctx, trainerPair)
	next := session.TokenPair{AccessToken: "trainer-access-2", RefreshToken: "trainer-refresh-2"}

	if ok, err := store.SwapTokensIf(ctx, id, traineePair, next); err != nil || ok {
		t.Errorf("mismatched swap = %v, %v; want false", ok, err)
	}
	if got, _, _ := store.Tokens(ctx, id); got != trainerPair {
		t.Errorf("acting = %+v, must be unchanged", got)
	}
	if ok, err := store.SwapTokensIf(ctx, id, trainerPair, next); err != nil || !ok {
		t.Errorf("matching swap = %v, %v; want true", ok, err)
	}
	if got, _, _ := store.Tokens(ctx, id); got != next {
		t.Errorf("acting = %+v, want %+v", got, next)
	}
	if ok, err := store.SwapTokensIf(ctx, "missing", trainerPair, next); err != nil || ok {
		t.Errorf("missing session swap = %v, %v; want false, nil", ok, err)
	}
}

// gatedVerifier holds every verification until release is closed, then
// answers with refresh.
type gatedVerifier struct {
	entered chan struct{}
	release chan struct{}
	users   map[string]account.User
	refresh map[string]session.TokenPair
}

func newGatedVerifier() *gatedVerifier {
	return &gatedVerifier{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		users: map[string]account.User{
			"trainer-access":   trainerUser,
			"trainer-access-2": trainerUser,
			"trainee-access":   traineeUser,
			"trainee-access-2": traineeUser,
		},
		refresh: map[string]session.TokenPair{
			"trainer-access": {AccessToken: "trainer-access-2", RefreshToken: "trainer-refresh-2"},
			"trainee-access": {AccessToken: "trainee-access-2", RefreshToken: "trainee-refresh-2"},
		},
	}
}

func (g *gatedVerifier) VerifySession(ctx context.Context, tokens session.TokenPair) (account.User, session.TokenPair, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return account.User{}, tokens, ctx.Err()
	}
	if next, ok := g.refresh[tokens.AccessToken]; ok {
		return g.users[next.AccessToken], next, nil
	}
	if u, ok := g.users[tokens.AccessToken]; ok {
		return u, tokens, nil
	}
	return account.User{}, tokens, guard.ErrUnauthenticated
}

// resolveWhileHeld starts a Resolve, runs during while the verifier holds
// it, then lets the verification finish.
func resolveWhileHeld(t *testing.T, r *SessionResolver, g *gatedVerifier, id string, during func()) session.Session {
	t.Helper()
	done := make(chan session.Session, 1)
	go func() { done <- r.Resolve(context.Background(), id) }()
	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("verification never started")
	}
	during()
	close(g.release)
	select {
	case s := <-done:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("resolve never returned")
	}
	return session.Session{}
}

func TestResolve_RefreshDoesNotUndoImpersonationEnd(t *testing.T) {
	g := newGatedVerifier()
	store := NewSessionStore(sessionstore.NewMemoryStore(), time.Hour)
	r := NewSessionResolver(store, g, 5*time.Second, time.Minute)
	ctx := context.Background()
	id := impersonatingSession(t, store)

	resolveWhileHeld(t, r, g, id, func() {
		if restored, err := store.EndImpersonation(ctx, id); err != nil || !restored {
			t.Fatalf("EndImpersonation = %v, %v", restored, err)
		}
	})

	if got, _, _ := store.Tokens(ctx, id); got != trainerPair {
		t.Errorf("acting after end = %+v, want the restored trainer pair", got)
	}
	if held, _ := store.Held(ctx, id); len(held) != 1 {
		t.Errorf("Held = %+v, want only the trainer pair", held)
	}
	if got := r.Lookup(ctx, id); got.Session.Role() != account.RoleTrainer || got.Impersonating {
		t.Errorf("next lookup = %+v, want the trainer and no impersonation", got)
	}
}

func TestResolve_RefreshDuringStartFollowsTrainerPair(t *testing.T) {
	g := newGatedVerifier()
	store := NewSessionStore(sessionstore.NewMemoryStore(), time.Hour)
	r := NewSessionResolver(store, g, 5*time.Second, time.Minute)
	ctx := context.Background()
	id, _ := store.Create(ctx, trainerPair)

	resolveWhileHeld(t, r, g, id, func() {
		if err := store.BeginImpersonation(ctx, id, trainerPair, traineePair); err != nil {
			t.Fatalf("BeginImpersonation: %v", err)
		}
	})

	if got, _, _ := store.Tokens(ctx, id); got != traineePair {
		t.Errorf("acting = %+v, the trainee pair must stay in place", got)
	}
	held, _ := store.Held(ctx, id)
	want := session.TokenPair{AccessToken: "trainer-access-2", RefreshToken: "trainer-refresh-2"}
	if len(held) != 2 || held[1] != want {
		t.Errorf("Held = %+v, want the refreshed trainer pair set aside", held)
	}
}

func TestResolve_RejectedTraineePairRestoresTrainer(t *testing.T) {
	v := &fakeVerifier{users: map[string]account.User{"trainer-access": trainerUser}}
	r, store := newResolver(t, v)
	ctx := context.Background()
	id := impersonatingSession(t, store)

	got := r.Lookup(ctx, id)
	if got.Session.Role() != account.RoleTrainer || got.Impersonating {
		t.Errorf("lookup = %+v, want the trainer without impersonation", got)
	}
	tokens, ok, _ := store.Tokens(ctx, id)
	if !ok || tokens != trainerPair {
		t.Errorf("acting = %+v (present %v), want the trainer pair kept", tokens, ok)
	}
}

func TestResolve_RejectedTraineeAndTrainerPairs(t *testing.T) {
	v := &fakeVerifier{users: map[string]account.User{}}
	r, store := newResolver(t, v)
	ctx := context.Background()
	id := impersonatingSession(t, store)

	if got := r.Resolve(ctx, id); got.Phase() != session.PhaseUnauthenticated {
		t.Errorf("phase = %s, want unauthenticated", got.Phase())
	}
	if _, ok, _ := store.Tokens(ctx, id); ok {
		t.Error("a session with no usable pair should be deleted")
	}
}
