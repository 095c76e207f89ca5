package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	emailAdapter "coachhub/internal/adapters/email"
	"coachhub/internal/domain/account"
	"coachhub/internal/domain/audit"
	"coachhub/internal/domain/impersonation"
	"coachhub/internal/domain/session"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return fixedTime }

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

// fakeSessions implements SessionTokens.
type fakeSessions struct {
	mu      sync.Mutex
	entries map[string]*fakeEntry
	next    int
	failOn  string // method name that returns errStore
}

type fakeEntry struct {
	tokens  session.TokenPair
	trainer session.TokenPair
}

var (
	errStore          = errors.New("store unavailable")
	errUnknownSession = errors.New("unknown session")
)

func newFakeSessions() *fakeSessions {
	return &fakeSessions{entries: make(map[string]*fakeEntry)}
}

func (f *fakeSessions) Create(_ context.Context, tokens session.TokenPair) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "Create" {
		return "", errStore
	}
	f.next++
	id := fmt.Sprintf("sess-%d", f.next)
	f.entries[id] = &fakeEntry{tokens: tokens}
	return id, nil
}

func (f *fakeSessions) Tokens(_ context.Context, id string) (session.TokenPair, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "Tokens" {
		return session.TokenPair{}, false, errStore
	}
	e, ok := f.entries[id]
	if !ok {
		return session.TokenPair{}, false, nil
	}
	return e.tokens, true, nil
}

func (f *fakeSessions) Held(_ context.Context, id string) ([]session.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, nil
	}
	held := []session.TokenPair{e.tokens}
	if !e.trainer.IsZero() {
		held = append(held, e.trainer)
	}
	return held, nil
}

func (f *fakeSessions) BeginImpersonation(_ context.Context, id string, trainer, trainee session.TokenPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "BeginImpersonation" {
		return errStore
	}
	e, ok := f.entries[id]
	if !ok {
		return errUnknownSession
	}
	if !e.trainer.IsZero() {
		return impersonation.ErrNestedImpersonation
	}
	if e.tokens != trainer {
		return errors.New("session changed")
	}
	e.tokens, e.trainer = trainee, trainer
	return nil
}

func (f *fakeSessions) EndImpersonation(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "EndImpersonation" {
		return false, errStore
	}
	e, ok := f.entries[id]
	if !ok {
		return false, errUnknownSession
	}
	if e.trainer.IsZero() {
		return false, nil
	}
	e.tokens, e.trainer = e.trainer, session.TokenPair{}
	return true, nil
}

func (f *fakeSessions) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

// fakeRecords implements RecordStore the way a browser cookie behaves.
type fakeRecords struct {
	rec     *impersonation.Record
	corrupt bool
	saveErr error
	saves   int
	clears  int
}

func (f *fakeRecords) Load() (*impersonation.Record, error) {
	if f.corrupt {
		return nil, impersonation.ErrCorruptImpersonationRecord
	}
	if f.rec == nil {
		return nil, nil
	}
	cp := *f.rec
	return &cp, nil
}

func (f *fakeRecords) Save(rec impersonation.Record) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.rec, f.corrupt = &rec, false
	return nil
}

func (f *fakeRecords) Clear() {
	f.clears++
	f.rec, f.corrupt = nil, false
}

// fakeAudit implements AuditStore.
type fakeAudit struct {
	events []audit.Event
	err    error
}

func (f *fakeAudit) Save(_ context.Context, e audit.Event) error {
	if f.err != nil {
		return f.err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeAudit) actions() []audit.Action {
	var out []audit.Action
	for _, e := range f.events {
		out = append(out, e.Action)
	}
	return out
}

// fakeAuthService implements Authenticator, Revoker and ImpersonationIssuer.
type fakeAuthService struct {
	users   map[string]account.User // password -> user
	tokens  map[string]session.TokenPair
	deny    bool
	issued  []string
	revoked []session.TokenPair
}

func (f *fakeAuthService) Login(_ context.Context, email, password string) (session.TokenPair, account.User, error) {
	u, ok := f.users[email+"/"+password]
	if !ok {
		return session.TokenPair{}, account.User{}, errInvalidCredentials
	}
	return f.tokens[u.ID], u, nil
}

func (f *fakeAuthService) Logout(_ context.Context, tokens session.TokenPair) error {
	f.revoked = append(f.revoked, tokens)
	return nil
}

func (f *fakeAuthService) IssueImpersonationTokens(_ context.Context, _ session.TokenPair, traineeID string) (session.TokenPair, error) {
	f.issued = append(f.issued, traineeID)
	if f.deny {
		return session.TokenPair{}, impersonation.ErrImpersonationDenied
	}
	return session.TokenPair{AccessToken: "trainee-access-" + traineeID, RefreshToken: "trainee-refresh-" + traineeID}, nil
}

var errInvalidCredentials = errors.New("invalid credentials")

// fakeMailer implements Mailer.
type fakeMailer struct {
	sent []emailAdapter.SendRequest
}

func (f *fakeMailer) Send(_ context.Context, req emailAdapter.SendRequest) (emailAdapter.SendResult, error) {
	f.sent = append(f.sent, req)
	return emailAdapter.SendResult{MessageID: "m-1", SentAt: fixedTime}, nil
}

// fakeRefresher implements SessionRefresher.
type fakeRefresher struct {
	calls []string
	sess  session.Session
}

func (f *fakeRefresher) Refresh(_ context.Context, id string) session.Session {
	f.calls = append(f.calls, id)
	return f.sess
}

var (
	trainer = account.User{ID: "trainer-1", Role: account.RoleTrainer, FirstName: "Tom", LastName: "Trainer", Email: "tom@coachhub.example"}
	admin   = account.User{ID: "admin-1", Role: account.RoleAdmin, FirstName: "Ada"}
	trainee = account.User{ID: "trainee-7", Role: account.RoleTrainee, FirstName: "Jane", LastName: "Doe"}
	ambass  = account.User{ID: "amb-1", Role: account.RoleAmbassador}
)

var trainerTokens = session.TokenPair{AccessToken: "trainer-access", RefreshToken: "trainer-refresh"}
