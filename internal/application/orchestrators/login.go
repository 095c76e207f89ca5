package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"coachhub/internal/domain/account"
	"coachhub/internal/domain/audit"
	"coachhub/internal/domain/route"
	"coachhub/internal/domain/session"
)

// Authenticator exchanges credentials with the authentication service.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (session.TokenPair, account.User, error)
}

// Revoker revokes a token pair with the authentication service.
type Revoker interface {
	Logout(ctx context.Context, tokens session.TokenPair) error
}

// SessionRefresher re-verifies a browser session on demand.
type SessionRefresher interface {
	Refresh(ctx context.Context, id string) session.Session
}

// ErrMissingCredentials is returned when the login form is incomplete.
var ErrMissingCredentials = errors.New("email and password are required")

// --- Login ---

// LoginInput carries input for the login orchestrator.
type LoginInput struct {
	Email    string
	Password string
	// PreviousSessionID is the session cookie the browser arrived with, if any.
	PreviousSessionID string
	Meta              RequestMeta
}

// LoginResult carries the new browser session.
type LoginResult struct {
	SessionID string
	User      account.User
	Redirect  string
}

// LoginDeps holds dependencies for Login.
type LoginDeps struct {
	Auth       Authenticator
	Sessions   SessionTokens
	Records    RecordStore
	AuditStore AuditStore
	GenerateID func() string
	Now        func() time.Time
}

// ExecuteLogin exchanges credentials for a token pair and opens a browser session.
// PRE: Email and Password are non-empty
// POST: A new session entry holds the user's tokens; any previous entry and
// any leftover impersonation record are gone
// INVARIANT: Credential errors from the authentication service are returned unchanged
func ExecuteLogin(ctx context.Context, input LoginInput, deps LoginDeps) (LoginResult, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" || input.Password == "" {
		return LoginResult{}, ErrMissingCredentials
	}

	tokens, user, err := deps.Auth.Login(ctx, email, input.Password)
	if err != nil {
		slog.Info("auth_event", "event", "login_failed", "email", email, "reason", err)
		return LoginResult{}, err
	}

	if input.PreviousSessionID != "" {
		if err := deps.Sessions.Delete(ctx, input.PreviousSessionID); err != nil {
			slog.Warn("session_event", "event", "delete_failed", "error", err)
		}
	}
	id, err := deps.Sessions.Create(ctx, tokens)
	if err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}
	deps.Records.Clear()

	recordAudit(ctx, deps.AuditStore, newAuditEvent(deps.GenerateID(), deps.Now(), audit.CategorySession, audit.ActionLogin, &user, input.Meta))
	slog.Info("auth_event", "event", "login_success", "user_id", user.ID, "role", user.Role)

	return LoginResult{SessionID: id, User: user, Redirect: route.DashboardRoot(user.Role)}, nil
}

// --- Logout ---

// LogoutInput carries input for the logout orchestrator.
type LogoutInput struct {
	SessionID string
	// Actor is the signed-in user, nil when the session had already lapsed.
	Actor *account.User
	Meta  RequestMeta
}

// LogoutDeps holds dependencies for Logout.
type LogoutDeps struct {
	Auth       Revoker
	Sessions   SessionTokens
	Records    RecordStore
	AuditStore AuditStore
	GenerateID func() string
	Now        func() time.Time
}

// ExecuteLogout ends the browser session.
// PRE: none
// POST: The session entry and the impersonation record are gone; revocation
// with the authentication service is attempted for every pair held
// INVARIANT: Never fails; revocation and storage errors are logged
func ExecuteLogout(ctx context.Context, input LogoutInput, deps LogoutDeps) {
	var held []session.TokenPair
	if input.SessionID != "" {
		var err error
		if held, err = deps.Sessions.Held(ctx, input.SessionID); err != nil {
			slog.Warn("session_event", "event", "store_unavailable", "error", err)
		}
	}
	deps.Records.Clear()

	for _, tokens := range held {
		if err := deps.Auth.Logout(ctx, tokens); err != nil {
			slog.Warn("auth_event", "event", "revoke_failed", "error", err)
		}
	}
	if input.SessionID != "" {
		if err := deps.Sessions.Delete(ctx, input.SessionID); err != nil {
			slog.Warn("session_event", "event", "delete_failed", "error", err)
		}
	}

	if input.Actor != nil {
		recordAudit(ctx, deps.AuditStore, newAuditEvent(deps.GenerateID(), deps.Now(), audit.CategorySession, audit.ActionLogout, input.Actor, input.Meta))
		slog.Info("auth_event", "event", "logout", "user_id", input.Actor.ID)
	}
}

// --- Refresh ---

// ExecuteRefreshSession discards any cached verdict for the browser session
// and verifies it again.
// PRE: none
// POST: Returns the freshly resolved session; anonymous when id is empty
func ExecuteRefreshSession(ctx context.Context, id string, refresher SessionRefresher) session.Session {
	if id == "" {
		return session.Anonymous()
	}
	return refresher.Refresh(ctx, id)
}
