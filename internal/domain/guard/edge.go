// Package guard holds the two routing decisions made for every navigation:
// the coarse edge decision taken before a page is served, and the per-destination
// layout decision taken once the full session is known.
package guard

import (
	"errors"

	"coachhub/internal/domain/account"
	"coachhub/internal/domain/route"
	"coachhub/internal/domain/session"
)

// Guard errors. None of these are surfaced to the user; each is resolved by a
// redirect or by holding the page in the checking state.
var (
	ErrSessionUnavailable = errors.New("session has not resolved yet")
	ErrUnauthenticated    = errors.New("no authenticated session")
	ErrRoleMismatch       = errors.New("role does not match destination")
)

// CoarseToken is the advisory presence/role hint readable before the session resolves.
// It is client-writable and never grants data access.
type CoarseToken struct {
	SessionPresent bool
	Role           string
}

// Decision is the outcome of the edge guard: allow the request or redirect it.
type Decision struct {
	Allow  bool
	Target string
}

// Allow lets the request through unchanged.
func Allow() Decision {
	return Decision{Allow: true}
}

// RedirectTo sends the browser to target.
func RedirectTo(target string) Decision {
	return Decision{Target: target}
}

// Decide is the edge routing decision. It is pure: the first matching rule wins.
//
//  1. public entry with a session       -> role dashboard
//  2. protected path without a session  -> public entry
//  3. admin tree with a non-admin role  -> trainer dashboard (convenience only)
//  4. application root                  -> role dashboard or public entry
//  5. anything else                     -> allow
func Decide(path string, tok CoarseToken) Decision {
	path = route.Clean(path)

	if path == route.Login {
		if tok.SessionPresent {
			return RedirectTo(coarseDashboard(tok.Role))
		}
		return Allow()
	}

	if !tok.SessionPresent && path != route.Root {
		return RedirectTo(route.Login)
	}

	// The backend API and the layout guard are the real admin boundary.
	if route.UnderPrefix(path, route.AdminPrefix) && tok.SessionPresent && !isAdminLabel(tok.Role) {
		return RedirectTo(route.TrainerDashboard)
	}

	if path == route.Root {
		if tok.SessionPresent {
			return RedirectTo(coarseDashboard(tok.Role))
		}
		return RedirectTo(route.Login)
	}

	return Allow()
}

// coarseDashboard only distinguishes admins; the layout guard sends the other
// roles on to their own dashboard once the full user is known.
func coarseDashboard(label string) string {
	if isAdminLabel(label) {
		return route.AdminDashboard
	}
	return route.TrainerDashboard
}

func isAdminLabel(label string) bool {
	role, err := account.ParseRole(label)
	return err == nil && role == account.RoleAdmin
}

// SyncCoarse returns the coarse token that matches a resolved session.
// The second result is false when tok already agrees with the session.
// An unauthenticated session clears a leftover token; without that the edge
// would keep bouncing the public entry back to a dashboard.
// A loading session never changes the token.
func SyncCoarse(tok CoarseToken, sess session.Session) (CoarseToken, bool) {
	switch sess.Phase() {
	case session.PhaseLoading:
		return tok, false
	case session.PhaseUnauthenticated:
		if !tok.SessionPresent && tok.Role == "" {
			return tok, false
		}
		return CoarseToken{}, true
	}
	if tok.SessionPresent && isSameRole(tok.Role, sess.Role()) {
		return tok, false
	}
	return CoarseToken{SessionPresent: true, Role: sess.Role().String()}, true
}

func isSameRole(label string, role account.Role) bool {
	parsed, err := account.ParseRole(label)
	return err == nil && parsed == role
}
