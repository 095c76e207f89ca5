package session

import (
	"crypto/subtle"
	"errors"

	"coachhub/internal/domain/account"
)

// Domain errors
var (
	ErrMissingUser    = errors.New("authenticated session must carry a user")
	ErrUnexpectedUser = errors.New("unauthenticated session must not carry a user")
)

// TokenPair is the access/refresh credential pair issued by the authentication service.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// IsZero reports whether the pair carries no access token.
// INVARIANT: TokenPair is not mutated
func (p TokenPair) IsZero() bool {
	return p.AccessToken == ""
}

// Equal compares two pairs byte-for-byte in constant time.
// INVARIANT: TokenPair is not mutated
func (p TokenPair) Equal(other TokenPair) bool {
	access := subtle.ConstantTimeCompare([]byte(p.AccessToken), []byte(other.AccessToken))
	refresh := subtle.ConstantTimeCompare([]byte(p.RefreshToken), []byte(other.RefreshToken))
	return access&refresh == 1
}

// Phase is the coarse lifecycle position of a Session.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseUnauthenticated
	PhaseAuthenticated
)

// String returns the phase name used in logs.
func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Session is the ambient authentication state of one browser.
// User may only be stale or absent while IsLoading is true.
type Session struct {
	IsAuthenticated bool          `json:"isAuthenticated"`
	IsLoading       bool          `json:"isLoading"`
	User            *account.User `json:"user"`
}

// Loading returns a session whose verification has not resolved yet.
func Loading() Session {
	return Session{IsLoading: true}
}

// Anonymous returns a resolved session with no authenticated user.
func Anonymous() Session {
	return Session{}
}

// Authenticated returns a resolved session for the given user.
// PRE: u is non-nil and valid
// POST: Session is authenticated and carries a copy of u
func Authenticated(u account.User) Session {
	return Session{IsAuthenticated: true, User: &u}
}

// Phase classifies the session. Loading wins over everything else.
// INVARIANT: Session fields are not mutated
func (s Session) Phase() Phase {
	switch {
	case s.IsLoading:
		return PhaseLoading
	case s.IsAuthenticated && s.User != nil:
		return PhaseAuthenticated
	default:
		return PhaseUnauthenticated
	}
}

// Role returns the user's role, or "" when no user is attached.
// INVARIANT: Session fields are not mutated
func (s Session) Role() account.Role {
	if s.User == nil {
		return ""
	}
	return s.User.Role
}

// Validate checks the loading/authenticated/user invariant.
// PRE: none
// POST: Returns nil if the invariant holds
func (s Session) Validate() error {
	if s.IsLoading {
		return nil
	}
	if s.IsAuthenticated && s.User == nil {
		return ErrMissingUser
	}
	if !s.IsAuthenticated && s.User != nil {
		return ErrUnexpectedUser
	}
	if s.User != nil {
		return s.User.Validate()
	}
	return nil
}
