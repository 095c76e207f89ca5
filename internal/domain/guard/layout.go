package guard

import (
	"coachhub/internal/domain/impersonation"
	"coachhub/internal/domain/route"
	"coachhub/internal/domain/session"
)

// State is the layout guard state for one mount of a destination.
type State int

const (
	StateChecking State = iota
	StateRedirecting
	StateAuthorized
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateRedirecting:
		return "redirecting"
	case StateAuthorized:
		return "authorized"
	}
	return "unknown"
}

// Overlay describes what the impersonation record read produced for this request.
type Overlay struct {
	Present bool
	// Corrupt is set when a record existed but could not be decoded.
	Corrupt bool
}

// Verdict is the result of evaluating a layout guard.
type Verdict struct {
	State  State
	Target string
	Reason error
}

// Terminal reports whether the verdict ends evaluation for this mount.
func (v Verdict) Terminal() bool {
	return v.State != StateChecking
}

// Evaluate runs the layout guard for dest against the full session.
// Rules are evaluated in order and the first match wins; nothing is cached
// between calls, so a changed user always starts again from checking.
// PRE: dest is a known destination
// POST: Returns exactly one of checking, redirecting or authorized
func Evaluate(dest route.Destination, sess session.Session, overlay Overlay) Verdict {
	switch sess.Phase() {
	case session.PhaseLoading:
		return Verdict{State: StateChecking, Reason: ErrSessionUnavailable}
	case session.PhaseUnauthenticated:
		return redirect(route.Login, ErrUnauthenticated)
	}

	if dest == route.DestImpersonation {
		if overlay.Present {
			return Verdict{State: StateAuthorized}
		}
		if overlay.Corrupt {
			return redirect(route.TrainerDashboard, impersonation.ErrCorruptImpersonationRecord)
		}
		return redirect(route.TrainerDashboard, nil)
	}

	// The active tokens are trainee-scoped while the overlay exists, so every
	// other tree funnels back into the read-only view until the trainer exits.
	if overlay.Present {
		return redirect(route.ImpersonationView, nil)
	}

	required, ok := dest.RequiredRole()
	if !ok || sess.Role() != required {
		return redirect(route.DashboardRoot(sess.Role()), ErrRoleMismatch)
	}
	return Verdict{State: StateAuthorized}
}

func redirect(target string, reason error) Verdict {
	return Verdict{State: StateRedirecting, Target: target, Reason: reason}
}
