package orchestrators

import (
	"context"
	"log/slog"
	"time"

	"coachhub/internal/domain/account"
	"coachhub/internal/domain/audit"
	"coachhub/internal/domain/impersonation"
	"coachhub/internal/domain/session"
)

// SessionTokens is the slice of the browser session store the orchestrators use.
// BeginImpersonation sets the acting pair aside as the trainer's pair and
// EndImpersonation makes it act again.
type SessionTokens interface {
	Create(ctx context.Context, tokens session.TokenPair) (string, error)
	Tokens(ctx context.Context, id string) (session.TokenPair, bool, error)
	Held(ctx context.Context, id string) ([]session.TokenPair, error)
	BeginImpersonation(ctx context.Context, id string, trainer, trainee session.TokenPair) error
	EndImpersonation(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// RecordStore holds the impersonation record of the current browser.
// Load returns (nil, nil) when no record exists and
// impersonation.ErrCorruptImpersonationRecord when one exists but is unreadable.
type RecordStore interface {
	Load() (*impersonation.Record, error)
	Save(rec impersonation.Record) error
	Clear()
}

// AuditStore persists audit events.
type AuditStore interface {
	Save(ctx context.Context, event audit.Event) error
}

// RequestMeta identifies where a request came from, for audit rows.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// recordAudit saves an audit event. Audit failures are logged and never fail
// the operation being audited.
func recordAudit(ctx context.Context, store AuditStore, event audit.Event) {
	if store == nil {
		return
	}
	if err := store.Save(ctx, event); err != nil {
		slog.Error("audit_event_failed", "action", event.Action, "actor_id", event.ActorID, "error", err)
	}
}

func newAuditEvent(id string, now time.Time, category audit.Category, action audit.Action, actor *account.User, meta RequestMeta) audit.Event {
	e := audit.Event{
		ID:        id,
		Timestamp: now,
		Category:  category,
		Action:    action,
		Severity:  audit.SeverityInfo,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if actor != nil {
		e.ActorID = actor.ID
		e.ActorRole = actor.Role.String()
	}
	return e
}
