package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	emailAdapter "coachhub/internal/adapters/email"
	"coachhub/internal/domain/audit"
	"coachhub/internal/domain/guard"
	"coachhub/internal/domain/impersonation"
	"coachhub/internal/domain/route"
	"coachhub/internal/domain/session"
)

// ImpersonationIssuer asks the authentication service for trainee-scoped tokens.
type ImpersonationIssuer interface {
	IssueImpersonationTokens(ctx context.Context, trainer session.TokenPair, traineeID string) (session.TokenPair, error)
}

// Mailer sends one e-mail.
type Mailer interface {
	Send(ctx context.Context, req emailAdapter.SendRequest) (emailAdapter.SendResult, error)
}

// Notification configures the optional impersonation e-mail. A nil Mailer or
// an empty recipient list disables it.
type Notification struct {
	Mailer Mailer
	To     []string
}

// --- Start Impersonation ---

// StartImpersonationInput carries input for the start impersonation orchestrator.
type StartImpersonationInput struct {
	SessionID   string
	Caller      session.Session
	TraineeID   string
	TraineeName string
	Meta        RequestMeta
}

// StartImpersonationResult carries the persisted record and where to go next.
type StartImpersonationResult struct {
	Record   impersonation.Record
	Redirect string
}

// StartImpersonationDeps holds dependencies for StartImpersonation.
// Revoker, when set, revokes trainee tokens that could not be put to use.
type StartImpersonationDeps struct {
	Issuer     ImpersonationIssuer
	Revoker    Revoker
	Sessions   SessionTokens
	Records    RecordStore
	AuditStore AuditStore
	Notify     Notification
	GenerateID func() string
	Now        func() time.Time
}

// ExecuteStartImpersonation switches the browser session to trainee-scoped tokens.
// The trainer's own pair is set aside on the session and the record names it.
// PRE: Caller is an authenticated ADMIN or TRAINER; TraineeID is not blank
// POST: On success the session holds the trainer's pair aside, acts with the
// trainee pair, and the record is saved. On any error the session acts with
// the trainer's pair, no record is saved, and issued trainee tokens are revoked.
// INVARIANT: At most one record exists per browser
func ExecuteStartImpersonation(ctx context.Context, input StartImpersonationInput, deps StartImpersonationDeps) (StartImpersonationResult, error) {
	if input.Caller.Phase() != session.PhaseAuthenticated {
		return StartImpersonationResult{}, guard.ErrUnauthenticated
	}
	caller := input.Caller.User
	if !caller.Role.CanImpersonate() {
		slog.Warn("impersonation_event", "event", "start_refused", "user_id", caller.ID, "role", caller.Role, "reason", "role")
		return StartImpersonationResult{}, impersonation.ErrNotPermitted
	}

	existing, err := deps.Records.Load()
	if errors.Is(err, impersonation.ErrCorruptImpersonationRecord) {
		deps.Records.Clear()
	} else if existing != nil {
		return StartImpersonationResult{}, impersonation.ErrNestedImpersonation
	}

	trainer, ok, err := deps.Sessions.Tokens(ctx, input.SessionID)
	if err != nil {
		return StartImpersonationResult{}, fmt.Errorf("load session tokens: %w", err)
	}
	if !ok {
		return StartImpersonationResult{}, guard.ErrUnauthenticated
	}

	// Validated before the collaborator is asked so a bad request costs nothing.
	rec, err := impersonation.New(input.SessionID, caller.ID, input.TraineeID, input.TraineeName, deps.Now())
	if err != nil {
		return StartImpersonationResult{}, err
	}

	trainee, err := deps.Issuer.IssueImpersonationTokens(ctx, trainer, rec.TraineeID)
	if err != nil {
		if errors.Is(err, impersonation.ErrImpersonationDenied) {
			ev := newAuditEvent(deps.GenerateID(), deps.Now(), audit.CategoryImpersonation, audit.ActionImpersonateDenied, caller, input.Meta)
			ev.Severity = audit.SeverityWarning
			ev.SubjectID, ev.SubjectName = rec.TraineeID, rec.TraineeName
			recordAudit(ctx, deps.AuditStore, ev)
			slog.Warn("impersonation_event", "event", "start_denied", "user_id", caller.ID, "trainee_id", rec.TraineeID)
		}
		return StartImpersonationResult{}, err
	}

	if err := deps.Sessions.BeginImpersonation(ctx, input.SessionID, trainer, trainee); err != nil {
		revokeUnused(ctx, deps.Revoker, trainee)
		return StartImpersonationResult{}, fmt.Errorf("swap to trainee tokens: %w", err)
	}
	if err := deps.Records.Save(rec); err != nil {
		if _, rerr := deps.Sessions.EndImpersonation(ctx, input.SessionID); rerr != nil {
			slog.Error("impersonation_event", "event", "rollback_failed", "user_id", caller.ID, "error", rerr)
		}
		revokeUnused(ctx, deps.Revoker, trainee)
		return StartImpersonationResult{}, fmt.Errorf("save impersonation record: %w", err)
	}

	ev := newAuditEvent(deps.GenerateID(), deps.Now(), audit.CategoryImpersonation, audit.ActionImpersonateStart, caller, input.Meta)
	ev.Severity = audit.SeverityWarning
	ev.SubjectID, ev.SubjectName = rec.TraineeID, rec.TraineeName
	recordAudit(ctx, deps.AuditStore, ev)
	notify(ctx, deps.Notify, emailAdapter.ImpersonationNotice{
		TrainerName: caller.FullName(),
		TrainerID:   caller.ID,
		TraineeName: rec.DisplayName(),
		TraineeID:   rec.TraineeID,
		At:          rec.StartedAt,
		IPAddress:   input.Meta.IPAddress,
	})
	slog.Info("impersonation_event", "event", "started", "user_id", caller.ID, "trainee_id", rec.TraineeID)

	return StartImpersonationResult{Record: rec, Redirect: route.ImpersonationView}, nil
}

// --- Read Impersonation ---

// ReadImpersonationResult reports the current record.
type ReadImpersonationResult struct {
	Record *impersonation.Record
	// Corrupt is set when a record existed but could not be read; it has been cleared.
	Corrupt bool
}

// Active reports whether an impersonation is in progress.
func (r ReadImpersonationResult) Active() bool {
	return r.Record != nil
}

// ExecuteReadImpersonation returns the current impersonation record.
// PRE: none
// POST: Record is nil when absent or unreadable; an unreadable record is cleared
// INVARIANT: Never fails
func ExecuteReadImpersonation(records RecordStore) ReadImpersonationResult {
	rec, err := records.Load()
	if err != nil {
		slog.Warn("impersonation_event", "event", "record_corrupt")
		records.Clear()
		return ReadImpersonationResult{Corrupt: true}
	}
	return ReadImpersonationResult{Record: rec}
}

// --- End Impersonation ---

// EndImpersonationInput carries input for the end impersonation orchestrator.
type EndImpersonationInput struct {
	SessionID string
	Meta      RequestMeta
}

// EndImpersonationResult reports whether an impersonation was ended and where to go next.
type EndImpersonationResult struct {
	Ended    bool
	Record   *impersonation.Record
	Redirect string
}

// EndImpersonationDeps holds dependencies for EndImpersonation.
type EndImpersonationDeps struct {
	Sessions   SessionTokens
	Records    RecordStore
	AuditStore AuditStore
	GenerateID func() string
	Now        func() time.Time
}

// ExecuteEndImpersonation restores the trainer's own tokens and removes the record.
// The session is restored even when the record has gone missing.
// PRE: none
// POST: No record exists and the session holds no pair aside. If it held one,
// it now acts with exactly that pair. Redirect is always the trainer dashboard.
// INVARIANT: Calling it again after success is a no-op
func ExecuteEndImpersonation(ctx context.Context, input EndImpersonationInput, deps EndImpersonationDeps) (EndImpersonationResult, error) {
	done := EndImpersonationResult{Redirect: route.TrainerDashboard}

	read := ExecuteReadImpersonation(deps.Records)
	restored := false
	if input.SessionID != "" {
		var err error
		if restored, err = deps.Sessions.EndImpersonation(ctx, input.SessionID); err != nil {
			// The record is kept so the exit can be retried.
			return EndImpersonationResult{}, fmt.Errorf("restore trainer tokens: %w", err)
		}
	}
	if !read.Active() && !restored {
		return done, nil
	}
	deps.Records.Clear()

	rec := read.Record
	if rec == nil {
		rec = &impersonation.Record{}
	}
	ev := audit.Event{
		ID:          deps.GenerateID(),
		Timestamp:   deps.Now(),
		Category:    audit.CategoryImpersonation,
		Action:      audit.ActionImpersonateEnd,
		Severity:    audit.SeverityInfo,
		ActorID:     rec.TrainerID,
		SubjectID:   rec.TraineeID,
		SubjectName: rec.TraineeName,
		IPAddress:   input.Meta.IPAddress,
		UserAgent:   input.Meta.UserAgent,
	}
	if ev.ActorID == "" {
		ev.ActorID = "unknown"
	}
	recordAudit(ctx, deps.AuditStore, ev)
	slog.Info("impersonation_event", "event", "ended", "user_id", rec.TrainerID, "trainee_id", rec.TraineeID)

	done.Ended = true
	done.Record = read.Record
	return done, nil
}

// revokeUnused revokes trainee tokens that never reached the session.
func revokeUnused(ctx context.Context, revoker Revoker, tokens session.TokenPair) {
	if revoker == nil {
		return
	}
	if err := revoker.Logout(ctx, tokens); err != nil {
		slog.Warn("auth_event", "event", "revoke_failed", "error", err)
	}
}

// notify sends the impersonation notice. Failures are logged only.
func notify(ctx context.Context, n Notification, notice emailAdapter.ImpersonationNotice) {
	if n.Mailer == nil || len(n.To) == 0 {
		return
	}
	req, err := notice.Compose(n.To)
	if err != nil {
		slog.Error("impersonation_notice_failed", "error", err)
		return
	}
	if _, err := n.Mailer.Send(ctx, req); err != nil {
		slog.Warn("impersonation_notice_failed", "trainee_id", notice.TraineeID, "error", err)
	}
}
