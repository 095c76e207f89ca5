package impersonation

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Impersonation errors
var (
	ErrImpersonationDenied        = errors.New("authentication service refused trainee-scoped tokens")
	ErrNestedImpersonation        = errors.New("already impersonating a trainee")
	ErrNotPermitted               = errors.New("only trainers and admins can impersonate trainees")
	ErrCorruptImpersonationRecord = errors.New("impersonation record is corrupt")
	ErrEmptyTraineeID             = errors.New("trainee id cannot be empty")
)

// Record is the overlay persisted while a trainer views a trainee's dashboard.
// The trainer's own token pair stays with the browser session it names in
// SessionID; the record only carries what the banner shows and who started it.
type Record struct {
	SessionID   string    `json:"sessionId"`
	TraineeID   string    `json:"traineeId"`
	TraineeName string    `json:"traineeName"`
	TrainerID   string    `json:"trainerId,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
}

// New builds a record for the browser session sessionID and the target trainee.
// Trainee id and name are kept exactly as given.
// PRE: sessionID is non-empty, traineeID is not blank
// POST: Returns a validated record
func New(sessionID, trainerID, traineeID, traineeName string, now time.Time) (Record, error) {
	rec := Record{
		SessionID:   sessionID,
		TraineeID:   traineeID,
		TraineeName: traineeName,
		TrainerID:   trainerID,
		StartedAt:   now.UTC(),
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Validate checks that the record names a trainee and the session holding
// the trainer's tokens.
// PRE: none
// POST: Returns nil if the record is complete
func (r *Record) Validate() error {
	if strings.TrimSpace(r.TraineeID) == "" {
		return ErrEmptyTraineeID
	}
	if r.SessionID == "" {
		return ErrCorruptImpersonationRecord
	}
	return nil
}

// BelongsTo reports whether the record was written for browser session id.
// INVARIANT: Record fields are not mutated
func (r *Record) BelongsTo(id string) bool {
	return id != "" && r.SessionID == id
}

// DisplayName returns the trainee name, falling back to the trainee id.
// INVARIANT: Record fields are not mutated
func (r *Record) DisplayName() string {
	if r.TraineeName != "" {
		return r.TraineeName
	}
	return r.TraineeID
}

// Marshal encodes the record as the persisted JSON blob.
func (r *Record) Marshal() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Parse decodes a persisted blob. Invalid JSON, unknown shapes and incomplete
// records all report ErrCorruptImpersonationRecord.
// PRE: none
// POST: Returns a validated record or ErrCorruptImpersonationRecord
func Parse(blob string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(blob), &rec); err != nil {
		return Record{}, ErrCorruptImpersonationRecord
	}
	if err := rec.Validate(); err != nil {
		return Record{}, ErrCorruptImpersonationRecord
	}
	return rec, nil
}
