package audit

import (
	"errors"
	"time"
)

// Category represents the type of audit event.
type Category string

const (
	CategorySession       Category = "session"
	CategoryImpersonation Category = "impersonation"
)

// Action represents the action that occurred.
type Action string

const (
	ActionLogin             Action = "login"
	ActionLogout            Action = "logout"
	ActionImpersonateStart  Action = "impersonate_start"
	ActionImpersonateEnd    Action = "impersonate_end"
	ActionImpersonateDenied Action = "impersonate_denied"
)

// Severity represents the severity level of an audit event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// ErrMissingActor is returned when an event has no actor.
var ErrMissingActor = errors.New("audit event requires an actor")

// Event represents a single audit log entry.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Category    Category  `json:"category"`
	Action      Action    `json:"action"`
	Severity    Severity  `json:"severity"`
	ActorID     string    `json:"actor_id"`
	ActorRole   string    `json:"actor_role"`
	SubjectID   string    `json:"subject_id"`
	SubjectName string    `json:"subject_name"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
}

// Validate checks that the event can be persisted.
// PRE: none
// POST: Returns nil when the event names an actor and an action
func (e *Event) Validate() error {
	if e.ActorID == "" {
		return ErrMissingActor
	}
	if e.Action == "" {
		return errors.New("audit event requires an action")
	}
	return nil
}
