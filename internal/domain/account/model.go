package account

import (
	"errors"
	"strings"
)

// Role is the closed set of roles a platform user can hold.
type Role string

// Role constants
const (
	RoleAdmin      Role = "ADMIN"
	RoleTrainer    Role = "TRAINER"
	RoleTrainee    Role = "TRAINEE"
	RoleAmbassador Role = "AMBASSADOR"
)

// ValidRoles contains all valid role values.
var ValidRoles = []Role{RoleAdmin, RoleTrainer, RoleTrainee, RoleAmbassador}

// Domain errors
var (
	ErrInvalidRole = errors.New("role must be one of: ADMIN, TRAINER, TRAINEE, AMBASSADOR")
	ErrEmptyUserID = errors.New("user id cannot be empty")
)

// ParseRole converts a role label into a Role.
// Labels are matched case-insensitively and surrounding whitespace is ignored.
// PRE: none
// POST: Returns a valid Role or ErrInvalidRole
func ParseRole(label string) (Role, error) {
	candidate := Role(strings.ToUpper(strings.TrimSpace(label)))
	if !candidate.Valid() {
		return "", ErrInvalidRole
	}
	return candidate, nil
}

// Valid reports whether r is one of the four platform roles.
// INVARIANT: Role is not mutated
func (r Role) Valid() bool {
	for _, v := range ValidRoles {
		if v == r {
			return true
		}
	}
	return false
}

// String returns the role label.
func (r Role) String() string {
	return string(r)
}

// CanImpersonate reports whether the role may start a trainer-views-as-trainee session.
// INVARIANT: Role is not mutated
func (r Role) CanImpersonate() bool {
	return r == RoleAdmin || r == RoleTrainer
}

// User is the identity carried by an authenticated session.
type User struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// Validate checks if the User has valid data.
// PRE: User struct is populated
// POST: Returns nil if valid, error otherwise
func (u *User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return ErrEmptyUserID
	}
	if !u.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}

// FullName joins first and last name, falling back to the user id.
// INVARIANT: User fields are not mutated
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.ID
	}
	return name
}
