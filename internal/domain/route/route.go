// Package route describes the navigation surface the guards reason about.
package route

import (
	"strings"

	"coachhub/internal/domain/account"
)

// Route surface.
const (
	Root                = "/"
	Login               = "/login"
	AdminPrefix         = "/admin"
	AdminDashboard      = "/admin/dashboard"
	TrainerPrefix       = "/trainer"
	TrainerDashboard    = "/trainer/dashboard"
	AmbassadorPrefix    = "/ambassador"
	AmbassadorDashboard = "/ambassador/dashboard"
	TraineePrefix       = "/trainee"
	TraineeDashboard    = "/trainee/dashboard"
	ImpersonationPrefix = "/impersonation"
	ImpersonationView   = "/impersonation/dashboard"
	ImpersonationEnd    = "/impersonation/end"
)

// DashboardRoot returns the landing page for a role.
// Unknown roles land on the public entry point.
func DashboardRoot(role account.Role) string {
	switch role {
	case account.RoleAdmin:
		return AdminDashboard
	case account.RoleTrainer:
		return TrainerDashboard
	case account.RoleTrainee:
		return TraineeDashboard
	case account.RoleAmbassador:
		return AmbassadorDashboard
	}
	return Login
}

// Destination is one of the guarded page trees.
type Destination int

const (
	DestAdmin Destination = iota + 1
	DestTrainer
	DestTrainee
	DestAmbassador
	DestImpersonation
)

// Destinations lists every guarded tree.
var Destinations = []Destination{DestAdmin, DestTrainer, DestTrainee, DestAmbassador, DestImpersonation}

// String returns the destination name used in logs.
func (d Destination) String() string {
	switch d {
	case DestAdmin:
		return "admin"
	case DestTrainer:
		return "trainer"
	case DestTrainee:
		return "trainee"
	case DestAmbassador:
		return "ambassador"
	case DestImpersonation:
		return "impersonation"
	}
	return "unknown"
}

// Prefix returns the path prefix of the destination's tree.
func (d Destination) Prefix() string {
	switch d {
	case DestAdmin:
		return AdminPrefix
	case DestTrainer:
		return TrainerPrefix
	case DestTrainee:
		return TraineePrefix
	case DestAmbassador:
		return AmbassadorPrefix
	case DestImpersonation:
		return ImpersonationPrefix
	}
	return ""
}

// Root returns the dashboard root of the destination.
func (d Destination) Root() string {
	switch d {
	case DestAdmin:
		return AdminDashboard
	case DestTrainer:
		return TrainerDashboard
	case DestTrainee:
		return TraineeDashboard
	case DestAmbassador:
		return AmbassadorDashboard
	case DestImpersonation:
		return ImpersonationView
	}
	return Login
}

// RequiredRole returns the role a destination is reserved for.
// The impersonation view is gated on the impersonation record instead, so it has none.
func (d Destination) RequiredRole() (account.Role, bool) {
	switch d {
	case DestAdmin:
		return account.RoleAdmin, true
	case DestTrainer:
		return account.RoleTrainer, true
	case DestTrainee:
		return account.RoleTrainee, true
	case DestAmbassador:
		return account.RoleAmbassador, true
	}
	return "", false
}

// DestinationFor maps a request path onto its guarded tree.
func DestinationFor(path string) (Destination, bool) {
	for _, d := range Destinations {
		if UnderPrefix(path, d.Prefix()) {
			return d, true
		}
	}
	return 0, false
}

// UnderPrefix reports whether path equals prefix or lies beneath it on a segment boundary,
// so "/administrator" is not under "/admin".
func UnderPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// Clean normalises a request path for comparison: empty becomes "/" and a trailing slash is dropped.
func Clean(path string) string {
	if path == "" {
		return Root
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return Root
		}
	}
	return path
}
