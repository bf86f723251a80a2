package models

// Role is the caller's role inside a tenant.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleTenant     Role = "TENANT"
	RoleInstructor Role = "INSTRUCTOR"
	RoleStudent    Role = "STUDENT"
)

// SystemActorID is recorded as the actor of audit entries created by background jobs.
const SystemActorID = "SYSTEM"

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTenant, RoleInstructor, RoleStudent:
		return true
	}
	return false
}

// IsStaff reports whether the role manages bookings on behalf of the school.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleTenant || r == RoleInstructor
}

// CanManageEscalations reports whether the role may list and dismiss escalations.
func (r Role) CanManageEscalations() bool {
	return r == RoleAdmin || r == RoleTenant
}

// Actor identifies the authenticated caller of an operation.
type Actor struct {
	UserID   string
	TenantID string
	Role     Role
}
