package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleTeacher    UserRole = "TEACHER"
	RoleStudent    UserRole = "STUDENT"
)

// IsStaff reports whether the role may act on behalf of any teacher or student.
func (r UserRole) IsStaff() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}
