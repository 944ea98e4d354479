package domain

import "fmt"

// Role is the closed set of platform roles.
type Role string

const (
	RoleSuperAdmin      Role = "SUPER_ADMIN"
	RoleAdmin           Role = "ADMIN"
	RoleInternalTeacher Role = "INTERNAL_TEACHER"
	RoleExternalTeacher Role = "EXTERNAL_TEACHER"
	RoleInternalStudent Role = "INTERNAL_STUDENT"
	RoleExternalStudent Role = "EXTERNAL_STUDENT"
)

var allRoles = []Role{
	RoleSuperAdmin,
	RoleAdmin,
	RoleInternalTeacher,
	RoleExternalTeacher,
	RoleInternalStudent,
	RoleExternalStudent,
}

// ParseRole returns the Role named by s, or an error if s is not a known role.
func ParseRole(s string) (Role, error) {
	for _, r := range allRoles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// RoleSet is an allow-list of roles. A nil or empty set allows nothing by
// itself; callers treat an empty set as "no restriction".
type RoleSet map[Role]struct{}

// NewRoleSet returns a set containing roles.
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// Contains reports whether r is in the set.
func (s RoleSet) Contains(r Role) bool {
	_, ok := s[r]
	return ok
}

// Empty reports whether the set has no members.
func (s RoleSet) Empty() bool { return len(s) == 0 }

// Portal allow-lists for logins that share one backend.
var (
	AdminPortalRoles   = NewRoleSet(RoleSuperAdmin, RoleAdmin)
	TeacherPortalRoles = NewRoleSet(RoleInternalTeacher, RoleExternalTeacher)
)
