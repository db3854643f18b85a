package rbac

import "strings"

type Role string

const (
	// RoleUser is the required role of an open room: any authenticated user.
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// CanAccess reports whether a caller holding role may read or write data in a
// room that requires requiredRole.
func CanAccess(role, requiredRole string) bool {
	if Role(requiredRole) == RoleUser {
		return true
	}
	return Role(role) == RoleAdmin || role == requiredRole
}

func IsAdmin(role string) bool {
	return Role(role) == RoleAdmin
}

// Normalize lowercases and trims a role name. An empty role becomes RoleUser.
func Normalize(role string) string {
	trimmed := strings.ToLower(strings.TrimSpace(role))
	if trimmed == "" {
		return string(RoleUser)
	}
	return trimmed
}
