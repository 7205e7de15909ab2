package types

import "fmt"

// Permission is the access level required by or granted for an operation.
// Levels are strictly ordered: Read < Write < Admin. Admin covers
// destructive operations (delete, sharing-policy changes) and is held
// implicitly by the owning agent.
type Permission string

const (
	PermissionRead  Permission = "READ"
	PermissionWrite Permission = "WRITE"
	PermissionAdmin Permission = "ADMIN"
)

// AllPermissions returns all valid permissions in ascending order
func AllPermissions() []Permission {
	return []Permission{
		PermissionRead,
		PermissionWrite,
		PermissionAdmin,
	}
}

// IsValid checks if the permission is valid
func (p Permission) IsValid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionAdmin:
		return true
	default:
		return false
	}
}

func (p Permission) level() int {
	switch p {
	case PermissionRead:
		return 1
	case PermissionWrite:
		return 2
	case PermissionAdmin:
		return 3
	default:
		return 0
	}
}

// Allows reports whether a grant of p satisfies the required permission
func (p Permission) Allows(required Permission) bool {
	return p.level() >= required.level()
}

// String returns the string representation of the permission
func (p Permission) String() string {
	return string(p)
}

// ParsePermission parses a string into a Permission
func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if !p.IsValid() {
		return "", fmt.Errorf("invalid permission: %s", s)
	}
	return p, nil
}
