package types

import "fmt"

// SharingPolicy controls cross-agent visibility of a record
type SharingPolicy string

const (
	// SharingPrivate restricts the record to its owning agent, regardless of
	// shared-space membership or per-record overrides.
	SharingPrivate SharingPolicy = "PRIVATE"
	// SharingSharedRead grants read to members of spaces the record is tagged into.
	SharingSharedRead SharingPolicy = "SHARED_READ"
	// SharingSharedWrite grants read and write to members of spaces the record
	// is tagged into.
	SharingSharedWrite SharingPolicy = "SHARED_WRITE"
	// SharingPublic grants read to any agent, member or not.
	SharingPublic SharingPolicy = "PUBLIC"
)

// AllSharingPolicies returns all valid sharing policies
func AllSharingPolicies() []SharingPolicy {
	return []SharingPolicy{
		SharingPrivate,
		SharingSharedRead,
		SharingSharedWrite,
		SharingPublic,
	}
}

// IsValid checks if the sharing policy is valid
func (p SharingPolicy) IsValid() bool {
	switch p {
	case SharingPrivate,
		SharingSharedRead,
		SharingSharedWrite,
		SharingPublic:
		return true
	default:
		return false
	}
}

// Normalize returns the policy, treating empty as SharingPrivate
func (p SharingPolicy) Normalize() SharingPolicy {
	if p == "" {
		return SharingPrivate
	}
	return p
}

// String returns the string representation of the sharing policy
func (p SharingPolicy) String() string {
	return string(p)
}

// ParseSharingPolicy parses a string into a SharingPolicy
func ParseSharingPolicy(s string) (SharingPolicy, error) {
	p := SharingPolicy(s)
	if !p.IsValid() {
		return "", fmt.Errorf("invalid sharing policy: %s", s)
	}
	return p, nil
}
