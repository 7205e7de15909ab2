package types

import "fmt"

// LifecycleState represents the age-based state of a record.
// Transitions are monotonic in declaration order, with the single exception
// of an explicit restore moving Archived back to Active.
type LifecycleState string

const (
	LifecycleActive   LifecycleState = "ACTIVE"
	LifecycleStale    LifecycleState = "STALE"
	LifecycleArchived LifecycleState = "ARCHIVED"
	LifecycleExpired  LifecycleState = "EXPIRED"
	LifecycleDeleted  LifecycleState = "DELETED"
)

// AllLifecycleStates returns all valid lifecycle states in transition order
func AllLifecycleStates() []LifecycleState {
	return []LifecycleState{
		LifecycleActive,
		LifecycleStale,
		LifecycleArchived,
		LifecycleExpired,
		LifecycleDeleted,
	}
}

// IsValid checks if the lifecycle state is valid
func (s LifecycleState) IsValid() bool {
	switch s {
	case LifecycleActive,
		LifecycleStale,
		LifecycleArchived,
		LifecycleExpired,
		LifecycleDeleted:
		return true
	default:
		return false
	}
}

// Normalize returns the state, treating empty as LifecycleActive
func (s LifecycleState) Normalize() LifecycleState {
	if s == "" {
		return LifecycleActive
	}
	return s
}

// rank returns the position of the state in the forward transition order.
// Unknown states rank below Active so they never pass CanTransitionTo.
func (s LifecycleState) rank() int {
	switch s {
	case LifecycleActive:
		return 0
	case LifecycleStale:
		return 1
	case LifecycleArchived:
		return 2
	case LifecycleExpired:
		return 3
	case LifecycleDeleted:
		return 4
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition. Skipping states forward is allowed (a TTL deadline moves any
// earlier state straight to Expired). The only backward move is
// Archived -> Active, which must go through an explicit restore.
func (s LifecycleState) CanTransitionTo(next LifecycleState) bool {
	if !s.Normalize().IsValid() || !next.IsValid() {
		return false
	}
	cur := s.Normalize()
	if cur == LifecycleArchived && next == LifecycleActive {
		return true
	}
	return next.rank() > cur.rank()
}

// Terminal reports whether the state admits no further transitions
func (s LifecycleState) Terminal() bool {
	return s == LifecycleDeleted
}

// String returns the string representation of the lifecycle state
func (s LifecycleState) String() string {
	return string(s)
}

// ParseLifecycleState parses a string into a LifecycleState
func ParseLifecycleState(s string) (LifecycleState, error) {
	state := LifecycleState(s)
	if !state.IsValid() {
		return "", fmt.Errorf("invalid lifecycle state: %s", s)
	}
	return state, nil
}
