package types

import "fmt"

// EventKind classifies a change event published on the synchronization bus
type EventKind string

const (
	EventCreated  EventKind = "CREATED"
	EventUpdated  EventKind = "UPDATED"
	EventMerged   EventKind = "MERGED"
	EventStaled   EventKind = "STALED"
	EventArchived EventKind = "ARCHIVED"
	EventRestored EventKind = "RESTORED"
	EventExpired  EventKind = "EXPIRED"
	EventDeleted  EventKind = "DELETED"
	EventShared   EventKind = "SHARED"
	// EventResync is a synthetic signal delivered when a subscriber's cursor
	// has fallen behind the retention horizon. It instructs the subscriber to
	// re-fetch full state instead of relying on replayed events.
	EventResync EventKind = "RESYNC"
)

// AllEventKinds returns all valid event kinds
func AllEventKinds() []EventKind {
	return []EventKind{
		EventCreated,
		EventUpdated,
		EventMerged,
		EventStaled,
		EventArchived,
		EventRestored,
		EventExpired,
		EventDeleted,
		EventShared,
		EventResync,
	}
}

// IsValid checks if the event kind is valid
func (k EventKind) IsValid() bool {
	switch k {
	case EventCreated,
		EventUpdated,
		EventMerged,
		EventStaled,
		EventArchived,
		EventRestored,
		EventExpired,
		EventDeleted,
		EventShared,
		EventResync:
		return true
	default:
		return false
	}
}

// String returns the string representation of the event kind
func (k EventKind) String() string {
	return string(k)
}

// ParseEventKind parses a string into an EventKind
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("invalid event kind: %s", s)
	}
	return k, nil
}
