package model

import (
	"time"

	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Reasons a sweep moves a record between lifecycle states
const (
	SweepReasonInactivity  = "inactivity"   // no update within the stale window
	SweepReasonStaleAge    = "stale_age"    // stayed stale past the archive window
	SweepReasonExpiryGrace = "expiry_grace" // stayed archived past the grace period
	SweepReasonExpiredAge  = "expired_age"  // stayed expired past the deletion window
	SweepReasonTTLDeadline = "ttl_deadline" // explicit time-to-live passed
	SweepReasonPurge       = "purge"        // tombstoned row past its purge time
)

// SweepConfirmationSubject is the confirmation subject shared by all sweep
// apply tokens. Sweeps span many records, so the token binds to the
// operation rather than a record ID.
const SweepConfirmationSubject = "sweep"

// SweepChange is a single lifecycle transition found or applied by a sweep
type SweepChange struct {
	RecordID types.RecordID
	AgentID  types.AgentID
	From     types.LifecycleState
	To       types.LifecycleState
	Reason   string
}

// Destructive reports whether the change needs a confirmation token before
// it is applied
func (c SweepChange) Destructive() bool {
	return c.To == types.LifecycleExpired || c.To == types.LifecycleDeleted
}

// SweepError is a per-record failure that did not stop the sweep
type SweepError struct {
	RecordID types.RecordID
	Message  string
}

// SweepReport summarizes one lifecycle sweep pass. A dry run reports the
// transitions that would happen without applying them, and carries a
// confirmation token when any of them is destructive.
type SweepReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Examined   int
	Changes    []SweepChange
	Errors     []SweepError
	Token      string // confirmation token for the destructive subset
}

// Destructive reports whether any change in the report is destructive
func (r *SweepReport) Destructive() bool {
	for _, change := range r.Changes {
		if change.Destructive() {
			return true
		}
	}
	return false
}

// Counts aggregates changes by their target state
func (r *SweepReport) Counts() map[types.LifecycleState]int {
	counts := make(map[types.LifecycleState]int)
	for _, change := range r.Changes {
		counts[change.To]++
	}
	return counts
}
