package model

import (
	"time"

	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// TombstoneReason records why a record reached the deleted state
type TombstoneReason string

const (
	TombstoneDeleted    TombstoneReason = "deleted"    // explicit delete by an agent
	TombstoneExpired    TombstoneReason = "expired"    // terminal expiry after the grace period
	TombstoneSuperseded TombstoneReason = "superseded" // merged into a surviving record
)

// Tombstone is the audit marker left when a record is deleted. The record row
// itself is kept until PurgeAfter so merges remain auditable; the tombstone
// is retained indefinitely.
type Tombstone struct {
	RecordID   types.RecordID
	AgentID    types.AgentID // owner at deletion time
	MergedInto types.RecordID // survivor back-reference, empty unless superseded
	Reason     TombstoneReason
	Version    int64 // final version of the record
	DeletedAt  time.Time
	PurgeAfter time.Time // earliest time the record row may be physically removed
}

// NewTombstone marks a record deleted for the given reason. The clock is
// passed in so the purge deadline is judged against the sweep's time source.
func NewTombstone(record *Record, reason TombstoneReason, grace time.Duration, now time.Time) *Tombstone {
	return &Tombstone{
		RecordID:   record.ID,
		AgentID:    record.AgentID,
		MergedInto: record.MergedInto,
		Reason:     reason,
		Version:    record.Version,
		DeletedAt:  now,
		PurgeAfter: now.Add(grace),
	}
}

// Purgeable reports whether the record row behind this tombstone may be
// physically removed
func (t *Tombstone) Purgeable(now time.Time) bool {
	return !t.PurgeAfter.After(now)
}
