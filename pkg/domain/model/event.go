package model

import (
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Event is a change notification published on the synchronization bus.
//
// Offset is the global append order assigned by the event log and is what
// subscribers replay from. Sequence is the per-record order and equals the
// record version the mutation committed, so consumers can apply events for a
// record in order and drop duplicates from at-least-once delivery.
type Event struct {
	Offset    int64
	Sequence  int64
	RecordID  types.RecordID
	Kind      types.EventKind
	Actor     types.AgentID // agent whose mutation produced the event
	Snapshot  *Record       // record state after the mutation, nil for deletes and resync
	Changed   []string      // names of fields the mutation touched
	Horizon   int64         // oldest replayable offset, set on resync only
	CreatedAt time.Time
}

// NewRecordEvent builds an event for a committed record mutation. The event
// sequence is taken from the record's committed version.
func NewRecordEvent(kind types.EventKind, record *Record, actor types.AgentID, changed ...string) *Event {
	ev := &Event{
		Sequence:  record.Version,
		RecordID:  record.ID,
		Kind:      kind,
		Actor:     actor,
		Changed:   changed,
		CreatedAt: time.Now().UTC(),
	}
	if kind != types.EventDeleted {
		ev.Snapshot = record.Clone()
	}
	return ev
}

// NewResyncEvent builds the synthetic signal delivered to a subscriber whose
// cursor fell behind the retention horizon. It is never persisted in the log.
func NewResyncEvent(horizon int64) *Event {
	return &Event{
		Kind:      types.EventResync,
		Horizon:   horizon,
		CreatedAt: time.Now().UTC(),
	}
}

// Key is the idempotency key for at-least-once delivery: a subscriber that
// has already applied this key can drop the duplicate.
func (e *Event) Key() string {
	return fmt.Sprintf("%s:%d", e.RecordID, e.Sequence)
}

// Validate checks structural validity of the event
func (e *Event) Validate() error {
	if !e.Kind.IsValid() {
		return goerr.New("invalid event kind",
			goerr.T(types.ErrTagValidation), goerr.V("kind", e.Kind))
	}
	if e.Kind == types.EventResync {
		return nil
	}
	if err := e.RecordID.Validate(); err != nil {
		return err
	}
	if e.Sequence < 1 {
		return goerr.New("event sequence must be positive",
			goerr.T(types.ErrTagValidation),
			goerr.V(RecordIDKey, e.RecordID), goerr.V("sequence", e.Sequence))
	}
	return nil
}

// Clone returns a deep copy of the event
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	out.Snapshot = e.Snapshot.Clone()
	if e.Changed != nil {
		out.Changed = make([]string, len(e.Changed))
		copy(out.Changed, e.Changed)
	}
	return &out
}
