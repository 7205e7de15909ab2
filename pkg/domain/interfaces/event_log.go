package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// EventLog defines the interface for the persistent, globally ordered change
// log behind the synchronization bus. Appends assign a monotonic global
// offset; retention trims the tail and moves the horizon forward.
type EventLog interface {
	// Append persists the event and assigns its global offset. Appending the
	// same (record ID, sequence) twice returns the already-stored event, so
	// publishing is idempotent.
	Append(ctx context.Context, event *model.Event) (*model.Event, error)

	// Replay retrieves up to limit events with offset >= fromOffset in
	// offset order
	Replay(ctx context.Context, fromOffset int64, limit int) ([]*model.Event, error)

	// ListByRecord retrieves all retained events for a record in sequence
	// order. Used for the record history audit trail.
	ListByRecord(ctx context.Context, recordID types.RecordID) ([]*model.Event, error)

	// Horizon returns the oldest retained offset. Subscribers behind it
	// must resync. Returns 0 when the log is empty.
	Horizon(ctx context.Context) (int64, error)

	// Latest returns the newest assigned offset, 0 when the log is empty
	Latest(ctx context.Context) (int64, error)

	// Trim removes events older than the cutoff and returns how many were
	// removed
	Trim(ctx context.Context, olderThan time.Time) (int, error)
}
