package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// RecordRepository defines the interface for memory record persistence
type RecordRepository interface {
	// Create persists a new record. Fails if the ID already exists.
	Create(ctx context.Context, record *model.Record) error

	// Get retrieves a record by ID
	Get(ctx context.Context, id types.RecordID) (*model.Record, error)

	// GetMany retrieves multiple records by ID, skipping missing ones
	GetMany(ctx context.Context, ids []types.RecordID) ([]*model.Record, error)

	// Update replaces the record if the stored version still equals
	// expectedVersion, otherwise fails with a version-conflict error.
	// The given record carries the already-incremented version.
	Update(ctx context.Context, record *model.Record, expectedVersion int64) error

	// Delete physically removes the record row. Tombstones are kept
	// separately, so this is only called once the purge grace has elapsed.
	Delete(ctx context.Context, id types.RecordID) error

	// ListByAgent retrieves records owned by the agent, newest first,
	// excluding deleted ones. limit 0 means no limit.
	ListByAgent(ctx context.Context, agentID types.AgentID, limit, offset int) ([]*model.Record, error)

	// ListBySpace retrieves records tagged into the space, newest first,
	// excluding deleted ones
	ListBySpace(ctx context.Context, spaceID types.SpaceID, limit, offset int) ([]*model.Record, error)

	// ListByState retrieves up to limit records in the given lifecycle state,
	// oldest state change first. Used by the sweep.
	ListByState(ctx context.Context, state types.LifecycleState, limit int) ([]*model.Record, error)

	// ListUpdatedSince retrieves up to limit records written at or after the
	// given time, oldest write first, excluding deleted ones. Used by the
	// deduplication backstop rescan.
	ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*model.Record, error)

	// FindByContentHash retrieves records whose normalized content hash
	// matches, excluding deleted ones
	FindByContentHash(ctx context.Context, hash string) ([]*model.Record, error)

	// TouchAccess stamps the record's last read access without bumping the
	// version or publishing an event. Best effort.
	TouchAccess(ctx context.Context, id types.RecordID, at time.Time) error
}
