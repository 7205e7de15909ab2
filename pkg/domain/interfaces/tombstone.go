package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// TombstoneRepository defines the interface for deletion audit markers.
// Tombstones are never removed; they give deletes their idempotent semantics.
type TombstoneRepository interface {
	// Put saves a tombstone (upsert by record ID)
	Put(ctx context.Context, tombstone *model.Tombstone) error

	// Get retrieves the tombstone for a record
	Get(ctx context.Context, recordID types.RecordID) (*model.Tombstone, error)

	// ListPurgeable retrieves up to limit tombstones whose purge grace
	// elapsed before now and whose record rows may still exist
	ListPurgeable(ctx context.Context, now time.Time, limit int) ([]*model.Tombstone, error)
}
