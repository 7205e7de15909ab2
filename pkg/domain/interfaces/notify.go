package interfaces

import (
	"context"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

// Notifier delivers operator-facing notifications. Failures are logged and
// never fail the operation that triggered them.
type Notifier interface {
	// NotifySweep reports a completed (non-dry-run) sweep with changes
	NotifySweep(ctx context.Context, report *model.SweepReport) error

	// NotifyMergeProposal announces a new merge recommendation awaiting
	// review
	NotifyMergeProposal(ctx context.Context, rec *model.MergeRecommendation) error
}

// Archiver stores cold snapshots of records leaving the active set
type Archiver interface {
	// Store writes a snapshot and returns its object URI
	Store(ctx context.Context, record *model.Record) (string, error)
}
