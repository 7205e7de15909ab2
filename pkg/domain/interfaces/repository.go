package interfaces

import (
	"context"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

// Repository defines the interface for data persistence
type Repository interface {
	Record() RecordRepository
	Space() SpaceRepository
	Duplicate() DuplicateRepository
	Tombstone() TombstoneRepository
	Events() EventLog

	// Confirmation tokens for destructive operations
	PutConfirmation(ctx context.Context, conf *model.Confirmation) error
	GetConfirmation(ctx context.Context, token string) (*model.Confirmation, error)
	DeleteConfirmation(ctx context.Context, token string) error

	Close() error
}
