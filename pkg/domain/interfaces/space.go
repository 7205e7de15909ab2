package interfaces

import (
	"context"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// SpaceRepository defines the interface for shared space persistence
type SpaceRepository interface {
	// Create persists a new space. Returns an error wrapping
	// model.ErrAlreadyExists when the ID is taken.
	Create(ctx context.Context, space *model.SharedSpace) error

	// Get retrieves a space by ID
	Get(ctx context.Context, id types.SpaceID) (*model.SharedSpace, error)

	// Update replaces an existing space
	Update(ctx context.Context, space *model.SharedSpace) error

	// Delete removes a space
	Delete(ctx context.Context, id types.SpaceID) error

	// List retrieves all spaces
	List(ctx context.Context) ([]*model.SharedSpace, error)

	// ListByMember retrieves the spaces an agent belongs to
	ListByMember(ctx context.Context, agentID types.AgentID) ([]*model.SharedSpace, error)
}
