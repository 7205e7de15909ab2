package interfaces

import (
	"context"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// DuplicateRepository defines the interface for deduplication audit data:
// classified pair relations and pending merge recommendations
type DuplicateRepository interface {
	// PutRelation saves a classified pair (upsert by pair key)
	PutRelation(ctx context.Context, relation *model.DuplicateRelation) error

	// GetRelationByPair retrieves the relation for a record pair,
	// direction-insensitive
	GetRelationByPair(ctx context.Context, a, b types.RecordID) (*model.DuplicateRelation, error)

	// ListRelationsByRecord retrieves relations touching the record
	ListRelationsByRecord(ctx context.Context, recordID types.RecordID) ([]*model.DuplicateRelation, error)

	// PutRecommendation saves a merge recommendation (upsert by ID)
	PutRecommendation(ctx context.Context, rec *model.MergeRecommendation) error

	// GetRecommendation retrieves a recommendation by ID
	GetRecommendation(ctx context.Context, id string) (*model.MergeRecommendation, error)

	// GetRecommendationByPair retrieves the recommendation for a record
	// pair, direction-insensitive
	GetRecommendationByPair(ctx context.Context, a, b types.RecordID) (*model.MergeRecommendation, error)

	// ListPendingByAgent retrieves unapplied recommendations whose target
	// record is owned by the agent
	ListPendingByAgent(ctx context.Context, agentID types.AgentID) ([]*model.MergeRecommendation, error)
}
