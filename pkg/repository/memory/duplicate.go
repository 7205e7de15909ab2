package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

type duplicateRepository struct {
	mu              sync.RWMutex
	relations       map[string]*model.DuplicateRelation
	recommendations map[string]*model.MergeRecommendation
	recsByPair      map[string]string
}

func newDuplicateRepository() *duplicateRepository {
	return &duplicateRepository{
		relations:       make(map[string]*model.DuplicateRelation),
		recommendations: make(map[string]*model.MergeRecommendation),
		recsByPair:      make(map[string]string),
	}
}

func copyRelation(rel *model.DuplicateRelation) *model.DuplicateRelation {
	copied := *rel
	return &copied
}

func copyRecommendation(rec *model.MergeRecommendation) *model.MergeRecommendation {
	copied := *rec
	if rec.Conflicts != nil {
		copied.Conflicts = make([]model.MetaConflict, len(rec.Conflicts))
		copy(copied.Conflicts, rec.Conflicts)
	}
	if rec.AppliedAt != nil {
		appliedAt := *rec.AppliedAt
		copied.AppliedAt = &appliedAt
	}
	return &copied
}

func (r *duplicateRepository) PutRelation(ctx context.Context, rel *model.DuplicateRelation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.relations[rel.PairKey()] = copyRelation(rel)
	return nil
}

func (r *duplicateRepository) GetRelationByPair(ctx context.Context, a, b types.RecordID) (*model.DuplicateRelation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rel, exists := r.relations[model.PairKey(a, b)]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "duplicate relation not found",
			goerr.V("source_id", a), goerr.V("target_id", b))
	}

	return copyRelation(rel), nil
}

func (r *duplicateRepository) ListRelationsByRecord(ctx context.Context, id types.RecordID) ([]*model.DuplicateRelation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.DuplicateRelation
	for _, rel := range r.relations {
		if rel.SourceID == id || rel.TargetID == id {
			result = append(result, copyRelation(rel))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *duplicateRepository) PutRecommendation(ctx context.Context, rec *model.MergeRecommendation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recommendations[rec.ID] = copyRecommendation(rec)
	r.recsByPair[model.PairKey(rec.SourceID, rec.TargetID)] = rec.ID
	return nil
}

func (r *duplicateRepository) GetRecommendation(ctx context.Context, id string) (*model.MergeRecommendation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.recommendations[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "merge recommendation not found", goerr.V("recommendation_id", id))
	}

	return copyRecommendation(rec), nil
}

func (r *duplicateRepository) GetRecommendationByPair(ctx context.Context, a, b types.RecordID) (*model.MergeRecommendation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.recsByPair[model.PairKey(a, b)]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "merge recommendation not found",
			goerr.V("source_id", a), goerr.V("target_id", b))
	}

	return copyRecommendation(r.recommendations[id]), nil
}

func (r *duplicateRepository) ListPendingByAgent(ctx context.Context, agentID types.AgentID) ([]*model.MergeRecommendation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.MergeRecommendation
	for _, rec := range r.recommendations {
		if rec.AgentID == agentID && !rec.Applied() {
			result = append(result, copyRecommendation(rec))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
