package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

type recordRepository struct {
	mu      sync.RWMutex
	records map[types.RecordID]*model.Record
}

func newRecordRepository() *recordRepository {
	return &recordRepository{
		records: make(map[types.RecordID]*model.Record),
	}
}

func (r *recordRepository) Create(ctx context.Context, record *model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ID]; exists {
		return goerr.Wrap(model.ErrAlreadyExists, "record already exists", goerr.V(model.RecordIDKey, record.ID))
	}

	r.records[record.ID] = record.Clone()
	return nil
}

func (r *recordRepository) Get(ctx context.Context, id types.RecordID) (*model.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "record not found", goerr.V(model.RecordIDKey, id))
	}

	return record.Clone(), nil
}

func (r *recordRepository) GetMany(ctx context.Context, ids []types.RecordID) ([]*model.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.Record, 0, len(ids))
	for _, id := range ids {
		if record, exists := r.records[id]; exists {
			result = append(result, record.Clone())
		}
	}

	return result, nil
}

func (r *recordRepository) Update(ctx context.Context, record *model.Record, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.records[record.ID]
	if !exists {
		return goerr.Wrap(model.ErrNotFound, "record not found", goerr.V(model.RecordIDKey, record.ID))
	}

	if current.Version != expectedVersion {
		return goerr.New("record version mismatch",
			goerr.T(types.ErrTagConflict),
			goerr.V(model.RecordIDKey, record.ID),
			goerr.V(model.VersionKey, current.Version),
			goerr.V("expected_version", expectedVersion),
		)
	}

	r.records[record.ID] = record.Clone()
	return nil
}

func (r *recordRepository) Delete(ctx context.Context, id types.RecordID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[id]; !exists {
		return goerr.Wrap(model.ErrNotFound, "record not found", goerr.V(model.RecordIDKey, id))
	}

	delete(r.records, id)
	return nil
}

func (r *recordRepository) ListByAgent(ctx context.Context, agentID types.AgentID, limit, offset int) ([]*model.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Record
	for _, record := range r.records {
		if record.AgentID == agentID && record.State != types.LifecycleDeleted {
			result = append(result, record.Clone())
		}
	}

	sortRecordsByCreatedAtDesc(result)
	return paginateRecords(result, limit, offset), nil
}

func (r *recordRepository) ListBySpace(ctx context.Context, spaceID types.SpaceID, limit, offset int) ([]*model.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Record
	for _, record := range r.records {
		if record.InSpace(spaceID) && record.State != types.LifecycleDeleted {
			result = append(result, record.Clone())
		}
	}

	sortRecordsByCreatedAtDesc(result)
	return paginateRecords(result, limit, offset), nil
}

func (r *recordRepository) ListByState(ctx context.Context, state types.LifecycleState, limit int) ([]*model.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Record
	for _, record := range r.records {
		if record.State == state {
			result = append(result, record.Clone())
		}
	}

	// Oldest state change first so sweeps work through the backlog in order
	sort.Slice(result, func(i, j int) bool {
		return result[i].StateChangedAt.Before(result[j].StateChangedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *recordRepository) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*model.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Record
	for _, record := range r.records {
		if !record.UpdatedAt.Before(since) && record.State != types.LifecycleDeleted {
			result = append(result, record.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *recordRepository) FindByContentHash(ctx context.Context, hash string) ([]*model.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Record
	for _, record := range r.records {
		if record.ContentHash == hash && record.State != types.LifecycleDeleted {
			result = append(result, record.Clone())
		}
	}

	sortRecordsByCreatedAtDesc(result)
	return result, nil
}

func (r *recordRepository) TouchAccess(ctx context.Context, id types.RecordID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if !exists {
		return goerr.Wrap(model.ErrNotFound, "record not found", goerr.V(model.RecordIDKey, id))
	}

	// Access tracking does not bump the version so it never conflicts with writes
	record.LastAccessedAt = at
	return nil
}

func sortRecordsByCreatedAtDesc(records []*model.Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

func paginateRecords(records []*model.Record, limit, offset int) []*model.Record {
	if offset >= len(records) {
		return []*model.Record{}
	}

	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return records[offset:end]
}
