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

type tombstoneRepository struct {
	mu         sync.RWMutex
	tombstones map[types.RecordID]*model.Tombstone
}

func newTombstoneRepository() *tombstoneRepository {
	return &tombstoneRepository{
		tombstones: make(map[types.RecordID]*model.Tombstone),
	}
}

func copyTombstone(ts *model.Tombstone) *model.Tombstone {
	copied := *ts
	return &copied
}

func (r *tombstoneRepository) Put(ctx context.Context, ts *model.Tombstone) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tombstones[ts.RecordID] = copyTombstone(ts)
	return nil
}

func (r *tombstoneRepository) Get(ctx context.Context, id types.RecordID) (*model.Tombstone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ts, exists := r.tombstones[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "tombstone not found", goerr.V(model.RecordIDKey, id))
	}

	return copyTombstone(ts), nil
}

func (r *tombstoneRepository) ListPurgeable(ctx context.Context, now time.Time, limit int) ([]*model.Tombstone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Tombstone
	for _, ts := range r.tombstones {
		if ts.Purgeable(now) {
			result = append(result, copyTombstone(ts))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PurgeAfter.Before(result[j].PurgeAfter)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
