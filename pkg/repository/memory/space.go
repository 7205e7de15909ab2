package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

type spaceRepository struct {
	mu     sync.RWMutex
	spaces map[types.SpaceID]*model.SharedSpace
}

func newSpaceRepository() *spaceRepository {
	return &spaceRepository{
		spaces: make(map[types.SpaceID]*model.SharedSpace),
	}
}

func (r *spaceRepository) Create(ctx context.Context, space *model.SharedSpace) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.spaces[space.ID]; exists {
		return goerr.Wrap(model.ErrAlreadyExists, "space already exists", goerr.V(model.SpaceIDKey, space.ID))
	}

	r.spaces[space.ID] = space.Clone()
	return nil
}

func (r *spaceRepository) Get(ctx context.Context, id types.SpaceID) (*model.SharedSpace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	space, exists := r.spaces[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "space not found", goerr.V(model.SpaceIDKey, id))
	}

	return space.Clone(), nil
}

func (r *spaceRepository) Update(ctx context.Context, space *model.SharedSpace) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.spaces[space.ID]; !exists {
		return goerr.Wrap(model.ErrNotFound, "space not found", goerr.V(model.SpaceIDKey, space.ID))
	}

	r.spaces[space.ID] = space.Clone()
	return nil
}

func (r *spaceRepository) Delete(ctx context.Context, id types.SpaceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.spaces[id]; !exists {
		return goerr.Wrap(model.ErrNotFound, "space not found", goerr.V(model.SpaceIDKey, id))
	}

	delete(r.spaces, id)
	return nil
}

func (r *spaceRepository) List(ctx context.Context) ([]*model.SharedSpace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.SharedSpace, 0, len(r.spaces))
	for _, space := range r.spaces {
		result = append(result, space.Clone())
	}

	sortSpacesByCreatedAtDesc(result)
	return result, nil
}

func (r *spaceRepository) ListByMember(ctx context.Context, agentID types.AgentID) ([]*model.SharedSpace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.SharedSpace
	for _, space := range r.spaces {
		if space.IsMember(agentID) {
			result = append(result, space.Clone())
		}
	}

	sortSpacesByCreatedAtDesc(result)
	return result, nil
}

func sortSpacesByCreatedAtDesc(spaces []*model.SharedSpace) {
	sort.Slice(spaces, func(i, j int) bool {
		return spaces[i].CreatedAt.After(spaces[j].CreatedAt)
	})
}
