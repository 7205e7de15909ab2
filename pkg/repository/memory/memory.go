package memory

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Repository is an alias for Memory to match the pattern
type Repository = Memory

// Memory is the in-memory repository backend used for development and tests.
type Memory struct {
	record    *recordRepository
	space     *spaceRepository
	duplicate *duplicateRepository
	tombstone *tombstoneRepository
	events    *eventLog

	confMu        sync.RWMutex
	confirmations map[string]*model.Confirmation
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		record:        newRecordRepository(),
		space:         newSpaceRepository(),
		duplicate:     newDuplicateRepository(),
		tombstone:     newTombstoneRepository(),
		events:        newEventLog(),
		confirmations: make(map[string]*model.Confirmation),
	}
}

func (r *Memory) Record() interfaces.RecordRepository {
	return r.record
}

func (r *Memory) Space() interfaces.SpaceRepository {
	return r.space
}

func (r *Memory) Duplicate() interfaces.DuplicateRepository {
	return r.duplicate
}

func (r *Memory) Tombstone() interfaces.TombstoneRepository {
	return r.tombstone
}

func (r *Memory) Events() interfaces.EventLog {
	return r.events
}

func (r *Memory) PutConfirmation(ctx context.Context, conf *model.Confirmation) error {
	if conf.Token == "" {
		return goerr.New("confirmation token is required", goerr.T(types.ErrTagValidation))
	}

	r.confMu.Lock()
	defer r.confMu.Unlock()

	r.confirmations[conf.Token] = copyConfirmation(conf)
	return nil
}

func (r *Memory) GetConfirmation(ctx context.Context, token string) (*model.Confirmation, error) {
	r.confMu.RLock()
	defer r.confMu.RUnlock()

	conf, ok := r.confirmations[token]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "confirmation not found", goerr.V(model.TokenKey, token))
	}
	return copyConfirmation(conf), nil
}

func (r *Memory) DeleteConfirmation(ctx context.Context, token string) error {
	r.confMu.Lock()
	defer r.confMu.Unlock()

	if _, ok := r.confirmations[token]; !ok {
		return goerr.Wrap(model.ErrNotFound, "confirmation not found", goerr.V(model.TokenKey, token))
	}
	delete(r.confirmations, token)
	return nil
}

func (r *Memory) Close() error {
	return nil
}

func copyConfirmation(conf *model.Confirmation) *model.Confirmation {
	c := *conf
	if conf.UsedAt != nil {
		usedAt := *conf.UsedAt
		c.UsedAt = &usedAt
	}
	return &c
}
