package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// maxEventPage bounds one ListEvents reply
const maxEventPage = 1000

// defaultEventPage is used when the caller does not name a page size
const defaultEventPage = 100

// SyncUseCase exposes the synchronization surface: live subscriptions,
// replay for catch-up polling, and the per-record audit trail. Visibility
// follows the same access resolution as reads, so an agent's stream never
// carries snapshots it could not fetch directly.
type SyncUseCase struct {
	uc *UseCases
}

func newSyncUseCase(uc *UseCases) *SyncUseCase {
	return &SyncUseCase{uc: uc}
}

// Subscribe opens the agent's event stream. fromOffset is the offset after
// the last event the agent acknowledged; pass 0 for a fresh consumer. A
// resume point behind the retention horizon yields one resync signal before
// the live stream.
func (s *SyncUseCase) Subscribe(ctx context.Context, agentID types.AgentID, filter interfaces.EventFilter, fromOffset int64) (interfaces.Subscription, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	if fromOffset < 0 {
		return nil, goerr.New("offset must not be negative",
			goerr.T(types.ErrTagValidation), goerr.V("from_offset", fromOffset))
	}
	return s.uc.bus.Subscribe(ctx, agentID, filter, fromOffset)
}

// ListEvents replays retained events at or after fromOffset, trimmed to
// those the agent may see. Meant for inspection and catch-up polling; live
// consumption goes through Subscribe.
func (s *SyncUseCase) ListEvents(ctx context.Context, agentID types.AgentID, fromOffset int64, limit int) ([]*model.Event, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	if fromOffset < 0 {
		return nil, goerr.New("offset must not be negative",
			goerr.T(types.ErrTagValidation), goerr.V("from_offset", fromOffset))
	}
	if limit <= 0 {
		limit = defaultEventPage
	}
	if limit > maxEventPage {
		limit = maxEventPage
	}

	events, err := s.uc.repo.Events().Replay(ctx, fromOffset, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to replay events",
			goerr.T(types.ErrTagStoreUnavailable))
	}

	visible := make([]*model.Event, 0, len(events))
	for _, event := range events {
		if s.uc.visibleTo(ctx, agentID, event) {
			visible = append(visible, event)
		}
	}
	return visible, nil
}

// RecordHistory is a record together with its retained change events in
// sequence order.
type RecordHistory struct {
	Record *model.Record
	Events []*model.Event
}

// GetRecordHistory returns the audit trail of one record. Deleted records
// answer for their owner only; to everyone else they do not exist.
func (s *SyncUseCase) GetRecordHistory(ctx context.Context, agentID types.AgentID, recordID types.RecordID) (*RecordHistory, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	if err := recordID.Validate(); err != nil {
		return nil, err
	}

	record, err := s.uc.repo.Record().Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.State == types.LifecycleDeleted {
		if record.AgentID != agentID {
			return nil, goerr.Wrap(model.ErrNotFound, "record not found",
				goerr.V(model.RecordIDKey, recordID))
		}
	} else if err := s.uc.Access.Require(ctx, agentID, record, types.PermissionRead); err != nil {
		return nil, err
	}

	events, err := s.uc.repo.Events().ListByRecord(ctx, recordID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load record events",
			goerr.T(types.ErrTagStoreUnavailable))
	}

	return &RecordHistory{Record: record, Events: events}, nil
}
