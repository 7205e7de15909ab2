package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/txn"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// SystemSweepAgentID is the actor recorded on automatic sweep transitions
const SystemSweepAgentID types.AgentID = "system-sweep"

// DefaultSweepBatch caps the records examined per lifecycle state in one
// sweep pass
const DefaultSweepBatch = 500

// LifecycleUseCase ages records along the lifecycle and restores archived
// ones. A single inactivity clock drives the aging: staleness and archival
// measure time since the record was last touched, while the later states
// measure time spent in the state itself.
type LifecycleUseCase struct {
	uc *UseCases
}

func newLifecycleUseCase(uc *UseCases) *LifecycleUseCase {
	return &LifecycleUseCase{uc: uc}
}

// SweepOptions controls one sweep pass. A dry run reports what would change
// and mints a confirmation token when any of it is destructive; an apply
// pass with destructive changes must present that token.
type SweepOptions struct {
	DryRun     bool
	Token      string
	BatchLimit int
}

// Sweep examines records due for a lifecycle transition and, unless this is
// a dry run, applies the transitions one record at a time. Per-record
// failures are reported in the result and do not stop the pass.
func (l *LifecycleUseCase) Sweep(ctx context.Context, agentID types.AgentID, opts SweepOptions) (*model.SweepReport, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	batch := opts.BatchLimit
	if batch <= 0 {
		batch = DefaultSweepBatch
	}

	now := l.uc.now()
	report := &model.SweepReport{
		StartedAt: now,
		DryRun:    opts.DryRun,
	}

	changes, examined, err := l.collect(ctx, now, batch)
	if err != nil {
		return nil, err
	}
	report.Examined = examined

	if opts.DryRun {
		report.Changes = changes
		report.FinishedAt = l.uc.now()
		if report.Destructive() {
			conf, err := l.uc.Confirm.Request(ctx, agentID, model.ConfirmSweepApply, model.SweepConfirmationSubject)
			if err != nil {
				return nil, err
			}
			report.Token = conf.Token
		}
		return report, nil
	}

	destructive := false
	for _, change := range changes {
		if change.Destructive() {
			destructive = true
			break
		}
	}
	if destructive {
		if err := l.uc.Confirm.spend(ctx, opts.Token, model.ConfirmSweepApply, model.SweepConfirmationSubject, agentID); err != nil {
			return nil, err
		}
	}

	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = l.uc.now()
			return report, err
		}
		if err := l.applyChange(ctx, agentID, change, now); err != nil {
			report.Errors = append(report.Errors, model.SweepError{
				RecordID: change.RecordID,
				Message:  err.Error(),
			})
			continue
		}
		report.Changes = append(report.Changes, change)
	}

	report.FinishedAt = l.uc.now()
	return report, nil
}

// AutoSweep runs the dry-run, confirmation, apply cycle as one call. It is
// the periodic worker's entry point and follows the same token discipline
// as an operator.
func (l *LifecycleUseCase) AutoSweep(ctx context.Context) (*model.SweepReport, error) {
	dry, err := l.Sweep(ctx, SystemSweepAgentID, SweepOptions{DryRun: true})
	if err != nil {
		return nil, err
	}
	if len(dry.Changes) == 0 {
		return dry, nil
	}
	return l.Sweep(ctx, SystemSweepAgentID, SweepOptions{Token: dry.Token})
}

// Restore brings an archived record back to active. Only archived records
// restore; anything else is an illegal transition.
func (l *LifecycleUseCase) Restore(ctx context.Context, agentID types.AgentID, recordID types.RecordID) (*model.Record, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	if err := recordID.Validate(); err != nil {
		return nil, err
	}

	var restored *model.Record
	err := l.uc.co.RunAtomic(ctx, []types.RecordID{recordID}, func(tx *txn.Tx) error {
		record, err := tx.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if err := deletedAsMissing(record); err != nil {
			return err
		}
		if err := l.uc.Access.Require(ctx, agentID, record, types.PermissionWrite); err != nil {
			return err
		}
		if record.State.Normalize() != types.LifecycleArchived {
			return goerr.Wrap(model.ErrInvalidTransition, "only archived records can be restored",
				goerr.T(types.ErrTagValidation),
				goerr.V(model.RecordIDKey, recordID), goerr.V(model.StateKey, record.State))
		}

		now := l.uc.now()
		record.State = types.LifecycleActive
		record.StateChangedAt = now
		// restart the staleness clock; a restored record earned a fresh
		// inactivity window
		record.LastAccessedAt = now
		if err := tx.Put(record, agentID, types.EventRestored, "state"); err != nil {
			return err
		}
		restored, err = tx.Get(ctx, recordID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}

// collect plans the due transitions. Each record appears at most once per
// pass; the next pass picks up whatever a multi-step journey still needs.
func (l *LifecycleUseCase) collect(ctx context.Context, now time.Time, batch int) ([]model.SweepChange, int, error) {
	var changes []model.SweepChange
	examined := 0
	seen := make(map[types.RecordID]bool)

	for _, state := range []types.LifecycleState{
		types.LifecycleActive,
		types.LifecycleStale,
		types.LifecycleArchived,
		types.LifecycleExpired,
	} {
		records, err := l.uc.repo.Record().ListByState(ctx, state, batch)
		if err != nil {
			return nil, 0, err
		}
		for _, record := range records {
			if seen[record.ID] {
				continue
			}
			seen[record.ID] = true
			examined++
			if change, ok := l.plan(record, now); ok {
				changes = append(changes, change)
			}
		}
	}

	tombs, err := l.uc.repo.Tombstone().ListPurgeable(ctx, now, batch)
	if err != nil {
		return nil, 0, err
	}
	for _, tomb := range tombs {
		if seen[tomb.RecordID] {
			continue
		}
		seen[tomb.RecordID] = true
		if _, err := l.uc.repo.Record().Get(ctx, tomb.RecordID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				// row already purged; the tombstone alone remains as audit
				continue
			}
			return nil, 0, err
		}
		examined++
		changes = append(changes, model.SweepChange{
			RecordID: tomb.RecordID,
			AgentID:  tomb.AgentID,
			From:     types.LifecycleDeleted,
			To:       types.LifecycleDeleted,
			Reason:   model.SweepReasonPurge,
		})
	}

	return changes, examined, nil
}

// plan decides the single transition a record is due for, if any. The TTL
// deadline beats the age-based rules.
func (l *LifecycleUseCase) plan(record *model.Record, now time.Time) (model.SweepChange, bool) {
	change := model.SweepChange{
		RecordID: record.ID,
		AgentID:  record.AgentID,
		From:     record.State.Normalize(),
	}

	if record.Expired(now) && change.From != types.LifecycleExpired {
		change.To = types.LifecycleExpired
		change.Reason = model.SweepReasonTTLDeadline
		return change, true
	}

	policy := l.uc.policy
	switch change.From {
	case types.LifecycleActive:
		if !record.LastActivity().Add(policy.StaleAfter).After(now) {
			change.To = types.LifecycleStale
			change.Reason = model.SweepReasonInactivity
			return change, true
		}
	case types.LifecycleStale:
		// renewed activity defers archival without changing the state
		if !record.LastActivity().Add(policy.ArchiveAfter).After(now) {
			change.To = types.LifecycleArchived
			change.Reason = model.SweepReasonStaleAge
			return change, true
		}
	case types.LifecycleArchived:
		if !record.StateChangedAt.Add(policy.ExpireAfter).After(now) {
			change.To = types.LifecycleExpired
			change.Reason = model.SweepReasonExpiryGrace
			return change, true
		}
	case types.LifecycleExpired:
		if !record.StateChangedAt.Add(policy.DeleteAfter).After(now) {
			change.To = types.LifecycleDeleted
			change.Reason = model.SweepReasonExpiredAge
			return change, true
		}
	}
	return model.SweepChange{}, false
}

// applyChange executes one planned transition under the record's lock. The
// record is re-read first; if it moved on since planning the change is
// silently dropped.
func (l *LifecycleUseCase) applyChange(ctx context.Context, actor types.AgentID, change model.SweepChange, now time.Time) error {
	if change.Reason == model.SweepReasonPurge {
		return l.purge(ctx, change.RecordID)
	}

	var archiveURI string
	if change.To == types.LifecycleArchived && l.uc.archiver != nil {
		record, err := l.uc.repo.Record().Get(ctx, change.RecordID)
		if err != nil {
			return err
		}
		uri, err := l.uc.archiver.Store(ctx, record)
		if err != nil {
			logging.From(ctx).Warn("Cold snapshot failed, archiving without object copy",
				"error", err, "record_id", change.RecordID)
		} else {
			archiveURI = uri
		}
	}

	var preImage *model.Record
	err := l.uc.co.RunAtomic(ctx, []types.RecordID{change.RecordID}, func(tx *txn.Tx) error {
		record, err := tx.Get(ctx, change.RecordID)
		if err != nil {
			return err
		}
		if record.State.Normalize() != change.From {
			return nil
		}
		if !record.State.CanTransitionTo(change.To) {
			return goerr.Wrap(model.ErrInvalidTransition, "sweep planned an illegal transition",
				goerr.T(types.ErrTagValidation),
				goerr.V(model.RecordIDKey, record.ID),
				goerr.V(model.StateKey, record.State), goerr.V("next", change.To))
		}

		record.State = change.To
		record.StateChangedAt = now

		switch change.To {
		case types.LifecycleStale:
			return tx.Put(record, actor, types.EventStaled, "state")
		case types.LifecycleArchived:
			if archiveURI != "" {
				record.ArchiveURI = archiveURI
			}
			return tx.Put(record, actor, types.EventArchived, "state")
		case types.LifecycleExpired:
			return tx.Put(record, actor, types.EventExpired, "state")
		case types.LifecycleDeleted:
			preImage = record.Clone()
			record.Content = ""
			record.ContentHash = ""
			record.Metadata = nil
			record.Embedding = ""
			if err := tx.Put(record, actor, types.EventDeleted, "state"); err != nil {
				return err
			}
			final, err := tx.Get(ctx, change.RecordID)
			if err != nil {
				return err
			}
			return tx.PutTombstone(model.NewTombstone(final, model.TombstoneExpired, l.uc.policy.DeleteAfter, now))
		}
		return goerr.New("unsupported sweep target state",
			goerr.T(types.ErrTagValidation), goerr.V(model.StateKey, change.To))
	})
	if err != nil {
		return err
	}
	if preImage != nil {
		l.uc.Record.cleanupExternal(ctx, preImage)
	}
	return nil
}

// purge physically removes a deleted row whose purge grace elapsed. No
// event is published; the logical delete already was.
func (l *LifecycleUseCase) purge(ctx context.Context, recordID types.RecordID) error {
	return l.uc.co.RunAtomic(ctx, []types.RecordID{recordID}, func(tx *txn.Tx) error {
		record, err := tx.Get(ctx, recordID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil
			}
			return err
		}
		if record.State != types.LifecycleDeleted {
			logging.From(ctx).Warn("Purgeable tombstone points at a live record, skipping",
				"record_id", recordID, "state", record.State)
			return nil
		}
		return l.uc.repo.Record().Delete(ctx, recordID)
	})
}
