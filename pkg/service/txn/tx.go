package txn

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

type opKind int

const (
	opRecordCreate opKind = iota
	opRecordUpdate
	opTombstonePut
	opRelationPut
	opRecommendationPut
)

// stagedOp is one deferred write. Record ops carry the change event that
// commit publishes after every write has been applied; the prior fields are
// filled during commit so compensation can restore what a write replaced.
type stagedOp struct {
	kind opKind

	record *model.Record // staged state for record ops
	base   *model.Record // transaction view the record op was staged against, nil for creates
	event  *model.Event

	tombstone      *model.Tombstone
	relation       *model.DuplicateRelation
	recommendation *model.MergeRecommendation

	priorTombstone      *model.Tombstone
	priorRelation       *model.DuplicateRelation
	priorRecommendation *model.MergeRecommendation
}

// Tx collects the writes of one atomic operation. Nothing reaches the store
// until the transaction function returns nil; a non-nil return discards the
// staged state without side effects.
type Tx struct {
	co     *Coordinator
	locked map[types.RecordID]bool
	reads  map[types.RecordID]*model.Record // first store read per record, nil entry means absent
	ops    []stagedOp
}

// Get returns the record as this transaction sees it: the latest staged
// write when one exists, otherwise the store state read once and cached as
// the pre-image for commit
func (tx *Tx) Get(ctx context.Context, id types.RecordID) (*model.Record, error) {
	if err := tx.requireLock(id); err != nil {
		return nil, err
	}

	if staged := tx.stagedView(id); staged != nil {
		return staged.Clone(), nil
	}

	if cached, ok := tx.reads[id]; ok {
		if cached == nil {
			return nil, goerr.Wrap(model.ErrNotFound, "record not found",
				goerr.V(model.RecordIDKey, id))
		}
		return cached.Clone(), nil
	}

	record, err := tx.co.repo.Record().Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			tx.reads[id] = nil
		}
		return nil, err
	}

	tx.reads[id] = record.Clone()
	return record.Clone(), nil
}

// Create stages a new record write and its creation event
func (tx *Tx) Create(record *model.Record, actor types.AgentID) error {
	if record == nil {
		return goerr.New("record is required", goerr.T(types.ErrTagValidation))
	}
	if err := tx.requireLock(record.ID); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}

	staged := record.Clone()
	tx.ops = append(tx.ops, stagedOp{
		kind:   opRecordCreate,
		record: staged,
		event:  model.NewRecordEvent(types.EventCreated, staged, actor),
	})
	return nil
}

// Put stages an updated record state. The committed version is assigned
// here, one past the transaction's current view, and the change event
// carries it as the per-record sequence.
func (tx *Tx) Put(record *model.Record, actor types.AgentID, kind types.EventKind, changed ...string) error {
	if record == nil {
		return goerr.New("record is required", goerr.T(types.ErrTagValidation))
	}
	if err := tx.requireLock(record.ID); err != nil {
		return err
	}

	base := tx.stagedView(record.ID)
	if base == nil {
		cached, ok := tx.reads[record.ID]
		if !ok || cached == nil {
			return goerr.New("record must be read through the transaction before writing",
				goerr.T(types.ErrTagValidation), goerr.V(model.RecordIDKey, record.ID))
		}
		base = cached
	}

	staged := record.Clone()
	staged.Version = base.Version + 1
	staged.UpdatedAt = tx.co.now()

	tx.ops = append(tx.ops, stagedOp{
		kind:   opRecordUpdate,
		record: staged,
		base:   base,
		event:  model.NewRecordEvent(kind, staged, actor, changed...),
	})
	return nil
}

// PutTombstone stages a deletion marker write
func (tx *Tx) PutTombstone(tombstone *model.Tombstone) error {
	if tombstone == nil {
		return goerr.New("tombstone is required", goerr.T(types.ErrTagValidation))
	}
	tx.ops = append(tx.ops, stagedOp{kind: opTombstonePut, tombstone: tombstone})
	return nil
}

// PutRelation stages a duplicate-relation upsert
func (tx *Tx) PutRelation(relation *model.DuplicateRelation) error {
	if relation == nil {
		return goerr.New("relation is required", goerr.T(types.ErrTagValidation))
	}
	if err := relation.Validate(); err != nil {
		return err
	}
	tx.ops = append(tx.ops, stagedOp{kind: opRelationPut, relation: relation})
	return nil
}

// PutRecommendation stages a merge-recommendation upsert
func (tx *Tx) PutRecommendation(rec *model.MergeRecommendation) error {
	if rec == nil {
		return goerr.New("recommendation is required", goerr.T(types.ErrTagValidation))
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	tx.ops = append(tx.ops, stagedOp{kind: opRecommendationPut, recommendation: rec})
	return nil
}

// Savepoint returns a marker for the current staged state
func (tx *Tx) Savepoint() int {
	return len(tx.ops)
}

// RollbackTo discards every operation staged after the savepoint
func (tx *Tx) RollbackTo(savepoint int) error {
	if savepoint < 0 || savepoint > len(tx.ops) {
		return goerr.New("invalid savepoint",
			goerr.T(types.ErrTagValidation),
			goerr.V("savepoint", savepoint), goerr.V("staged", len(tx.ops)))
	}
	tx.ops = tx.ops[:savepoint]
	return nil
}

// stagedView returns the latest staged state for the record, nil when none
func (tx *Tx) stagedView(id types.RecordID) *model.Record {
	for i := len(tx.ops) - 1; i >= 0; i-- {
		op := tx.ops[i]
		if (op.kind == opRecordCreate || op.kind == opRecordUpdate) && op.record.ID == id {
			return op.record
		}
	}
	return nil
}

func (tx *Tx) requireLock(id types.RecordID) error {
	if !tx.locked[id] {
		return goerr.New("record is not covered by this transaction",
			goerr.T(types.ErrTagValidation), goerr.V(model.RecordIDKey, id))
	}
	return nil
}
