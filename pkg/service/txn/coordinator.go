package txn

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// DefaultRetryBackoff is the base delay between attempts on transient store
// failures. The n-th retry waits n times this.
const DefaultRetryBackoff = 100 * time.Millisecond

// Coordinator serializes multi-record mutations. It owns the per-record
// locks, applies staged writes with compare-and-set against each record's
// pre-image, retries transient store failures a bounded number of times, and
// publishes change events in staged order once every write has landed.
type Coordinator struct {
	repo    interfaces.Repository
	bus     interfaces.EventBus
	policy  *model.PolicyConfig
	locks   *lockTable
	backoff time.Duration
	now     func() time.Time
}

// Option is a functional option for Coordinator configuration
type Option func(*Coordinator)

// WithNow injects the clock used for staged write timestamps
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithRetryBackoff overrides the base delay between store retries
func WithRetryBackoff(backoff time.Duration) Option {
	return func(c *Coordinator) {
		c.backoff = backoff
	}
}

// New creates a transaction coordinator
func New(repo interfaces.Repository, eventBus interfaces.EventBus, policy *model.PolicyConfig, opts ...Option) (*Coordinator, error) {
	if repo == nil {
		return nil, goerr.New("repository is required")
	}
	if eventBus == nil {
		return nil, goerr.New("event bus is required")
	}
	if policy == nil {
		return nil, goerr.New("policy config is required")
	}

	c := &Coordinator{
		repo:    repo,
		bus:     eventBus,
		policy:  policy,
		locks:   newLockTable(),
		backoff: DefaultRetryBackoff,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// RunAtomic locks the given records, runs fn against a staged transaction,
// and commits the staged writes. fn returning an error discards the staged
// state with no side effects. Locks are taken in sorted ID order so
// overlapping transactions cannot deadlock; a lock not acquired within the
// policy's wait bound fails the whole operation with a lock-timeout error.
func (c *Coordinator) RunAtomic(ctx context.Context, recordIDs []types.RecordID, fn func(tx *Tx) error) error {
	ids := sortedUnique(recordIDs)
	if len(ids) == 0 {
		return goerr.New("at least one record ID is required",
			goerr.T(types.ErrTagValidation))
	}

	var held []types.RecordID
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			c.locks.release(held[i])
		}
	}
	for _, id := range ids {
		if err := c.locks.acquire(ctx, id, c.policy.LockWait); err != nil {
			releaseHeld()
			return err
		}
		held = append(held, id)
	}
	defer releaseHeld()

	tx := &Tx{
		co:     c,
		locked: make(map[types.RecordID]bool, len(ids)),
		reads:  make(map[types.RecordID]*model.Record),
	}
	for _, id := range ids {
		tx.locked[id] = true
	}

	if err := fn(tx); err != nil {
		return err
	}

	return c.commit(ctx, tx)
}

// commit applies the staged operations in order and then publishes their
// events. Any failure undoes the writes already applied, newest first, so
// the store returns to its pre-transaction state.
func (c *Coordinator) commit(ctx context.Context, tx *Tx) error {
	applied := 0
	for i := range tx.ops {
		if err := c.applyOp(ctx, &tx.ops[i]); err != nil {
			c.compensate(ctx, tx.ops[:applied])
			return err
		}
		applied++
	}

	for i := range tx.ops {
		event := tx.ops[i].event
		if event == nil {
			continue
		}
		err := c.withRetry(ctx, func() error {
			_, publishErr := c.bus.Publish(ctx, event)
			return publishErr
		})
		if err != nil {
			c.compensate(ctx, tx.ops[:applied])
			return goerr.Wrap(err, "failed to publish change event",
				goerr.V(model.RecordIDKey, event.RecordID),
				goerr.V("kind", event.Kind.String()))
		}
	}

	return nil
}

func (c *Coordinator) applyOp(ctx context.Context, op *stagedOp) error {
	switch op.kind {
	case opRecordCreate:
		return c.withRetry(ctx, func() error {
			return c.repo.Record().Create(ctx, op.record)
		})

	case opRecordUpdate:
		return c.withRetry(ctx, func() error {
			return c.repo.Record().Update(ctx, op.record, op.record.Version-1)
		})

	case opTombstonePut:
		prior, err := c.repo.Tombstone().Get(ctx, op.tombstone.RecordID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		op.priorTombstone = prior
		return c.withRetry(ctx, func() error {
			return c.repo.Tombstone().Put(ctx, op.tombstone)
		})

	case opRelationPut:
		prior, err := c.repo.Duplicate().GetRelationByPair(ctx, op.relation.PairKey())
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		op.priorRelation = prior
		return c.withRetry(ctx, func() error {
			return c.repo.Duplicate().PutRelation(ctx, op.relation)
		})

	case opRecommendationPut:
		prior, err := c.repo.Duplicate().GetRecommendation(ctx, op.recommendation.ID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		op.priorRecommendation = prior
		return c.withRetry(ctx, func() error {
			return c.repo.Duplicate().PutRecommendation(ctx, op.recommendation)
		})

	default:
		return goerr.New("unknown staged operation", goerr.V("kind", int(op.kind)))
	}
}

// compensate restores the pre-images of already-applied operations, newest
// first. Failures here are logged and do not stop the remaining restores;
// the original commit error is what the caller sees.
func (c *Coordinator) compensate(ctx context.Context, applied []stagedOp) {
	logger := logging.From(ctx)

	for i := len(applied) - 1; i >= 0; i-- {
		op := applied[i]
		var err error

		switch op.kind {
		case opRecordCreate:
			err = c.repo.Record().Delete(ctx, op.record.ID)

		case opRecordUpdate:
			err = c.repo.Record().Update(ctx, op.base, op.record.Version)

		case opTombstonePut:
			// A tombstone that had no predecessor cannot be removed; the
			// purge sweep checks record state before acting on one.
			if op.priorTombstone != nil {
				err = c.repo.Tombstone().Put(ctx, op.priorTombstone)
			}

		case opRelationPut:
			if op.priorRelation != nil {
				err = c.repo.Duplicate().PutRelation(ctx, op.priorRelation)
			}

		case opRecommendationPut:
			if op.priorRecommendation != nil {
				err = c.repo.Duplicate().PutRecommendation(ctx, op.priorRecommendation)
			}
		}

		if err != nil {
			logger.Error("failed to restore pre-image during rollback",
				"error", err, "op", int(op.kind))
		}
	}
}

// withRetry runs fn, retrying transient store failures up to the policy's
// attempt budget. Every other failure returns immediately.
func (c *Coordinator) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < c.policy.StoreRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return goerr.Wrap(ctx.Err(), "context cancelled during store retry")
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}

		if err = fn(); err == nil {
			return nil
		}
		if !goerr.HasTag(err, types.ErrTagStoreUnavailable) {
			return err
		}
	}
	return err
}

func sortedUnique(ids []types.RecordID) []types.RecordID {
	seen := make(map[types.RecordID]bool, len(ids))
	out := make([]types.RecordID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i] < out[j]
	})
	return out
}
