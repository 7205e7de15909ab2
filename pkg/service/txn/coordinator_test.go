package txn_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/repository/memory"
	"github.com/secmon-lab/mnemosyne/pkg/service/bus"
	"github.com/secmon-lab/mnemosyne/pkg/service/txn"
)

func newTestCoordinator(t *testing.T) (*txn.Coordinator, interfaces.Repository) {
	t.Helper()
	repo := memory.New()
	eventBus := bus.New(repo.Events())
	co, err := txn.New(repo, eventBus, model.DefaultPolicy(), txn.WithRetryBackoff(time.Millisecond))
	gt.NoError(t, err).Required()
	return co, repo
}

func createThroughCoordinator(t *testing.T, co *txn.Coordinator, record *model.Record) {
	t.Helper()
	err := co.RunAtomic(context.Background(), []types.RecordID{record.ID}, func(tx *txn.Tx) error {
		return tx.Create(record, record.AgentID)
	})
	gt.NoError(t, err).Required()
}

func TestRunAtomicCreate(t *testing.T) {
	ctx := context.Background()
	co, repo := newTestCoordinator(t)

	agentID := types.AgentID("agent-txn")
	record := model.NewRecord(agentID, "first committed record")

	createThroughCoordinator(t, co, record)

	stored, err := repo.Record().Get(ctx, record.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, stored.Version).Equal(int64(1))
	gt.Value(t, stored.Content).Equal("first committed record")

	history, err := repo.Events().ListByRecord(ctx, record.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, history).Length(1)
	gt.Value(t, history[0].Kind).Equal(types.EventCreated)
	gt.Value(t, history[0].Sequence).Equal(int64(1))
}

func TestRunAtomicUpdate(t *testing.T) {
	ctx := context.Background()
	co, repo := newTestCoordinator(t)

	agentID := types.AgentID("agent-txn")
	record := model.NewRecord(agentID, "original content")
	createThroughCoordinator(t, co, record)

	err := co.RunAtomic(ctx, []types.RecordID{record.ID}, func(tx *txn.Tx) error {
		current, err := tx.Get(ctx, record.ID)
		if err != nil {
			return err
		}
		current.Content = "revised content"
		current.ContentHash = model.HashContent(current.Content)
		return tx.Put(current, agentID, types.EventUpdated, "content")
	})
	gt.NoError(t, err).Required()

	stored, err := repo.Record().Get(ctx, record.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, stored.Version).Equal(int64(2))
	gt.Value(t, stored.Content).Equal("revised content")

	history, err := repo.Events().ListByRecord(ctx, record.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, history).Length(2)
	gt.Value(t, history[1].Kind).Equal(types.EventUpdated)
	gt.Value(t, history[1].Sequence).Equal(int64(2))
	gt.Array(t, history[1].Changed).Length(1)
}

func TestStagedStateDiscardedOnError(t *testing.T) {
	ctx := context.Background()
	co, repo := newTestCoordinator(t)

	agentID := types.AgentID("agent-txn")
	record := model.NewRecord(agentID, "untouched content")
	createThroughCoordinator(t, co, record)

	failure := errors.New("caller decided to abort")
	err := co.RunAtomic(ctx, []types.RecordID{record.ID}, func(tx *txn.Tx) error {
		current, err := tx.Get(ctx, record.ID)
		if err != nil {
			return err
		}
		current.Content = "should never land"
		if err := tx.Put(current, agentID, types.EventUpdated); err != nil {
			return err
		}
		return failure
	})
	gt.Value(t, errors.Is(err, failure)).Equal(true)

	stored, err := repo.Record().Get(ctx, record.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, stored.Version).Equal(int64(1))
	gt.Value(t, stored.Content).Equal("untouched content")

	history, err := repo.Events().ListByRecord(ctx, record.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, history).Length(1)
}

func TestSavepointRollback(t *testing.T) {
	ctx := context.Background()
	co, repo := newTestCoordinator(t)

	agentID := types.AgentID("agent-txn")
	record := model.NewRecord(agentID, "savepoint base")
	createThroughCoordinator(t, co, record)

	err := co.RunAtomic(ctx, []types.RecordID{record.ID}, func(tx *txn.Tx) error {
		current, err := tx.Get(ctx, record.ID)
		if err != nil {
			return err
		}
		current.Content = "kept revision"
		if err := tx.Put(current, agentID, types.EventUpdated); err != nil {
			return err
		}

		sp := tx.Savepoint()
		current.Content = "discarded revision"
		if err := tx.Put(current, agentID, types.EventUpdated); err != nil {
			return err
		}
		return tx.RollbackTo(sp)
	})
	gt.NoError(t, err).Required()

	stored, err := repo.Record().Get(ctx, record.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, stored.Version).Equal(int64(2))
	gt.Value(t, stored.Content).Equal("kept revision")
}

func TestCommitFailureRestoresPreImages(t *testing.T) {
	ctx := context.Background()
	co, repo := newTestCoordinator(t)

	agentID := types.AgentID("agent-txn")
	existing := model.NewRecord(agentID, "collides on create")
	createThroughCoordinator(t, co, existing)

	victim := model.NewRecord(agentID, "gets rolled back")
	createThroughCoordinator(t, co, victim)

	// The second staged op collides with an existing ID, so the first one
	// must be undone.
	err := co.RunAtomic(ctx, []types.RecordID{victim.ID, existing.ID}, func(tx *txn.Tx) error {
		current, err := tx.Get(ctx, victim.ID)
		if err != nil {
			return err
		}
		current.Content = "half-committed"
		if err := tx.Put(current, agentID, types.EventUpdated); err != nil {
			return err
		}
		return tx.Create(existing.Clone(), agentID)
	})
	gt.Error(t, err)
	gt.Value(t, errors.Is(err, model.ErrAlreadyExists)).Equal(true)

	restored, err := repo.Record().Get(ctx, victim.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, restored.Version).Equal(int64(1))
	gt.Value(t, restored.Content).Equal("gets rolled back")

	history, err := repo.Events().ListByRecord(ctx, victim.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, history).Length(1) // only the original create
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	eventBus := bus.New(repo.Events())

	policy := model.DefaultPolicy()
	policy.LockWait = 30 * time.Millisecond
	co, err := txn.New(repo, eventBus, policy, txn.WithRetryBackoff(time.Millisecond))
	gt.NoError(t, err).Required()

	agentID := types.AgentID("agent-txn")
	record := model.NewRecord(agentID, "contended record")
	createThroughCoordinator(t, co, record)

	holding := make(chan struct{})
	released := make(chan struct{})
	go func() {
		_ = co.RunAtomic(ctx, []types.RecordID{record.ID}, func(tx *txn.Tx) error {
			close(holding)
			<-released
			return nil
		})
	}()

	<-holding
	defer close(released)

	err = co.RunAtomic(ctx, []types.RecordID{record.ID}, func(tx *txn.Tx) error {
		return nil
	})
	gt.Error(t, err)
	gt.Bool(t, goerr.HasTag(err, types.ErrTagLockTimeout)).True()
}

func TestSortedAcquisitionAvoidsDeadlock(t *testing.T) {
	ctx := context.Background()
	co, _ := newTestCoordinator(t)

	agentID := types.AgentID("agent-txn")
	first := model.NewRecord(agentID, "deadlock probe one")
	second := model.NewRecord(agentID, "deadlock probe two")
	createThroughCoordinator(t, co, first)
	createThroughCoordinator(t, co, second)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	orders := [][]types.RecordID{
		{first.ID, second.ID},
		{second.ID, first.ID},
	}

	for i, order := range orders {
		wg.Add(1)
		go func(i int, ids []types.RecordID) {
			defer wg.Done()
			for n := 0; n < 20; n++ {
				errs[i] = co.RunAtomic(ctx, ids, func(tx *txn.Tx) error {
					return nil
				})
				if errs[i] != nil {
					return
				}
			}
		}(i, order)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		gt.NoError(t, errs[0])
		gt.NoError(t, errs[1])
	case <-time.After(5 * time.Second):
		t.Fatal("transactions deadlocked")
	}
}

func TestOutOfBandWriteSurfacesConflict(t *testing.T) {
	ctx := context.Background()
	co, repo := newTestCoordinator(t)

	agentID := types.AgentID("agent-txn")
	record := model.NewRecord(agentID, "conflict target")
	createThroughCoordinator(t, co, record)

	err := co.RunAtomic(ctx, []types.RecordID{record.ID}, func(tx *txn.Tx) error {
		current, err := tx.Get(ctx, record.ID)
		if err != nil {
			return err
		}

		// A writer outside the coordinator slips in after the read
		interloper := current.Clone()
		interloper.Version = current.Version + 1
		if err := repo.Record().Update(ctx, interloper, current.Version); err != nil {
			return err
		}

		current.Content = "stale write"
		return tx.Put(current, agentID, types.EventUpdated)
	})
	gt.Error(t, err)
	gt.Bool(t, goerr.HasTag(err, types.ErrTagConflict)).True()
}

func TestTransientStoreFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	base := memory.New()
	flaky := &flakyRepo{Repository: base, records: &flakyRecords{
		RecordRepository: base.Record(),
		failures:         2,
	}}
	eventBus := bus.New(base.Events())

	co, err := txn.New(flaky, eventBus, model.DefaultPolicy(), txn.WithRetryBackoff(time.Millisecond))
	gt.NoError(t, err).Required()

	agentID := types.AgentID("agent-txn")
	record := model.NewRecord(agentID, "survives flaky store")

	err = co.RunAtomic(ctx, []types.RecordID{record.ID}, func(tx *txn.Tx) error {
		return tx.Create(record, agentID)
	})
	gt.NoError(t, err).Required()

	stored, err := base.Record().Get(ctx, record.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, stored.Content).Equal("survives flaky store")
}

func TestRetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	base := memory.New()
	flaky := &flakyRepo{Repository: base, records: &flakyRecords{
		RecordRepository: base.Record(),
		failures:         100,
	}}
	eventBus := bus.New(base.Events())

	co, err := txn.New(flaky, eventBus, model.DefaultPolicy(), txn.WithRetryBackoff(time.Millisecond))
	gt.NoError(t, err).Required()

	agentID := types.AgentID("agent-txn")
	record := model.NewRecord(agentID, "never lands")

	err = co.RunAtomic(ctx, []types.RecordID{record.ID}, func(tx *txn.Tx) error {
		return tx.Create(record, agentID)
	})
	gt.Error(t, err)
	gt.Bool(t, goerr.HasTag(err, types.ErrTagStoreUnavailable)).True()
}

func TestPublishFailureRollsBackWrites(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	co, err := txn.New(repo, &failingBus{}, model.DefaultPolicy(), txn.WithRetryBackoff(time.Millisecond))
	gt.NoError(t, err).Required()

	agentID := types.AgentID("agent-txn")
	record := model.NewRecord(agentID, "must not survive")

	err = co.RunAtomic(ctx, []types.RecordID{record.ID}, func(tx *txn.Tx) error {
		return tx.Create(record, agentID)
	})
	gt.Error(t, err)

	_, err = repo.Record().Get(ctx, record.ID)
	gt.Value(t, errors.Is(err, model.ErrNotFound)).Equal(true)
}

func TestRunAtomicValidation(t *testing.T) {
	ctx := context.Background()
	co, _ := newTestCoordinator(t)

	err := co.RunAtomic(ctx, nil, func(tx *txn.Tx) error {
		return nil
	})
	gt.Error(t, err)
	gt.Bool(t, goerr.HasTag(err, types.ErrTagValidation)).True()

	record := model.NewRecord(types.AgentID("agent-txn"), "locked elsewhere")
	err = co.RunAtomic(ctx, []types.RecordID{record.ID}, func(tx *txn.Tx) error {
		other := types.RecordID("record-not-locked")
		_, err := tx.Get(ctx, other)
		return err
	})
	gt.Error(t, err)
	gt.Bool(t, goerr.HasTag(err, types.ErrTagValidation)).True()
}

// flakyRecords fails Update and Create with a transient error until its
// failure budget runs out
type flakyRecords struct {
	interfaces.RecordRepository
	failures int
}

func (f *flakyRecords) Create(ctx context.Context, record *model.Record) error {
	if f.failures > 0 {
		f.failures--
		return goerr.New("simulated outage", goerr.T(types.ErrTagStoreUnavailable))
	}
	return f.RecordRepository.Create(ctx, record)
}

func (f *flakyRecords) Update(ctx context.Context, record *model.Record, expectedVersion int64) error {
	if f.failures > 0 {
		f.failures--
		return goerr.New("simulated outage", goerr.T(types.ErrTagStoreUnavailable))
	}
	return f.RecordRepository.Update(ctx, record, expectedVersion)
}

type flakyRepo struct {
	interfaces.Repository
	records *flakyRecords
}

func (f *flakyRepo) Record() interfaces.RecordRepository {
	return f.records
}

// failingBus rejects every publish with a transient error
type failingBus struct{}

func (b *failingBus) Publish(ctx context.Context, event *model.Event) (*model.Event, error) {
	return nil, goerr.New("bus unavailable", goerr.T(types.ErrTagStoreUnavailable))
}

func (b *failingBus) Subscribe(ctx context.Context, agentID types.AgentID, filter interfaces.EventFilter, fromOffset int64) (interfaces.Subscription, error) {
	return nil, goerr.New("bus unavailable", goerr.T(types.ErrTagStoreUnavailable))
}
