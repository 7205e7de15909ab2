package usecase

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/bus"
	"github.com/secmon-lab/mnemosyne/pkg/service/notify"
	"github.com/secmon-lab/mnemosyne/pkg/service/similarity"
	"github.com/secmon-lab/mnemosyne/pkg/service/txn"
)

// UseCases bundles the engines of the memory core. The external stores are
// optional: without a vector index the dedup engine falls back to exact-hash
// detection, without an archiver cold snapshots are skipped, and so on. The
// repository is the only hard requirement.
type UseCases struct {
	repo     interfaces.Repository
	policy   *model.PolicyConfig
	index    interfaces.VectorIndex
	graph    interfaces.GraphStore
	oracle   interfaces.SimilarityOracle
	embedder interfaces.Embedder
	composer interfaces.MergeComposer
	notifier interfaces.Notifier
	archiver interfaces.Archiver
	now      func() time.Time

	bus interfaces.EventBus
	co  *txn.Coordinator

	Record    *RecordUseCase
	Space     *SpaceUseCase
	Access    *AccessUseCase
	Dedup     *DedupUseCase
	Lifecycle *LifecycleUseCase
	Sync      *SyncUseCase
	Confirm   *ConfirmUseCase
}

type Option func(*UseCases)

// WithPolicy overrides the default policy configuration
func WithPolicy(policy *model.PolicyConfig) Option {
	return func(uc *UseCases) {
		uc.policy = policy
	}
}

// WithVectorIndex attaches the external vector similarity store
func WithVectorIndex(index interfaces.VectorIndex) Option {
	return func(uc *UseCases) {
		uc.index = index
	}
}

// WithGraphStore attaches the external relation graph store
func WithGraphStore(graph interfaces.GraphStore) Option {
	return func(uc *UseCases) {
		uc.graph = graph
	}
}

// WithOracle overrides the similarity oracle built from the vector index
func WithOracle(oracle interfaces.SimilarityOracle) Option {
	return func(uc *UseCases) {
		uc.oracle = oracle
	}
}

// WithEmbedder attaches the embedding generator
func WithEmbedder(embedder interfaces.Embedder) Option {
	return func(uc *UseCases) {
		uc.embedder = embedder
	}
}

// WithComposer attaches the LLM-backed merge content drafter
func WithComposer(composer interfaces.MergeComposer) Option {
	return func(uc *UseCases) {
		uc.composer = composer
	}
}

// WithNotifier attaches the operator notification channel
func WithNotifier(notifier interfaces.Notifier) Option {
	return func(uc *UseCases) {
		uc.notifier = notifier
	}
}

// WithArchiver attaches the cold snapshot store
func WithArchiver(archiver interfaces.Archiver) Option {
	return func(uc *UseCases) {
		uc.archiver = archiver
	}
}

// WithNow overrides the clock, for tests
func WithNow(now func() time.Time) Option {
	return func(uc *UseCases) {
		uc.now = now
	}
}

func New(repo interfaces.Repository, opts ...Option) (*UseCases, error) {
	if repo == nil {
		return nil, goerr.New("repository is required", goerr.T(types.ErrTagValidation))
	}

	uc := &UseCases{
		repo:     repo,
		policy:   model.DefaultPolicy(),
		notifier: notify.NewNull(),
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(uc)
	}

	if err := uc.policy.Validate(); err != nil {
		return nil, err
	}

	if uc.oracle == nil && uc.index != nil {
		oracle, err := similarity.New(uc.index, uc.policy)
		if err != nil {
			return nil, err
		}
		uc.oracle = oracle
	}

	uc.Access = newAccessUseCase(uc)
	uc.bus = bus.New(repo.Events(), bus.WithVisibility(uc.visibleTo))

	co, err := txn.New(repo, uc.bus, uc.policy, txn.WithNow(uc.now))
	if err != nil {
		return nil, err
	}
	uc.co = co

	uc.Record = newRecordUseCase(uc)
	uc.Space = newSpaceUseCase(uc)
	uc.Dedup = newDedupUseCase(uc)
	uc.Lifecycle = newLifecycleUseCase(uc)
	uc.Sync = newSyncUseCase(uc)
	uc.Confirm = newConfirmUseCase(uc)

	return uc, nil
}

// Bus exposes the synchronization bus for workers and controllers
func (uc *UseCases) Bus() interfaces.EventBus {
	return uc.bus
}

// visibleTo is the bus visibility filter. Internal workers see everything;
// agents see only events whose snapshot they could read. Events without a
// snapshot carry no payload, so withholding them hides nothing.
func (uc *UseCases) visibleTo(ctx context.Context, agentID types.AgentID, event *model.Event) bool {
	if agentID.IsSystem() {
		return true
	}
	if event.Snapshot == nil {
		return true
	}
	return uc.Access.CanRead(ctx, agentID, event.Snapshot)
}
