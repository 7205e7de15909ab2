package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/txn"
	"github.com/secmon-lab/mnemosyne/pkg/utils/async"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// Search result paging bounds
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// RecordUseCase implements the record operations: create, read, update,
// delete, and search. Destructive deletes require a spent confirmation
// token; every committed mutation reaches the bus through the coordinator.
type RecordUseCase struct {
	uc *UseCases
}

func newRecordUseCase(uc *UseCases) *RecordUseCase {
	return &RecordUseCase{uc: uc}
}

// CreateRecordInput carries the caller-supplied fields of a new record
type CreateRecordInput struct {
	Content  string
	Category string
	Metadata map[string]model.MetaValue
	Sharing  types.SharingPolicy // empty means private
	SpaceIDs []types.SpaceID
	TTL      *time.Time
}

// UpdateRecordInput carries a partial update. Nil pointers keep the stored
// value; ExpectedVersion must match the stored version or the update fails
// with a version conflict.
type UpdateRecordInput struct {
	Content         *string
	Category        *string
	Metadata        map[string]model.MetaValue // nil keeps existing
	TTL             *time.Time
	ClearTTL        bool
	ExpectedVersion int64
}

// Create stores a new record owned by the agent. When the record is tagged
// into spaces without an explicit sharing choice it adopts the first space's
// default sharing.
func (r *RecordUseCase) Create(ctx context.Context, agentID types.AgentID, input CreateRecordInput) (*model.Record, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	if input.Sharing != "" && !input.Sharing.IsValid() {
		return nil, goerr.New("invalid sharing policy",
			goerr.T(types.ErrTagValidation), goerr.V("sharing", input.Sharing))
	}
	if input.TTL != nil && !input.TTL.After(r.uc.now()) {
		return nil, goerr.New("ttl deadline must be in the future",
			goerr.T(types.ErrTagValidation),
			goerr.V("ttl", input.TTL.UTC().Format(time.RFC3339)))
	}

	var spaces []*model.SharedSpace
	seen := make(map[types.SpaceID]bool, len(input.SpaceIDs))
	spaceIDs := make([]types.SpaceID, 0, len(input.SpaceIDs))
	for _, spaceID := range input.SpaceIDs {
		if seen[spaceID] {
			continue
		}
		seen[spaceID] = true
		space, err := r.uc.repo.Space().Get(ctx, spaceID)
		if err != nil {
			return nil, err
		}
		if !space.IsMember(agentID) {
			return nil, goerr.Wrap(model.ErrNotSpaceMember, "agent cannot tag records into a space it does not belong to",
				goerr.T(types.ErrTagPermission),
				goerr.V(model.SpaceIDKey, spaceID), goerr.V(model.AgentIDKey, agentID))
		}
		spaces = append(spaces, space)
		spaceIDs = append(spaceIDs, spaceID)
	}

	record := model.NewRecord(agentID, input.Content)
	record.Category = input.Category
	record.Metadata = model.CloneMetadata(input.Metadata)
	if len(spaceIDs) > 0 {
		record.SpaceIDs = spaceIDs
	}
	if input.Sharing != "" {
		record.Sharing = input.Sharing
	} else if len(spaces) > 0 {
		record.Sharing = spaceDefaultSharing(spaces[0])
	}
	if input.TTL != nil {
		ttl := input.TTL.UTC()
		record.TTL = &ttl
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	record.Embedding = r.embedFor(ctx, record.ID, record.Content)

	err := r.uc.co.RunAtomic(ctx, []types.RecordID{record.ID}, func(tx *txn.Tx) error {
		return tx.Create(record, agentID)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Get returns a record the agent may read. Reads refresh the record's
// access time without bumping its version.
func (r *RecordUseCase) Get(ctx context.Context, agentID types.AgentID, recordID types.RecordID) (*model.Record, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	if err := recordID.Validate(); err != nil {
		return nil, err
	}

	record, err := r.uc.repo.Record().Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := deletedAsMissing(record); err != nil {
		return nil, err
	}
	if err := r.uc.Access.Require(ctx, agentID, record, types.PermissionRead); err != nil {
		return nil, err
	}

	at := r.uc.now()
	repo := r.uc.repo
	async.Dispatch(ctx, "touch-access", func(ctx context.Context) error {
		return repo.Record().TouchAccess(ctx, recordID, at)
	})

	return record, nil
}

// Update applies a partial update under optimistic concurrency. A stale
// ExpectedVersion fails with a conflict error; the caller re-reads and
// retries with the fresh version.
func (r *RecordUseCase) Update(ctx context.Context, agentID types.AgentID, recordID types.RecordID, input UpdateRecordInput) (*model.Record, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	if err := recordID.Validate(); err != nil {
		return nil, err
	}
	if input.ExpectedVersion < 1 {
		return nil, goerr.New("expected version is required",
			goerr.T(types.ErrTagValidation), goerr.V(model.RecordIDKey, recordID))
	}
	if input.Content != nil {
		if strings.TrimSpace(*input.Content) == "" {
			return nil, goerr.Wrap(model.ErrEmptyContent, "record content is required",
				goerr.T(types.ErrTagValidation), goerr.V(model.RecordIDKey, recordID))
		}
		if len(*input.Content) > model.MaxContentSize {
			return nil, goerr.Wrap(model.ErrContentTooLarge, "record content too large",
				goerr.T(types.ErrTagValidation),
				goerr.V(model.RecordIDKey, recordID), goerr.V("size", len(*input.Content)))
		}
	}
	if input.TTL != nil && !input.TTL.After(r.uc.now()) {
		return nil, goerr.New("ttl deadline must be in the future",
			goerr.T(types.ErrTagValidation),
			goerr.V("ttl", input.TTL.UTC().Format(time.RFC3339)))
	}
	for key, value := range input.Metadata {
		if err := value.Validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid metadata", goerr.V(model.MetaKeyKey, key))
		}
	}

	var newRef types.EmbeddingRef
	if input.Content != nil {
		newRef = r.embedFor(ctx, recordID, *input.Content)
	}

	var updated *model.Record
	err := r.uc.co.RunAtomic(ctx, []types.RecordID{recordID}, func(tx *txn.Tx) error {
		record, err := tx.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if err := deletedAsMissing(record); err != nil {
			return err
		}
		if err := r.uc.Access.Require(ctx, agentID, record, types.PermissionWrite); err != nil {
			return err
		}
		if record.Version != input.ExpectedVersion {
			return goerr.New("record version conflict",
				goerr.T(types.ErrTagConflict),
				goerr.V(model.RecordIDKey, recordID),
				goerr.V(model.VersionKey, record.Version),
				goerr.V("expected_version", input.ExpectedVersion))
		}

		var changed []string
		if input.Content != nil && *input.Content != record.Content {
			record.Content = *input.Content
			record.ContentHash = model.HashContent(record.Content)
			if newRef != "" {
				record.Embedding = newRef
			}
			changed = append(changed, "content")
		}
		if input.Category != nil && *input.Category != record.Category {
			record.Category = *input.Category
			changed = append(changed, "category")
		}
		if input.Metadata != nil {
			record.Metadata = model.CloneMetadata(input.Metadata)
			changed = append(changed, "metadata")
		}
		if input.TTL != nil {
			ttl := input.TTL.UTC()
			record.TTL = &ttl
			changed = append(changed, "ttl")
		} else if input.ClearTTL && record.TTL != nil {
			record.TTL = nil
			changed = append(changed, "ttl")
		}

		if len(changed) == 0 {
			updated = record
			return nil
		}

		if err := tx.Put(record, agentID, types.EventUpdated, changed...); err != nil {
			return err
		}
		updated, err = tx.Get(ctx, recordID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete marks the record deleted and drops its payload. The caller must
// present a confirmation token for this record. Deleting an already-deleted
// record is a no-op.
func (r *RecordUseCase) Delete(ctx context.Context, agentID types.AgentID, recordID types.RecordID, token string) error {
	if err := agentID.Validate(); err != nil {
		return err
	}
	if err := recordID.Validate(); err != nil {
		return err
	}

	// A tombstone means a prior delete completed; repeating it costs nothing
	if _, err := r.uc.repo.Tombstone().Get(ctx, recordID); err == nil {
		return nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	current, err := r.uc.repo.Record().Get(ctx, recordID)
	if err != nil {
		return err
	}
	if current.State == types.LifecycleDeleted {
		return nil
	}
	if err := r.uc.Access.Require(ctx, agentID, current, types.PermissionAdmin); err != nil {
		return err
	}
	if err := r.uc.Confirm.spend(ctx, token, model.ConfirmDelete, recordID.String(), agentID); err != nil {
		return err
	}

	var preImage *model.Record
	err = r.uc.co.RunAtomic(ctx, []types.RecordID{recordID}, func(tx *txn.Tx) error {
		record, err := tx.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if record.State == types.LifecycleDeleted {
			return nil
		}
		if err := r.uc.Access.Require(ctx, agentID, record, types.PermissionAdmin); err != nil {
			return err
		}

		preImage = record.Clone()

		// The row keeps identity and lineage only; the payload is gone the
		// moment the delete commits
		now := r.uc.now()
		record.Content = ""
		record.ContentHash = ""
		record.Metadata = nil
		record.Embedding = ""
		record.State = types.LifecycleDeleted
		record.StateChangedAt = now
		if err := tx.Put(record, agentID, types.EventDeleted, "state"); err != nil {
			return err
		}

		final, err := tx.Get(ctx, recordID)
		if err != nil {
			return err
		}
		return tx.PutTombstone(model.NewTombstone(final, model.TombstoneDeleted, r.uc.policy.DeleteAfter, now))
	})
	if err != nil {
		return err
	}
	if preImage == nil {
		return nil
	}

	r.cleanupExternal(ctx, preImage)
	return nil
}

// SearchQuery narrows a record search. Zero values widen: no text means
// list order, no states means active and stale.
type SearchQuery struct {
	Text     string
	Category string
	SpaceID  types.SpaceID
	States   []types.LifecycleState
	Limit    int
}

// Search returns records the agent may read, best match first when a text
// query and the vector stack are available
func (r *RecordUseCase) Search(ctx context.Context, agentID types.AgentID, query SearchQuery) ([]*model.Record, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	states := query.States
	if len(states) == 0 {
		states = []types.LifecycleState{types.LifecycleActive, types.LifecycleStale}
	}
	allowed := make(map[types.LifecycleState]bool, len(states))
	for _, state := range states {
		if !state.IsValid() || state == types.LifecycleDeleted {
			return nil, goerr.New("state is not searchable",
				goerr.T(types.ErrTagValidation), goerr.V(model.StateKey, state))
		}
		allowed[state] = true
	}
	if query.SpaceID != "" {
		if err := query.SpaceID.Validate(); err != nil {
			return nil, err
		}
	}

	candidates, err := r.candidates(ctx, agentID, query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]*model.Record, 0, limit)
	for _, record := range candidates {
		if !allowed[record.State.Normalize()] {
			continue
		}
		if query.Category != "" && record.Category != query.Category {
			continue
		}
		if query.SpaceID != "" && !record.InSpace(query.SpaceID) {
			continue
		}
		if !r.uc.Access.CanRead(ctx, agentID, record) {
			continue
		}
		results = append(results, record)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// ListOwn returns the agent's records, newest first
func (r *RecordUseCase) ListOwn(ctx context.Context, agentID types.AgentID, limit, offset int) ([]*model.Record, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	if limit < 0 || offset < 0 {
		return nil, goerr.New("limit and offset must be non-negative",
			goerr.T(types.ErrTagValidation),
			goerr.V("limit", limit), goerr.V("offset", offset))
	}
	return r.uc.repo.Record().ListByAgent(ctx, agentID, limit, offset)
}

// candidates over-fetches threefold so post-filtering can still fill the
// requested page
func (r *RecordUseCase) candidates(ctx context.Context, agentID types.AgentID, query SearchQuery, limit int) ([]*model.Record, error) {
	fetch := limit * 3

	if query.Text != "" && r.uc.embedder != nil && r.uc.index != nil {
		records, err := r.vectorCandidates(ctx, query.Text, fetch)
		if err == nil {
			return records, nil
		}
		logging.From(ctx).Warn("Vector search degraded to list filtering", "error", err)
	}

	var records []*model.Record
	var err error
	if query.SpaceID != "" {
		records, err = r.uc.repo.Record().ListBySpace(ctx, query.SpaceID, fetch, 0)
	} else {
		records, err = r.uc.repo.Record().ListByAgent(ctx, agentID, fetch, 0)
	}
	if err != nil {
		return nil, err
	}
	if query.Text != "" {
		records = filterByText(records, query.Text)
	}
	return records, nil
}

func (r *RecordUseCase) vectorCandidates(ctx context.Context, text string, fetch int) ([]*model.Record, error) {
	vector, err := r.uc.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	matches, err := r.uc.index.Search(ctx, vector, fetch)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]types.RecordID, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, match.RecordID)
	}
	records, err := r.uc.repo.Record().GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	// GetMany does not promise order; restore best-match order
	byID := make(map[types.RecordID]*model.Record, len(records))
	for _, record := range records {
		byID[record.ID] = record
	}
	ordered := make([]*model.Record, 0, len(records))
	for _, match := range matches {
		if record, ok := byID[match.RecordID]; ok {
			ordered = append(ordered, record)
		}
	}
	return ordered, nil
}

// filterByText keeps records whose normalized content contains the
// normalized query. This is the degraded path when no vector stack is
// configured.
func filterByText(records []*model.Record, text string) []*model.Record {
	needle := model.NormalizeContent(text)
	if needle == "" {
		return records
	}
	matched := make([]*model.Record, 0, len(records))
	for _, record := range records {
		if strings.Contains(model.NormalizeContent(record.Content), needle) {
			matched = append(matched, record)
		}
	}
	return matched
}

// embedFor generates and indexes the embedding for the content. Degraded
// paths return an empty ref; the record stays usable and exact-hash dedup
// still covers it.
func (r *RecordUseCase) embedFor(ctx context.Context, recordID types.RecordID, content string) types.EmbeddingRef {
	uc := r.uc
	if uc.embedder == nil || uc.index == nil {
		return ""
	}
	vector, err := uc.embedder.Embed(ctx, content)
	if err != nil {
		logging.From(ctx).Warn("Embedding generation failed, record will rely on exact-hash dedup",
			"error", err, "record_id", recordID)
		return ""
	}
	ref, err := uc.index.Upsert(ctx, recordID, vector)
	if err != nil {
		logging.From(ctx).Warn("Vector index upsert failed",
			"error", err, "record_id", recordID)
		return ""
	}
	return ref
}

// cleanupExternal removes a deleted record from the external stores and
// archives its final payload. Failures only log; each store heals on its
// own schedule.
func (r *RecordUseCase) cleanupExternal(ctx context.Context, preImage *model.Record) {
	uc := r.uc
	async.Dispatch(ctx, "record-cleanup", func(ctx context.Context) error {
		if uc.index != nil && preImage.Embedding != "" {
			if err := uc.index.Delete(ctx, preImage.Embedding); err != nil {
				logging.From(ctx).Warn("Vector index cleanup failed",
					"error", err, "record_id", preImage.ID)
			}
		}
		if uc.graph != nil {
			if err := uc.graph.RemoveRecord(ctx, preImage.ID); err != nil {
				logging.From(ctx).Warn("Graph cleanup failed",
					"error", err, "record_id", preImage.ID)
			}
		}
		if uc.archiver != nil {
			if _, err := uc.archiver.Store(ctx, preImage); err != nil {
				logging.From(ctx).Warn("Snapshot archive failed",
					"error", err, "record_id", preImage.ID)
			}
		}
		return nil
	})
}

// deletedAsMissing hides deleted rows from agent-facing reads. The rows
// stay in the store until their purge grace elapses so merge lineage stays
// auditable.
func deletedAsMissing(record *model.Record) error {
	if record.State == types.LifecycleDeleted {
		return goerr.Wrap(model.ErrNotFound, "record not found",
			goerr.V(model.RecordIDKey, record.ID))
	}
	return nil
}
