package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/txn"
	"github.com/secmon-lab/mnemosyne/pkg/utils/async"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// SystemDedupAgentID is the actor recorded on automatic merges
const SystemDedupAgentID types.AgentID = "system-dedup"

// Records fetched per backstop rescan pass
const dedupRescanBatch = 200

// DedupUseCase scans records for duplicates and resolves what it finds.
// Exact duplicates within one owner merge automatically into the older
// record; near duplicates become recommendations that an agent must accept;
// related pairs leave an audit relation; distinct pairs leave nothing.
type DedupUseCase struct {
	uc *UseCases
}

func newDedupUseCase(uc *UseCases) *DedupUseCase {
	return &DedupUseCase{uc: uc}
}

// ScanRecord classifies the record against its duplicate candidates.
// Missing or deleted records scan to nothing. Oracle failures skip the
// similarity stage; the periodic rescan covers the gap.
func (d *DedupUseCase) ScanRecord(ctx context.Context, recordID types.RecordID) error {
	record, err := d.uc.repo.Record().Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	if record.State == types.LifecycleDeleted {
		return nil
	}

	if err := d.scanExact(ctx, record); err != nil {
		return err
	}

	// The exact stage may have merged the record away
	record, err = d.uc.repo.Record().Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	if record.State == types.LifecycleDeleted {
		return nil
	}
	return d.scanNear(ctx, record)
}

// RescanUpdatedSince re-runs the duplicate scan over records written since
// the given time. It is the backstop for scans lost to oracle outages or
// trimmed bus history. Returns how many records were scanned.
func (d *DedupUseCase) RescanUpdatedSince(ctx context.Context, since time.Time) (int, error) {
	records, err := d.uc.repo.Record().ListUpdatedSince(ctx, since, dedupRescanBatch)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if err := d.ScanRecord(ctx, record.ID); err != nil {
			logging.From(ctx).Warn("Rescan failed for record",
				"error", err, "record_id", record.ID)
			continue
		}
		count++
	}
	return count, nil
}

// ApplyMerge executes an accepted merge recommendation. The agent must hold
// admin on the surviving record and present a confirmation token for the
// recommendation. Re-applying an applied recommendation is a no-op.
func (d *DedupUseCase) ApplyMerge(ctx context.Context, agentID types.AgentID, recommendationID, token string) error {
	if err := agentID.Validate(); err != nil {
		return err
	}
	if recommendationID == "" {
		return goerr.New("recommendation ID is required", goerr.T(types.ErrTagValidation))
	}

	rec, err := d.uc.repo.Duplicate().GetRecommendation(ctx, recommendationID)
	if err != nil {
		return err
	}
	if rec.Applied() {
		return nil
	}

	target, err := d.uc.repo.Record().Get(ctx, rec.TargetID)
	if err != nil {
		return err
	}
	if err := d.uc.Access.Require(ctx, agentID, target, types.PermissionAdmin); err != nil {
		return err
	}
	if err := d.uc.Confirm.spend(ctx, token, model.ConfirmMerge, rec.ID, agentID); err != nil {
		return err
	}

	var sourcePre *model.Record
	contentChanged := rec.MergedContent != "" && rec.MergedContent != target.Content
	err = d.uc.co.RunAtomic(ctx, []types.RecordID{rec.TargetID, rec.SourceID}, func(tx *txn.Tx) error {
		fresh, err := d.uc.repo.Duplicate().GetRecommendation(ctx, recommendationID)
		if err != nil {
			return err
		}
		if fresh.Applied() {
			return nil
		}

		source, err := tx.Get(ctx, rec.SourceID)
		if err != nil {
			return err
		}
		sourcePre = source

		if err := d.mergeInto(ctx, tx, rec.TargetID, rec.SourceID, agentID, rec.Score, types.DupNear, rec.MergedContent); err != nil {
			return err
		}

		at := d.uc.now()
		fresh.AppliedAt = &at
		return tx.PutRecommendation(fresh)
	})
	if err != nil {
		return err
	}
	if sourcePre == nil {
		return nil
	}

	d.mergeCleanup(ctx, rec.TargetID, sourcePre, rec.Score, contentChanged)
	return nil
}

// ListRecommendations returns the agent's pending merge proposals
func (d *DedupUseCase) ListRecommendations(ctx context.Context, agentID types.AgentID) ([]*model.MergeRecommendation, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	return d.uc.repo.Duplicate().ListPendingByAgent(ctx, agentID)
}

// ListRelations returns the audit relations touching a record. Relations of
// a deleted record stay visible to its owner; they are the merge audit
// trail.
func (d *DedupUseCase) ListRelations(ctx context.Context, agentID types.AgentID, recordID types.RecordID) ([]*model.DuplicateRelation, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	record, err := d.uc.repo.Record().Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.State == types.LifecycleDeleted {
		if agentID != record.AgentID {
			return nil, goerr.Wrap(model.ErrNotFound, "record not found",
				goerr.V(model.RecordIDKey, recordID))
		}
	} else if err := d.uc.Access.Require(ctx, agentID, record, types.PermissionRead); err != nil {
		return nil, err
	}
	return d.uc.repo.Duplicate().ListRelationsByRecord(ctx, recordID)
}

// scanExact merges same-owner records whose normalized content hashes
// match. The oldest record of the group survives. Cross-owner exact matches
// are never merged; they leave an audit relation instead.
func (d *DedupUseCase) scanExact(ctx context.Context, record *model.Record) error {
	matches, err := d.uc.repo.Record().FindByContentHash(ctx, record.ContentHash)
	if err != nil {
		return err
	}

	group := []*model.Record{record}
	for _, match := range matches {
		if match.ID == record.ID {
			continue
		}
		if !d.inScope(ctx, record, match) {
			continue
		}
		if match.AgentID == record.AgentID {
			group = append(group, match)
			continue
		}
		if err := d.recordCrossOwnerExact(ctx, record, match); err != nil {
			return err
		}
	}
	if len(group) < 2 {
		return nil
	}

	sort.Slice(group, func(i, j int) bool {
		if group[i].CreatedAt.Equal(group[j].CreatedAt) {
			return group[i].ID < group[j].ID
		}
		return group[i].CreatedAt.Before(group[j].CreatedAt)
	})

	target := group[0]
	for _, source := range group[1:] {
		if err := d.autoMerge(ctx, target.ID, source.ID); err != nil {
			return err
		}
	}
	return nil
}

// scanNear classifies the record against its nearest neighbors in the
// vector index. Without a vector stack or a stored embedding the stage is
// skipped; exact-hash detection already ran.
func (d *DedupUseCase) scanNear(ctx context.Context, record *model.Record) error {
	if d.uc.oracle == nil || d.uc.index == nil || record.Embedding == "" {
		return nil
	}

	matches, err := d.uc.index.SearchByRef(ctx, record.Embedding, d.uc.policy.ScanLimit)
	if err != nil {
		return goerr.Wrap(err, "vector candidate lookup failed",
			goerr.V(model.RecordIDKey, record.ID))
	}

	for _, match := range matches {
		if match.RecordID == record.ID {
			continue
		}
		candidate, err := d.uc.repo.Record().Get(ctx, match.RecordID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return err
		}
		if candidate.State == types.LifecycleDeleted {
			continue
		}
		// Identical hashes belong to the exact stage
		if candidate.ContentHash == record.ContentHash {
			continue
		}
		if !d.inScope(ctx, record, candidate) {
			continue
		}

		if err := d.classifyPair(ctx, record, candidate); err != nil {
			if goerr.HasTag(err, types.ErrTagOracleUnavailable) {
				logging.From(ctx).Warn("Similarity oracle unavailable, scan skipped",
					"error", err,
					"record_id", record.ID, "candidate_id", candidate.ID)
				return nil
			}
			return err
		}
	}
	return nil
}

// classifyPair scores one candidate pair and acts on the class. Pairs with
// a live recommendation are left alone; related pairs refresh their audit
// relation on every pass.
func (d *DedupUseCase) classifyPair(ctx context.Context, record, candidate *model.Record) error {
	if _, err := d.uc.repo.Duplicate().GetRecommendationByPair(ctx, record.ID, candidate.ID); err == nil {
		return nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	score, err := d.uc.oracle.Score(ctx, record, candidate)
	if err != nil {
		return err
	}

	switch {
	case score >= d.uc.policy.NearThreshold:
		return d.proposeMerge(ctx, record, candidate, score)
	case score >= d.uc.policy.RelatedFloor:
		return d.recordRelated(ctx, record, candidate, score)
	default:
		return nil
	}
}

// proposeMerge drafts a merge recommendation for a near pair. The proposal
// is never applied here; the owner of the survivor reviews it.
func (d *DedupUseCase) proposeMerge(ctx context.Context, record, candidate *model.Record, score float64) error {
	target, source := orderPair(record, candidate)
	mergedContent := d.composeContent(ctx, target, source)
	_, conflicts := model.UnionMetadata(target.Metadata, source.Metadata)

	var created *model.MergeRecommendation
	err := d.uc.co.RunAtomic(ctx, []types.RecordID{target.ID, source.ID}, func(tx *txn.Tx) error {
		freshTarget, err := tx.Get(ctx, target.ID)
		if err != nil {
			return err
		}
		freshSource, err := tx.Get(ctx, source.ID)
		if err != nil {
			return err
		}
		// The pair may have been resolved while we were scoring
		if freshTarget.State == types.LifecycleDeleted || freshSource.State == types.LifecycleDeleted {
			return nil
		}
		if _, err := d.uc.repo.Duplicate().GetRecommendationByPair(ctx, target.ID, source.ID); err == nil {
			return nil
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		rec := model.NewMergeRecommendation(source.ID, target.ID, freshTarget.AgentID, score, mergedContent, conflicts)
		if err := tx.PutRecommendation(rec); err != nil {
			return err
		}
		created = rec
		return nil
	})
	if err != nil {
		return err
	}
	if created == nil {
		return nil
	}

	notifier := d.uc.notifier
	async.Dispatch(ctx, "merge-proposal-notify", func(ctx context.Context) error {
		if err := notifier.NotifyMergeProposal(ctx, created); err != nil {
			logging.From(ctx).Warn("Merge proposal notification failed",
				"error", err, "recommendation_id", created.ID)
		}
		return nil
	})
	return nil
}

// recordRelated upserts the audit relation for a pair in the related band
// and mirrors it as a graph edge
func (d *DedupUseCase) recordRelated(ctx context.Context, record, candidate *model.Record, score float64) error {
	target, source := orderPair(record, candidate)
	relation := model.NewDuplicateRelation(source.ID, target.ID, score, types.DupRelated)
	relation.Resolution = types.DupKeptBoth
	if err := d.uc.repo.Duplicate().PutRelation(ctx, relation); err != nil {
		return err
	}

	if d.uc.graph != nil {
		edge := &interfaces.GraphEdge{
			From:   source.ID,
			To:     target.ID,
			Kind:   interfaces.EdgeRelated,
			Weight: score,
		}
		if err := d.uc.graph.PutEdge(ctx, edge); err != nil {
			logging.From(ctx).Warn("Graph edge write failed",
				"error", err, "record_id", source.ID)
		}
	}
	return nil
}

// recordCrossOwnerExact leaves an audit relation for an exact match that
// spans two owners. Merging would move content across an access boundary,
// so both records stay.
func (d *DedupUseCase) recordCrossOwnerExact(ctx context.Context, record, match *model.Record) error {
	target, source := orderPair(record, match)
	relation := model.NewDuplicateRelation(source.ID, target.ID, 1.0, types.DupExact)
	relation.Resolution = types.DupKeptBoth
	return d.uc.repo.Duplicate().PutRelation(ctx, relation)
}

// autoMerge folds source into target under both locks and mirrors the
// result into the external stores
func (d *DedupUseCase) autoMerge(ctx context.Context, targetID, sourceID types.RecordID) error {
	var sourcePre *model.Record
	err := d.uc.co.RunAtomic(ctx, []types.RecordID{targetID, sourceID}, func(tx *txn.Tx) error {
		source, err := tx.Get(ctx, sourceID)
		if err != nil {
			return err
		}
		sourcePre = source
		return d.mergeInto(ctx, tx, targetID, sourceID, SystemDedupAgentID, 1.0, types.DupExact, "")
	})
	if err != nil {
		// Someone else resolved the pair first; the scan that follows their
		// write settles the rest
		if goerr.HasTag(err, types.ErrTagConflict) {
			logging.From(ctx).Info("Merge abandoned, pair changed underneath",
				"target_id", targetID, "source_id", sourceID)
			return nil
		}
		return err
	}
	if sourcePre == nil {
		return nil
	}

	d.mergeCleanup(ctx, targetID, sourcePre, 1.0, false)
	return nil
}

// mergeInto folds source into target inside the transaction: metadata
// union with target precedence, space tags union, source superseded with a
// back-reference and a tombstone, and an audit relation marking the merge.
// Re-running a completed merge is a no-op.
func (d *DedupUseCase) mergeInto(ctx context.Context, tx *txn.Tx, targetID, sourceID types.RecordID, actor types.AgentID, score float64, class types.DupClass, mergedContent string) error {
	target, err := tx.Get(ctx, targetID)
	if err != nil {
		return err
	}
	source, err := tx.Get(ctx, sourceID)
	if err != nil {
		return err
	}

	if source.State == types.LifecycleDeleted {
		if source.MergedInto == targetID {
			return nil
		}
		return goerr.New("merge source was deleted by another operation",
			goerr.T(types.ErrTagConflict), goerr.V(model.RecordIDKey, sourceID))
	}
	if target.State == types.LifecycleDeleted {
		return goerr.New("merge target was deleted by another operation",
			goerr.T(types.ErrTagConflict), goerr.V(model.RecordIDKey, targetID))
	}

	changed := []string{"metadata"}
	merged, conflicts := model.UnionMetadata(target.Metadata, source.Metadata)
	target.Metadata = merged
	if len(conflicts) > 0 {
		logging.From(ctx).Info("Merge kept target values for conflicting metadata keys",
			"record_id", targetID, "conflicting_keys", len(conflicts))
	}

	if mergedContent != "" && mergedContent != target.Content {
		target.Content = mergedContent
		target.ContentHash = model.HashContent(mergedContent)
		changed = append(changed, "content")
	}

	spacesChanged := false
	for _, spaceID := range source.SpaceIDs {
		if !target.InSpace(spaceID) {
			target.SpaceIDs = append(target.SpaceIDs, spaceID)
			spacesChanged = true
		}
	}
	if spacesChanged {
		changed = append(changed, "space_ids")
	}

	if err := tx.Put(target, actor, types.EventMerged, changed...); err != nil {
		return err
	}

	// The superseded row keeps its payload until purge so the merge stays
	// auditable
	now := d.uc.now()
	source.State = types.LifecycleDeleted
	source.MergedInto = targetID
	source.StateChangedAt = now
	if err := tx.Put(source, actor, types.EventMerged, "state", "merged_into"); err != nil {
		return err
	}

	finalSource, err := tx.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	if err := tx.PutTombstone(model.NewTombstone(finalSource, model.TombstoneSuperseded, d.uc.policy.DeleteAfter, now)); err != nil {
		return err
	}

	relation := model.NewDuplicateRelation(sourceID, targetID, score, class)
	relation.Resolution = types.DupMergedIntoTarget
	return tx.PutRelation(relation)
}

// mergeCleanup mirrors a committed merge into the external stores: lineage
// edge, source embedding removal, cold snapshot of the superseded record,
// and a fresh embedding for the survivor when its content changed
func (d *DedupUseCase) mergeCleanup(ctx context.Context, targetID types.RecordID, source *model.Record, weight float64, contentChanged bool) {
	uc := d.uc
	async.Dispatch(ctx, "merge-cleanup", func(ctx context.Context) error {
		if uc.graph != nil {
			edge := &interfaces.GraphEdge{
				From:   source.ID,
				To:     targetID,
				Kind:   interfaces.EdgeMergedInto,
				Weight: weight,
			}
			if err := uc.graph.PutEdge(ctx, edge); err != nil {
				logging.From(ctx).Warn("Graph lineage edge write failed",
					"error", err, "record_id", source.ID)
			}
		}
		if uc.index != nil && source.Embedding != "" {
			if err := uc.index.Delete(ctx, source.Embedding); err != nil {
				logging.From(ctx).Warn("Vector index cleanup failed",
					"error", err, "record_id", source.ID)
			}
		}
		if uc.archiver != nil {
			if _, err := uc.archiver.Store(ctx, source); err != nil {
				logging.From(ctx).Warn("Snapshot archive failed",
					"error", err, "record_id", source.ID)
			}
		}
		if contentChanged {
			target, err := uc.repo.Record().Get(ctx, targetID)
			if err == nil && target.State != types.LifecycleDeleted {
				uc.Record.embedFor(ctx, target.ID, target.Content)
			}
		}
		return nil
	})
}

// composeContent drafts the survivor content for a proposal. Without a
// composer the bodies are concatenated, target first, which keeps the
// draft deterministic.
func (d *DedupUseCase) composeContent(ctx context.Context, target, source *model.Record) string {
	if d.uc.composer != nil {
		content, err := d.uc.composer.ComposeMerged(ctx, target, source)
		if err != nil {
			logging.From(ctx).Warn("Merge content drafting failed, falling back to concatenation",
				"error", err, "record_id", target.ID)
		} else if strings.TrimSpace(content) != "" && len(content) <= model.MaxContentSize {
			return content
		}
	}

	combined := target.Content + "\n\n" + source.Content
	if len(combined) > model.MaxContentSize {
		return target.Content
	}
	return combined
}

// inScope mirrors the dedup visibility rule: a candidate counts only when
// the scanned record's owner could read it
func (d *DedupUseCase) inScope(ctx context.Context, record, candidate *model.Record) bool {
	if candidate.AgentID == record.AgentID {
		return true
	}
	return d.uc.Access.CanRead(ctx, record.AgentID, candidate)
}

// orderPair returns the pair as (target, source): the older record
// survives, ties broken by ID
func orderPair(a, b *model.Record) (target, source *model.Record) {
	if a.CreatedAt.Equal(b.CreatedAt) {
		if a.ID < b.ID {
			return a, b
		}
		return b, a
	}
	if a.CreatedAt.Before(b.CreatedAt) {
		return a, b
	}
	return b, a
}
