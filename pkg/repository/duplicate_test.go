package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/repository/firestore"
	"github.com/secmon-lab/mnemosyne/pkg/repository/memory"
)

func runDuplicateRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("PutRelation upserts by unordered pair", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		source := types.NewRecordID()
		target := types.NewRecordID()

		first := model.NewDuplicateRelation(source, target, 0.91, types.DupClassNear)
		if err := repo.Duplicate().PutRelation(ctx, first); err != nil {
			t.Fatalf("failed to put relation: %v", err)
		}

		// A rescan from the other direction must update the same entry
		second := model.NewDuplicateRelation(target, source, 0.95, types.DupClassNear)
		if err := repo.Duplicate().PutRelation(ctx, second); err != nil {
			t.Fatalf("failed to put relation: %v", err)
		}

		got, err := repo.Duplicate().GetRelationByPair(ctx, source, target)
		if err != nil {
			t.Fatalf("failed to get relation: %v", err)
		}
		if got.Score != 0.95 {
			t.Errorf("expected upserted score 0.95, got %f", got.Score)
		}

		flipped, err := repo.Duplicate().GetRelationByPair(ctx, target, source)
		if err != nil {
			t.Fatalf("failed to get relation with flipped pair: %v", err)
		}
		if flipped.Score != got.Score {
			t.Errorf("pair lookup must be order independent")
		}
	})

	t.Run("GetRelationByPair missing returns not found", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Duplicate().GetRelationByPair(ctx, types.NewRecordID(), types.NewRecordID())
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListRelationsByRecord matches either side", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		pivot := types.NewRecordID()
		asSource := model.NewDuplicateRelation(pivot, types.NewRecordID(), 0.7, types.DupClassRelated)
		asTarget := model.NewDuplicateRelation(types.NewRecordID(), pivot, 0.6, types.DupClassRelated)
		unrelated := model.NewDuplicateRelation(types.NewRecordID(), types.NewRecordID(), 0.8, types.DupClassRelated)

		for _, rel := range []*model.DuplicateRelation{asSource, asTarget, unrelated} {
			if err := repo.Duplicate().PutRelation(ctx, rel); err != nil {
				t.Fatalf("failed to put relation: %v", err)
			}
		}

		got, err := repo.Duplicate().ListRelationsByRecord(ctx, pivot)
		if err != nil {
			t.Fatalf("failed to list relations: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 relations, got %d", len(got))
		}
	})

	t.Run("Recommendation roundtrip and pair lookup", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		source := types.NewRecordID()
		target := types.NewRecordID()
		owner := newTestAgentID()

		conflicts := []model.MetaConflict{
			{Key: "priority", Kept: model.MetaString("high"), Dropped: model.MetaString("low")},
		}
		rec := model.NewMergeRecommendation(source, target, owner, 0.88, "merged content proposal", conflicts)

		if err := repo.Duplicate().PutRecommendation(ctx, rec); err != nil {
			t.Fatalf("failed to put recommendation: %v", err)
		}

		got, err := repo.Duplicate().GetRecommendation(ctx, rec.ID)
		if err != nil {
			t.Fatalf("failed to get recommendation: %v", err)
		}
		if got.SourceID != source || got.TargetID != target {
			t.Errorf("unexpected pair: %s -> %s", got.SourceID, got.TargetID)
		}
		if got.Score != 0.88 {
			t.Errorf("expected score 0.88, got %f", got.Score)
		}
		if got.MergedContent != "merged content proposal" {
			t.Errorf("unexpected merged content: %q", got.MergedContent)
		}
		if len(got.Conflicts) != 1 {
			t.Fatalf("expected 1 conflict, got %d", len(got.Conflicts))
		}
		if got.Conflicts[0].Key != "priority" {
			t.Errorf("expected conflict key priority, got %s", got.Conflicts[0].Key)
		}
		if !got.Conflicts[0].Kept.Equal(model.MetaString("high")) {
			t.Errorf("unexpected kept value: %v", got.Conflicts[0].Kept)
		}
		if got.Applied() {
			t.Error("fresh recommendation must not be applied")
		}

		byPair, err := repo.Duplicate().GetRecommendationByPair(ctx, target, source)
		if err != nil {
			t.Fatalf("failed to get recommendation by pair: %v", err)
		}
		if byPair.ID != rec.ID {
			t.Errorf("expected recommendation %s, got %s", rec.ID, byPair.ID)
		}
	})

	t.Run("ListPendingByAgent excludes applied recommendations", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		owner := newTestAgentID()
		pending := model.NewMergeRecommendation(types.NewRecordID(), types.NewRecordID(), owner, 0.9, "pending merge", nil)
		applied := model.NewMergeRecommendation(types.NewRecordID(), types.NewRecordID(), owner, 0.86, "applied merge", nil)
		appliedAt := time.Now().UTC().Truncate(time.Second)
		applied.AppliedAt = &appliedAt
		foreign := model.NewMergeRecommendation(types.NewRecordID(), types.NewRecordID(), newTestAgentID(), 0.87, "someone else", nil)

		for _, rec := range []*model.MergeRecommendation{pending, applied, foreign} {
			if err := repo.Duplicate().PutRecommendation(ctx, rec); err != nil {
				t.Fatalf("failed to put recommendation: %v", err)
			}
		}

		got, err := repo.Duplicate().ListPendingByAgent(ctx, owner)
		if err != nil {
			t.Fatalf("failed to list pending recommendations: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 pending recommendation, got %d", len(got))
		}
		if got[0].ID != pending.ID {
			t.Errorf("expected recommendation %s, got %s", pending.ID, got[0].ID)
		}
	})
}

func newFirestoreDuplicateRepository(t *testing.T) interfaces.Repository {
	t.Helper()

	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	if projectID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID not set")
	}

	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if databaseID == "" {
		t.Skip("TEST_FIRESTORE_DATABASE_ID not set")
	}

	ctx := context.Background()
	repo, err := firestore.New(ctx, projectID, databaseID)
	if err != nil {
		t.Fatalf("failed to create firestore repository: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("failed to close firestore repository: %v", err)
		}
	})
	return repo
}

func TestMemoryDuplicateRepository(t *testing.T) {
	runDuplicateRepositoryTest(t, func(t *testing.T) interfaces.Repository {
		return memory.New()
	})
}

func TestFirestoreDuplicateRepository(t *testing.T) {
	runDuplicateRepositoryTest(t, newFirestoreDuplicateRepository)
}
