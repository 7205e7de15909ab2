package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/repository/memory"
	"github.com/secmon-lab/mnemosyne/pkg/repository/qdrant"
)

func runVectorIndexTest(t *testing.T, newIndex func(t *testing.T) interfaces.VectorIndex) {
	t.Helper()

	t.Run("Upsert keeps ref stable across re-embeds", func(t *testing.T) {
		index := newIndex(t)
		ctx := context.Background()

		recordID := types.NewRecordID()
		first, err := index.Upsert(ctx, recordID, []float32{1, 0, 0})
		if err != nil {
			t.Fatalf("failed to upsert vector: %v", err)
		}
		second, err := index.Upsert(ctx, recordID, []float32{0.9, 0.1, 0})
		if err != nil {
			t.Fatalf("failed to re-upsert vector: %v", err)
		}

		if first == "" {
			t.Error("expected non-empty embedding ref")
		}
		if first != second {
			t.Errorf("expected stable ref, got %s then %s", first, second)
		}
	})

	t.Run("Upsert rejects empty vector", func(t *testing.T) {
		index := newIndex(t)
		ctx := context.Background()

		_, err := index.Upsert(ctx, types.NewRecordID(), nil)
		if err == nil {
			t.Fatal("expected error for empty vector")
		}
		if !goerr.HasTag(err, types.ErrTagValidation) {
			t.Errorf("expected validation tag, got %v", err)
		}
	})

	t.Run("Search ranks by similarity", func(t *testing.T) {
		index := newIndex(t)
		ctx := context.Background()

		nearID := types.NewRecordID()
		farID := types.NewRecordID()
		oppositeID := types.NewRecordID()

		vectors := map[types.RecordID][]float32{
			nearID:     {0.9, 0.1, 0},
			farID:      {0, 1, 0},
			oppositeID: {-1, 0, 0},
		}
		for id, vec := range vectors {
			if _, err := index.Upsert(ctx, id, vec); err != nil {
				t.Fatalf("failed to upsert vector: %v", err)
			}
		}

		matches, err := index.Search(ctx, []float32{1, 0, 0}, 3)
		if err != nil {
			t.Fatalf("failed to search: %v", err)
		}
		if len(matches) != 3 {
			t.Fatalf("expected 3 matches, got %d", len(matches))
		}

		if matches[0].RecordID != nearID {
			t.Errorf("expected nearest record %s first, got %s", nearID, matches[0].RecordID)
		}
		for i := 1; i < len(matches); i++ {
			if matches[i].Score > matches[i-1].Score {
				t.Errorf("scores must be non-increasing: %f then %f", matches[i-1].Score, matches[i].Score)
			}
		}
		for _, match := range matches {
			if match.Score < 0 || match.Score > 1 {
				t.Errorf("score must be clamped to [0, 1], got %f", match.Score)
			}
		}
	})

	t.Run("SearchByRef finds the stored point first", func(t *testing.T) {
		index := newIndex(t)
		ctx := context.Background()

		selfID := types.NewRecordID()
		otherID := types.NewRecordID()
		ref, err := index.Upsert(ctx, selfID, []float32{0, 0, 1})
		if err != nil {
			t.Fatalf("failed to upsert vector: %v", err)
		}
		if _, err := index.Upsert(ctx, otherID, []float32{1, 0, 0}); err != nil {
			t.Fatalf("failed to upsert vector: %v", err)
		}

		matches, err := index.SearchByRef(ctx, ref, 2)
		if err != nil {
			t.Fatalf("failed to search by ref: %v", err)
		}
		if len(matches) == 0 {
			t.Fatal("expected matches")
		}
		if matches[0].RecordID != selfID {
			t.Errorf("expected self match first, got %s", matches[0].RecordID)
		}
		if matches[0].Score < 0.999 {
			t.Errorf("expected self similarity near 1, got %f", matches[0].Score)
		}
	})

	t.Run("Similarity is symmetric and bounded", func(t *testing.T) {
		index := newIndex(t)
		ctx := context.Background()

		refA, err := index.Upsert(ctx, types.NewRecordID(), []float32{1, 0, 0})
		if err != nil {
			t.Fatalf("failed to upsert vector: %v", err)
		}
		refB, err := index.Upsert(ctx, types.NewRecordID(), []float32{0, 1, 0})
		if err != nil {
			t.Fatalf("failed to upsert vector: %v", err)
		}

		ab, err := index.Similarity(ctx, refA, refB)
		if err != nil {
			t.Fatalf("failed to compute similarity: %v", err)
		}
		ba, err := index.Similarity(ctx, refB, refA)
		if err != nil {
			t.Fatalf("failed to compute similarity: %v", err)
		}

		if ab != ba {
			t.Errorf("similarity must be symmetric, got %f and %f", ab, ba)
		}
		if ab != 0 {
			t.Errorf("orthogonal vectors must score 0, got %f", ab)
		}

		self, err := index.Similarity(ctx, refA, refA)
		if err != nil {
			t.Fatalf("failed to compute similarity: %v", err)
		}
		if self < 0.999 {
			t.Errorf("expected self similarity near 1, got %f", self)
		}
	})

	t.Run("Delete removes the embedding", func(t *testing.T) {
		index := newIndex(t)
		ctx := context.Background()

		ref, err := index.Upsert(ctx, types.NewRecordID(), []float32{0.5, 0.5, 0})
		if err != nil {
			t.Fatalf("failed to upsert vector: %v", err)
		}

		if err := index.Delete(ctx, ref); err != nil {
			t.Fatalf("failed to delete embedding: %v", err)
		}

		if _, err := index.SearchByRef(ctx, ref, 1); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestMemoryVectorIndex(t *testing.T) {
	runVectorIndexTest(t, func(t *testing.T) interfaces.VectorIndex {
		return memory.NewVectorIndex()
	})
}

// TestQdrantVectorIndex runs the shared suite against a live Qdrant instance.
// The target collection must exist with a 3-dimensional cosine vector config.
func TestQdrantVectorIndex(t *testing.T) {
	endpoint := os.Getenv("TEST_QDRANT_URL")
	if endpoint == "" {
		t.Skip("TEST_QDRANT_URL not set")
	}
	collection := os.Getenv("TEST_QDRANT_COLLECTION")
	if collection == "" {
		t.Skip("TEST_QDRANT_COLLECTION not set")
	}

	runVectorIndexTest(t, func(t *testing.T) interfaces.VectorIndex {
		return qdrant.New(endpoint, collection)
	})
}
