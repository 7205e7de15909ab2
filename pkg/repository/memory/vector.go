package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// VectorIndex is an in-memory cosine similarity index. It serves the same
// role as an external vector store in deployments that run without one.
type VectorIndex struct {
	mu          sync.RWMutex
	vectors     map[types.EmbeddingRef][]float32
	refByRecord map[types.RecordID]types.EmbeddingRef
	recordByRef map[types.EmbeddingRef]types.RecordID
}

var _ interfaces.VectorIndex = &VectorIndex{}

func NewVectorIndex() *VectorIndex {
	return &VectorIndex{
		vectors:     make(map[types.EmbeddingRef][]float32),
		refByRecord: make(map[types.RecordID]types.EmbeddingRef),
		recordByRef: make(map[types.EmbeddingRef]types.RecordID),
	}
}

func (x *VectorIndex) Upsert(ctx context.Context, recordID types.RecordID, vector []float32) (types.EmbeddingRef, error) {
	if len(vector) == 0 {
		return "", goerr.New("embedding vector is empty",
			goerr.T(types.ErrTagValidation), goerr.V(model.RecordIDKey, recordID))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// Re-upserting keeps the ref stable so stored records stay valid
	ref, exists := x.refByRecord[recordID]
	if !exists {
		ref = types.EmbeddingRef(uuid.NewString())
		x.refByRecord[recordID] = ref
		x.recordByRef[ref] = recordID
	}

	stored := make([]float32, len(vector))
	copy(stored, vector)
	x.vectors[ref] = stored
	return ref, nil
}

func (x *VectorIndex) Delete(ctx context.Context, ref types.EmbeddingRef) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	recordID, exists := x.recordByRef[ref]
	if !exists {
		return goerr.Wrap(model.ErrNotFound, "embedding not found", goerr.V("embedding_ref", ref))
	}

	delete(x.vectors, ref)
	delete(x.recordByRef, ref)
	delete(x.refByRecord, recordID)
	return nil
}

func (x *VectorIndex) Search(ctx context.Context, vector []float32, limit int) ([]interfaces.VectorMatch, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return x.searchLocked(vector, limit), nil
}

func (x *VectorIndex) SearchByRef(ctx context.Context, ref types.EmbeddingRef, limit int) ([]interfaces.VectorMatch, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	vector, exists := x.vectors[ref]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "embedding not found", goerr.V("embedding_ref", ref))
	}

	return x.searchLocked(vector, limit), nil
}

func (x *VectorIndex) Similarity(ctx context.Context, a, b types.EmbeddingRef) (float64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	va, exists := x.vectors[a]
	if !exists {
		return 0, goerr.Wrap(model.ErrNotFound, "embedding not found", goerr.V("embedding_ref", a))
	}
	vb, exists := x.vectors[b]
	if !exists {
		return 0, goerr.Wrap(model.ErrNotFound, "embedding not found", goerr.V("embedding_ref", b))
	}

	return clampScore(cosineSimilarity(va, vb)), nil
}

func (x *VectorIndex) searchLocked(vector []float32, limit int) []interfaces.VectorMatch {
	candidates := make([]interfaces.VectorMatch, 0, len(x.vectors))
	for ref, stored := range x.vectors {
		candidates = append(candidates, interfaces.VectorMatch{
			RecordID: x.recordByRef[ref],
			Ref:      ref,
			Score:    clampScore(cosineSimilarity(vector, stored)),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}

	return dot / denom
}

// clampScore maps cosine similarity into [0, 1] so scores compare cleanly
// against the duplicate thresholds.
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
