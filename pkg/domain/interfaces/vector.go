package interfaces

import (
	"context"

	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// VectorMatch is one similarity search hit
type VectorMatch struct {
	RecordID types.RecordID
	Ref      types.EmbeddingRef
	Score    float64 // cosine similarity in [0, 1]
}

// VectorIndex defines the interface to the external vector similarity store.
// The core only holds opaque embedding handles; resolving them to vectors is
// the index's business.
type VectorIndex interface {
	// Upsert stores the embedding for a record and returns its handle
	Upsert(ctx context.Context, recordID types.RecordID, vector []float32) (types.EmbeddingRef, error)

	// Delete removes a stored embedding
	Delete(ctx context.Context, ref types.EmbeddingRef) error

	// Search returns up to limit records nearest to the vector, best first
	Search(ctx context.Context, vector []float32, limit int) ([]VectorMatch, error)

	// SearchByRef runs Search using an already-stored embedding as the query
	SearchByRef(ctx context.Context, ref types.EmbeddingRef, limit int) ([]VectorMatch, error)

	// Similarity scores two stored embeddings by their handles
	Similarity(ctx context.Context, a, b types.EmbeddingRef) (float64, error)
}
