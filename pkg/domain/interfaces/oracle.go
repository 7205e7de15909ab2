package interfaces

import (
	"context"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

// SimilarityOracle scores how alike two records are, in [0, 1]. The oracle
// is external and may be slow or unavailable; callers bound it with the
// policy's oracle timeout and treat failure as a degraded mode, not fatal.
type SimilarityOracle interface {
	Score(ctx context.Context, a, b *model.Record) (float64, error)
}

// Embedder turns record content into an embedding vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MergeComposer drafts the proposed survivor content for a near-duplicate
// pair. Optional; when absent the dedup engine concatenates deterministically.
type MergeComposer interface {
	ComposeMerged(ctx context.Context, target, source *model.Record) (string, error)
}
