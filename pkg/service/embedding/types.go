package embedding

import (
	"context"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

// Service bundles the two LLM-backed operations of the memory core:
// embedding generation for similarity search and merged-content drafting for
// near-duplicate recommendations.
type Service interface {
	// Embed generates an embedding vector for the given text
	Embed(ctx context.Context, text string) ([]float32, error)

	// ComposeMerged drafts the proposed survivor content for a
	// near-duplicate pair
	ComposeMerged(ctx context.Context, target, source *model.Record) (string, error)
}
