package similarity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Oracle scores record pairs by combining embedding cosine similarity from
// the vector index with lexical token overlap. Every failure carries the
// oracle-unavailable tag so the dedup engine can degrade instead of failing
// the write that triggered the scan.
type Oracle struct {
	index         interfaces.VectorIndex
	vectorWeight  float64
	lexicalWeight float64
	timeout       time.Duration
}

// Option is a functional option for Oracle configuration
type Option func(*Oracle)

// WithTimeout overrides the per-call scoring budget
func WithTimeout(timeout time.Duration) Option {
	return func(o *Oracle) {
		o.timeout = timeout
	}
}

// New creates a similarity oracle using the policy's weights and timeout
func New(index interfaces.VectorIndex, policy *model.PolicyConfig, opts ...Option) (*Oracle, error) {
	if index == nil {
		return nil, goerr.New("vector index is required")
	}
	if policy == nil {
		return nil, goerr.New("policy config is required")
	}

	o := &Oracle{
		index:         index,
		vectorWeight:  policy.VectorWeight,
		lexicalWeight: policy.LexicalWeight,
		timeout:       policy.OracleTimeout,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

var _ interfaces.SimilarityOracle = &Oracle{}

// Score returns the combined similarity of two records in [0, 1]
func (o *Oracle) Score(ctx context.Context, a, b *model.Record) (float64, error) {
	if a == nil || b == nil {
		return 0, goerr.New("both records are required for scoring",
			goerr.T(types.ErrTagValidation))
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	lexical := jaccard(a.Content, b.Content)

	// Records without stored embeddings are scored on token overlap alone
	if a.Embedding == "" || b.Embedding == "" {
		return lexical, nil
	}

	cosine, err := o.index.Similarity(ctx, a.Embedding, b.Embedding)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, goerr.Wrap(err, "similarity scoring timed out",
				goerr.T(types.ErrTagOracleUnavailable),
				goerr.V(model.RecordIDKey, a.ID), goerr.V("other_record_id", b.ID),
				goerr.V("timeout", o.timeout.String()))
		}
		return 0, goerr.Wrap(err, "vector similarity lookup failed",
			goerr.T(types.ErrTagOracleUnavailable),
			goerr.V(model.RecordIDKey, a.ID), goerr.V("other_record_id", b.ID))
	}

	total := o.vectorWeight + o.lexicalWeight
	score := (o.vectorWeight*cosine + o.lexicalWeight*lexical) / total
	return clamp(score), nil
}

// jaccard returns the token-set overlap of two contents in [0, 1]
func jaccard(a, b string) float64 {
	as := tokenSet(a)
	bs := tokenSet(b)
	if len(as) == 0 && len(bs) == 0 {
		return 1
	}
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}

	intersection := 0
	for token := range as {
		if bs[token] {
			intersection++
		}
	}
	union := len(as) + len(bs) - intersection
	return float64(intersection) / float64(union)
}

// tokenSet splits normalized content into its unique tokens
func tokenSet(content string) map[string]bool {
	fields := strings.Fields(model.NormalizeContent(content))
	tokens := make(map[string]bool, len(fields))
	for _, field := range fields {
		tokens[field] = true
	}
	return tokens
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
