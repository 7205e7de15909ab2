package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

// client implements embedding generation and merge-content composition on
// top of an LLM client
type client struct {
	llmClient gollem.LLMClient
	dimension int
}

// Option is a functional option for client configuration
type Option func(*client)

// WithDimension overrides the embedding vector dimension
func WithDimension(dimension int) Option {
	return func(c *client) {
		c.dimension = dimension
	}
}

// New creates an embedding service with the provided LLM client
func New(llmClient gollem.LLMClient, opts ...Option) (Service, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required")
	}

	c := &client{
		llmClient: llmClient,
		dimension: model.EmbeddingDimension,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Embed generates an embedding vector for the given text
func (c *client) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.llmClient.GenerateEmbedding(ctx, c.dimension, []string{text})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embedding")
	}

	if len(embeddings) == 0 {
		return nil, goerr.New("no embedding returned")
	}

	// Convert float64 to float32
	result := make([]float32, len(embeddings[0]))
	for i, v := range embeddings[0] {
		result[i] = float32(v)
	}

	return result, nil
}

// ComposeMerged drafts one content body covering both records of a
// near-duplicate pair
func (c *client) ComposeMerged(ctx context.Context, target, source *model.Record) (string, error) {
	if target == nil || source == nil {
		return "", goerr.New("both records are required for composition")
	}

	session, err := c.llmClient.NewSession(ctx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(buildMergeSchema()),
		gollem.WithSessionSystemPrompt(mergeSystemPrompt),
	)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create LLM session")
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(buildMergePrompt(target, source)))
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate merged content from LLM")
	}
	if len(resp.Texts) == 0 {
		return "", goerr.New("empty LLM response")
	}

	var parsed mergeResponse
	if err := json.Unmarshal([]byte(resp.Texts[0]), &parsed); err != nil {
		return "", goerr.Wrap(err, "failed to parse LLM response", goerr.V("response", resp.Texts[0]))
	}
	if strings.TrimSpace(parsed.MergedContent) == "" {
		return "", goerr.New("LLM returned empty merged content")
	}

	return parsed.MergedContent, nil
}

const mergeSystemPrompt = `You are a memory consolidation assistant. Two memory records describe nearly the same fact. Produce a single body of content that preserves every distinct piece of information from both records without repeating shared parts. Keep the language and tone of the originals. Do not add commentary or new information.`

// buildMergePrompt creates the user prompt carrying both record contents
func buildMergePrompt(target, source *model.Record) string {
	var sb strings.Builder

	sb.WriteString("## Record kept after the merge:\n\n")
	sb.WriteString(target.Content)
	sb.WriteString("\n\n## Record to be folded into it:\n\n")
	sb.WriteString(source.Content)
	sb.WriteString("\n")
	if target.Category != "" || source.Category != "" {
		fmt.Fprintf(&sb, "\nCategories: %q / %q\n", target.Category, source.Category)
	}

	return sb.String()
}

// buildMergeSchema creates the JSON schema for structured output
func buildMergeSchema() *gollem.Parameter {
	return &gollem.Parameter{
		Title:       "MergedMemoryContent",
		Description: "Consolidated content for two near-duplicate memory records",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"merged_content": {
				Type:        gollem.TypeString,
				Description: "Single content body preserving the distinct information of both records",
			},
		},
		Required: []string{"merged_content"},
	}
}

// mergeResponse is the structured output from the LLM
type mergeResponse struct {
	MergedContent string `json:"merged_content"`
}

var (
	_ interfaces.Embedder      = &client{}
	_ interfaces.MergeComposer = &client{}
)
