package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// VectorIndex talks to a Qdrant instance over its REST API. The point ID is
// the record ID, so embedding refs stay stable across re-embeds.
type VectorIndex struct {
	endpoint   string
	collection string
	httpClient *http.Client
}

var _ interfaces.VectorIndex = &VectorIndex{}

func New(endpoint, collection string) *VectorIndex {
	return &VectorIndex{
		endpoint:   endpoint,
		collection: collection,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type pointResult struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (x *VectorIndex) Upsert(ctx context.Context, recordID types.RecordID, vector []float32) (types.EmbeddingRef, error) {
	if len(vector) == 0 {
		return "", goerr.New("embedding vector is empty",
			goerr.T(types.ErrTagValidation), goerr.V(model.RecordIDKey, recordID))
	}

	body := map[string]any{
		"points": []map[string]any{{
			"id":      string(recordID),
			"vector":  vector,
			"payload": map[string]any{"record_id": string(recordID)},
		}},
	}

	// wait=true makes the write visible to the next search
	if err := x.do(ctx, http.MethodPut,
		fmt.Sprintf("%s/collections/%s/points?wait=true", x.endpoint, x.collection), body, nil); err != nil {
		return "", goerr.Wrap(err, "failed to upsert point", goerr.V(model.RecordIDKey, recordID))
	}

	return types.EmbeddingRef(recordID), nil
}

func (x *VectorIndex) Delete(ctx context.Context, ref types.EmbeddingRef) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/collections/%s/points/%s?wait=true", x.endpoint, x.collection, ref), nil)
	if err != nil {
		return goerr.Wrap(err, "failed to build delete request")
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(err, "failed to delete point",
			goerr.T(types.ErrTagStoreUnavailable), goerr.V("embedding_ref", ref))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return goerr.Wrap(model.ErrNotFound, "embedding not found", goerr.V("embedding_ref", ref))
	}
	if resp.StatusCode >= 300 {
		return goerr.New("unexpected qdrant status",
			goerr.T(types.ErrTagStoreUnavailable), goerr.V("status", resp.Status))
	}

	return nil
}

func (x *VectorIndex) Search(ctx context.Context, vector []float32, limit int) ([]interfaces.VectorMatch, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}

	var out struct {
		Result []pointResult `json:"result"`
	}
	if err := x.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/search", x.endpoint, x.collection), body, &out); err != nil {
		return nil, goerr.Wrap(err, "failed to search points")
	}

	matches := make([]interfaces.VectorMatch, 0, len(out.Result))
	for _, r := range out.Result {
		matches = append(matches, interfaces.VectorMatch{
			RecordID: types.RecordID(r.ID),
			Ref:      types.EmbeddingRef(r.ID),
			Score:    clampScore(r.Score),
		})
	}

	return matches, nil
}

func (x *VectorIndex) SearchByRef(ctx context.Context, ref types.EmbeddingRef, limit int) ([]interfaces.VectorMatch, error) {
	vector, err := x.getVector(ctx, ref)
	if err != nil {
		return nil, err
	}
	return x.Search(ctx, vector, limit)
}

func (x *VectorIndex) Similarity(ctx context.Context, a, b types.EmbeddingRef) (float64, error) {
	va, err := x.getVector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := x.getVector(ctx, b)
	if err != nil {
		return 0, err
	}

	return clampScore(cosineSimilarity(va, vb)), nil
}

func (x *VectorIndex) getVector(ctx context.Context, ref types.EmbeddingRef) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/collections/%s/points/%s", x.endpoint, x.collection, ref), nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build get request")
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get point",
			goerr.T(types.ErrTagStoreUnavailable), goerr.V("embedding_ref", ref))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, goerr.Wrap(model.ErrNotFound, "embedding not found", goerr.V("embedding_ref", ref))
	}
	if resp.StatusCode >= 300 {
		return nil, goerr.New("unexpected qdrant status",
			goerr.T(types.ErrTagStoreUnavailable), goerr.V("status", resp.Status))
	}

	var out struct {
		Result pointResult `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, goerr.Wrap(err, "failed to decode point response")
	}
	if len(out.Result.Vector) == 0 {
		return nil, goerr.Wrap(model.ErrNotFound, "point has no vector", goerr.V("embedding_ref", ref))
	}

	return out.Result.Vector, nil
}

func (x *VectorIndex) do(ctx context.Context, method, url string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal request body")
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(b))
	if err != nil {
		return goerr.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(err, "qdrant request failed", goerr.T(types.ErrTagStoreUnavailable))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return goerr.New("unexpected qdrant status",
			goerr.T(types.ErrTagStoreUnavailable), goerr.V("status", resp.Status))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return goerr.Wrap(err, "failed to decode qdrant response")
		}
	}

	return nil
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

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
