package neo4j

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// GraphStore keeps merge lineage and relation edges in Neo4j through the HTTP
// transaction endpoint.
type GraphStore struct {
	endpoint   string
	username   string
	password   string
	httpClient *http.Client
}

var _ interfaces.GraphStore = &GraphStore{}

func New(endpoint, username, password string) *GraphStore {
	return &GraphStore{
		endpoint:   endpoint,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Relationship types cannot be parameterized in Cypher, so edge kinds are
// restricted to the known set before interpolation.
var edgeKinds = map[string]bool{
	interfaces.EdgeMergedInto: true,
	interfaces.EdgeRelated:    true,
}

type cypherResponse struct {
	Results []struct {
		Columns []string `json:"columns"`
		Data    []struct {
			Row []json.RawMessage `json:"row"`
		} `json:"data"`
	} `json:"results"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *GraphStore) PutEdge(ctx context.Context, edge interfaces.GraphEdge) error {
	if !edgeKinds[edge.Kind] {
		return goerr.New("unknown edge kind",
			goerr.T(types.ErrTagValidation), goerr.V("kind", edge.Kind))
	}

	cypher := "MERGE (a:Record {id: $from}) " +
		"MERGE (b:Record {id: $to}) " +
		"MERGE (a)-[r:" + edge.Kind + "]->(b) " +
		"SET r.weight = $weight"

	_, err := s.execCypher(ctx, cypher, map[string]any{
		"from":   string(edge.From),
		"to":     string(edge.To),
		"weight": edge.Weight,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to put graph edge",
			goerr.V("from", edge.From), goerr.V("to", edge.To))
	}

	return nil
}

func (s *GraphStore) Neighbors(ctx context.Context, id types.RecordID, kind string) ([]interfaces.GraphEdge, error) {
	if !edgeKinds[kind] {
		return nil, goerr.New("unknown edge kind",
			goerr.T(types.ErrTagValidation), goerr.V("kind", kind))
	}

	cypher := "MATCH (a:Record {id: $id})-[r:" + kind + "]->(b:Record) " +
		"RETURN b.id, r.weight ORDER BY b.id"

	out, err := s.execCypher(ctx, cypher, map[string]any{"id": string(id)})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query neighbors", goerr.V("record_id", id))
	}

	edges := make([]interfaces.GraphEdge, 0)
	if len(out.Results) == 0 {
		return edges, nil
	}

	for _, row := range out.Results[0].Data {
		if len(row.Row) < 2 {
			continue
		}

		var to string
		if err := json.Unmarshal(row.Row[0], &to); err != nil {
			return nil, goerr.Wrap(err, "failed to decode neighbor id")
		}
		var weight float64
		if err := json.Unmarshal(row.Row[1], &weight); err != nil {
			// Weight may be absent on legacy edges
			weight = 0
		}

		edges = append(edges, interfaces.GraphEdge{
			From:   id,
			To:     types.RecordID(to),
			Kind:   kind,
			Weight: weight,
		})
	}

	return edges, nil
}

func (s *GraphStore) RemoveRecord(ctx context.Context, id types.RecordID) error {
	_, err := s.execCypher(ctx,
		"MATCH (n:Record {id: $id}) DETACH DELETE n",
		map[string]any{"id": string(id)})
	if err != nil {
		return goerr.Wrap(err, "failed to remove record node", goerr.V("record_id", id))
	}

	return nil
}

func (s *GraphStore) execCypher(ctx context.Context, cypher string, params map[string]any) (*cypherResponse, error) {
	payload := map[string]any{
		"statements": []map[string]any{{
			"statement":  cypher,
			"parameters": params,
		}},
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal cypher payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.endpoint+"/db/neo4j/tx/commit", bytes.NewReader(b))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build cypher request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "neo4j request failed", goerr.T(types.ErrTagStoreUnavailable))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, goerr.New("unexpected neo4j status",
			goerr.T(types.ErrTagStoreUnavailable), goerr.V("status", resp.Status))
	}

	var out cypherResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, goerr.Wrap(err, "failed to decode neo4j response")
	}

	if len(out.Errors) > 0 {
		return nil, goerr.New("cypher statement failed",
			goerr.V("code", out.Errors[0].Code), goerr.V("message", out.Errors[0].Message))
	}

	return &out, nil
}
