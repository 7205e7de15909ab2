package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

type edgeKey struct {
	from types.RecordID
	to   types.RecordID
	kind string
}

// GraphStore keeps merge lineage and relation edges in memory.
type GraphStore struct {
	mu    sync.RWMutex
	edges map[edgeKey]interfaces.GraphEdge
}

var _ interfaces.GraphStore = &GraphStore{}

func NewGraphStore() *GraphStore {
	return &GraphStore{
		edges: make(map[edgeKey]interfaces.GraphEdge),
	}
}

func (s *GraphStore) PutEdge(ctx context.Context, edge interfaces.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.edges[edgeKey{from: edge.From, to: edge.To, kind: edge.Kind}] = edge
	return nil
}

func (s *GraphStore) Neighbors(ctx context.Context, id types.RecordID, kind string) ([]interfaces.GraphEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []interfaces.GraphEdge
	for key, edge := range s.edges {
		if key.from == id && key.kind == kind {
			result = append(result, edge)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].To < result[j].To
	})
	return result, nil
}

func (s *GraphStore) RemoveRecord(ctx context.Context, id types.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.edges {
		if key.from == id || key.to == id {
			delete(s.edges, key)
		}
	}
	return nil
}
