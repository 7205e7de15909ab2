package interfaces

import (
	"context"

	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// Edge kinds mirrored into the graph store
const (
	EdgeMergedInto = "MERGED_INTO"
	EdgeRelated    = "RELATED"
)

// GraphEdge is a directed, weighted relation between two records
type GraphEdge struct {
	From   types.RecordID
	To     types.RecordID
	Kind   string
	Weight float64
}

// GraphStore defines the interface to the external graph store that mirrors
// record relations: merge lineage and related-pair audit edges
type GraphStore interface {
	// PutEdge saves an edge (upsert by from, to, kind)
	PutEdge(ctx context.Context, edge *GraphEdge) error

	// Neighbors returns the edges leaving the record with the given kind
	Neighbors(ctx context.Context, recordID types.RecordID, kind string) ([]GraphEdge, error)

	// RemoveRecord deletes the record's node and every edge touching it
	RemoveRecord(ctx context.Context, recordID types.RecordID) error
}
