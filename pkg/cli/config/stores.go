package config

import (
	"context"

	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/repository/neo4j"
	"github.com/secmon-lab/mnemosyne/pkg/repository/qdrant"
	"github.com/secmon-lab/mnemosyne/pkg/service/archive"
	"github.com/urfave/cli/v3"
)

// Qdrant holds CLI flags for the vector index backend
type Qdrant struct {
	endpoint   string
	collection string
}

// Flags returns CLI flags for Qdrant configuration
func (q *Qdrant) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "qdrant-endpoint",
			Usage:       "Qdrant REST endpoint (empty disables vector similarity)",
			Sources:     cli.EnvVars("MNEMOSYNE_QDRANT_ENDPOINT"),
			Destination: &q.endpoint,
		},
		&cli.StringFlag{
			Name:        "qdrant-collection",
			Usage:       "Qdrant collection holding record embeddings",
			Value:       "mnemosyne_records",
			Sources:     cli.EnvVars("MNEMOSYNE_QDRANT_COLLECTION"),
			Destination: &q.collection,
		},
	}
}

// Configure returns the vector index, or nil when no endpoint is set
func (q *Qdrant) Configure() (interfaces.VectorIndex, error) {
	if q.endpoint == "" {
		return nil, nil
	}
	return qdrant.New(q.endpoint, q.collection), nil
}

// Neo4j holds CLI flags for the relation graph backend
type Neo4j struct {
	endpoint string
	username string
	password string
}

// Flags returns CLI flags for Neo4j configuration
func (n *Neo4j) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "neo4j-endpoint",
			Usage:       "Neo4j HTTP endpoint (empty disables the relation graph mirror)",
			Sources:     cli.EnvVars("MNEMOSYNE_NEO4J_ENDPOINT"),
			Destination: &n.endpoint,
		},
		&cli.StringFlag{
			Name:        "neo4j-username",
			Usage:       "Neo4j username",
			Value:       "neo4j",
			Sources:     cli.EnvVars("MNEMOSYNE_NEO4J_USERNAME"),
			Destination: &n.username,
		},
		&cli.StringFlag{
			Name:        "neo4j-password",
			Usage:       "Neo4j password",
			Sources:     cli.EnvVars("MNEMOSYNE_NEO4J_PASSWORD"),
			Destination: &n.password,
		},
	}
}

// Configure returns the graph store, or nil when no endpoint is set
func (n *Neo4j) Configure() (interfaces.GraphStore, error) {
	if n.endpoint == "" {
		return nil, nil
	}
	return neo4j.New(n.endpoint, n.username, n.password), nil
}

// Archive holds CLI flags for the cold snapshot store
type Archive struct {
	bucket string
	prefix string
}

// Flags returns CLI flags for archive configuration
func (a *Archive) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "GCS bucket for cold record snapshots (empty disables archiving)",
			Sources:     cli.EnvVars("MNEMOSYNE_ARCHIVE_BUCKET"),
			Destination: &a.bucket,
		},
		&cli.StringFlag{
			Name:        "archive-prefix",
			Usage:       "Object name prefix inside the archive bucket",
			Value:       "records/",
			Sources:     cli.EnvVars("MNEMOSYNE_ARCHIVE_PREFIX"),
			Destination: &a.prefix,
		},
	}
}

// Configure returns the archiver, or nil when no bucket is set
func (a *Archive) Configure(ctx context.Context) (interfaces.Archiver, error) {
	if a.bucket == "" {
		return nil, nil
	}
	return archive.NewGCS(ctx, a.bucket, archive.WithPrefix(a.prefix))
}
