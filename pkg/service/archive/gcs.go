package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

// GCS writes cold record snapshots to a Cloud Storage bucket. One object per
// record version, so a re-archive after restore never overwrites history.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// Option is a functional option for GCS configuration
type Option func(*GCS)

// WithPrefix sets the object name prefix, e.g. "records/"
func WithPrefix(prefix string) Option {
	return func(a *GCS) {
		a.prefix = prefix
	}
}

// NewGCS creates an archiver writing to the given bucket
func NewGCS(ctx context.Context, bucket string, opts ...Option) (*GCS, error) {
	if bucket == "" {
		return nil, goerr.New("archive bucket is required")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	a := &GCS{
		client: client,
		bucket: bucket,
		prefix: "records/",
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

var _ interfaces.Archiver = &GCS{}

// Store writes a JSON snapshot of the record and returns its object URI
func (a *GCS) Store(ctx context.Context, record *model.Record) (string, error) {
	if record == nil {
		return "", goerr.New("record is required")
	}

	name := fmt.Sprintf("%s%s/v%d.json", a.prefix, record.ID, record.Version)
	writer := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"

	if err := json.NewEncoder(writer).Encode(toSnapshot(record)); err != nil {
		_ = writer.Close()
		return "", goerr.Wrap(err, "failed to encode record snapshot",
			goerr.V(model.RecordIDKey, record.ID))
	}
	if err := writer.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to write record snapshot",
			goerr.V(model.RecordIDKey, record.ID), goerr.V("object", name))
	}

	return fmt.Sprintf("gs://%s/%s", a.bucket, name), nil
}

// Close releases the underlying storage client
func (a *GCS) Close() error {
	return a.client.Close()
}

// snapshot is the archived JSON form of a record
type snapshot struct {
	ID             string                 `json:"id"`
	AgentID        string                 `json:"agent_id"`
	Content        string                 `json:"content"`
	ContentHash    string                 `json:"content_hash"`
	Category       string                 `json:"category,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	State          string                 `json:"state"`
	Sharing        string                 `json:"sharing"`
	SpaceIDs       []string               `json:"space_ids,omitempty"`
	MergedInto     string                 `json:"merged_into,omitempty"`
	Version        int64                  `json:"version"`
	TTL            *time.Time             `json:"ttl,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	StateChangedAt time.Time              `json:"state_changed_at"`
	ArchivedAt     time.Time              `json:"archived_at"`
}

func toSnapshot(record *model.Record) *snapshot {
	spaceIDs := make([]string, 0, len(record.SpaceIDs))
	for _, id := range record.SpaceIDs {
		spaceIDs = append(spaceIDs, string(id))
	}

	return &snapshot{
		ID:             string(record.ID),
		AgentID:        string(record.AgentID),
		Content:        record.Content,
		ContentHash:    record.ContentHash,
		Category:       record.Category,
		Metadata:       model.MetadataToNative(record.Metadata),
		State:          record.State.String(),
		Sharing:        record.Sharing.String(),
		SpaceIDs:       spaceIDs,
		MergedInto:     string(record.MergedInto),
		Version:        record.Version,
		TTL:            record.TTL,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
		StateChangedAt: record.StateChangedAt,
		ArchivedAt:     time.Now().UTC(),
	}
}
