package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
)

type Firestore struct {
	client    *firestore.Client
	record    *recordRepository
	space     *spaceRepository
	duplicate *duplicateRepository
	tombstone *tombstoneRepository
	events    *eventLog

	collectionPrefix string
}

var _ interfaces.Repository = &Firestore{}

type Option func(*Firestore)

// WithCollectionPrefix namespaces all collections, mainly so tests can share
// a project without clobbering each other.
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.collectionPrefix = prefix
		f.record.collectionPrefix = prefix
		f.space.collectionPrefix = prefix
		f.duplicate.collectionPrefix = prefix
		f.tombstone.collectionPrefix = prefix
		f.events.collectionPrefix = prefix
	}
}

func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID), goerr.V("databaseID", databaseID))
	}

	f := &Firestore{
		client:    client,
		record:    newRecordRepository(client),
		space:     newSpaceRepository(client),
		duplicate: newDuplicateRepository(client),
		tombstone: newTombstoneRepository(client),
		events:    newEventLog(client),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) Record() interfaces.RecordRepository {
	return f.record
}

func (f *Firestore) Space() interfaces.SpaceRepository {
	return f.space
}

func (f *Firestore) Duplicate() interfaces.DuplicateRepository {
	return f.duplicate
}

func (f *Firestore) Tombstone() interfaces.TombstoneRepository {
	return f.tombstone
}

func (f *Firestore) Events() interfaces.EventLog {
	return f.events
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}
