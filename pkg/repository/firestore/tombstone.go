package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type tombstoneDoc struct {
	RecordID   string    `firestore:"RecordID"`
	AgentID    string    `firestore:"AgentID"`
	MergedInto string    `firestore:"MergedInto,omitempty"`
	Reason     string    `firestore:"Reason"`
	Version    int64     `firestore:"Version"`
	DeletedAt  time.Time `firestore:"DeletedAt"`
	PurgeAfter time.Time `firestore:"PurgeAfter"`
}

func toTombstoneDoc(ts *model.Tombstone) *tombstoneDoc {
	return &tombstoneDoc{
		RecordID:   string(ts.RecordID),
		AgentID:    string(ts.AgentID),
		MergedInto: string(ts.MergedInto),
		Reason:     string(ts.Reason),
		Version:    ts.Version,
		DeletedAt:  ts.DeletedAt,
		PurgeAfter: ts.PurgeAfter,
	}
}

func fromTombstoneDoc(d *tombstoneDoc) *model.Tombstone {
	return &model.Tombstone{
		RecordID:   types.RecordID(d.RecordID),
		AgentID:    types.AgentID(d.AgentID),
		MergedInto: types.RecordID(d.MergedInto),
		Reason:     model.TombstoneReason(d.Reason),
		Version:    d.Version,
		DeletedAt:  d.DeletedAt,
		PurgeAfter: d.PurgeAfter,
	}
}

type tombstoneRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newTombstoneRepository(client *firestore.Client) *tombstoneRepository {
	return &tombstoneRepository{
		client: client,
	}
}

func (r *tombstoneRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "tombstones")
}

func (r *tombstoneRepository) Put(ctx context.Context, ts *model.Tombstone) error {
	docRef := r.collection().Doc(string(ts.RecordID))
	if _, err := docRef.Set(ctx, toTombstoneDoc(ts)); err != nil {
		return goerr.Wrap(err, "failed to put tombstone", goerr.V(model.RecordIDKey, ts.RecordID))
	}

	return nil
}

func (r *tombstoneRepository) Get(ctx context.Context, id types.RecordID) (*model.Tombstone, error) {
	docRef := r.collection().Doc(string(id))
	doc, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "tombstone not found", goerr.V(model.RecordIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get tombstone", goerr.V(model.RecordIDKey, id))
	}

	var d tombstoneDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal tombstone", goerr.V(model.RecordIDKey, id))
	}

	return fromTombstoneDoc(&d), nil
}

func (r *tombstoneRepository) ListPurgeable(ctx context.Context, now time.Time, limit int) ([]*model.Tombstone, error) {
	query := r.collection().
		Where("PurgeAfter", "<=", now).
		OrderBy("PurgeAfter", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	tombstones := make([]*model.Tombstone, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate tombstones")
		}

		var d tombstoneDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal tombstone")
		}

		tombstones = append(tombstones, fromTombstoneDoc(&d))
	}

	return tombstones, nil
}
