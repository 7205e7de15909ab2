package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// recordDoc is the Firestore document representation of model.Record.
// Metadata is stored as native Firestore maps so it stays queryable in the
// console, and converted back through the typed metadata model on read.
type recordDoc struct {
	ID             string                 `firestore:"ID"`
	AgentID        string                 `firestore:"AgentID"`
	Content        string                 `firestore:"Content"`
	ContentHash    string                 `firestore:"ContentHash"`
	EmbeddingRef   string                 `firestore:"EmbeddingRef,omitempty"`
	Category       string                 `firestore:"Category,omitempty"`
	Metadata       map[string]interface{} `firestore:"Metadata,omitempty"`
	State          string                 `firestore:"State"`
	Sharing        string                 `firestore:"Sharing"`
	SpaceIDs       []string               `firestore:"SpaceIDs,omitempty"`
	Overrides      map[string]string      `firestore:"Overrides,omitempty"`
	MergedInto     string                 `firestore:"MergedInto,omitempty"`
	ArchiveURI     string                 `firestore:"ArchiveURI,omitempty"`
	Version        int64                  `firestore:"Version"`
	TTL            *time.Time             `firestore:"TTL,omitempty"`
	CreatedAt      time.Time              `firestore:"CreatedAt"`
	UpdatedAt      time.Time              `firestore:"UpdatedAt"`
	StateChangedAt time.Time              `firestore:"StateChangedAt"`
	LastAccessedAt time.Time              `firestore:"LastAccessedAt"`
}

// visibleStates covers every lifecycle state except deleted, for queries
// that must not surface deleted rows awaiting purge.
var visibleStates = []string{
	string(types.LifecycleActive),
	string(types.LifecycleStale),
	string(types.LifecycleArchived),
	string(types.LifecycleExpired),
}

func toRecordDoc(record *model.Record) *recordDoc {
	doc := &recordDoc{
		ID:             string(record.ID),
		AgentID:        string(record.AgentID),
		Content:        record.Content,
		ContentHash:    record.ContentHash,
		EmbeddingRef:   string(record.Embedding),
		Category:       record.Category,
		State:          string(record.State),
		Sharing:        string(record.Sharing),
		MergedInto:     string(record.MergedInto),
		ArchiveURI:     record.ArchiveURI,
		Version:        record.Version,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
		StateChangedAt: record.StateChangedAt,
		LastAccessedAt: record.LastAccessedAt,
	}

	if len(record.Metadata) > 0 {
		doc.Metadata = model.MetadataToNative(record.Metadata)
	}
	if len(record.SpaceIDs) > 0 {
		doc.SpaceIDs = make([]string, len(record.SpaceIDs))
		for i, id := range record.SpaceIDs {
			doc.SpaceIDs[i] = string(id)
		}
	}
	if len(record.Overrides) > 0 {
		doc.Overrides = make(map[string]string, len(record.Overrides))
		for agentID, perm := range record.Overrides {
			doc.Overrides[string(agentID)] = string(perm)
		}
	}
	if record.TTL != nil {
		ttl := *record.TTL
		doc.TTL = &ttl
	}

	return doc
}

func fromRecordDoc(d *recordDoc) (*model.Record, error) {
	record := &model.Record{
		ID:             types.RecordID(d.ID),
		AgentID:        types.AgentID(d.AgentID),
		Content:        d.Content,
		ContentHash:    d.ContentHash,
		Embedding:      types.EmbeddingRef(d.EmbeddingRef),
		Category:       d.Category,
		State:          types.LifecycleState(d.State),
		Sharing:        types.SharingPolicy(d.Sharing),
		MergedInto:     types.RecordID(d.MergedInto),
		ArchiveURI:     d.ArchiveURI,
		Version:        d.Version,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		StateChangedAt: d.StateChangedAt,
		LastAccessedAt: d.LastAccessedAt,
	}

	if len(d.Metadata) > 0 {
		metadata, err := model.MetadataFromNative(d.Metadata)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert record metadata", goerr.V(model.RecordIDKey, d.ID))
		}
		record.Metadata = metadata
	}
	if len(d.SpaceIDs) > 0 {
		record.SpaceIDs = make([]types.SpaceID, len(d.SpaceIDs))
		for i, id := range d.SpaceIDs {
			record.SpaceIDs[i] = types.SpaceID(id)
		}
	}
	if len(d.Overrides) > 0 {
		record.Overrides = make(map[types.AgentID]types.Permission, len(d.Overrides))
		for agentID, perm := range d.Overrides {
			record.Overrides[types.AgentID(agentID)] = types.Permission(perm)
		}
	}
	if d.TTL != nil {
		ttl := *d.TTL
		record.TTL = &ttl
	}

	return record, nil
}

func docToRecord(doc *firestore.DocumentSnapshot) (*model.Record, error) {
	var d recordDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, err
	}
	return fromRecordDoc(&d)
}

type recordRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newRecordRepository(client *firestore.Client) *recordRepository {
	return &recordRepository{
		client: client,
	}
}

func (r *recordRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "records")
}

func (r *recordRepository) Create(ctx context.Context, record *model.Record) error {
	docRef := r.collection().Doc(string(record.ID))
	if _, err := docRef.Create(ctx, toRecordDoc(record)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return goerr.Wrap(model.ErrAlreadyExists, "record already exists", goerr.V(model.RecordIDKey, record.ID))
		}
		return goerr.Wrap(err, "failed to create record", goerr.V(model.RecordIDKey, record.ID))
	}

	return nil
}

func (r *recordRepository) Get(ctx context.Context, id types.RecordID) (*model.Record, error) {
	docRef := r.collection().Doc(string(id))
	doc, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "record not found", goerr.V(model.RecordIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get record", goerr.V(model.RecordIDKey, id))
	}

	record, err := docToRecord(doc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal record", goerr.V(model.RecordIDKey, id))
	}

	return record, nil
}

func (r *recordRepository) GetMany(ctx context.Context, ids []types.RecordID) ([]*model.Record, error) {
	if len(ids) == 0 {
		return []*model.Record{}, nil
	}

	type result struct {
		idx    int
		record *model.Record
		err    error
	}

	resultCh := make(chan result, len(ids))

	for i, id := range ids {
		go func(idx int, recordID types.RecordID) {
			record, err := r.Get(ctx, recordID)
			resultCh <- result{idx: idx, record: record, err: err}
		}(i, id)
	}

	ordered := make([]*model.Record, len(ids))
	for i := 0; i < len(ids); i++ {
		res := <-resultCh
		if res.err != nil {
			// Missing records are skipped so batch reads tolerate purged IDs
			if errors.Is(res.err, model.ErrNotFound) {
				continue
			}
			return nil, res.err
		}
		ordered[res.idx] = res.record
	}

	records := make([]*model.Record, 0, len(ids))
	for _, record := range ordered {
		if record != nil {
			records = append(records, record)
		}
	}

	return records, nil
}

func (r *recordRepository) Update(ctx context.Context, record *model.Record, expectedVersion int64) error {
	docRef := r.collection().Doc(string(record.ID))

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(model.ErrNotFound, "record not found", goerr.V(model.RecordIDKey, record.ID))
			}
			return goerr.Wrap(err, "failed to get record in transaction", goerr.V(model.RecordIDKey, record.ID))
		}

		var current recordDoc
		if err := doc.DataTo(&current); err != nil {
			return goerr.Wrap(err, "failed to unmarshal record in transaction", goerr.V(model.RecordIDKey, record.ID))
		}

		if current.Version != expectedVersion {
			return goerr.New("record version mismatch",
				goerr.T(types.ErrTagConflict),
				goerr.V(model.RecordIDKey, record.ID),
				goerr.V(model.VersionKey, current.Version),
				goerr.V("expected_version", expectedVersion),
			)
		}

		return tx.Set(docRef, toRecordDoc(record))
	})
	if err != nil {
		return err
	}

	return nil
}

func (r *recordRepository) Delete(ctx context.Context, id types.RecordID) error {
	docRef := r.collection().Doc(string(id))

	_, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(model.ErrNotFound, "record not found", goerr.V(model.RecordIDKey, id))
		}
		return goerr.Wrap(err, "failed to get record", goerr.V(model.RecordIDKey, id))
	}

	if _, err := docRef.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete record", goerr.V(model.RecordIDKey, id))
	}

	return nil
}

func (r *recordRepository) ListByAgent(ctx context.Context, agentID types.AgentID, limit, offset int) ([]*model.Record, error) {
	query := r.collection().
		Where("AgentID", "==", string(agentID)).
		Where("State", "in", visibleStates).
		OrderBy("CreatedAt", firestore.Desc).
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}

	return r.queryRecords(ctx, query)
}

func (r *recordRepository) ListBySpace(ctx context.Context, spaceID types.SpaceID, limit, offset int) ([]*model.Record, error) {
	query := r.collection().
		Where("SpaceIDs", "array-contains", string(spaceID)).
		Where("State", "in", visibleStates).
		OrderBy("CreatedAt", firestore.Desc).
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}

	return r.queryRecords(ctx, query)
}

func (r *recordRepository) ListByState(ctx context.Context, state types.LifecycleState, limit int) ([]*model.Record, error) {
	query := r.collection().
		Where("State", "==", string(state)).
		OrderBy("StateChangedAt", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	return r.queryRecords(ctx, query)
}

func (r *recordRepository) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*model.Record, error) {
	query := r.collection().
		Where("UpdatedAt", ">=", since).
		OrderBy("UpdatedAt", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	records, err := r.queryRecords(ctx, query)
	if err != nil {
		return nil, err
	}

	visible := make([]*model.Record, 0, len(records))
	for _, record := range records {
		if record.State != types.LifecycleDeleted {
			visible = append(visible, record)
		}
	}

	return visible, nil
}

func (r *recordRepository) FindByContentHash(ctx context.Context, hash string) ([]*model.Record, error) {
	records, err := r.queryRecords(ctx, r.collection().Where("ContentHash", "==", hash))
	if err != nil {
		return nil, err
	}

	visible := make([]*model.Record, 0, len(records))
	for _, record := range records {
		if record.State != types.LifecycleDeleted {
			visible = append(visible, record)
		}
	}

	return visible, nil
}

func (r *recordRepository) TouchAccess(ctx context.Context, id types.RecordID, at time.Time) error {
	docRef := r.collection().Doc(string(id))

	_, err := docRef.Update(ctx, []firestore.Update{
		{Path: "LastAccessedAt", Value: at},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(model.ErrNotFound, "record not found", goerr.V(model.RecordIDKey, id))
		}
		return goerr.Wrap(err, "failed to update record access time", goerr.V(model.RecordIDKey, id))
	}

	return nil
}

func (r *recordRepository) queryRecords(ctx context.Context, query firestore.Query) ([]*model.Record, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	records := make([]*model.Record, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate records")
		}

		record, err := docToRecord(doc)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal record")
		}

		records = append(records, record)
	}

	return records, nil
}
