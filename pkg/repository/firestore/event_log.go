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

type eventDoc struct {
	Offset    int64      `firestore:"Offset"`
	Sequence  int64      `firestore:"Sequence"`
	RecordID  string     `firestore:"RecordID"`
	Kind      string     `firestore:"Kind"`
	Actor     string     `firestore:"Actor"`
	Snapshot  *recordDoc `firestore:"Snapshot,omitempty"`
	Changed   []string   `firestore:"Changed,omitempty"`
	CreatedAt time.Time  `firestore:"CreatedAt"`
}

func toEventDoc(event *model.Event) *eventDoc {
	doc := &eventDoc{
		Offset:    event.Offset,
		Sequence:  event.Sequence,
		RecordID:  string(event.RecordID),
		Kind:      string(event.Kind),
		Actor:     string(event.Actor),
		CreatedAt: event.CreatedAt,
	}

	if event.Snapshot != nil {
		doc.Snapshot = toRecordDoc(event.Snapshot)
	}
	if len(event.Changed) > 0 {
		doc.Changed = make([]string, len(event.Changed))
		copy(doc.Changed, event.Changed)
	}

	return doc
}

func fromEventDoc(d *eventDoc) (*model.Event, error) {
	event := &model.Event{
		Offset:    d.Offset,
		Sequence:  d.Sequence,
		RecordID:  types.RecordID(d.RecordID),
		Kind:      types.EventKind(d.Kind),
		Actor:     types.AgentID(d.Actor),
		CreatedAt: d.CreatedAt,
	}

	if d.Snapshot != nil {
		snapshot, err := fromRecordDoc(d.Snapshot)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert event snapshot", goerr.V(model.RecordIDKey, d.RecordID))
		}
		event.Snapshot = snapshot
	}
	if len(d.Changed) > 0 {
		event.Changed = make([]string, len(d.Changed))
		copy(event.Changed, d.Changed)
	}

	return event, nil
}

type eventLog struct {
	client           *firestore.Client
	collectionPrefix string
}

func newEventLog(client *firestore.Client) *eventLog {
	return &eventLog{
		client: client,
	}
}

func (l *eventLog) collection() *firestore.CollectionRef {
	return l.client.Collection(l.collectionPrefix + "events")
}

func (l *eventLog) counterRef() *firestore.DocumentRef {
	return l.client.Collection(l.collectionPrefix + "counters").Doc("event_offset")
}

func (l *eventLog) Append(ctx context.Context, event *model.Event) (*model.Event, error) {
	if event.Kind == types.EventResync {
		return nil, goerr.New("resync events are synthesized per subscriber, not stored",
			goerr.T(types.ErrTagValidation))
	}

	eventRef := l.collection().Doc(event.Key())
	counterRef := l.counterRef()

	var stored *model.Event
	err := l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// All reads come before writes inside a Firestore transaction
		existing, err := tx.Get(eventRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to check event existence")
		}
		if err == nil {
			var d eventDoc
			if err := existing.DataTo(&d); err != nil {
				return goerr.Wrap(err, "failed to unmarshal stored event")
			}
			stored, err = fromEventDoc(&d)
			return err
		}

		var nextOffset int64 = 1
		counter, err := tx.Get(counterRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get event offset counter")
		}
		if err == nil {
			currentValue, err := counter.DataAt("value")
			if err != nil {
				return goerr.Wrap(err, "failed to get counter value")
			}
			val, ok := currentValue.(int64)
			if !ok {
				return goerr.New("counter value is not of type int64", goerr.V("value", currentValue))
			}
			nextOffset = val + 1
		}

		if err := tx.Set(counterRef, map[string]interface{}{"value": nextOffset}); err != nil {
			return goerr.Wrap(err, "failed to update event offset counter")
		}

		appended := event.Clone()
		appended.Offset = nextOffset
		if err := tx.Set(eventRef, toEventDoc(appended)); err != nil {
			return goerr.Wrap(err, "failed to append event")
		}

		stored = appended
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "event append transaction failed", goerr.V(model.RecordIDKey, event.RecordID))
	}

	return stored, nil
}

func (l *eventLog) Replay(ctx context.Context, fromOffset int64, limit int) ([]*model.Event, error) {
	query := l.collection().
		Where("Offset", ">=", fromOffset).
		OrderBy("Offset", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	return l.queryEvents(ctx, query)
}

func (l *eventLog) ListByRecord(ctx context.Context, id types.RecordID) ([]*model.Event, error) {
	query := l.collection().
		Where("RecordID", "==", string(id)).
		OrderBy("Sequence", firestore.Asc)

	return l.queryEvents(ctx, query)
}

func (l *eventLog) Horizon(ctx context.Context) (int64, error) {
	return l.edgeOffset(ctx, firestore.Asc)
}

func (l *eventLog) Latest(ctx context.Context) (int64, error) {
	return l.edgeOffset(ctx, firestore.Desc)
}

func (l *eventLog) edgeOffset(ctx context.Context, dir firestore.Direction) (int64, error) {
	iter := l.collection().OrderBy("Offset", dir).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return 0, nil
	}
	if err != nil {
		return 0, goerr.Wrap(err, "failed to query event log edge")
	}

	offset, err := doc.DataAt("Offset")
	if err != nil {
		return 0, goerr.Wrap(err, "failed to read event offset")
	}

	val, ok := offset.(int64)
	if !ok {
		return 0, goerr.New("event offset is not of type int64", goerr.V("offset", offset))
	}
	return val, nil
}

func (l *eventLog) Trim(ctx context.Context, olderThan time.Time) (int, error) {
	iter := l.collection().
		Where("CreatedAt", "<", olderThan).
		Documents(ctx)
	defer iter.Stop()

	trimmed := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return trimmed, goerr.Wrap(err, "failed to iterate expired events")
		}

		if _, err := doc.Ref.Delete(ctx); err != nil {
			return trimmed, goerr.Wrap(err, "failed to delete expired event")
		}
		trimmed++
	}

	return trimmed, nil
}

func (l *eventLog) queryEvents(ctx context.Context, query firestore.Query) ([]*model.Event, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	events := make([]*model.Event, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate events")
		}

		var d eventDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal event")
		}

		event, err := fromEventDoc(&d)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, nil
}
