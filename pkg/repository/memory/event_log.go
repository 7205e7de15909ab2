package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

type eventLog struct {
	mu         sync.RWMutex
	events     []*model.Event
	byKey      map[string]*model.Event
	nextOffset int64
}

func newEventLog() *eventLog {
	return &eventLog{
		byKey:      make(map[string]*model.Event),
		nextOffset: 1,
	}
}

func (l *eventLog) Append(ctx context.Context, event *model.Event) (*model.Event, error) {
	if event.Kind == types.EventResync {
		return nil, goerr.New("resync events are synthesized per subscriber, not stored",
			goerr.T(types.ErrTagValidation))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// The (record, sequence) key makes append idempotent: replaying the same
	// commit returns the stored event instead of a duplicate entry.
	if stored, exists := l.byKey[event.Key()]; exists {
		return stored.Clone(), nil
	}

	appended := event.Clone()
	appended.Offset = l.nextOffset
	l.nextOffset++

	l.events = append(l.events, appended)
	l.byKey[appended.Key()] = appended
	return appended.Clone(), nil
}

func (l *eventLog) Replay(ctx context.Context, fromOffset int64, limit int) ([]*model.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*model.Event
	for _, event := range l.events {
		if event.Offset < fromOffset {
			continue
		}
		result = append(result, event.Clone())
		if limit > 0 && len(result) >= limit {
			break
		}
	}

	return result, nil
}

func (l *eventLog) ListByRecord(ctx context.Context, id types.RecordID) ([]*model.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*model.Event
	for _, event := range l.events {
		if event.RecordID == id {
			result = append(result, event.Clone())
		}
	}

	return result, nil
}

func (l *eventLog) Horizon(ctx context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.events) == 0 {
		return 0, nil
	}
	return l.events[0].Offset, nil
}

func (l *eventLog) Latest(ctx context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.events) == 0 {
		return 0, nil
	}
	return l.events[len(l.events)-1].Offset, nil
}

func (l *eventLog) Trim(ctx context.Context, olderThan time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	trimmed := 0
	for len(l.events) > 0 && l.events[0].CreatedAt.Before(olderThan) {
		delete(l.byKey, l.events[0].Key())
		l.events = l.events[1:]
		trimmed++
	}

	return trimmed, nil
}
