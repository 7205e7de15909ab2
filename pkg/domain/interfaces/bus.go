package interfaces

import (
	"context"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// EventFilter narrows which events a subscription receives. Zero values
// match everything.
type EventFilter struct {
	RecordID types.RecordID    // only events for this record
	Kinds    []types.EventKind // only these kinds
}

// Matches reports whether the event passes the filter
func (f EventFilter) Matches(event *model.Event) bool {
	if event.Kind == types.EventResync {
		return true
	}
	if f.RecordID != "" && event.RecordID != f.RecordID {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, kind := range f.Kinds {
			if kind == event.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Subscription is one agent's pull-based event stream. Delivery is
// at-least-once: consumers de-duplicate on the event key and acknowledge
// offsets they have processed.
type Subscription interface {
	// Next blocks until an event is available or the context ends
	Next(ctx context.Context) (*model.Event, error)

	// Ack marks the offset as processed. Replay after a reconnect starts
	// from the highest acknowledged offset.
	Ack(offset int64)

	// Close releases the subscription
	Close() error
}

// EventBus defines the publish/subscribe contract of the synchronization
// layer. Per-record ordering follows event sequence numbers; a subscriber
// whose resume point has fallen behind the retention horizon first receives
// a resync signal.
type EventBus interface {
	// Publish appends the event to the log and fans it out to live
	// subscribers. Returns the stored event with its global offset.
	Publish(ctx context.Context, event *model.Event) (*model.Event, error)

	// Subscribe opens a stream for the agent. fromOffset is the offset
	// after the subscriber's last acknowledged event; pass 0 to start from
	// the oldest retained event.
	Subscribe(ctx context.Context, agentID types.AgentID, filter EventFilter, fromOffset int64) (Subscription, error)
}
