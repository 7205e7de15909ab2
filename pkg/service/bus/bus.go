package bus

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// DefaultReplayBatch is how many events a subscription pulls from the log
// per refill
const DefaultReplayBatch = 100

// VisibilityFunc decides whether the subscribing agent may see the event.
// The bus calls it for every delivery candidate except resync signals.
type VisibilityFunc func(ctx context.Context, agentID types.AgentID, event *model.Event) bool

// Bus is the synchronization layer: it appends change events to the durable
// log and serves pull-based subscriptions that replay from an offset. All
// delivery guarantees come from the log; live publishes only wake waiting
// subscribers so they pull again.
type Bus struct {
	log     interfaces.EventLog
	visible VisibilityFunc
	batch   int

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// Option is a functional option for Bus configuration
type Option func(*Bus)

// WithVisibility installs the per-agent read filter applied before delivery
func WithVisibility(fn VisibilityFunc) Option {
	return func(b *Bus) {
		b.visible = fn
	}
}

// WithReplayBatch overrides the per-refill replay batch size
func WithReplayBatch(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.batch = n
		}
	}
}

// New creates a bus over the given event log
func New(log interfaces.EventLog, opts ...Option) *Bus {
	b := &Bus{
		log:   log,
		batch: DefaultReplayBatch,
		subs:  make(map[*subscription]struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

var _ interfaces.EventBus = &Bus{}

// Publish appends the event to the log and wakes waiting subscribers.
// Appending is idempotent on the event key, so redelivering a commit is safe.
func (b *Bus) Publish(ctx context.Context, event *model.Event) (*model.Event, error) {
	if event == nil {
		return nil, goerr.New("event is required", goerr.T(types.ErrTagValidation))
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	stored, err := b.log.Append(ctx, event)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	for sub := range b.subs {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()

	return stored, nil
}

// Subscribe opens a pull-based stream for the agent. fromOffset is the
// offset after the subscriber's last acknowledged event; 0 starts from the
// oldest retained event.
func (b *Bus) Subscribe(ctx context.Context, agentID types.AgentID, filter interfaces.EventFilter, fromOffset int64) (interfaces.Subscription, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	if fromOffset < 0 {
		return nil, goerr.New("replay offset must not be negative",
			goerr.T(types.ErrTagValidation),
			goerr.V(model.AgentIDKey, agentID), goerr.V("offset", fromOffset))
	}

	sub := &subscription{
		bus:     b,
		agentID: agentID,
		filter:  filter,
		next:    fromOffset,
		wake:    make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub, nil
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// subscription is one agent's cursor over the event log
type subscription struct {
	bus     *Bus
	agentID types.AgentID
	filter  interfaces.EventFilter

	mu      sync.Mutex
	next    int64 // next offset to pull from the log
	acked   int64
	pending []*model.Event

	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

var _ interfaces.Subscription = &subscription{}

// Next blocks until an event is available, the subscription is closed, or
// the context ends
func (s *subscription) Next(ctx context.Context) (*model.Event, error) {
	for {
		select {
		case <-s.closed:
			return nil, goerr.New("subscription is closed",
				goerr.V(model.AgentIDKey, s.agentID))
		default:
		}

		event, ok, err := s.pull(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return event, nil
		}

		select {
		case <-s.wake:
		case <-s.closed:
			return nil, goerr.New("subscription is closed",
				goerr.V(model.AgentIDKey, s.agentID))
		case <-ctx.Done():
			return nil, goerr.Wrap(ctx.Err(), "waiting for events",
				goerr.V(model.AgentIDKey, s.agentID))
		}
	}
}

// pull returns the next deliverable event, refilling from the log as needed.
// ok is false when the log holds nothing new for this cursor.
func (s *subscription) pull(ctx context.Context) (*model.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		for len(s.pending) > 0 {
			event := s.pending[0]
			s.pending = s.pending[1:]
			if s.deliverable(ctx, event) {
				return event, true, nil
			}
		}

		// A cursor behind the retention horizon gets one resync signal and
		// jumps forward; the skipped range is gone and cannot be replayed.
		horizon, err := s.bus.log.Horizon(ctx)
		if err != nil {
			return nil, false, err
		}
		if s.next > 0 && horizon > 0 && s.next < horizon {
			s.next = horizon
			return model.NewResyncEvent(horizon), true, nil
		}

		batch, err := s.bus.log.Replay(ctx, s.next, s.bus.batch)
		if err != nil {
			return nil, false, err
		}
		if len(batch) == 0 {
			return nil, false, nil
		}
		s.pending = append(s.pending, batch...)
		s.next = batch[len(batch)-1].Offset + 1
	}
}

func (s *subscription) deliverable(ctx context.Context, event *model.Event) bool {
	if !s.filter.Matches(event) {
		return false
	}
	if event.Kind == types.EventResync {
		return true
	}
	if s.bus.visible != nil && !s.bus.visible(ctx, s.agentID, event) {
		return false
	}
	return true
}

// Ack marks the offset as processed. The bus does not persist acks; the
// subscriber passes its high-water mark back on resubscribe.
func (s *subscription) Ack(offset int64) {
	s.mu.Lock()
	if offset > s.acked {
		s.acked = offset
	}
	s.mu.Unlock()
}

// Acked returns the highest acknowledged offset
func (s *subscription) Acked() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

// Close releases the subscription and unblocks pending Next calls
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.bus.remove(s)
	})
	return nil
}
