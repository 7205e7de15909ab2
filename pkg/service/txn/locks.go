package txn

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// lockTable hands out per-record locks with a bounded wait. Lock channels
// are never removed from the map; the working set of record IDs under
// contention stays small and a stale entry is just an idle channel.
type lockTable struct {
	mu    sync.Mutex
	locks map[types.RecordID]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{
		locks: make(map[types.RecordID]chan struct{}),
	}
}

func (t *lockTable) slot(id types.RecordID) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		t.locks[id] = ch
	}
	return ch
}

// acquire takes the record's lock, waiting at most wait. Expiry of the wait
// is a lock-timeout error; the caller releases any locks it already holds
// and surfaces the failure.
func (t *lockTable) acquire(ctx context.Context, id types.RecordID, wait time.Duration) error {
	slot := t.slot(id)

	select {
	case slot <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return nil
	case <-timer.C:
		return goerr.New("record lock wait exceeded",
			goerr.T(types.ErrTagLockTimeout),
			goerr.V(model.RecordIDKey, id), goerr.V("wait", wait.String()))
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "context cancelled while waiting for record lock",
			goerr.V(model.RecordIDKey, id))
	}
}

func (t *lockTable) release(id types.RecordID) {
	<-t.slot(id)
}
