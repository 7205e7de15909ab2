package worker

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
	"github.com/secmon-lab/mnemosyne/pkg/utils/safe"
	"golang.org/x/sync/errgroup"
)

// DedupScanner runs duplicate detection. Implemented by the deduplication
// engine.
type DedupScanner interface {
	// ScanRecord checks one record against the rest of the store
	ScanRecord(ctx context.Context, id types.RecordID) error

	// RescanUpdatedSince re-checks records written within the window and
	// returns how many were scanned. Covers scans skipped while the
	// similarity oracle was unavailable.
	RescanUpdatedSince(ctx context.Context, since time.Time) (int, error)
}

// DedupAgentID identifies the worker's bus subscription
const DedupAgentID types.AgentID = "system-dedup"

// DedupWorker scans every record written through the store for duplicates.
// Writes arrive as events over the synchronization bus; a periodic backstop
// rescan covers records whose inline scan was skipped or failed.
type DedupWorker struct {
	scanner  DedupScanner
	bus      interfaces.EventBus
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDedupWorker creates a worker that scans on write events and runs the
// backstop rescan every interval
func NewDedupWorker(scanner DedupScanner, eventBus interfaces.EventBus, interval time.Duration) *DedupWorker {
	return &DedupWorker{
		scanner:  scanner,
		bus:      eventBus,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the scan loops. Does not block server startup.
func (w *DedupWorker) Start(ctx context.Context) error {
	logging.Default().Info("Deduplication worker starting",
		"backstop_interval", w.interval.String())

	go w.run(ctx)

	return nil
}

// Stop signals the worker to stop and waits for completion
func (w *DedupWorker) Stop() {
	logging.Default().Info("Deduplication worker stopping")
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("Deduplication worker stopped")
}

// run consumes write events and drives the periodic backstop (runs in
// goroutine)
func (w *DedupWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	filter := interfaces.EventFilter{
		Kinds: []types.EventKind{types.EventCreated, types.EventUpdated, types.EventMerged},
	}
	sub, err := w.bus.Subscribe(runCtx, DedupAgentID, filter, 0)
	if err != nil {
		logging.Default().Error("Failed to open deduplication subscription",
			"error", err.Error())
		return
	}
	defer safe.Close(runCtx, sub)

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error {
		return w.consume(egCtx, sub)
	})
	eg.Go(func() error {
		return w.backstop(egCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Default().Error("Deduplication worker exited",
			"error", err.Error())
	}
}

// consume scans each record whose write event arrives over the bus
func (w *DedupWorker) consume(ctx context.Context, sub interfaces.Subscription) error {
	for {
		event, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return goerr.Wrap(err, "failed to receive write event")
		}

		if event.Kind == types.EventResync {
			// A resync signal names no record; the backstop rescan covers
			// the trimmed range
			sub.Ack(event.Offset)
			continue
		}

		if err := w.scanner.ScanRecord(ctx, event.RecordID); err != nil {
			// Log error but keep consuming; the backstop retries this record
			logging.Default().Warn("Duplicate scan failed (backstop will retry)",
				"record_id", event.RecordID,
				"offset", event.Offset,
				"error", err.Error())
		}
		sub.Ack(event.Offset)
	}
}

// backstop periodically rescans recently written records
func (w *DedupWorker) backstop(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Lookback is twice the interval; consecutive passes overlap
			since := time.Now().UTC().Add(-2 * w.interval)
			count, err := w.scanner.RescanUpdatedSince(ctx, since)
			if err != nil {
				logging.Default().Error("Backstop rescan failed (will retry next interval)",
					"error", err.Error())
				continue
			}
			if count > 0 {
				logging.Default().Info("Backstop rescan completed",
					"scanned", count)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
