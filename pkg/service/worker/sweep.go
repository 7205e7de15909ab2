package worker

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// SweepRunner executes one automatic lifecycle sweep pass. The implementation
// runs the dry-run, confirmation, apply cycle internally and returns the
// applied report.
type SweepRunner interface {
	AutoSweep(ctx context.Context) (*model.SweepReport, error)
}

// SweepWorker manages the periodic lifecycle sweep and trims the event log
// down to the retention window.
//
// Architecture assumptions:
// - Single server instance (no distributed locking)
// - For future horizontal scaling, add leader election so only one instance sweeps
type SweepWorker struct {
	runner    SweepRunner
	eventLog  interfaces.EventLog
	notifier  interfaces.Notifier
	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewSweepWorker creates a worker that sweeps every interval and keeps
// retention worth of events in the log
func NewSweepWorker(runner SweepRunner, eventLog interfaces.EventLog, notifier interfaces.Notifier, interval, retention time.Duration) *SweepWorker {
	return &SweepWorker{
		runner:    runner,
		eventLog:  eventLog,
		notifier:  notifier,
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background sweep loop
// - Initial sweep and periodic passes both run in a background goroutine
// - Does not block server startup
func (w *SweepWorker) Start(ctx context.Context) error {
	logging.Default().Info("Lifecycle sweep worker starting",
		"interval", w.interval.String(),
		"retention", w.retention.String())

	go w.run(ctx)

	return nil
}

// Stop signals the worker to stop and waits for completion
func (w *SweepWorker) Stop() {
	logging.Default().Info("Lifecycle sweep worker stopping")
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("Lifecycle sweep worker stopped")
}

// run is the main worker loop (runs in goroutine)
func (w *SweepWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	// Initial pass catches up transitions missed while the server was down
	if err := w.sweep(ctx); err != nil {
		logging.Default().Error("Initial lifecycle sweep failed (will retry next interval)",
			"error", err.Error())
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				// Log error but continue worker
				logging.Default().Error("Lifecycle sweep failed (will retry next interval)",
					"error", err.Error())
			}

		case <-w.stopCh:
			logging.Default().Info("Lifecycle sweep worker received stop signal")
			return

		case <-ctx.Done():
			logging.Default().Info("Lifecycle sweep worker context cancelled")
			return
		}
	}
}

// sweep performs a single sweep and trim cycle
func (w *SweepWorker) sweep(ctx context.Context) error {
	startTime := time.Now()

	report, err := w.runner.AutoSweep(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to run lifecycle sweep")
	}

	if len(report.Changes) > 0 {
		logging.Default().Info("Lifecycle sweep applied transitions",
			"examined", report.Examined,
			"applied", len(report.Changes),
			"failed", len(report.Errors),
			"duration", time.Since(startTime).String())

		if err := w.notifier.NotifySweep(ctx, report); err != nil {
			logging.Default().Warn("Failed to deliver sweep notification",
				"error", err.Error())
		}
	}

	cutoff := time.Now().UTC().Add(-w.retention)
	removed, err := w.eventLog.Trim(ctx, cutoff)
	if err != nil {
		return goerr.Wrap(err, "failed to trim event log", goerr.V("cutoff", cutoff))
	}
	if removed > 0 {
		logging.Default().Info("Event log trimmed to retention window",
			"removed", removed,
			"cutoff", cutoff.Format(time.RFC3339))
	}

	return nil
}
