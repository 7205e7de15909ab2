package async

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// Dispatch runs a background task in its own goroutine, detached from the
// request that spawned it. The task gets a fresh context carrying the
// request's logger, so a canceled request does not abort index cleanup or
// notification delivery. Panics and errors are logged under the task name.
func Dispatch(ctx context.Context, op string, task func(ctx context.Context) error) {
	bgCtx := context.Background()
	if logger := logging.From(ctx); logger != nil {
		bgCtx = logging.With(bgCtx, logger)
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.From(bgCtx).Error("panic in background task", "op", op, "panic", r)
			}
		}()

		if err := task(bgCtx); err != nil {
			logging.From(bgCtx).Error("background task failed", "op", op, "error", goerr.Unwrap(err))
		}
	}()
}
