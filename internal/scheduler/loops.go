package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"commrelay/internal/types"
)

// RunEvery runs fn once immediately and then on every interval tick until the
// context is canceled. Each tick runs under its own trace id, so log lines
// and outbound trace headers correlate within one pass. Tick errors are
// logged and do not stop the loop; only cancellation does. Always returns nil
// so one loop's shutdown never takes the supervising group down with an
// error.
func RunEvery(ctx context.Context, name string, interval time.Duration, logger *slog.Logger, fn func(context.Context) error) error {
	runTick(ctx, name, logger, fn)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "loop stopped", "loop", name)
			return nil
		case <-ticker.C:
			runTick(ctx, name, logger, fn)
		}
	}
}

func runTick(ctx context.Context, name string, logger *slog.Logger, fn func(context.Context) error) {
	tickCtx := types.WithTraceID(ctx, uuid.NewString())
	if err := fn(tickCtx); err != nil && ctx.Err() == nil {
		logger.ErrorContext(tickCtx, "tick failed",
			"loop", name, "trace_id", types.GetTraceID(tickCtx), "error", err)
	}
}
