package scheduler

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"commrelay/internal/config"
	"commrelay/internal/types"
)

// batchPicker claims due pending tasks.
type batchPicker interface {
	PickPendingBatch(ctx context.Context, limit int) ([]types.Task, error)
}

// taskProcessor takes one claimed task to a terminal state.
type taskProcessor interface {
	ProcessOne(ctx context.Context, task *types.Task) error
}

// Dispatcher is the dispatch tick: claim a batch of due tasks and fan their
// processing out over a bounded worker group. One slow or failing task never
// blocks or fails its siblings.
type Dispatcher struct {
	picker    batchPicker
	processor taskProcessor
	cfg       config.DispatchConfig
	logger    *slog.Logger
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(picker batchPicker, processor taskProcessor, cfg config.DispatchConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{picker: picker, processor: processor, cfg: cfg, logger: logger}
}

// Tick claims and processes one batch. Returns the number of tasks claimed.
// Per-task errors are logged, not returned: each failed task is already
// marked terminal by the processor.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	batch, err := d.picker.PickPendingBatch(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i := range batch {
		task := &batch[i]
		g.Go(func() error {
			if err := d.processor.ProcessOne(gctx, task); err != nil {
				d.logger.ErrorContext(gctx, "task processing failed",
					"task_id", task.ID, "channel", task.Channel,
					"template_code", task.TemplateCode, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	d.logger.InfoContext(ctx, "dispatch tick complete", "claimed", len(batch))
	return len(batch), nil
}
