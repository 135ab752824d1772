package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"commrelay/internal/types"
)

// TxBeginner is the subset of *pgxpool.Pool the picker needs to open its
// claim transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TaskPicker claims batches of due pending tasks. Claiming runs in its own
// short transaction: select the due rows with FOR UPDATE SKIP LOCKED, flip
// them to queued, commit. Concurrent workers skip each other's locked rows,
// so the same task is never claimed twice.
type TaskPicker struct {
	pool TxBeginner
}

// NewTaskPicker creates a TaskPicker on the given pool.
func NewTaskPicker(pool TxBeginner) *TaskPicker {
	return &TaskPicker{pool: pool}
}

// PickPendingBatch atomically claims up to limit due pending tasks and
// returns them already in queued status. Ordering is (scheduled_at, id) so
// the longest-overdue work drains first and equal instants break ties
// deterministically. An empty result means nothing is due.
func (p *TaskPicker) PickPendingBatch(ctx context.Context, limit int) ([]types.Task, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin pick transaction", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT `+taskColumns+`
		   FROM comm_tasks
		  WHERE status = 'pending' AND scheduled_at <= now()
		  ORDER BY scheduled_at, id
		  LIMIT $1
		  FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to select due tasks", err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, len(tasks))
	for i := range tasks {
		ids[i] = tasks[i].ID
	}
	if _, err := tx.Exec(ctx,
		`UPDATE comm_tasks SET status = 'queued'
		  WHERE status = 'pending' AND id = ANY($1)`,
		ids,
	); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to mark batch queued", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit pick transaction", err)
	}

	for i := range tasks {
		tasks[i].Status = types.TaskQueued
	}
	return tasks, nil
}
