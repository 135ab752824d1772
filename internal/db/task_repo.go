package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"commrelay/internal/types"
)

// taskColumns is the scan list shared by every query returning full task rows.
const taskColumns = `id, channel, COALESCE(to_email, ''), COALESCE(to_phone, ''),
	template_code, topic, payload, job_key, scheduled_at, status,
	COALESCE(sent_at, 'epoch'::timestamptz), COALESCE(provider_message_id, ''),
	COALESCE(last_error, ''), created_at`

// TaskRepository provides data access for the comm_tasks table. It accepts a
// DBTX so the same methods run against the pool or inside a caller-owned
// transaction (the watcher enqueues on its tick transaction).
type TaskRepository struct {
	db DBTX
}

// NewTaskRepository creates a TaskRepository backed by the given database
// connection (pool or transaction).
func NewTaskRepository(db DBTX) *TaskRepository {
	return &TaskRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *TaskRepository) WithTx(tx pgx.Tx) *TaskRepository {
	return &TaskRepository{db: tx}
}

// Enqueue inserts a pending task. The unique constraint on
// (job_key, template_code, channel) makes re-enqueueing the same logical
// notification a no-op: the method returns false with no error when the row
// already exists, regardless of the existing row's status.
func (r *TaskRepository) Enqueue(ctx context.Context, task *types.Task) (bool, error) {
	if err := task.Validate(); err != nil {
		return false, err
	}
	payload, err := task.Payload.Encode()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode task payload", err)
	}
	topic := task.Topic
	if topic == "" {
		topic = types.TopicGeneral
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO comm_tasks
		   (channel, to_email, to_phone, template_code, topic, payload,
		    job_key, scheduled_at, status)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, 'pending')
		 ON CONFLICT (job_key, template_code, channel) DO NOTHING`,
		task.Channel,
		task.ToEmail,
		task.ToPhone,
		task.TemplateCode,
		topic,
		payload,
		task.JobKey,
		task.ScheduledAt.UTC(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue task", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelByJobKey moves every non-terminal task sharing the job key to
// canceled. Returns the number of rows canceled. Terminal rows are untouched;
// the state machine only moves forward.
func (r *TaskRepository) CancelByJobKey(ctx context.Context, jobKey string, reason string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE comm_tasks
		    SET status = 'canceled', last_error = NULLIF($2, '')
		  WHERE job_key = $1 AND status IN ('pending', 'queued')`,
		jobKey, reason,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel tasks by job key", err)
	}
	return tag.RowsAffected(), nil
}

// CancelByIDs cancels the given non-terminal rows in chunks so a large paid
// invoice backlog never produces an unbounded statement. IDs already in a
// terminal state are skipped by the WHERE clause.
func (r *TaskRepository) CancelByIDs(ctx context.Context, ids []int64, reason string, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	var total int64
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		tag, err := r.db.Exec(ctx,
			`UPDATE comm_tasks
			    SET status = 'canceled', last_error = NULLIF($2, '')
			  WHERE id = ANY($1) AND status IN ('pending', 'queued')`,
			ids[start:end], reason,
		)
		if err != nil {
			return total, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel task chunk", err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// MarkSent finalizes a queued task as sent, recording the delivery instant
// and the provider's message id.
func (r *TaskRepository) MarkSent(ctx context.Context, id int64, providerMessageID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE comm_tasks
		    SET status = 'sent', sent_at = now(),
		        provider_message_id = NULLIF($2, '')
		  WHERE id = $1 AND status = 'queued'`,
		id, providerMessageID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark task sent", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTask, "no queued task to mark sent", nil)
	}
	return nil
}

// MarkFailed finalizes a queued task as failed with the error message.
func (r *TaskRepository) MarkFailed(ctx context.Context, id int64, cause string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE comm_tasks
		    SET status = 'failed', last_error = $2
		  WHERE id = $1 AND status = 'queued'`,
		id, cause,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark task failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTask, "no queued task to mark failed", nil)
	}
	return nil
}

// MarkCanceled finalizes a queued task as canceled. Used by the processor
// when a guard vetoes delivery after the row was claimed.
func (r *TaskRepository) MarkCanceled(ctx context.Context, id int64, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE comm_tasks
		    SET status = 'canceled', last_error = NULLIF($2, '')
		  WHERE id = $1 AND status = 'queued'`,
		id, reason,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark task canceled", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTask, "no queued task to mark canceled", nil)
	}
	return nil
}

// ListArchivable returns terminal tasks older than the cutoff, oldest first,
// for the retention archiver. Pending and queued rows are never returned.
func (r *TaskRepository) ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]types.Task, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+taskColumns+`
		   FROM comm_tasks
		  WHERE status IN ('sent', 'failed', 'canceled') AND created_at < $1
		  ORDER BY id
		  LIMIT $2`,
		cutoff.UTC(), limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list archivable tasks", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// DeleteByIDs removes archived rows. Only terminal rows match; a pending or
// queued id in the list is ignored.
func (r *TaskRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM comm_tasks
		  WHERE id = ANY($1) AND status IN ('sent', 'failed', 'canceled')`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived tasks", err)
	}
	return tag.RowsAffected(), nil
}

// scanTasks drains a task row set using the shared column list. Payload
// bytes degrade to an empty map when malformed so one corrupt row cannot
// poison a batch.
func scanTasks(rows pgx.Rows) ([]types.Task, error) {
	var tasks []types.Task
	for rows.Next() {
		var t types.Task
		var payload []byte
		if err := rows.Scan(
			&t.ID, &t.Channel, &t.ToEmail, &t.ToPhone,
			&t.TemplateCode, &t.Topic, &payload, &t.JobKey,
			&t.ScheduledAt, &t.Status, &t.SentAt, &t.ProviderMessageID,
			&t.LastError, &t.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan task row", err)
		}
		t.Payload = types.DecodePayload(payload)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "task row iteration failed", err)
	}
	return tasks, nil
}
