package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"commrelay/internal/config"
	"commrelay/internal/types"
)

// archiveStore is the task access the archiver needs.
type archiveStore interface {
	ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]types.Task, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}

// Archiver moves terminal tasks past the retention window out of the hot
// table into gzip NDJSON files. It never touches pending or queued rows;
// the repository query selects terminal statuses only.
type Archiver struct {
	store  archiveStore
	cfg    config.MaintenanceConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates an Archiver over the task store.
func NewArchiver(store archiveStore, cfg config.MaintenanceConfig, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// archivedTask is the NDJSON line shape written to archive files.
type archivedTask struct {
	ID                int64         `json:"id"`
	Channel           types.Channel `json:"channel"`
	ToEmail           string        `json:"to_email,omitempty"`
	ToPhone           string        `json:"to_phone,omitempty"`
	TemplateCode      string        `json:"template_code"`
	Topic             types.Topic   `json:"topic"`
	Payload           types.Payload `json:"payload"`
	JobKey            string        `json:"job_key"`
	ScheduledAt       time.Time     `json:"scheduled_at"`
	Status            string        `json:"status"`
	SentAt            *time.Time    `json:"sent_at,omitempty"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Tick archives and deletes terminal tasks older than the retention window,
// one chunk at a time until the backlog is drained. Returns the number of
// rows archived.
func (a *Archiver) Tick(ctx context.Context) (int, error) {
	cutoff := a.now().AddDate(0, 0, -a.cfg.RetentionDays)

	total := 0
	for {
		batch, err := a.store.ListArchivable(ctx, cutoff, a.cfg.ChunkSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}

		if err := a.writeArchive(batch); err != nil {
			return total, err
		}

		ids := make([]int64, len(batch))
		for i := range batch {
			ids[i] = batch[i].ID
		}
		deleted, err := a.store.DeleteByIDs(ctx, ids)
		if err != nil {
			return total, err
		}
		total += int(deleted)

		if len(batch) < a.cfg.ChunkSize {
			break
		}
	}

	if total > 0 {
		a.logger.InfoContext(ctx, "archived terminal tasks",
			"count", total, "cutoff", cutoff)
	}
	return total, nil
}

// writeArchive appends one chunk as a gzip NDJSON file. Each chunk gets its
// own file named by the first and last id it contains, so reruns never
// clobber earlier archives.
func (a *Archiver) writeArchive(batch []types.Task) error {
	if err := os.MkdirAll(a.cfg.ArchiveDir, 0o755); err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create archive dir", err)
	}

	name := "comm_tasks_" + a.now().Format("20060102T150405") + "_" +
		formatID(batch[0].ID) + "-" + formatID(batch[len(batch)-1].ID) + ".ndjson.gz"
	path := filepath.Join(a.cfg.ArchiveDir, name)

	f, err := os.Create(path)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create archive file", err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	for i := range batch {
		t := &batch[i]
		line := archivedTask{
			ID:                t.ID,
			Channel:           t.Channel,
			ToEmail:           t.ToEmail,
			ToPhone:           t.ToPhone,
			TemplateCode:      t.TemplateCode,
			Topic:             t.Topic,
			Payload:           t.Payload,
			JobKey:            t.JobKey,
			ScheduledAt:       t.ScheduledAt,
			Status:            string(t.Status),
			ProviderMessageID: t.ProviderMessageID,
			LastError:         t.LastError,
			CreatedAt:         t.CreatedAt,
		}
		if !t.SentAt.IsZero() && t.SentAt.Unix() != 0 {
			sentAt := t.SentAt
			line.SentAt = &sentAt
		}
		if err := enc.Encode(line); err != nil {
			zw.Close()
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode archive line", err)
		}
	}
	if err := zw.Close(); err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to flush archive file", err)
	}
	return f.Sync()
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
