package scheduler

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commrelay/internal/config"
	"commrelay/internal/types"
)

type fakeArchiveStore struct {
	batches [][]types.Task
	call    int
	deleted [][]int64
}

func (f *fakeArchiveStore) ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]types.Task, error) {
	if f.call >= len(f.batches) {
		return nil, nil
	}
	batch := f.batches[f.call]
	f.call++
	return batch, nil
}

func (f *fakeArchiveStore) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	f.deleted = append(f.deleted, ids)
	return int64(len(ids)), nil
}

func terminalTask(id int64, status types.TaskStatus) types.Task {
	return types.Task{
		ID:           id,
		Channel:      types.ChannelEmail,
		ToEmail:      "a@example.com",
		TemplateCode: "pay_3h",
		Topic:        types.TopicPayment,
		Payload:      types.Payload{"name": "Ana"},
		JobKey:       "pay:INV-101",
		ScheduledAt:  time.Date(2025, 11, 1, 7, 0, 0, 0, time.UTC),
		Status:       status,
		CreatedAt:    time.Date(2025, 11, 1, 6, 0, 0, 0, time.UTC),
	}
}

func newArchiver(store *fakeArchiveStore, dir string) *Archiver {
	return NewArchiver(store, config.MaintenanceConfig{
		RetentionDays: 90,
		ArchiveDir:    dir,
		ChunkSize:     2,
	}, testLogger)
}

func TestArchiver_Tick_WritesGzipNDJSONAndDeletes(t *testing.T) {
	dir := t.TempDir()
	store := &fakeArchiveStore{batches: [][]types.Task{
		{terminalTask(1, types.TaskSent), terminalTask(2, types.TaskFailed)},
		{terminalTask(3, types.TaskCanceled)},
	}}

	a := newArchiver(store, dir)
	n, err := a.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][]int64{{1, 2}, {3}}, store.deleted)

	files, err := filepath.Glob(filepath.Join(dir, "comm_tasks_*.ndjson.gz"))
	require.NoError(t, err)
	require.Len(t, files, 2)

	// Round-trip the first archive file.
	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	var lines []map[string]any
	scanner := bufio.NewScanner(zr)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)
	assert.Equal(t, "pay:INV-101", lines[0]["job_key"])
	assert.Equal(t, "sent", lines[0]["status"])
	assert.Equal(t, "failed", lines[1]["status"])
}

func TestArchiver_Tick_NothingToArchive(t *testing.T) {
	dir := t.TempDir()
	store := &fakeArchiveStore{}

	a := newArchiver(store, dir)
	n, err := a.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	files, _ := filepath.Glob(filepath.Join(dir, "*"))
	assert.Empty(t, files)
}
