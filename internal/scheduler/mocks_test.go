package scheduler

import (
	"context"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"commrelay/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- Fake transaction ---

// fakeTx satisfies pgx.Tx for loops that only need Begin/Commit/Rollback;
// the repositories themselves are swapped out via the bind hook.
type fakeTx struct {
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, nil }

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *fakeTx) Conn() *pgx.Conn                                               { return nil }

// fakeBeginner hands out one fakeTx per Begin.
type fakeBeginner struct {
	tx  *fakeTx
	err error
}

func (b *fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

// --- In-memory stores ---

type fakeInvoices struct {
	paidTaskIDs []int64
	invoices    []types.InvoiceRow

	listErr error
	scanErr error

	scanAfterID int64
}

func (f *fakeInvoices) ListPaidCancellableTaskIDs(ctx context.Context, paidStatuses []string) ([]int64, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.paidTaskIDs, nil
}

func (f *fakeInvoices) ScanAfter(ctx context.Context, afterID int64, limit int) ([]types.InvoiceRow, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	f.scanAfterID = afterID
	var out []types.InvoiceRow
	for _, inv := range f.invoices {
		if inv.ID > afterID && len(out) < limit {
			out = append(out, inv)
		}
	}
	return out, nil
}

type fakeTasks struct {
	enqueued   []types.Task
	canceled   []int64
	enqueueErr error
}

func (f *fakeTasks) Enqueue(ctx context.Context, task *types.Task) (bool, error) {
	if f.enqueueErr != nil {
		return false, f.enqueueErr
	}
	for _, existing := range f.enqueued {
		if existing.JobKey == task.JobKey &&
			existing.TemplateCode == task.TemplateCode &&
			existing.Channel == task.Channel {
			return false, nil
		}
	}
	f.enqueued = append(f.enqueued, *task)
	return true, nil
}

func (f *fakeTasks) CancelByIDs(ctx context.Context, ids []int64, reason string, chunkSize int) (int64, error) {
	f.canceled = append(f.canceled, ids...)
	return int64(len(ids)), nil
}

type fakeOffsets struct {
	lastID   int64
	advanced int64
}

func (f *fakeOffsets) GetForUpdate(ctx context.Context, source string) (int64, error) {
	return f.lastID, nil
}

func (f *fakeOffsets) Advance(ctx context.Context, source string, lastID int64) error {
	f.advanced = lastID
	return nil
}
