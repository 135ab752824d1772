// Package scheduler contains the timer-driven loops of the worker: the
// invoice watcher, the dispatch tick, the campaign fanout tick, and the
// retention archiver.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"commrelay/internal/config"
	"commrelay/internal/db"
	"commrelay/internal/tasks"
	"commrelay/internal/types"
)

// invoiceReader is the invoice access the watcher tick needs.
type invoiceReader interface {
	ListPaidCancellableTaskIDs(ctx context.Context, paidStatuses []string) ([]int64, error)
	ScanAfter(ctx context.Context, afterID int64, limit int) ([]types.InvoiceRow, error)
}

// taskEnqueuer is the task access the watcher tick needs.
type taskEnqueuer interface {
	Enqueue(ctx context.Context, task *types.Task) (bool, error)
	CancelByIDs(ctx context.Context, ids []int64, reason string, chunkSize int) (int64, error)
}

// offsetCursor is the cursor access the watcher tick needs.
type offsetCursor interface {
	GetForUpdate(ctx context.Context, source string) (int64, error)
	Advance(ctx context.Context, source string, lastID int64) error
}

// watcherStores bundles the tx-bound repositories of one tick.
type watcherStores struct {
	invoices invoiceReader
	tasks    taskEnqueuer
	offsets  offsetCursor
}

// Watcher polls the external invoice table for changes. Each tick runs one
// transaction: cancel reminders for freshly paid invoices, scan invoices past
// the cursor, schedule the first applicable reminder stage for each, and
// advance the cursor. A failed tick rolls back whole and the next tick
// retries from the same cursor.
type Watcher struct {
	pool    db.TxBeginner
	cfg     config.WatcherConfig
	support config.SupportConfig
	logger  *slog.Logger
	now     func() time.Time

	// bind builds the tick's repositories on its transaction. Swapped in
	// tests.
	bind func(tx db.DBTX) watcherStores
}

// NewWatcher creates a Watcher over the pool.
func NewWatcher(pool db.TxBeginner, cfg config.WatcherConfig, support config.SupportConfig, logger *slog.Logger) *Watcher {
	return &Watcher{
		pool:    pool,
		cfg:     cfg,
		support: support,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		bind: func(tx db.DBTX) watcherStores {
			return watcherStores{
				invoices: db.NewInvoiceRepository(tx),
				tasks:    db.NewTaskRepository(tx),
				offsets:  db.NewOffsetRepository(tx),
			}
		},
	}
}

// Tick runs one watcher pass.
func (w *Watcher) Tick(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin watcher transaction", err)
	}
	defer tx.Rollback(ctx)

	stores := w.bind(tx)

	// Pass 1: cancel open reminders whose invoice got paid.
	paidIDs, err := stores.invoices.ListPaidCancellableTaskIDs(ctx, w.cfg.PaidStatuses)
	if err != nil {
		return err
	}
	if len(paidIDs) > 0 {
		canceled, err := stores.tasks.CancelByIDs(ctx, paidIDs, "invoice paid", w.cfg.CancelChunkSize)
		if err != nil {
			return err
		}
		w.logger.InfoContext(ctx, "canceled reminders for paid invoices",
			"count", canceled)
	}

	// Pass 2: schedule reminders for invoices past the cursor.
	lastID, err := stores.offsets.GetForUpdate(ctx, w.cfg.Source)
	if err != nil {
		return err
	}
	invoices, err := stores.invoices.ScanAfter(ctx, lastID, w.cfg.ScanLimit)
	if err != nil {
		return err
	}

	maxID := lastID
	scheduled := 0
	for i := range invoices {
		inv := &invoices[i]
		if inv.ID > maxID {
			maxID = inv.ID
		}
		// Every scanned row moves the cursor, eligible or not. An invoice
		// outside the allowed set now stays skipped forever, even if its
		// status later changes.
		if !w.statusEligible(inv.Status) {
			continue
		}
		n, err := w.scheduleInvoice(ctx, stores.tasks, inv)
		if err != nil {
			// Database errors abort the transaction; anything else is a
			// per-invoice skip.
			if isDBError(err) {
				return err
			}
			w.logger.WarnContext(ctx, "skipping invoice",
				"invoice_id", inv.ID, "reason", err.Error())
			continue
		}
		scheduled += n
	}

	if maxID > lastID {
		if err := stores.offsets.Advance(ctx, w.cfg.Source, maxID); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit watcher transaction", err)
	}

	if len(invoices) > 0 || scheduled > 0 {
		w.logger.InfoContext(ctx, "watcher tick complete",
			"scanned", len(invoices), "scheduled", scheduled,
			"cursor", maxID)
	}
	return nil
}

// statusEligible reports whether an invoice status is in the allowed set for
// reminder scheduling.
func (w *Watcher) statusEligible(status string) bool {
	for _, s := range w.cfg.AllowedStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// scheduleInvoice picks the first applicable reminder stage for an invoice
// and enqueues one task per contact channel the payer has. Returns the number
// of tasks inserted.
func (w *Watcher) scheduleInvoice(ctx context.Context, store taskEnqueuer, inv *types.InvoiceRow) (int, error) {
	if inv.PayerEmail == "" && inv.PayerPhone == "" {
		return 0, types.NewAppError(types.ErrCodeValidationMissingField, "invoice has no contact", nil)
	}
	if inv.ExpiryRaw == "" {
		return 0, types.NewAppError(types.ErrCodeValidationInvalidTime, "invoice has no expiry", nil)
	}
	expiry, err := types.ParseExpiryUTC(inv.ExpiryRaw)
	if err != nil {
		return 0, err
	}
	stage, ok := tasks.FirstStage(expiry, w.now())
	if !ok {
		return 0, types.NewAppError(types.ErrCodeValidationInvalidTime, "invoice already expired", nil)
	}

	jobKey := types.PaymentJobKey(inv.PaymentCode, inv.ID)
	payload := w.buildPayload(inv, expiry)

	inserted := 0
	if inv.PayerEmail != "" {
		task := &types.Task{
			Channel:      types.ChannelEmail,
			ToEmail:      inv.PayerEmail,
			TemplateCode: stage.Code,
			Topic:        types.TopicPayment,
			Payload:      payload,
			JobKey:       jobKey,
			ScheduledAt:  stage.StageTime(expiry),
		}
		ok, err := store.Enqueue(ctx, task)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	if inv.PayerPhone != "" {
		task := &types.Task{
			Channel:      types.ChannelWhatsApp,
			ToPhone:      inv.PayerPhone,
			TemplateCode: stage.Code,
			Topic:        types.TopicPayment,
			Payload:      payload,
			JobKey:       jobKey,
			ScheduledAt:  stage.StageTime(expiry),
		}
		ok, err := store.Enqueue(ctx, task)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// buildPayload assembles the template data for a payment reminder. Display
// fields fall back so the templates never render blank: the name degrades to
// the email local part, then "Guest"; the promo name to the invoice
// description, then "Promotional".
func (w *Watcher) buildPayload(inv *types.InvoiceRow, expiry time.Time) types.Payload {
	name := inv.UserName
	if name == "" {
		if at := strings.IndexByte(inv.PayerEmail, '@'); at > 0 {
			name = inv.PayerEmail[:at]
		}
	}
	if name == "" {
		name = "Guest"
	}
	promo := inv.TicketTitle
	if promo == "" {
		promo = inv.Description
	}
	if promo == "" {
		promo = "Promotional"
	}
	return types.Payload{
		"name":               name,
		"ticket_promo_name":  promo,
		"pay_link":           inv.InvoiceURL,
		"expired_at":         types.FormatUTC(expiry),
		"invoice_code":       inv.PaymentCode,
		"invoice_type":       inv.InvoiceType,
		"invoice_created_at": types.FormatUTC(inv.CreatedAt),
		"support_email":      w.support.Email,
		"support_phone":      w.support.Phone,
		"support_phone_e164": w.support.PhoneE164,
		"event_date_range":   w.support.EventDateRange,
	}
}

// isDBError reports whether err is an AppError from the database layer.
func isDBError(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == types.ErrCodeInternalDB
}
