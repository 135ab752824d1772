package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commrelay/internal/config"
	"commrelay/internal/db"
	"commrelay/internal/types"
)

func watcherConfig() config.WatcherConfig {
	return config.WatcherConfig{
		ScanLimit:       200,
		Source:          "payment_invoice",
		AllowedStatuses: []string{"PENDING"},
		PaidStatuses:    []string{"PAID"},
		CancelChunkSize: 500,
	}
}

func supportConfig() config.SupportConfig {
	return config.SupportConfig{
		Email:     "support@example.com",
		Phone:     "021-555-0100",
		PhoneE164: "+62215550100",
	}
}

// newWatcherHarness wires a watcher onto in-memory stores and a fake tx.
func newWatcherHarness(invoices *fakeInvoices, tasks *fakeTasks, offsets *fakeOffsets, now time.Time) (*Watcher, *fakeTx) {
	tx := &fakeTx{}
	w := NewWatcher(&fakeBeginner{tx: tx}, watcherConfig(), supportConfig(), testLogger)
	w.now = func() time.Time { return now }
	w.bind = func(db.DBTX) watcherStores {
		return watcherStores{invoices: invoices, tasks: tasks, offsets: offsets}
	}
	return w, tx
}

func TestWatcher_Tick_SchedulesFirstStagePerChannel(t *testing.T) {
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	invoices := &fakeInvoices{invoices: []types.InvoiceRow{{
		ID:          101,
		PaymentCode: "INV-101",
		PayerEmail:  "a@example.com",
		PayerPhone:  "+6281200000001",
		InvoiceURL:  "https://pay.example.com/101",
		Status:      "PENDING",
		UserName:    "Ana",
		TicketTitle: "Music Fest",
		ExpiryRaw:   "2026-03-01 19:00:00",
	}}}
	tasks := &fakeTasks{}
	offsets := &fakeOffsets{lastID: 100}

	w, tx := newWatcherHarness(invoices, tasks, offsets, now)
	require.NoError(t, w.Tick(context.Background()))

	// 18 hours before expiry: first stage is pay_12h, one task per channel.
	require.Len(t, tasks.enqueued, 2)
	email, wa := tasks.enqueued[0], tasks.enqueued[1]
	assert.Equal(t, types.ChannelEmail, email.Channel)
	assert.Equal(t, types.ChannelWhatsApp, wa.Channel)
	for _, task := range tasks.enqueued {
		assert.Equal(t, "pay_12h", task.TemplateCode)
		assert.Equal(t, "pay:INV-101", task.JobKey)
		assert.Equal(t, time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC), task.ScheduledAt)
		assert.Equal(t, "2026-03-01T19:00:00Z", task.Payload.String("expired_at"))
		assert.Equal(t, "support@example.com", task.Payload.String("support_email"))
	}

	assert.Equal(t, int64(101), offsets.advanced)
	assert.True(t, tx.committed)
}

func TestWatcher_Tick_MidWindowInvoicePicksLaterStage(t *testing.T) {
	// 2 hours before expiry: 12h and 3h are gone, pay_60mins applies.
	now := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)
	invoices := &fakeInvoices{invoices: []types.InvoiceRow{{
		ID:         102,
		PayerEmail: "b@example.com",
		Status:     "PENDING",
		ExpiryRaw:  "2026-03-01 19:00:00",
	}}}
	tasks := &fakeTasks{}
	offsets := &fakeOffsets{}

	w, _ := newWatcherHarness(invoices, tasks, offsets, now)
	require.NoError(t, w.Tick(context.Background()))

	require.Len(t, tasks.enqueued, 1)
	assert.Equal(t, "pay_60mins", tasks.enqueued[0].TemplateCode)
	// Missing payment code falls back to the invoice id.
	assert.Equal(t, "pay:102", tasks.enqueued[0].JobKey)
}

func TestWatcher_Tick_CancelsPaidAndAdvancesPastSkipped(t *testing.T) {
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	invoices := &fakeInvoices{
		paidTaskIDs: []int64{3, 9},
		invoices: []types.InvoiceRow{
			// No contact at all: skipped.
			{ID: 103, Status: "PENDING", ExpiryRaw: "2026-03-01 19:00:00"},
			// Malformed expiry: skipped.
			{ID: 104, PayerEmail: "c@example.com", Status: "PENDING", ExpiryRaw: "soon"},
			// Already expired: skipped.
			{ID: 105, PayerEmail: "d@example.com", Status: "PENDING", ExpiryRaw: "2026-02-01 19:00:00"},
		},
	}
	tasks := &fakeTasks{}
	offsets := &fakeOffsets{lastID: 100}

	w, tx := newWatcherHarness(invoices, tasks, offsets, now)
	require.NoError(t, w.Tick(context.Background()))

	assert.Equal(t, []int64{3, 9}, tasks.canceled)
	assert.Empty(t, tasks.enqueued)

	// Skipped invoices still advance the cursor; they are never revisited.
	assert.Equal(t, int64(105), offsets.advanced)
	assert.True(t, tx.committed)
}

func TestWatcher_Tick_IneligibleStatusAdvancesCursorWithoutScheduling(t *testing.T) {
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	invoices := &fakeInvoices{invoices: []types.InvoiceRow{
		// Outside the allowed status set: skipped for good, never scheduled
		// even if the status later becomes eligible.
		{ID: 110, PayerEmail: "g@example.com", Status: "EXPIRED",
			ExpiryRaw: "2026-03-01 19:00:00"},
		{ID: 111, PayerEmail: "h@example.com", Status: "CANCELED",
			ExpiryRaw: "2026-03-01 19:00:00"},
	}}
	tasks := &fakeTasks{}
	offsets := &fakeOffsets{lastID: 100}

	w, tx := newWatcherHarness(invoices, tasks, offsets, now)
	require.NoError(t, w.Tick(context.Background()))

	assert.Empty(t, tasks.enqueued)
	// Ineligible rows still raise the high-water mark, so trailing ones are
	// not rescanned every tick.
	assert.Equal(t, int64(111), offsets.advanced)
	assert.True(t, tx.committed)
}

func TestWatcher_Tick_PayloadDisplayFallbacks(t *testing.T) {
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	created := time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC)
	invoices := &fakeInvoices{invoices: []types.InvoiceRow{
		// No user name, no ticket title, no description.
		{ID: 112, PayerEmail: "dina@example.com", Status: "PENDING",
			ExpiryRaw: "2026-03-01 19:00:00", CreatedAt: created},
		// Phone only: no name source at all, description present.
		{ID: 113, PayerPhone: "+6281200000002", Status: "PENDING",
			Description: "Early bird order",
			ExpiryRaw:   "2026-03-01 19:00:00", CreatedAt: created},
	}}
	tasks := &fakeTasks{}
	offsets := &fakeOffsets{}

	w, _ := newWatcherHarness(invoices, tasks, offsets, now)
	require.NoError(t, w.Tick(context.Background()))
	require.Len(t, tasks.enqueued, 2)

	// Name degrades to the email local part, then to Guest; the promo name
	// to the description, then to Promotional.
	first := tasks.enqueued[0].Payload
	assert.Equal(t, "dina", first.String("name"))
	assert.Equal(t, "Promotional", first.String("ticket_promo_name"))
	assert.Equal(t, "2026-02-28T10:00:00Z", first.String("invoice_created_at"))

	second := tasks.enqueued[1].Payload
	assert.Equal(t, "Guest", second.String("name"))
	assert.Equal(t, "Early bird order", second.String("ticket_promo_name"))
}

func TestWatcher_Tick_DBErrorRollsBackEverything(t *testing.T) {
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	invoices := &fakeInvoices{invoices: []types.InvoiceRow{{
		ID:         106,
		PayerEmail: "e@example.com",
		Status:     "PENDING",
		ExpiryRaw:  "2026-03-01 19:00:00",
	}}}
	tasks := &fakeTasks{
		enqueueErr: types.NewAppError(types.ErrCodeInternalDB, "connection reset", nil),
	}
	offsets := &fakeOffsets{}

	w, tx := newWatcherHarness(invoices, tasks, offsets, now)
	require.Error(t, w.Tick(context.Background()))

	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
	// Cursor not advanced; the same invoice is rescanned next tick.
	assert.Zero(t, offsets.advanced)
}

func TestWatcher_Tick_DuplicateEnqueueIsQuiet(t *testing.T) {
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	inv := types.InvoiceRow{
		ID:          107,
		PaymentCode: "INV-107",
		PayerEmail:  "f@example.com",
		Status:      "PENDING",
		ExpiryRaw:   "2026-03-01 19:00:00",
	}
	invoices := &fakeInvoices{invoices: []types.InvoiceRow{inv, inv}}
	tasks := &fakeTasks{}
	offsets := &fakeOffsets{}

	w, _ := newWatcherHarness(invoices, tasks, offsets, now)
	require.NoError(t, w.Tick(context.Background()))

	// Second occurrence hits the dedup constraint and inserts nothing.
	assert.Len(t, tasks.enqueued, 1)
}
