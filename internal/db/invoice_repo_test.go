package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// idMockRows yields single-column int64 rows.
func idMockRows(ids ...int64) *mockRows {
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{id}
	}
	return newMockRows(rows)
}

func TestInvoiceRepository_ListPaidCancellableTaskIDs(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewInvoiceRepository(dbMock)

	dbMock.On("Query", mock.Anything, mock.AnythingOfType("string"),
		[]any{[]string{"PAID"}}).
		Return(idMockRows(3, 9, 14), nil)

	ids, err := repo.ListPaidCancellableTaskIDs(context.Background(), []string{"PAID"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 9, 14}, ids)
}

func TestInvoiceRepository_PaidCancellationIsScopedToPaymentTopic(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewInvoiceRepository(dbMock)

	// A non-payment task whose caller-chosen job key lives in the pay:
	// namespace must never be swept up by the paid-cancellation pass.
	dbMock.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ct.topic = 'payment'")
	}), []any{[]string{"PAID"}}).
		Return(idMockRows(), nil)

	_, err := repo.ListPaidCancellableTaskIDs(context.Background(), []string{"PAID"})
	require.NoError(t, err)
	dbMock.AssertExpectations(t)
}

func TestInvoiceRepository_ScanAfter(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewInvoiceRepository(dbMock)

	created := time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		{int64(101), "INV-101", "a@example.com", "+6281200000001",
			"Ticket order", "https://pay.example.com/101", "PENDING",
			"TICKET", "Ana", "Music Fest", "2026-03-01 19:00:00", created},
		{int64(102), "", "b@example.com", "",
			"Ticket order", "https://pay.example.com/102", "PENDING",
			"TICKET", "Ben", "Music Fest", "", created},
		{int64(103), "INV-103", "c@example.com", "",
			"Ticket order", "https://pay.example.com/103", "EXPIRED",
			"TICKET", "Cleo", "Music Fest", "2026-03-01 19:00:00", created},
	})
	dbMock.On("Query", mock.Anything, mock.AnythingOfType("string"),
		[]any{int64(100), 200}).
		Return(rows, nil)

	invoices, err := repo.ScanAfter(context.Background(), 100, 200)
	require.NoError(t, err)
	require.Len(t, invoices, 3)

	assert.Equal(t, int64(101), invoices[0].ID)
	assert.Equal(t, "INV-101", invoices[0].PaymentCode)
	assert.Equal(t, "2026-03-01 19:00:00", invoices[0].ExpiryRaw)

	// Missing code and expiry come back as empty strings; the watcher
	// decides what to do with them.
	assert.Empty(t, invoices[1].PaymentCode)
	assert.Empty(t, invoices[1].ExpiryRaw)

	// No status filtering here: ineligible rows come back too, so the
	// watcher can advance its cursor past them.
	assert.Equal(t, "EXPIRED", invoices[2].Status)
}

func TestInvoiceRepository_IsSettled(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewInvoiceRepository(dbMock)

	row := &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*bool) = true
		return nil
	}}
	dbMock.On("QueryRow", mock.Anything, mock.AnythingOfType("string"),
		[]any{"pay:INV-101", []string{"PAID"}}).Return(row)

	settled, err := repo.IsSettled(context.Background(), "pay:INV-101", []string{"PAID"})
	require.NoError(t, err)
	assert.True(t, settled)
}
