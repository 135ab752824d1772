package db

import (
	"context"

	"commrelay/internal/types"
)

// InvoiceRepository reads the external billing tables (payment_invoice and
// its joins). Everything here is read-only except the task-side claim done
// through the paid-cancellation query; the billing tables themselves are
// never written.
type InvoiceRepository struct {
	db DBTX
}

// NewInvoiceRepository creates an InvoiceRepository backed by the given
// database connection (pool or transaction).
func NewInvoiceRepository(db DBTX) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// ListPaidCancellableTaskIDs returns the ids of open reminder tasks whose
// invoice has reached a paid status, claiming the task rows with
// FOR UPDATE SKIP LOCKED so concurrent watcher instances partition the work.
//
// The join mirrors the job-key construction rule exactly: match on the
// trimmed payment code, falling back to the numeric invoice id when the code
// is NULL or blank. Only payment-topic tasks match; a task from another
// source whose job key happens to use the pay: namespace is left alone.
// Runs on the watcher's tick transaction.
func (r *InvoiceRepository) ListPaidCancellableTaskIDs(ctx context.Context, paidStatuses []string) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT ct.id
		   FROM comm_tasks ct
		   JOIN payment_invoice pi
		     ON ct.job_key = 'pay:' || btrim(pi.payment_code)
		     OR ((pi.payment_code IS NULL OR btrim(pi.payment_code) = '')
		         AND ct.job_key = 'pay:' || pi.id::text)
		  WHERE pi.status = ANY($1)
		    AND ct.topic = 'payment'
		    AND ct.status IN ('pending', 'queued')
		  FOR UPDATE OF ct SKIP LOCKED`,
		paidStatuses,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list paid-cancellable tasks", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan task id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "paid-cancellation scan failed", err)
	}
	return ids, nil
}

// ScanAfter returns every invoice with id > afterID, regardless of status,
// joined with the display fields reminder payloads need, ordered by id and
// capped at limit. Status eligibility, expiry parsing, and skip decisions
// belong to the watcher: a skipped row must still advance the cursor, so the
// query cannot filter rows the watcher never sees.
func (r *InvoiceRepository) ScanAfter(ctx context.Context, afterID int64, limit int) ([]types.InvoiceRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT pi.id,
		        COALESCE(pi.payment_code, ''),
		        COALESCE(u.email, ''),
		        COALESCE(u.phone, ''),
		        COALESCE(pi.description, ''),
		        COALESCE(pi.invoice_url, ''),
		        pi.status,
		        COALESCE(pi.invoice_type, ''),
		        COALESCE(u.name, ''),
		        COALESCE(et.title, ''),
		        COALESCE(pi.expired_at::text, ''),
		        pi.created_at
		   FROM payment_invoice pi
		   LEFT JOIN users u ON u.id = pi.user_id
		   LEFT JOIN payment p ON p.id = pi.payment_id
		   LEFT JOIN events_tickets et ON et.id = p.events_tickets_id
		  WHERE pi.id > $1
		  ORDER BY pi.id
		  LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan invoices", err)
	}
	defer rows.Close()

	var invoices []types.InvoiceRow
	for rows.Next() {
		var inv types.InvoiceRow
		if err := rows.Scan(
			&inv.ID, &inv.PaymentCode, &inv.PayerEmail, &inv.PayerPhone,
			&inv.Description, &inv.InvoiceURL, &inv.Status, &inv.InvoiceType,
			&inv.UserName, &inv.TicketTitle, &inv.ExpiryRaw, &inv.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan invoice row", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "invoice scan failed", err)
	}
	return invoices, nil
}

// IsSettled reports whether the invoice behind a payment job key has reached
// one of the paid statuses. The key lookup mirrors the code-or-id rule used
// when the key was built.
func (r *InvoiceRepository) IsSettled(ctx context.Context, jobKey string, paidStatuses []string) (bool, error) {
	var settled bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1
		     FROM payment_invoice pi
		    WHERE pi.status = ANY($2)
		      AND ($1 = 'pay:' || btrim(pi.payment_code)
		           OR ((pi.payment_code IS NULL OR btrim(pi.payment_code) = '')
		               AND $1 = 'pay:' || pi.id::text))
		 )`,
		jobKey, paidStatuses,
	).Scan(&settled)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check invoice settlement", err)
	}
	return settled, nil
}
