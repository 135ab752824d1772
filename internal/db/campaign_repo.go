package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"commrelay/internal/types"
)

// CampaignRepository provides data access for campaigns and their recipients.
type CampaignRepository struct {
	db DBTX
}

// NewCampaignRepository creates a CampaignRepository backed by the given
// database connection (pool or transaction).
func NewCampaignRepository(db DBTX) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// ListPendingRecipients returns PENDING recipients of ACTIVE campaigns,
// joined with the campaign fields the fanout needs, locked with
// SKIP LOCKED so concurrent ticks partition the backlog.
func (r *CampaignRepository) ListPendingRecipients(ctx context.Context, limit int) ([]types.PendingRecipient, error) {
	rows, err := r.db.Query(ctx,
		`SELECT cr.id, c.id, c.status, c.mode,
		        COALESCE(c.send_at, 'epoch'::timestamptz),
		        c.template_code,
		        COALESCE(cr.email, ''), COALESCE(cr.phone, ''),
		        cr.variables,
		        COALESCE(cr.scheduled_at, 'epoch'::timestamptz)
		   FROM campaign_recipients cr
		   JOIN campaigns c ON c.id = cr.campaign_id
		  WHERE cr.state = 'PENDING' AND c.status = 'ACTIVE'
		  ORDER BY cr.id
		  LIMIT $1
		  FOR UPDATE OF cr SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending recipients", err)
	}
	defer rows.Close()

	var recipients []types.PendingRecipient
	for rows.Next() {
		var rec types.PendingRecipient
		var variables []byte
		if err := rows.Scan(
			&rec.ID, &rec.CampaignID, &rec.CampaignStatus, &rec.CampaignMode,
			&rec.CampaignSendAt, &rec.TemplateCode, &rec.Email, &rec.Phone,
			&variables, &rec.ScheduledAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan recipient row", err)
		}
		rec.Variables = types.DecodePayload(variables)
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "recipient scan failed", err)
	}
	return recipients, nil
}

// MarkScheduled moves a recipient PENDING -> SCHEDULED after its fanout
// message was published.
func (r *CampaignRepository) MarkScheduled(ctx context.Context, recipientID int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE campaign_recipients SET state = 'SCHEDULED'
		  WHERE id = $1 AND state = 'PENDING'`,
		recipientID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark recipient scheduled", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTask, "no pending recipient to schedule", nil)
	}
	return nil
}

// MarkOutcome records the terminal fanout result for a recipient.
func (r *CampaignRepository) MarkOutcome(ctx context.Context, recipientID int64, state types.RecipientState, cause string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE campaign_recipients
		    SET state = $2, last_error = NULLIF($3, '')
		  WHERE id = $1`,
		recipientID, state, cause,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record recipient outcome", err)
	}
	return nil
}

// WithTx returns a repository bound to the given transaction.
func (r *CampaignRepository) WithTx(tx pgx.Tx) *CampaignRepository {
	return &CampaignRepository{db: tx}
}
