package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"commrelay/internal/config"
	"commrelay/internal/db"
	"commrelay/internal/types"
)

// maxPublishDelay is the longest per-message delay the external job queue
// supports. Recipients due further out stay PENDING and are picked up by a
// later tick.
const maxPublishDelay = 15 * time.Minute

// fanoutPublisher publishes one campaign fanout message with a delivery delay.
type fanoutPublisher interface {
	Publish(ctx context.Context, msg types.FanoutMessage, delay time.Duration) error
}

// recipientStore is the campaign access the fanout tick needs.
type recipientStore interface {
	ListPendingRecipients(ctx context.Context, limit int) ([]types.PendingRecipient, error)
	MarkScheduled(ctx context.Context, recipientID int64) error
}

// CampaignTicker scans pending recipients of active campaigns and hands each
// one to the external job queue with the delay matching its send time.
// Recipients are marked SCHEDULED in the same transaction that claimed them,
// so a crashed tick releases every claim it held.
type CampaignTicker struct {
	pool   db.TxBeginner
	pub    fanoutPublisher
	cfg    config.CampaignConfig
	logger *slog.Logger
	now    func() time.Time

	bind func(tx db.DBTX) recipientStore
}

// NewCampaignTicker creates a CampaignTicker over the pool and publisher.
func NewCampaignTicker(pool db.TxBeginner, pub fanoutPublisher, cfg config.CampaignConfig, logger *slog.Logger) *CampaignTicker {
	return &CampaignTicker{
		pool:   pool,
		pub:    pub,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		bind: func(tx db.DBTX) recipientStore {
			return db.NewCampaignRepository(tx)
		},
	}
}

// Tick runs one fanout pass. Returns the number of recipients scheduled.
func (c *CampaignTicker) Tick(ctx context.Context) (int, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to begin campaign transaction", err)
	}
	defer tx.Rollback(ctx)

	store := c.bind(tx)
	recipients, err := store.ListPendingRecipients(ctx, c.cfg.ScanLimit)
	if err != nil {
		return 0, err
	}

	now := c.now()
	scheduled := 0
	for i := range recipients {
		rec := &recipients[i]

		delay, ready := c.sendDelay(rec, now)
		if !ready {
			continue
		}

		msg := types.FanoutMessage{
			TraceID:      uuid.NewString(),
			CampaignID:   rec.CampaignID,
			RecipientID:  rec.ID,
			TemplateCode: rec.TemplateCode,
			Email:        rec.Email,
			Phone:        rec.Phone,
			Variables:    rec.Variables,
		}
		if err := c.pub.Publish(ctx, msg, delay); err != nil {
			// Leave the recipient PENDING; a later tick retries.
			c.logger.ErrorContext(ctx, "fanout publish failed",
				"recipient_id", rec.ID, "campaign_id", rec.CampaignID, "error", err)
			continue
		}
		if err := store.MarkScheduled(ctx, rec.ID); err != nil {
			return scheduled, err
		}
		scheduled++
	}

	if err := tx.Commit(ctx); err != nil {
		return scheduled, types.NewAppError(types.ErrCodeInternalDB, "failed to commit campaign transaction", err)
	}
	if scheduled > 0 {
		c.logger.InfoContext(ctx, "campaign tick complete", "scheduled", scheduled)
	}
	return scheduled, nil
}

// sendDelay computes how long the queue should hold the message. The
// recipient's own schedule wins over the campaign-level send time. Recipients
// due beyond the queue's delay ceiling are not ready yet.
func (c *CampaignTicker) sendDelay(rec *types.PendingRecipient, now time.Time) (time.Duration, bool) {
	due := rec.ScheduledAt
	if due.IsZero() || due.Unix() == 0 {
		due = rec.CampaignSendAt
	}
	if due.IsZero() || due.Unix() == 0 {
		// No schedule anywhere: send immediately.
		return 0, true
	}
	delay := due.Sub(now)
	if delay <= 0 {
		return 0, true
	}
	if delay > maxPublishDelay {
		return 0, false
	}
	return delay, true
}
