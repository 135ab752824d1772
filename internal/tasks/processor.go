package tasks

import (
	"context"
	"log/slog"

	"commrelay/internal/render"
	"commrelay/internal/types"
)

// taskStore is the slice of the task repository the processor writes through.
type taskStore interface {
	Enqueue(ctx context.Context, task *types.Task) (bool, error)
	MarkSent(ctx context.Context, id int64, providerMessageID string) error
	MarkFailed(ctx context.Context, id int64, cause string) error
	MarkCanceled(ctx context.Context, id int64, reason string) error
}

// templateResolver looks up the active template for a code and channel.
type templateResolver interface {
	Resolve(ctx context.Context, code string, channel types.Channel) (*types.TemplateRecord, error)
}

// bodyRenderer renders channel bodies from template refs.
type bodyRenderer interface {
	RenderEmail(ref string, data types.Payload) (string, error)
	RenderWhatsApp(ref string, data types.Payload) (string, error)
}

// recipientOutcomes records terminal fanout results back onto campaign
// recipients.
type recipientOutcomes interface {
	MarkOutcome(ctx context.Context, recipientID int64, state types.RecipientState, cause string) error
}

// EmailSender delivers one rendered email and returns the provider's message id.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) (string, error)
}

// WhatsAppSender delivers one rendered text message and returns the
// provider's message id.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, phone, body string) (string, error)
}

// Processor drives a claimed task to a terminal state: guard check, template
// resolution, rendering, transport dispatch, bookkeeping, and payment-chain
// scheduling. Every claimed task ends terminal; an error anywhere marks the
// row failed rather than leaving it queued.
type Processor struct {
	store        taskStore
	templates    templateResolver
	renderer     bodyRenderer
	email        EmailSender
	whatsapp     WhatsAppSender
	guards       GuardRegistry
	settlement   settlementChecker
	campaigns    recipientOutcomes
	paidStatuses []string
	logger       *slog.Logger
}

// NewProcessor wires a Processor. Either sender may be nil when the channel
// is not configured; tasks for that channel then fail with an upstream error.
func NewProcessor(
	store taskStore,
	templates templateResolver,
	renderer bodyRenderer,
	email EmailSender,
	whatsapp WhatsAppSender,
	guards GuardRegistry,
	settlement settlementChecker,
	campaigns recipientOutcomes,
	paidStatuses []string,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		store:        store,
		templates:    templates,
		renderer:     renderer,
		email:        email,
		whatsapp:     whatsapp,
		guards:       guards,
		settlement:   settlement,
		campaigns:    campaigns,
		paidStatuses: paidStatuses,
		logger:       logger,
	}
}

// ProcessOne takes a queued task to a terminal state. The returned error is
// informational for the dispatcher's log; the terminal row write has already
// happened by the time it returns.
func (p *Processor) ProcessOne(ctx context.Context, task *types.Task) error {
	if guard := p.guards.For(task.Topic); guard != nil {
		skip, reason, err := guard.ShouldSkip(ctx, task)
		if err != nil {
			p.fail(ctx, task, "guard check failed: "+err.Error())
			return err
		}
		if skip {
			if err := p.store.MarkCanceled(ctx, task.ID, reason); err != nil {
				return err
			}
			p.logger.InfoContext(ctx, "task canceled by guard",
				"task_id", task.ID, "job_key", task.JobKey, "reason", reason)
			return nil
		}
	}

	rec, err := p.templates.Resolve(ctx, task.TemplateCode, task.Channel)
	if err != nil {
		p.fail(ctx, task, err.Error())
		return err
	}

	providerID, err := p.deliver(ctx, task, rec)
	if err != nil {
		p.fail(ctx, task, err.Error())
		return err
	}

	if err := p.store.MarkSent(ctx, task.ID, providerID); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "task sent",
		"task_id", task.ID, "channel", task.Channel,
		"template_code", task.TemplateCode, "provider_message_id", providerID)

	switch task.Topic {
	case types.TopicPayment:
		p.chainNextStage(ctx, task)
	case types.TopicCampaign:
		p.recordCampaignOutcome(ctx, task, types.RecipientSent, "")
	}
	return nil
}

// recordCampaignOutcome writes the terminal fanout result back onto the
// campaign recipient named in the payload. Bookkeeping problems are logged
// and swallowed; the task's own terminal state already stands.
func (p *Processor) recordCampaignOutcome(ctx context.Context, task *types.Task, state types.RecipientState, cause string) {
	if p.campaigns == nil {
		return
	}
	recipientID := task.Payload.Int64("recipient_id")
	if recipientID == 0 {
		return
	}
	if err := p.campaigns.MarkOutcome(ctx, recipientID, state, cause); err != nil {
		p.logger.ErrorContext(ctx, "failed to record campaign outcome",
			"task_id", task.ID, "recipient_id", recipientID, "state", state, "error", err)
	}
}

// deliver renders and sends the task on its channel, returning the provider
// message id.
func (p *Processor) deliver(ctx context.Context, task *types.Task, rec *types.TemplateRecord) (string, error) {
	switch task.Channel {
	case types.ChannelEmail:
		if p.email == nil {
			return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "email transport not configured", nil)
		}
		body, err := p.renderer.RenderEmail(rec.TemplateRef, task.Payload)
		if err != nil {
			return "", err
		}
		subject := render.RenderSubject(rec.Subject, task.Payload)
		return p.email.SendEmail(ctx, task.ToEmail, subject, body)
	case types.ChannelWhatsApp:
		if p.whatsapp == nil {
			return "", types.NewAppError(types.ErrCodeUpstreamWhatsApp, "whatsapp transport not configured", nil)
		}
		body, err := p.renderer.RenderWhatsApp(rec.TemplateRef, task.Payload)
		if err != nil {
			return "", err
		}
		return p.whatsapp.SendMessage(ctx, task.ToPhone, body)
	default:
		return "", types.NewAppError(types.ErrCodeValidationInvalidChannel, "unsupported channel: "+string(task.Channel), nil)
	}
}

// chainNextStage enqueues the next payment reminder for the same job key and
// channel. Chain problems are logged and swallowed: the current task already
// went out and must stay sent.
func (p *Processor) chainNextStage(ctx context.Context, task *types.Task) {
	next, ok := NextStage(task.TemplateCode)
	if !ok {
		return
	}

	expiryRaw := task.Payload.String("expired_at")
	if expiryRaw == "" {
		p.logger.WarnContext(ctx, "payment task has no expiry, chain stops",
			"task_id", task.ID, "job_key", task.JobKey)
		return
	}
	expiry, err := types.ParseExpiryUTC(expiryRaw)
	if err != nil {
		p.logger.WarnContext(ctx, "payment task has malformed expiry, chain stops",
			"task_id", task.ID, "job_key", task.JobKey, "expired_at", expiryRaw)
		return
	}

	if p.settlement != nil {
		settled, err := p.settlement.IsSettled(ctx, task.JobKey, p.paidStatuses)
		if err != nil {
			p.logger.ErrorContext(ctx, "settlement check failed, chain stops",
				"task_id", task.ID, "job_key", task.JobKey, "error", err)
			return
		}
		if settled {
			return
		}
	}

	nextTask := &types.Task{
		Channel:      task.Channel,
		ToEmail:      task.ToEmail,
		ToPhone:      task.ToPhone,
		TemplateCode: next.Code,
		Topic:        types.TopicPayment,
		Payload:      task.Payload,
		JobKey:       task.JobKey,
		ScheduledAt:  next.StageTime(expiry),
	}
	inserted, err := p.store.Enqueue(ctx, nextTask)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to chain next payment stage",
			"task_id", task.ID, "job_key", task.JobKey, "next_stage", next.Code, "error", err)
		return
	}
	if inserted {
		p.logger.InfoContext(ctx, "chained next payment stage",
			"job_key", task.JobKey, "next_stage", next.Code,
			"scheduled_at", nextTask.ScheduledAt)
	}
}

// fail marks the task failed, logging when even that write breaks.
func (p *Processor) fail(ctx context.Context, task *types.Task, cause string) {
	if err := p.store.MarkFailed(ctx, task.ID, cause); err != nil {
		p.logger.ErrorContext(ctx, "failed to mark task failed",
			"task_id", task.ID, "cause", cause, "error", err)
	}
	if task.Topic == types.TopicCampaign {
		p.recordCampaignOutcome(ctx, task, types.RecipientFailed, cause)
	}
}
