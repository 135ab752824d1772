// Package types defines the shared domain entities, enums, and error types for
// the commrelay notification worker. All other packages depend on types; types
// depends on nothing internal.
package types

import (
	"strconv"
	"strings"
	"time"
)

// Channel identifies the delivery medium of a task. It is a closed set;
// dispatch over channels happens through typed switches and the transport
// capability table, never through ad-hoc string comparison at call sites.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Valid reports whether the channel is a member of the closed set.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelWhatsApp
}

// TaskStatus is the lifecycle state of a task row. Transitions only move
// forward: pending -> queued -> {sent | failed | canceled}. A pending or
// queued row may also move directly to canceled.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskQueued   TaskStatus = "queued"
	TaskSent     TaskStatus = "sent"
	TaskFailed   TaskStatus = "failed"
	TaskCanceled TaskStatus = "canceled"
)

// Terminal reports whether the status is an end state.
func (s TaskStatus) Terminal() bool {
	return s == TaskSent || s == TaskFailed || s == TaskCanceled
}

// Topic groups tasks by the business flow that created them. Guard predicates
// are keyed by topic.
type Topic string

const (
	TopicGeneral  Topic = "general"
	TopicPayment  Topic = "payment"
	TopicEvent    Topic = "event"
	TopicCampaign Topic = "campaign"
)

// Task is one scheduled, single-channel notification attempt tied to a
// template and a recipient contact. Exactly one of ToEmail/ToPhone is
// populated, matching the channel.
//
// The tuple (JobKey, TemplateCode, Channel) is unique in storage; re-enqueuing
// the same logical reminder for the same recipient and channel is a no-op.
type Task struct {
	ID                int64
	Channel           Channel
	ToEmail           string
	ToPhone           string
	TemplateCode      string
	Topic             Topic
	Payload           Payload
	JobKey            string
	ScheduledAt       time.Time
	Status            TaskStatus
	SentAt            time.Time
	ProviderMessageID string
	LastError         string
	CreatedAt         time.Time
}

// Validate checks the enqueue input constraints: channel must be valid, the
// contact field must match the channel, and template code, job key, and
// schedule instant are required.
func (t *Task) Validate() error {
	if !t.Channel.Valid() {
		return NewAppError(ErrCodeValidationInvalidChannel, "unsupported channel: "+string(t.Channel), nil)
	}
	if t.TemplateCode == "" {
		return NewAppError(ErrCodeValidationMissingField, "template_code is required", nil)
	}
	if t.JobKey == "" {
		return NewAppError(ErrCodeValidationMissingField, "job_key is required", nil)
	}
	if t.ScheduledAt.IsZero() {
		return NewAppError(ErrCodeValidationMissingField, "scheduled_at is required", nil)
	}
	switch t.Channel {
	case ChannelEmail:
		if t.ToEmail == "" {
			return NewAppError(ErrCodeValidationMissingField, "to_email is required for email tasks", nil)
		}
	case ChannelWhatsApp:
		if t.ToPhone == "" {
			return NewAppError(ErrCodeValidationMissingField, "to_phone is required for whatsapp tasks", nil)
		}
	}
	return nil
}

// TemplateRecord is an active row of comm_templates resolved by
// (code, channel). TemplateRef names a file under the template root; Subject
// is the email subject line, which may itself contain template expressions.
type TemplateRecord struct {
	Code        string
	Channel     Channel
	TemplateRef string
	Subject     string
}

// PaymentJobKeyPrefix is the job-key namespace for payment-reminder flows.
// Keys are formatted "pay:<invoice-code>" with a fallback to
// "pay:<invoice-id>" for invoices lacking a code.
const PaymentJobKeyPrefix = "pay:"

// PaymentJobKey builds the correlation key for an invoice. The code is
// trimmed; when empty the numeric id is used. This fallback rule must match
// the SQL join used by the paid-cancellation pass exactly, or tasks for
// code-less invoices would be silently orphaned.
func PaymentJobKey(code string, id int64) string {
	if trimmed := strings.TrimSpace(code); trimmed != "" {
		return PaymentJobKeyPrefix + trimmed
	}
	return PaymentJobKeyPrefix + strconv.FormatInt(id, 10)
}

// InvoiceRow is one external payment_invoice row joined with the denormalized
// display fields needed to build a reminder payload. The external table is
// read-only from this service's perspective.
type InvoiceRow struct {
	ID          int64
	PaymentCode string
	PayerEmail  string
	PayerPhone  string
	Description string
	InvoiceURL  string
	Status      string
	InvoiceType string
	UserName    string
	TicketTitle string
	ExpiryRaw   string
	CreatedAt   time.Time
}

// CampaignMode controls when a campaign's recipients become due.
type CampaignMode string

const (
	CampaignOnce CampaignMode = "ONCE"
	CampaignDrip CampaignMode = "DRIP"
)

// RecipientState is the fanout lifecycle of one campaign recipient.
type RecipientState string

const (
	RecipientPending   RecipientState = "PENDING"
	RecipientScheduled RecipientState = "SCHEDULED"
	RecipientSent      RecipientState = "SENT"
	RecipientFailed    RecipientState = "FAILED"
)

// PendingRecipient is a campaign_recipients row joined with its campaign,
// as scanned by the campaign fanout tick.
type PendingRecipient struct {
	ID             int64
	CampaignID     int64
	CampaignStatus string
	CampaignMode   CampaignMode
	CampaignSendAt time.Time
	TemplateCode   string
	Email          string
	Phone          string
	Variables      Payload
	ScheduledAt    time.Time
}

// FanoutMessage is the envelope published to the external job queue for the
// campaign-fanout path. The consumer of that queue is an external
// collaborator; this service only publishes.
type FanoutMessage struct {
	TraceID      string  `json:"trace_id"`
	CampaignID   int64   `json:"campaign_id"`
	RecipientID  int64   `json:"recipient_id"`
	TemplateCode string  `json:"template_code"`
	Email        string  `json:"email,omitempty"`
	Phone        string  `json:"phone,omitempty"`
	Variables    Payload `json:"variables,omitempty"`
}
