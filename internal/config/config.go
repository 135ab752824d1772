// Package config defines the global configuration structure for the commrelay
// worker. Configuration is loaded once at process startup and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating code
// from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast).
package config

import (
	"time"

	"commrelay/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the commrelay worker.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"commrelay-worker"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Database    DatabaseConfig
	Dispatch    DispatchConfig
	Watcher     WatcherConfig
	Schedule    ScheduleConfig
	Email       EmailConfig
	WhatsApp    WhatsAppConfig
	Campaign    CampaignConfig
	Support     SupportConfig
	Maintenance MaintenanceConfig
	Ops         OpsConfig
	Templates   TemplatesConfig
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// DispatchConfig tunes the due-task picker and the processing fan-out.
type DispatchConfig struct {
	Interval    time.Duration `envconfig:"DISPATCH_INTERVAL" default:"15s"`
	BatchSize   int           `envconfig:"DISPATCH_BATCH_SIZE" default:"100" validate:"gt=0"`
	Concurrency int           `envconfig:"DISPATCH_CONCURRENCY" default:"5" validate:"gt=0"`
}

// WatcherConfig tunes the invoice change poller.
type WatcherConfig struct {
	Interval  time.Duration `envconfig:"WATCHER_INTERVAL" default:"30s"`
	ScanLimit int           `envconfig:"WATCHER_SCAN_LIMIT" default:"200" validate:"gt=0"`
	// Source is the cursor row name in comm_offsets.
	Source string `envconfig:"WATCHER_SOURCE" default:"payment_invoice"`
	// AllowedStatuses are the invoice statuses eligible for reminder scheduling.
	AllowedStatuses []string `envconfig:"WATCHER_ALLOWED_STATUSES" default:"PENDING"`
	// PaidStatuses are the invoice statuses that cancel open reminders.
	PaidStatuses []string `envconfig:"WATCHER_PAID_STATUSES" default:"PAID"`
	// CancelChunkSize bounds each cancellation UPDATE statement.
	CancelChunkSize int `envconfig:"WATCHER_CANCEL_CHUNK_SIZE" default:"500" validate:"gt=0"`
}

// ScheduleConfig controls time normalization of schedule inputs.
type ScheduleConfig struct {
	// RegionalOffsetMinutes is the fixed UTC offset assumed for naive
	// local-time strings. Default is +07:00.
	RegionalOffsetMinutes int `envconfig:"REGIONAL_OFFSET_MINUTES" default:"420"`
}

// EmailConfig holds email delivery provider credentials.
type EmailConfig struct {
	PostmarkServerToken SecretString `envconfig:"POSTMARK_SERVER_TOKEN" validate:"required"`
	FromAddress         string       `envconfig:"EMAIL_FROM_ADDRESS" validate:"required,email"`
	MessageStream       string       `envconfig:"EMAIL_MESSAGE_STREAM" default:"outbound"`
}

// WhatsAppConfig selects and configures the WhatsApp transport.
type WhatsAppConfig struct {
	// Mode is one of: "cloud" (HTTP API), "session" (long-lived device
	// session behind a local bridge), "stub" (log-only, local development).
	Mode        string       `envconfig:"WHATSAPP_MODE" default:"stub" validate:"oneof=cloud session stub"`
	CloudAPIURL string       `envconfig:"WHATSAPP_CLOUD_API_URL" validate:"omitempty,url"`
	CloudToken  SecretString `envconfig:"WHATSAPP_CLOUD_TOKEN"`
	// BridgeURL is the local session bridge endpoint used in session mode.
	BridgeURL    string        `envconfig:"WHATSAPP_BRIDGE_URL" validate:"omitempty,url"`
	ReconnectMax time.Duration `envconfig:"WHATSAPP_RECONNECT_MAX" default:"2m"`
}

// CampaignConfig tunes the campaign fanout tick.
type CampaignConfig struct {
	Interval time.Duration `envconfig:"CAMPAIGN_INTERVAL" default:"1m"`
	// FanoutQueueURL is the external job queue consumed by downstream
	// workers. Empty disables the campaign tick.
	FanoutQueueURL string `envconfig:"CAMPAIGN_FANOUT_QUEUE_URL" validate:"omitempty,url"`
	ScanLimit      int    `envconfig:"CAMPAIGN_SCAN_LIMIT" default:"100" validate:"gt=0"`
	AWSRegion      string `envconfig:"AWS_REGION" default:"ap-southeast-1"`
	// AWSEndpointURL points SQS at LocalStack in development. Empty in prod.
	AWSEndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SupportConfig holds the static contact fields injected into reminder payloads.
type SupportConfig struct {
	Email          string `envconfig:"SUPPORT_EMAIL" default:"support@example.com"`
	Phone          string `envconfig:"SUPPORT_PHONE" default:""`
	PhoneE164      string `envconfig:"SUPPORT_PHONE_E164" default:""`
	EventDateRange string `envconfig:"EVENT_DATE_RANGE" default:""`
}

// MaintenanceConfig tunes the retention archiver.
type MaintenanceConfig struct {
	Interval      time.Duration `envconfig:"MAINTENANCE_INTERVAL" default:"1h"`
	RetentionDays int           `envconfig:"RETENTION_DAYS" default:"90" validate:"gt=0"`
	ArchiveDir    string        `envconfig:"ARCHIVE_DIR" default:"archive"`
	ChunkSize     int           `envconfig:"MAINTENANCE_CHUNK_SIZE" default:"500" validate:"gt=0"`
}

// OpsConfig holds the operational HTTP endpoint settings.
type OpsConfig struct {
	Port string `envconfig:"OPS_PORT" default:"8090"`
}

// TemplatesConfig locates the on-disk template store.
type TemplatesConfig struct {
	Dir string `envconfig:"TEMPLATES_DIR" default:"templates"`
}
