package external

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// StubEmailSender logs instead of sending. Used in local development and as
// the default before credentials are configured.
type StubEmailSender struct {
	Logger *slog.Logger
}

func (s *StubEmailSender) SendEmail(ctx context.Context, to, subject, htmlBody string) (string, error) {
	id := "stub-email-" + uuid.NewString()
	s.Logger.InfoContext(ctx, "stub email send",
		"to", to, "subject", subject, "provider_message_id", id)
	return id, nil
}

// StubWhatsAppSender logs instead of sending.
type StubWhatsAppSender struct {
	Logger *slog.Logger
}

func (s *StubWhatsAppSender) SendMessage(ctx context.Context, phone, body string) (string, error) {
	id := "stub-wa-" + uuid.NewString()
	s.Logger.InfoContext(ctx, "stub whatsapp send",
		"phone", phone, "provider_message_id", id)
	return id, nil
}
