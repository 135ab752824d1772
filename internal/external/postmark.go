package external

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mrz1836/postmark"

	"commrelay/internal/config"
	"commrelay/internal/types"
)

// postmarkAPI is the slice of the Postmark client the sender uses.
type postmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkSender delivers email through Postmark's transactional API and
// reports the provider message id back for bookkeeping.
type PostmarkSender struct {
	client postmarkAPI
	cfg    config.EmailConfig
	logger *slog.Logger
}

// NewPostmarkSender creates a PostmarkSender from email configuration.
// Send-only operation needs just the server token; no account token.
func NewPostmarkSender(cfg config.EmailConfig, logger *slog.Logger) *PostmarkSender {
	return &PostmarkSender{
		client: postmark.NewClient(cfg.PostmarkServerToken.Unmask(), ""),
		cfg:    cfg,
		logger: logger,
	}
}

// SendEmail sends one rendered HTML email. Postmark reports some failures
// with a 200 response and a non-zero ErrorCode, so both paths map to an
// upstream error.
func (s *PostmarkSender) SendEmail(ctx context.Context, to, subject, htmlBody string) (string, error) {
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:          s.cfg.FromAddress,
		To:            to,
		Subject:       subject,
		HTMLBody:      htmlBody,
		MessageStream: s.cfg.MessageStream,
		TrackOpens:    true,
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "postmark send failed", err)
	}
	if resp.ErrorCode > 0 {
		return "", types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("postmark error %d: %s", resp.ErrorCode, resp.Message),
			nil,
		)
	}
	return resp.MessageID, nil
}
