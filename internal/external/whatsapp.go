package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"commrelay/internal/config"
	"commrelay/internal/types"
)

// CloudWhatsAppClient sends messages through the hosted WhatsApp HTTP API.
// All calls go through the BaseClient, so retries and circuit breaking apply.
type CloudWhatsAppClient struct {
	base   *BaseClient
	apiURL string
	token  types.SecretString
	logger *slog.Logger
}

// NewCloudWhatsAppClient creates a CloudWhatsAppClient from configuration.
func NewCloudWhatsAppClient(cfg config.WhatsAppConfig, logger *slog.Logger) *CloudWhatsAppClient {
	base := NewBaseClient(
		&http.Client{Timeout: 15 * time.Second},
		"whatsapp-cloud",
		DefaultRetryPolicy(),
		"commrelay/1.0",
	)
	return &CloudWhatsAppClient{
		base:   base,
		apiURL: cfg.CloudAPIURL,
		token:  cfg.CloudToken,
		logger: logger,
	}
}

type cloudMessageRequest struct {
	To   string `json:"to"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

type cloudMessageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendMessage posts one text message and returns the provider message id.
func (c *CloudWhatsAppClient) SendMessage(ctx context.Context, phone, body string) (string, error) {
	var payload cloudMessageRequest
	payload.To = phone
	payload.Type = "text"
	payload.Text.Body = body

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal whatsapp request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build whatsapp request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamWhatsApp, "failed to read whatsapp response", err)
	}

	var decoded cloudMessageResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamWhatsApp, "malformed whatsapp response", err)
	}
	if resp.StatusCode >= 400 || decoded.Error != nil {
		msg := fmt.Sprintf("whatsapp api returned %d", resp.StatusCode)
		if decoded.Error != nil {
			msg = fmt.Sprintf("whatsapp api error %d: %s", decoded.Error.Code, decoded.Error.Message)
		}
		return "", types.NewAppError(types.ErrCodeUpstreamWhatsApp, msg, nil)
	}
	if len(decoded.Messages) == 0 {
		return "", types.NewAppError(types.ErrCodeUpstreamWhatsApp, "whatsapp api returned no message id", nil)
	}
	return decoded.Messages[0].ID, nil
}

// Session is one live connection to a WhatsApp device session. Implementations
// wrap whatever session bridge the deployment uses; the manager only needs
// connect, send, and a disconnect signal.
type Session interface {
	// Connect establishes the session. It blocks until the session is usable
	// or the context is canceled.
	Connect(ctx context.Context) error
	// Send delivers one text message and returns the provider message id.
	Send(ctx context.Context, phone, body string) (string, error)
	// Disconnected is closed or signaled when the session drops.
	Disconnected() <-chan struct{}
	// Close tears the session down.
	Close() error
}

// SessionManager owns one Session and its lifecycle: it connects on start,
// watches for disconnects, and reconnects with bounded exponential backoff.
// Senders see only a readiness flag and the Send capability; while the
// session is down, sends fail fast with an upstream error instead of queuing.
type SessionManager struct {
	session Session
	logger  *slog.Logger

	reconnectMax time.Duration

	mu    sync.RWMutex
	ready bool
}

// NewSessionManager creates a manager over the given session.
func NewSessionManager(session Session, cfg config.WhatsAppConfig, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		session:      session,
		logger:       logger,
		reconnectMax: cfg.ReconnectMax,
	}
}

// Ready reports whether the session is currently usable.
func (m *SessionManager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

func (m *SessionManager) setReady(ready bool) {
	m.mu.Lock()
	m.ready = ready
	m.mu.Unlock()
}

// Run drives the connect/reconnect loop until the context is canceled. The
// backoff doubles from one second up to the configured maximum and resets
// after every successful connect.
func (m *SessionManager) Run(ctx context.Context) error {
	defer m.session.Close()

	backoff := time.Second
	for {
		if err := m.session.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.ErrorContext(ctx, "whatsapp session connect failed",
				"error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > m.reconnectMax {
				backoff = m.reconnectMax
			}
			continue
		}

		m.setReady(true)
		m.logger.InfoContext(ctx, "whatsapp session connected")
		backoff = time.Second

		select {
		case <-ctx.Done():
			m.setReady(false)
			return nil
		case <-m.session.Disconnected():
			m.setReady(false)
			m.logger.WarnContext(ctx, "whatsapp session dropped, reconnecting")
		}
	}
}

// SendMessage delivers through the managed session, failing fast while the
// session is down.
func (m *SessionManager) SendMessage(ctx context.Context, phone, body string) (string, error) {
	if !m.Ready() {
		return "", types.NewAppError(types.ErrCodeUpstreamWhatsApp, "whatsapp session not connected", nil)
	}
	id, err := m.session.Send(ctx, phone, body)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamWhatsApp, "whatsapp session send failed", err)
	}
	return id, nil
}
