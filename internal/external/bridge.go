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

// bridgePollInterval is how often the session bridge is polled for liveness
// while a session is up.
const bridgePollInterval = 5 * time.Second

// BridgeSession implements Session over a local WhatsApp session bridge: a
// sidecar process that holds the device session and exposes a small HTTP API
// (GET /status, POST /send). The bridge owns QR pairing and session storage;
// this client only checks status and sends.
type BridgeSession struct {
	base   *BaseClient
	url    string
	logger *slog.Logger

	mu         sync.Mutex
	disconnect chan struct{}
	stopPoll   chan struct{}
}

// NewBridgeSession creates a session client for the configured bridge URL.
func NewBridgeSession(cfg config.WhatsAppConfig, logger *slog.Logger) *BridgeSession {
	base := NewBaseClient(
		&http.Client{Timeout: 10 * time.Second},
		"whatsapp-bridge",
		DefaultRetryPolicy(),
		"commrelay/1.0",
	)
	return &BridgeSession{
		base:   base,
		url:    cfg.BridgeURL,
		logger: logger,
	}
}

type bridgeStatus struct {
	Connected bool `json:"connected"`
}

type bridgeSendRequest struct {
	Phone string `json:"phone"`
	Body  string `json:"body"`
}

type bridgeSendResponse struct {
	ID string `json:"id"`
}

// Connect verifies the bridge reports a connected device session and starts
// a liveness poller. It does not pair devices; that happens on the bridge.
func (s *BridgeSession) Connect(ctx context.Context) error {
	status, err := s.checkStatus(ctx)
	if err != nil {
		return err
	}
	if !status.Connected {
		return types.NewAppError(types.ErrCodeUpstreamWhatsApp, "bridge has no connected device session", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopPoll != nil {
		close(s.stopPoll)
	}
	s.disconnect = make(chan struct{})
	s.stopPoll = make(chan struct{})
	go s.poll(s.disconnect, s.stopPoll)
	return nil
}

// poll watches the bridge status and signals the disconnect channel once the
// session drops or the bridge becomes unreachable.
func (s *BridgeSession) poll(disconnect chan struct{}, stop chan struct{}) {
	ticker := time.NewTicker(bridgePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), bridgePollInterval)
		status, err := s.checkStatus(ctx)
		cancel()
		if err != nil || !status.Connected {
			if err != nil {
				s.logger.Warn("whatsapp bridge unreachable", "error", err)
			}
			close(disconnect)
			return
		}
	}
}

func (s *BridgeSession) checkStatus(ctx context.Context) (bridgeStatus, error) {
	var status bridgeStatus

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/status", nil)
	if err != nil {
		return status, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build bridge status request", err)
	}
	resp, err := s.base.Do(req)
	if err != nil {
		return status, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return status, types.NewAppError(types.ErrCodeUpstreamWhatsApp,
			fmt.Sprintf("bridge status returned %d", resp.StatusCode), nil)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&status); err != nil {
		return status, types.NewAppError(types.ErrCodeUpstreamWhatsApp, "malformed bridge status response", err)
	}
	return status, nil
}

// Send delivers one text message through the bridge.
func (s *BridgeSession) Send(ctx context.Context, phone, body string) (string, error) {
	raw, err := json.Marshal(bridgeSendRequest{Phone: phone, Body: body})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal bridge send request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/send", bytes.NewReader(raw))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build bridge send request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", types.NewAppError(types.ErrCodeUpstreamWhatsApp,
			fmt.Sprintf("bridge send returned %d", resp.StatusCode), nil)
	}
	var decoded bridgeSendResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamWhatsApp, "malformed bridge send response", err)
	}
	if decoded.ID == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamWhatsApp, "bridge send returned no message id", nil)
	}
	return decoded.ID, nil
}

// Disconnected returns the channel signaled when the current session drops.
func (s *BridgeSession) Disconnected() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnect == nil {
		// Never connected; return a channel that never fires.
		s.disconnect = make(chan struct{})
	}
	return s.disconnect
}

// Close stops the liveness poller. The bridge keeps its own session alive.
func (s *BridgeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopPoll != nil {
		close(s.stopPoll)
		s.stopPoll = nil
	}
	return nil
}
