package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Sender delivers one SMS per call. Each recipient is independent; a
// failed send must not affect the others.
type Sender interface {
	Send(ctx context.Context, phoneNumber, body string) error
}

// GatewaySender posts messages to an HTTP SMS gateway.
type GatewaySender struct {
	URL    string
	APIKey string
	Client *http.Client
}

func (s *GatewaySender) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Send posts one message. Non-2xx responses are errors.
func (s *GatewaySender) Send(ctx context.Context, phoneNumber, body string) error {
	payload, err := json.Marshal(map[string]string{
		"to":      phoneNumber,
		"message": body,
		"key":     s.APIKey,
	})
	if err != nil {
		return fmt.Errorf("alert: encode sms: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("alert: sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		return fmt.Errorf("alert: sms send to %s: %w", phoneNumber, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert: sms gateway returned %s for %s", resp.Status, phoneNumber)
	}
	return nil
}

// LogSender records messages instead of sending them. Used when no gateway
// is configured so the alert path still completes end to end.
type LogSender struct{}

func (LogSender) Send(_ context.Context, phoneNumber, body string) error {
	slog.Info("[SMS] gateway not configured, logging only", "to", phoneNumber, "body", body)
	return nil
}
