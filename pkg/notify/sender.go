// Package notify renders workflow notifications and hands them to a
// delivery backend.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Message is a rendered notification.
type Message struct {
	Kind       string   `json:"kind"`
	To         []string `json:"to"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	ActionID   string   `json:"actionId"`
	ActionCode string   `json:"actionCode"`
}

// Sender delivers a message. Delivery is best effort.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the message.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("notification", "kind", msg.Kind, "to", msg.To, "actionId", msg.ActionCode, "subject", msg.Subject)
	return nil
}

// WebhookSender posts messages as JSON to a mail relay or chat webhook.
type WebhookSender struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookSender creates a WebhookSender. token, if set, is sent as a
// bearer token.
func NewWebhookSender(url, token string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts msg and treats any non-2xx response as a failure.
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// NewSender builds the sender selected by cfg.
func NewSender(cfg *Config, logger *slog.Logger) (Sender, error) {
	switch cfg.Mode {
	case ModeLog, "":
		return NewLogSender(logger), nil
	case ModeWebhook:
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("notify mode %q requires a webhook url", cfg.Mode)
		}
		return NewWebhookSender(cfg.WebhookURL, cfg.WebhookToken, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown notify mode %q", cfg.Mode)
	}
}
