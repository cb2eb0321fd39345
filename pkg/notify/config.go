package notify

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode selects the delivery backend.
type Mode string

const (
	ModeLog     Mode = "log"
	ModeWebhook Mode = "webhook"
)

// Config holds notification settings.
type Config struct {
	Mode         Mode
	WebhookURL   string
	WebhookToken string
	Timeout      time.Duration
	// PublicURL is used to build links to actions in message bodies.
	PublicURL string
}

// DefaultConfig returns a Config that only logs.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeLog,
		Timeout: 10 * time.Second,
	}
}

// ConfigFromEnv reads notification configuration from environment variables:
//   - ACTIONS_NOTIFY_MODE: "log" or "webhook" (default: "log")
//   - ACTIONS_NOTIFY_WEBHOOK_URL
//   - ACTIONS_NOTIFY_WEBHOOK_TOKEN
//   - ACTIONS_NOTIFY_TIMEOUT_SECONDS (default: 10)
//   - ACTIONS_PUBLIC_URL
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("ACTIONS_NOTIFY_MODE"); v != "" {
		cfg.Mode = Mode(strings.ToLower(v))
	}
	cfg.WebhookURL = os.Getenv("ACTIONS_NOTIFY_WEBHOOK_URL")
	cfg.WebhookToken = os.Getenv("ACTIONS_NOTIFY_WEBHOOK_TOKEN")
	if v := os.Getenv("ACTIONS_NOTIFY_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	cfg.PublicURL = strings.TrimRight(os.Getenv("ACTIONS_PUBLIC_URL"), "/")
	return cfg
}
