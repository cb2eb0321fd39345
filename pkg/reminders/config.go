package reminders

import (
	"os"
	"strconv"
	"time"
)

// Config controls the reminder scanner and its periodic runner.
type Config struct {
	DaysUntilDue  int           // Remind when an obligation is due within this many days. Default 10.
	Interval      time.Duration // Time between scheduled scans. Default 24h.
	Enabled       bool          // Whether scheduled scans run. Default true.
	RetentionDays int           // How long to keep run history. Default 30.
	RunOnStart    bool          // Scan once immediately when the runner starts. Default true.
	StaleAfter    time.Duration // Runs still "running" after this are marked failed. Default 1h.
}

// DefaultConfig returns the default reminder configuration.
func DefaultConfig() *Config {
	return &Config{
		DaysUntilDue:  10,
		Interval:      24 * time.Hour,
		Enabled:       true,
		RetentionDays: 30,
		RunOnStart:    true,
		StaleAfter:    time.Hour,
	}
}

// ConfigFromEnv loads config from environment variables.
// ACTIONS_REMINDER_DAYS_UNTIL_DUE, ACTIONS_REMINDER_INTERVAL_HOURS,
// ACTIONS_REMINDER_ENABLED, ACTIONS_REMINDER_RETENTION_DAYS,
// ACTIONS_REMINDER_RUN_ON_START
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("ACTIONS_REMINDER_DAYS_UNTIL_DUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.DaysUntilDue = n
		}
	}

	if v := os.Getenv("ACTIONS_REMINDER_INTERVAL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Interval = time.Duration(n) * time.Hour
		}
	}

	if v := os.Getenv("ACTIONS_REMINDER_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("ACTIONS_REMINDER_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}

	if v := os.Getenv("ACTIONS_REMINDER_RUN_ON_START"); v != "" {
		cfg.RunOnStart, _ = strconv.ParseBool(v)
	}

	return cfg
}
