// Package authz resolves the caller identity from request headers or a JWT
// bearer token and checks it against an action's reader and author lists.
package authz

import (
	"os"
	"strings"
)

// AuthzMode selects whether access lists are enforced.
type AuthzMode string

const (
	// AuthzModeNone disables access checks (dev/backward compat).
	AuthzModeNone AuthzMode = "none"
	// AuthzModeACL enforces the readers/authors lists stored on each action.
	AuthzModeACL AuthzMode = "acl"
)

// Config controls identity extraction and enforcement.
type Config struct {
	Mode AuthzMode

	// JWT settings. When PublicKeyPath is empty, bearer tokens are parsed
	// without verification (trusted proxy mode).
	JWTEnabled    bool
	PublicKeyPath string
	Issuer        string
	Audience      string
	EmailClaim    string
	NameClaim     string
	GroupsClaim   string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:        AuthzModeNone,
		EmailClaim:  "email",
		NameClaim:   "name",
		GroupsClaim: "groups",
	}
}

// ConfigFromEnv loads config from environment variables.
// ACTIONS_AUTHZ_MODE, ACTIONS_JWT_ENABLED, ACTIONS_JWT_PUBLIC_KEY_PATH,
// ACTIONS_JWT_ISSUER, ACTIONS_JWT_AUDIENCE, ACTIONS_JWT_EMAIL_CLAIM,
// ACTIONS_JWT_NAME_CLAIM, ACTIONS_JWT_GROUPS_CLAIM
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("ACTIONS_AUTHZ_MODE"); v != "" {
		switch AuthzMode(strings.ToLower(v)) {
		case AuthzModeACL:
			cfg.Mode = AuthzModeACL
		default:
			cfg.Mode = AuthzModeNone
		}
	}
	if v := os.Getenv("ACTIONS_JWT_ENABLED"); v != "" {
		cfg.JWTEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("ACTIONS_JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.PublicKeyPath = v
		cfg.JWTEnabled = true
	}
	if v := os.Getenv("ACTIONS_JWT_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("ACTIONS_JWT_AUDIENCE"); v != "" {
		cfg.Audience = v
	}
	if v := os.Getenv("ACTIONS_JWT_EMAIL_CLAIM"); v != "" {
		cfg.EmailClaim = v
	}
	if v := os.Getenv("ACTIONS_JWT_NAME_CLAIM"); v != "" {
		cfg.NameClaim = v
	}
	if v := os.Getenv("ACTIONS_JWT_GROUPS_CLAIM"); v != "" {
		cfg.GroupsClaim = v
	}

	return cfg
}
