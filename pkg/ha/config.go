// Package ha lets several replicas of the actions server share one
// database: schema migrations are serialized, and singleton background
// work such as the reminder runner only runs on the elected leader.
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultLeaseName      = "actions-server-leader"
	defaultLeaseNamespace = "improvement-actions"
)

// HAConfig holds configuration for high-availability features.
type HAConfig struct {
	// LeaderElectionEnabled turns on Lease-based leader election. When
	// false the instance runs singleton tasks itself.
	LeaderElectionEnabled bool

	LeaseName      string
	LeaseNamespace string

	// LeaseDuration is how long non-leaders wait before taking over.
	LeaseDuration time.Duration
	// RenewDeadline is how long the leader retries renewing before giving up.
	RenewDeadline time.Duration
	RetryPeriod   time.Duration

	// MigrationLockEnabled serializes AutoMigrate across replicas.
	MigrationLockEnabled bool
	// MigrationLockTimeout bounds how long a replica waits for the lock.
	MigrationLockTimeout time.Duration

	// Identity is unique per replica. Defaults to POD_NAME or the hostname.
	Identity string
}

// DefaultHAConfig returns an HAConfig for a single replica.
func DefaultHAConfig() *HAConfig {
	ns := os.Getenv("POD_NAMESPACE")
	if ns == "" {
		ns = defaultLeaseNamespace
	}
	return &HAConfig{
		LeaderElectionEnabled: false,
		LeaseName:             defaultLeaseName,
		LeaseNamespace:        ns,
		LeaseDuration:         15 * time.Second,
		RenewDeadline:         10 * time.Second,
		RetryPeriod:           2 * time.Second,
		MigrationLockEnabled:  true,
		MigrationLockTimeout:  30 * time.Second,
		Identity:              defaultIdentity(),
	}
}

// HAConfigFromEnv reads HA configuration from environment variables,
// falling back to defaults for any unset or malformed variable.
//
//   - ACTIONS_LEADER_ELECTION_ENABLED: bool (default false)
//   - ACTIONS_LEADER_LEASE_NAME (default "actions-server-leader")
//   - ACTIONS_LEADER_LEASE_NAMESPACE (default POD_NAMESPACE or "improvement-actions")
//   - ACTIONS_LEADER_LEASE_DURATION, ACTIONS_LEADER_RENEW_DEADLINE,
//     ACTIONS_LEADER_RETRY_PERIOD: seconds (15, 10, 2)
//   - ACTIONS_MIGRATION_LOCK_ENABLED: bool (default true)
//   - ACTIONS_MIGRATION_LOCK_TIMEOUT: seconds (default 30)
//   - POD_NAME: replica identity
func HAConfigFromEnv() *HAConfig {
	cfg := DefaultHAConfig()

	envBool("ACTIONS_LEADER_ELECTION_ENABLED", &cfg.LeaderElectionEnabled)
	if v := os.Getenv("ACTIONS_LEADER_LEASE_NAME"); v != "" {
		cfg.LeaseName = v
	}
	if v := os.Getenv("ACTIONS_LEADER_LEASE_NAMESPACE"); v != "" {
		cfg.LeaseNamespace = v
	}
	envSeconds("ACTIONS_LEADER_LEASE_DURATION", &cfg.LeaseDuration)
	envSeconds("ACTIONS_LEADER_RENEW_DEADLINE", &cfg.RenewDeadline)
	envSeconds("ACTIONS_LEADER_RETRY_PERIOD", &cfg.RetryPeriod)
	envBool("ACTIONS_MIGRATION_LOCK_ENABLED", &cfg.MigrationLockEnabled)
	envSeconds("ACTIONS_MIGRATION_LOCK_TIMEOUT", &cfg.MigrationLockTimeout)
	if v := os.Getenv("POD_NAME"); v != "" {
		cfg.Identity = v
	}

	return cfg
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func envSeconds(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			*dst = time.Duration(secs) * time.Second
		}
	}
}

func defaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
