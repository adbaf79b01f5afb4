package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"conductor/internal/orchestrator"
	"conductor/internal/tasks"
)

// Duration is a time.Duration that unmarshals from YAML either as a Go
// duration string ("45s", "250ms") or as a bare number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if n, err := strconv.ParseFloat(value.Value, 64); err == nil {
		*d = Duration(time.Duration(n * float64(time.Second)))
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ConductorConfig is the top-level configuration structure for conductor.
type ConductorConfig struct {
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Retry    RetryConfig   `yaml:"retry"`
	Cleanup  CleanupConfig `yaml:"cleanup"`
	Cancel   CancelConfig  `yaml:"cancel"`
	Breaker  BreakerConfig `yaml:"breaker"`
	Locks    LockConfig    `yaml:"locks"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TimeoutConfig groups the time budgets of startup and shutdown.
type TimeoutConfig struct {
	// Default bounds individual start and cleanup calls (default: 30s).
	Default Duration `yaml:"default,omitempty"`

	// AdaptiveMin is the floor of the adaptive estimator (default: 100ms).
	AdaptiveMin Duration `yaml:"adaptiveMin,omitempty"`

	// AdaptiveHistory is how many samples the estimator keeps per
	// operation (default: 10).
	AdaptiveHistory int `yaml:"adaptiveHistory,omitempty"`

	// Phases overrides the per-phase shutdown budgets, keyed by phase
	// name (INITIALIZE, STOP_ACCEPTING, DRAIN_REQUESTS, CANCEL_TASKS,
	// CLEANUP_RESOURCES, FINALIZE).
	Phases map[string]Duration `yaml:"phases,omitempty"`
}

// RetryConfig controls start and cleanup retries.
type RetryConfig struct {
	MaxRetries int      `yaml:"maxRetries,omitempty"` // default: 3
	Backoff    Duration `yaml:"backoff,omitempty"`    // initial delay (default: 500ms)
}

// CleanupConfig controls the CLEANUP_RESOURCES phase.
type CleanupConfig struct {
	// MaxConcurrent caps how many cleanup handlers run at once (default: 5).
	MaxConcurrent int64 `yaml:"maxConcurrent,omitempty"`
}

// CancelConfig controls batched task cancellation.
type CancelConfig struct {
	// BatchSize is how many tasks are cancelled concurrently (default: 10).
	BatchSize int `yaml:"batchSize,omitempty"`

	// TierTimeouts overrides the per-priority budgets, keyed by tier name
	// (CRITICAL, HIGH, MEDIUM, LOW).
	TierTimeouts map[string]Duration `yaml:"tierTimeouts,omitempty"`
}

// BreakerConfig tunes the per-service circuit breakers.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failureThreshold,omitempty"` // default: 3
	RecoveryTimeout  Duration `yaml:"recoveryTimeout,omitempty"`  // default: 60s
	HalfOpenMaxCalls int      `yaml:"halfOpenMaxCalls,omitempty"` // default: 1
}

// LockConfig tunes resource locking during cleanup.
type LockConfig struct {
	MaxWait               Duration `yaml:"maxWait,omitempty"`               // default: 5s
	DeadlockCheckInterval Duration `yaml:"deadlockCheckInterval,omitempty"` // default: 1s
}

// MetricsConfig controls the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"` // default: true
	Listen  string `yaml:"listen,omitempty"`  // default: localhost:9464
}

// Orchestrator translates the file configuration into orchestrator settings.
// Unset values keep the orchestrator defaults.
func (c ConductorConfig) Orchestrator() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()

	if c.Timeouts.Default > 0 {
		cfg.DefaultTimeout = c.Timeouts.Default.Std()
	}
	if c.Timeouts.AdaptiveMin > 0 {
		cfg.AdaptiveMinTimeout = c.Timeouts.AdaptiveMin.Std()
	}
	if c.Timeouts.AdaptiveHistory > 0 {
		cfg.AdaptiveHistorySize = c.Timeouts.AdaptiveHistory
	}
	for name, d := range c.Timeouts.Phases {
		if d > 0 {
			cfg.PhaseTimeouts[orchestrator.Phase(name)] = d.Std()
		}
	}

	if c.Retry.MaxRetries > 0 {
		cfg.MaxRetries = c.Retry.MaxRetries
	}
	if c.Retry.Backoff > 0 {
		cfg.RetryBackoff = c.Retry.Backoff.Std()
	}
	if c.Cleanup.MaxConcurrent > 0 {
		cfg.MaxConcurrentCleanups = c.Cleanup.MaxConcurrent
	}

	if c.Cancel.BatchSize > 0 {
		cfg.Cancel.BatchSize = c.Cancel.BatchSize
	}
	for name, d := range c.Cancel.TierTimeouts {
		if p, ok := priorityByName(name); ok && d > 0 {
			cfg.Cancel.TierTimeouts[p] = d.Std()
		}
	}

	if c.Breaker.FailureThreshold > 0 {
		cfg.BreakerFailureThreshold = c.Breaker.FailureThreshold
	}
	if c.Breaker.RecoveryTimeout > 0 {
		cfg.BreakerRecoveryTimeout = c.Breaker.RecoveryTimeout.Std()
	}
	if c.Breaker.HalfOpenMaxCalls > 0 {
		cfg.BreakerHalfOpenMaxCalls = c.Breaker.HalfOpenMaxCalls
	}

	if c.Locks.MaxWait > 0 {
		cfg.LockMaxWait = c.Locks.MaxWait.Std()
	}
	if c.Locks.DeadlockCheckInterval > 0 {
		cfg.DeadlockCheckInterval = c.Locks.DeadlockCheckInterval.Std()
	}

	return cfg
}

func priorityByName(name string) (tasks.Priority, bool) {
	for _, p := range tasks.Priorities {
		if p.String() == name {
			return p, true
		}
	}
	return 0, false
}
