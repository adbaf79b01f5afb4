package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"conductor/internal/orchestrator"
	"conductor/internal/tasks"
)

func TestDurationUnmarshal(t *testing.T) {
	var cfg struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
		C Duration `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 1500ms\nb: 2\nc: 0.5\n"), &cfg))
	assert.Equal(t, 1500*time.Millisecond, cfg.A.Std())
	assert.Equal(t, 2*time.Second, cfg.B.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.C.Std())

	var bad struct {
		A Duration `yaml:"a"`
	}
	assert.Error(t, yaml.Unmarshal([]byte("a: soon\n"), &bad))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o644))
	return dir
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, DefaultMetricsListen, cfg.Metrics.Listen)
}

func TestLoadConfigParsesValues(t *testing.T) {
	dir := writeConfig(t, `
timeouts:
  default: 45s
  adaptiveMin: 250ms
  phases:
    DRAIN_REQUESTS: 20s
retry:
  maxRetries: 5
  backoff: 1s
cleanup:
  maxConcurrent: 8
cancel:
  batchSize: 4
  tierTimeouts:
    CRITICAL: 40s
breaker:
  failureThreshold: 7
locks:
  maxWait: 2s
metrics:
  listen: ":9999"
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Default.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Timeouts.AdaptiveMin.Std())
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, int64(8), cfg.Cleanup.MaxConcurrent)
	assert.Equal(t, ":9999", cfg.Metrics.Listen)
}

func TestLoadConfigMalformed(t *testing.T) {
	dir := writeConfig(t, "timeouts: [not, a, mapping]")

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestOrchestratorTranslation(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Timeouts.Default = Duration(45 * time.Second)
	cfg.Timeouts.Phases = map[string]Duration{"DRAIN_REQUESTS": Duration(20 * time.Second)}
	cfg.Retry.MaxRetries = 5
	cfg.Cancel.TierTimeouts = map[string]Duration{
		"CRITICAL": Duration(40 * time.Second),
		"bogus":    Duration(time.Second),
	}

	oc := cfg.Orchestrator()
	assert.Equal(t, 45*time.Second, oc.DefaultTimeout)
	assert.Equal(t, 20*time.Second, oc.PhaseTimeouts[orchestrator.PhaseDrainRequests])
	assert.Equal(t, 5, oc.MaxRetries)
	assert.Equal(t, 40*time.Second, oc.Cancel.TierTimeouts[tasks.PriorityCritical])
	// Unknown tier names are ignored; other tiers keep their defaults.
	assert.Equal(t, 5*time.Second, oc.Cancel.TierTimeouts[tasks.PriorityLow])
}

func TestOrchestratorTranslationDefaults(t *testing.T) {
	oc := GetDefaultConfig().Orchestrator()
	def := orchestrator.DefaultConfig()

	assert.Equal(t, def.DefaultTimeout, oc.DefaultTimeout)
	assert.Equal(t, def.MaxRetries, oc.MaxRetries)
	assert.Equal(t, def.MaxConcurrentCleanups, oc.MaxConcurrentCleanups)
	assert.Equal(t, def.BreakerFailureThreshold, oc.BreakerFailureThreshold)
}
