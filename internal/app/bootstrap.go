// Package app bootstraps and runs the conductor process: it loads the
// configuration, wires the orchestrator with its metrics endpoint, and
// drives the startup, signal-wait and shutdown sequence.
package app

import (
	"fmt"
	"io"
	"os"

	"conductor/internal/config"
	"conductor/internal/metrics"
	"conductor/internal/orchestrator"
	"conductor/pkg/logging"
)

// Application encapsulates everything a conductor run needs. Bootstrap and
// execution are separate: NewApplication builds the wiring, Run drives the
// lifecycle.
type Application struct {
	config  *Config
	fileCfg config.ConductorConfig
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
}

// NewApplication creates and initializes an application instance: logging is
// configured, the configuration directory is loaded, and the orchestrator is
// assembled. When the metrics endpoint is enabled it is registered as a
// managed service like any other.
func NewApplication(cfg *Config) (*Application, error) {
	appLogLevel := logging.LevelInfo
	if cfg.Debug {
		appLogLevel = logging.LevelDebug
	}
	var logOutput io.Writer = os.Stdout
	if cfg.Silent {
		logOutput = io.Discard
	}
	logging.InitForCLI(appLogLevel, logOutput)

	configPath := cfg.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}
	fileCfg, err := config.LoadConfig(configPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration from %s", configPath)
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	var m *metrics.Metrics
	if fileCfg.Metrics.Enabled {
		m = metrics.New()
	}

	orchCfg := fileCfg.Orchestrator()
	orchCfg.Metrics = m

	a := &Application{
		config:  cfg,
		fileCfg: fileCfg,
		orch:    orchestrator.New(orchCfg),
		metrics: m,
	}

	if fileCfg.Metrics.Enabled {
		if err := a.registerMetricsServer(fileCfg.Metrics.Listen); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Orchestrator exposes the assembled orchestrator so callers can register
// their services, cleanup handlers and phase hooks before Run.
func (a *Application) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}
