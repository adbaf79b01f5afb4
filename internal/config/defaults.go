package config

// DefaultMetricsListen is where the metrics endpoint binds unless
// configured otherwise.
const DefaultMetricsListen = "localhost:9464"

// GetDefaultConfig returns the stock configuration. All orchestrator
// tunables are left zero so the orchestrator defaults apply.
func GetDefaultConfig() ConductorConfig {
	return ConductorConfig{
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  DefaultMetricsListen,
		},
	}
}
