package app

// Config holds the command-line level settings for an application run.
type Config struct {
	// Debug enables debug-level logging.
	Debug bool

	// Silent suppresses all log output.
	Silent bool

	// ConfigPath overrides the default configuration directory.
	ConfigPath string
}

// NewConfig creates an application configuration.
func NewConfig(debug, silent bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Silent:     silent,
		ConfigPath: configPath,
	}
}
