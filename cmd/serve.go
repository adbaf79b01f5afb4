package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"conductor/internal/app"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveSilent suppresses all log output.
var serveSilent bool

// serveConfigPath specifies a custom configuration directory path. When
// unset the user config directory is used.
var serveConfigPath string

// serveCmd starts the process and keeps it running until a signal arrives.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the managed services and run until terminated",
	Long: `Starts every registered service in dependency order and blocks until
SIGINT or SIGTERM. On termination the phased shutdown runs: metrics and
listeners stop accepting work, in-flight requests drain, background tasks
are cancelled by priority, and resources are cleaned in reverse dependency
order. A report of the shutdown is printed at the end.

Configuration:
  conductor loads config.yaml from ~/.config/conductor by default.
  Use --config-path to load it from a different directory.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command.
func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveSilent, serveConfigPath)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return application.Run(cmd.Context())
}

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false, "Suppress all log output")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Directory containing config.yaml")
}
