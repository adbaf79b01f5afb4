// Package logging provides a structured logging system for conductor with
// unified log handling and level filtering.
//
// The package is a thin layer over Go's standard slog package. Every log entry
// carries a subsystem identifier so output can be filtered per component:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//	logging.Info("Orchestrator", "starting %d services", n)
//	logging.Error("Cleanup", err, "cleanup failed for %s", name)
//
// Subsystems in use include Bootstrap, Config, Orchestrator, Shutdown, Locks,
// Breaker, Tasks and Metrics.
//
// Level filtering happens at the handler, so messages below the configured
// level cost no allocations.
package logging
