// Package orchestrator drives the process lifecycle.
//
// Startup resolves the registered services into dependency order and starts
// them one by one. Every start runs under a retry policy with exponential
// backoff, an adaptive per-service timeout, and a per-service circuit
// breaker. A service that exhausts its attempts aborts startup.
//
// Shutdown runs exactly once, in six phases:
//
//	INITIALIZE         snapshot what is running
//	STOP_ACCEPTING     close listeners, refuse new work
//	DRAIN_REQUESTS     wait for in-flight work
//	CANCEL_TASKS       cancel background tasks by priority, in batches
//	CLEANUP_RESOURCES  tear resources down in reverse dependency order
//	FINALIZE           assemble the report
//
// Each phase has a time budget. Errors and timeouts are accumulated in the
// final Report; no failure stops the sequence. Callers may hook extra work
// into any phase with RegisterPhaseHandler.
package orchestrator
