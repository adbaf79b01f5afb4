// Package tasks tracks cancellable background work by priority tier and
// tears it down in batches during shutdown. CRITICAL tasks are cancelled
// first and LOW tasks last, each tier under its own deadline.
package tasks
