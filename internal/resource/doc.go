// Package resource tracks the lifecycle of cleanup targets during shutdown.
//
// Three cooperating pieces live here:
//
//   - StateMachine: validated AVAILABLE/IN_USE/CLEANING/FAILED/CLEANED
//     transitions with per-state duration tracking.
//   - LockManager: one exclusive lock per named resource with bounded FIFO
//     waits; only the declared holder may release.
//   - DeadlockDetector: cycle detection over the wait-for graph. Without it,
//     two cleanup handlers waiting on each other's resources would hang
//     shutdown past every later phase's budget. A detected cycle is broken
//     deterministically by force-releasing the lock of the lexicographically
//     smallest holder on the cycle.
package resource
