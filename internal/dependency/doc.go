// Package dependency provides a small directed acyclic graph over named nodes.
//
// The orchestrator uses one graph in both directions: Order computes the
// startup order (dependencies before dependents) and Reversed of that order is
// the cleanup order during shutdown. Edge weights bias the visit order within
// a node's dependency list; ties always break lexicographically, so orderings
// are fully deterministic and safe to assert on in tests.
//
// Order fails with a CycleError naming the nodes on the cycle, so a
// misconfigured service set is rejected before anything is started.
package dependency
