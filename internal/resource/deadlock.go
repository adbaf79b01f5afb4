package resource

import (
	"errors"
	"sync"
	"time"

	"conductor/internal/dependency"
)

// DefaultCheckInterval throttles deadlock scans; waits shorter than this are
// handled by ordinary contention timeouts.
const DefaultCheckInterval = time.Second

// DeadlockDetector finds cycles in a wait-for graph: an edge A -> B means "A
// is blocked on a resource held by B". A cycle implies deadlock. The scan
// reuses the dependency graph's cycle detection and is throttled so that hot
// acquire paths can call it freely.
type DeadlockDetector struct {
	mu        sync.Mutex
	interval  time.Duration
	lastCheck time.Time
}

// NewDeadlockDetector returns a detector scanning at most once per interval
// (DefaultCheckInterval when interval <= 0).
func NewDeadlockDetector(interval time.Duration) *DeadlockDetector {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &DeadlockDetector{interval: interval}
}

// Check scans the wait-for edges for a cycle. It returns the holder ids on
// the cycle and true when one is found. Throttled calls return false without
// scanning; the first call after construction always scans.
func (d *DeadlockDetector) Check(waitFor map[string][]string) ([]string, bool) {
	d.mu.Lock()
	if !d.lastCheck.IsZero() && time.Since(d.lastCheck) < d.interval {
		d.mu.Unlock()
		return nil, false
	}
	d.lastCheck = time.Now()
	d.mu.Unlock()

	g := dependency.New()
	for holder, blockedOn := range waitFor {
		deps := make([]dependency.NodeID, len(blockedOn))
		for i, h := range blockedOn {
			deps[i] = dependency.NodeID(h)
		}
		g.Register(dependency.NodeID(holder), deps...)
	}

	_, err := g.Order()
	if err == nil {
		return nil, false
	}

	var cycleErr *dependency.CycleError
	if !errors.As(err, &cycleErr) {
		return nil, false
	}
	cycle := make([]string, len(cycleErr.Path))
	for i, id := range cycleErr.Path {
		cycle[i] = string(id)
	}
	return cycle, true
}
