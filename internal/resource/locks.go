package resource

import (
	"context"
	"sort"
	"sync"
	"time"

	"conductor/internal/metrics"
	"conductor/pkg/logging"
)

// DefaultMaxWait bounds lock acquisition when the caller passes no budget.
const DefaultMaxWait = 5 * time.Second

// waiter is one pending Acquire call.
type waiter struct {
	holder string
	grant  chan struct{}
	abort  chan error
}

// lock is the per-resource lock record. holder is non-empty only between a
// successful acquire and its release.
type lock struct {
	resource   string
	holder     string
	waiters    []*waiter
	acquiredAt time.Time
}

// LockManager hands out exclusive locks per named resource. Waits are FIFO
// and bounded; a contention timeout is not a deadlock and simply returns
// false. Cycles among waiting holders are found by the DeadlockDetector and
// broken by force-releasing one lock, which is always logged as an error
// event.
type LockManager struct {
	mu       sync.Mutex
	locks    map[string]*lock
	detector *DeadlockDetector
	metrics  *metrics.Metrics
}

// NewLockManager returns a lock manager wired to the given detector.
func NewLockManager(detector *DeadlockDetector, m *metrics.Metrics) *LockManager {
	return &LockManager{
		locks:    make(map[string]*lock),
		detector: detector,
		metrics:  m,
	}
}

// Acquire blocks until the resource lock is granted to holder, up to maxWait
// (DefaultMaxWait when maxWait <= 0). It returns false with a nil error on a
// contention timeout, and false with a DeadlockError when the wait was
// aborted because holder was on a broken lock-wait cycle.
func (lm *LockManager) Acquire(ctx context.Context, resourceName, holder string, maxWait time.Duration) (bool, error) {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	lm.mu.Lock()
	l := lm.ensureLocked(resourceName)
	if l.holder == "" && len(l.waiters) == 0 {
		l.holder = holder
		l.acquiredAt = time.Now()
		lm.mu.Unlock()
		return true, nil
	}
	w := &waiter{
		holder: holder,
		grant:  make(chan struct{}),
		abort:  make(chan error, 1),
	}
	l.waiters = append(l.waiters, w)
	lm.mu.Unlock()

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-w.grant:
		return true, nil
	case err := <-w.abort:
		return false, err
	case <-timer.C:
		lm.dropWaiter(resourceName, w)
		return false, nil
	case <-ctx.Done():
		lm.dropWaiter(resourceName, w)
		return false, ctx.Err()
	}
}

// Release hands the lock to the next waiter, or frees it. Only the declared
// holder may release; everyone else gets ErrNotHeld.
func (lm *LockManager) Release(resourceName, holder string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.locks[resourceName]
	if !ok || l.holder != holder {
		return ErrNotHeld
	}
	lm.grantNextLocked(l)
	return nil
}

// Holder returns the current holder id of the resource lock, if any.
func (lm *LockManager) Holder(resourceName string) (string, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.locks[resourceName]
	if !ok || l.holder == "" {
		return "", false
	}
	return l.holder, true
}

// CheckDeadlocks snapshots the wait-for graph and asks the detector for a
// cycle. A found cycle is broken deterministically: every lock held by the
// lexicographically smallest holder id on the cycle is force-released, and
// that holder's own pending waits fail with a retryable DeadlockError.
// Returns true when a deadlock was detected and broken.
func (lm *LockManager) CheckDeadlocks() bool {
	lm.mu.Lock()
	waitFor := lm.waitForLocked()
	lm.mu.Unlock()

	cycle, ok := lm.detector.Check(waitFor)
	if !ok {
		return false
	}

	victim := cycle[0]
	for _, holder := range cycle[1:] {
		if holder < victim {
			victim = holder
		}
	}

	lm.metrics.RecordDeadlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	for _, l := range lm.sortedLocksLocked() {
		if l.holder == victim {
			err := &DeadlockError{Holder: victim, Resource: l.resource, Cycle: cycle}
			logging.Error("Locks", err, "force-releasing %s held by %s to break deadlock", l.resource, victim)
			lm.metrics.RecordShutdownError("forced_release")
			lm.grantNextLocked(l)
		}
		// Abort the victim's waits so it can observe the deadlock and retry.
		kept := l.waiters[:0]
		for _, w := range l.waiters {
			if w.holder == victim {
				select {
				case w.abort <- &DeadlockError{Holder: victim, Resource: l.resource, Cycle: cycle}:
				default:
				}
				continue
			}
			kept = append(kept, w)
		}
		l.waiters = kept
	}
	return true
}

// waitForLocked builds the wait-for edges: waiter id -> holder of the
// resource it is blocked on.
func (lm *LockManager) waitForLocked() map[string][]string {
	waitFor := make(map[string][]string)
	for _, l := range lm.locks {
		if l.holder == "" {
			continue
		}
		for _, w := range l.waiters {
			waitFor[w.holder] = append(waitFor[w.holder], l.holder)
		}
	}
	return waitFor
}

func (lm *LockManager) ensureLocked(resourceName string) *lock {
	if l, ok := lm.locks[resourceName]; ok {
		return l
	}
	l := &lock{resource: resourceName}
	lm.locks[resourceName] = l
	return l
}

// grantNextLocked passes the lock to the first waiter, or frees it.
func (lm *LockManager) grantNextLocked(l *lock) {
	if len(l.waiters) == 0 {
		l.holder = ""
		l.acquiredAt = time.Time{}
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	l.holder = next.holder
	l.acquiredAt = time.Now()
	close(next.grant)
}

// dropWaiter removes a timed-out or cancelled waiter. If the grant raced the
// timeout and already made it the holder, the lock is handed straight on.
func (lm *LockManager) dropWaiter(resourceName string, w *waiter) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.locks[resourceName]
	if !ok {
		return
	}
	for i, cur := range l.waiters {
		if cur == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
	if l.holder == w.holder {
		lm.grantNextLocked(l)
	}
}

func (lm *LockManager) sortedLocksLocked() []*lock {
	out := make([]*lock, 0, len(lm.locks))
	for _, l := range lm.locks {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].resource < out[j].resource })
	return out
}
