package resource

import (
	"errors"
	"fmt"
	"strings"
)

// InvalidTransitionError reports an illegal resource state change. The stored
// state is left untouched; the error is fatal for that resource only.
type InvalidTransitionError struct {
	Resource string
	From     State
	To       State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Resource, e.From, e.To)
}

// IsInvalidTransition checks if an error is an InvalidTransitionError using
// error unwrapping.
func IsInvalidTransition(err error) bool {
	var invalidErr *InvalidTransitionError
	return errors.As(err, &invalidErr)
}

// DeadlockError reports that a lock-wait cycle was detected and broken. The
// wait that received it can safely be retried: the cycle no longer exists.
type DeadlockError struct {
	// Holder is the id whose wait was aborted.
	Holder string
	// Resource is what the holder was waiting for.
	Resource string
	// Cycle lists the holder ids that formed the wait-for cycle.
	Cycle []string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlock detected: %s waiting on %s (cycle: %s)",
		e.Holder, e.Resource, strings.Join(e.Cycle, " -> "))
}

// Retryable marks the error as safe to retry after the forced release.
func (e *DeadlockError) Retryable() bool { return true }

// IsDeadlock checks if an error is a DeadlockError using error unwrapping.
func IsDeadlock(err error) bool {
	var deadlockErr *DeadlockError
	return errors.As(err, &deadlockErr)
}

// ErrNotHeld is returned when releasing a lock the caller does not hold.
var ErrNotHeld = errors.New("lock not held by caller")
