package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// ServiceInitError reports a service that could not be started during
// startup, after all configured attempts were spent.
type ServiceInitError struct {
	// Service is the name of the service that failed to initialize.
	Service string

	// Attempts is how many start attempts were made.
	Attempts int

	// Err is the error returned by the final attempt.
	Err error
}

func (e *ServiceInitError) Error() string {
	return fmt.Sprintf("service %s failed to initialize after %d attempt(s): %v",
		e.Service, e.Attempts, e.Err)
}

func (e *ServiceInitError) Unwrap() error { return e.Err }

// IsServiceInit checks if an error is or wraps a ServiceInitError.
func IsServiceInit(err error) bool {
	var initErr *ServiceInitError
	return errors.As(err, &initErr)
}

// ResourceCleanupError reports a resource whose cleanup handler kept failing
// until the retry budget ran out. The resource is left in the FAILED state.
type ResourceCleanupError struct {
	Resource string
	Attempts int
	Err      error
}

func (e *ResourceCleanupError) Error() string {
	return fmt.Sprintf("cleanup of resource %s failed after %d attempt(s): %v",
		e.Resource, e.Attempts, e.Err)
}

func (e *ResourceCleanupError) Unwrap() error { return e.Err }

// IsResourceCleanup checks if an error is or wraps a ResourceCleanupError.
func IsResourceCleanup(err error) bool {
	var cleanupErr *ResourceCleanupError
	return errors.As(err, &cleanupErr)
}

// PhaseTimeoutError reports a shutdown phase that exceeded its time budget.
// The phase is abandoned and shutdown proceeds with the next one.
type PhaseTimeoutError struct {
	Phase   Phase
	Timeout time.Duration
}

func (e *PhaseTimeoutError) Error() string {
	return fmt.Sprintf("shutdown phase %s exceeded its %s budget", e.Phase, e.Timeout)
}

// IsPhaseTimeout checks if an error is or wraps a PhaseTimeoutError.
func IsPhaseTimeout(err error) bool {
	var timeoutErr *PhaseTimeoutError
	return errors.As(err, &timeoutErr)
}
