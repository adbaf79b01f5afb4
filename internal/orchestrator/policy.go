package orchestrator

import (
	"context"
	"time"

	"conductor/internal/breaker"
	"conductor/internal/services"
	"conductor/pkg/logging"
)

// breakerFor returns the per-service circuit breaker, creating it on first
// use.
func (o *Orchestrator) breakerFor(name string) *breaker.Breaker {
	o.mu.Lock()
	defer o.mu.Unlock()

	if b, ok := o.breakers[name]; ok {
		return b
	}
	b := breaker.New(name,
		breaker.WithFailureThreshold(o.config.BreakerFailureThreshold),
		breaker.WithRecoveryTimeout(o.config.BreakerRecoveryTimeout),
		breaker.WithHalfOpenMaxCalls(o.config.BreakerHalfOpenMaxCalls),
		breaker.WithMetrics(o.config.Metrics),
	)
	o.breakers[name] = b
	return b
}

// adaptiveBudget derives a call budget from the observed history for key:
// twice the running mean, bounded by ceil. With no history yet the full ceil
// applies.
func (o *Orchestrator) adaptiveBudget(key string, ceil time.Duration) time.Duration {
	if o.estimator.SampleCount(key) == 0 {
		return ceil
	}
	budget := 2 * o.estimator.Timeout(key)
	if budget > ceil {
		budget = ceil
	}
	return budget
}

// startService runs one service start under the retry policy: every attempt
// goes through the service's circuit breaker and is bounded by the adaptive
// timeout for that service. Backoff between attempts doubles, capped at ten
// times the initial backoff. Successful durations feed the estimator.
func (o *Orchestrator) startService(ctx context.Context, entry *services.Entry) error {
	brk := o.breakerFor(entry.Name)
	key := "start:" + entry.Name

	backoff := o.config.RetryBackoff
	maxBackoff := 10 * o.config.RetryBackoff

	var lastErr error
	for attempt := 1; attempt <= o.config.MaxRetries; attempt++ {
		begin := time.Now()
		err := brk.Call(ctx, func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, o.adaptiveBudget(key, o.config.DefaultTimeout))
			defer cancel()
			return entry.Handle.Start(attemptCtx)
		})
		if err == nil {
			o.estimator.Update(key, time.Since(begin))
			o.config.Metrics.ObserveStartup(entry.Name, time.Since(begin))
			logging.Info("Orchestrator", "service %s started in %s (attempt %d)",
				entry.Name, time.Since(begin), attempt)
			return nil
		}

		lastErr = err
		if breaker.IsOpen(err) {
			logging.Warn("Orchestrator", "service %s: circuit open, attempt %d skipped", entry.Name, attempt)
		} else {
			logging.Warn("Orchestrator", "service %s start attempt %d failed: %v", entry.Name, attempt, err)
		}

		if attempt == o.config.MaxRetries {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return &ServiceInitError{Service: entry.Name, Attempts: attempt, Err: ctx.Err()}
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return &ServiceInitError{Service: entry.Name, Attempts: o.config.MaxRetries, Err: lastErr}
}
