package tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"conductor/internal/metrics"
	"conductor/internal/timeout"
	"conductor/pkg/logging"
)

// DefaultBatchSize bounds how many tasks of one tier are cancelled
// concurrently.
const DefaultBatchSize = 10

// BatchTimeoutError reports the tasks of one batch that did not confirm
// cancellation before the tier deadline.
type BatchTimeoutError struct {
	Priority Priority
	Names    []string
}

func (e *BatchTimeoutError) Error() string {
	return fmt.Sprintf("cancellation of %s tasks timed out: %s",
		e.Priority, strings.Join(e.Names, ", "))
}

// CancelConfig controls batched cancellation.
type CancelConfig struct {
	// BatchSize is the number of tasks cancelled concurrently per batch.
	BatchSize int
	// TierTimeouts bounds how long each batch of a priority tier may take.
	// Tasks still running at the deadline are abandoned, not waited for.
	TierTimeouts map[Priority]time.Duration
}

// DefaultCancelConfig returns the stock batch size and tier timeouts.
func DefaultCancelConfig() CancelConfig {
	return CancelConfig{
		BatchSize: DefaultBatchSize,
		TierTimeouts: map[Priority]time.Duration{
			PriorityCritical: 30 * time.Second,
			PriorityHigh:     20 * time.Second,
			PriorityMedium:   10 * time.Second,
			PriorityLow:      5 * time.Second,
		},
	}
}

// Canceller tears down registered tasks tier by tier. Observed cancellation
// durations feed the adaptive estimator so later runs get tighter bounds.
type Canceller struct {
	registry  *Registry
	config    CancelConfig
	estimator *timeout.Estimator
	metrics   *metrics.Metrics
}

// NewCanceller returns a canceller over the given registry. The estimator may
// be nil when no adaptation is wanted.
func NewCanceller(registry *Registry, config CancelConfig, estimator *timeout.Estimator, m *metrics.Metrics) *Canceller {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return &Canceller{
		registry:  registry,
		config:    config,
		estimator: estimator,
		metrics:   m,
	}
}

// CancelAll cancels every tracked task, CRITICAL tier first, in batches of
// the configured size. Each batch gets a fresh tier deadline, so one hung
// task exhausts only its own batch's budget. Cancellation is best effort: a
// timed-out batch is recorded as an error and the run continues with the
// next batch.
func (c *Canceller) CancelAll(ctx context.Context) []error {
	var errs []error

	for _, priority := range Priorities {
		tier := c.registry.ByPriority(priority)
		if len(tier) == 0 {
			continue
		}

		logging.Info("Tasks", "cancelling %d %s task(s)", len(tier), priority)

		for start := 0; start < len(tier); start += c.config.BatchSize {
			end := start + c.config.BatchSize
			if end > len(tier) {
				end = len(tier)
			}
			if err := c.cancelBatchWithTimeout(ctx, priority, tier[start:end]); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errs
}

func (c *Canceller) cancelBatchWithTimeout(ctx context.Context, priority Priority, batch []*TrackedTask) error {
	if limit, ok := c.config.TierTimeouts[priority]; ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}
	return c.cancelBatch(ctx, priority, batch)
}

func (c *Canceller) cancelBatch(ctx context.Context, priority Priority, batch []*TrackedTask) error {
	var (
		mu       sync.Mutex
		timedOut []string
		wg       sync.WaitGroup
	)

	for _, tracked := range batch {
		wg.Add(1)
		go func(tracked *TrackedTask) {
			defer wg.Done()
			if c.cancelOne(ctx, tracked) {
				return
			}
			mu.Lock()
			timedOut = append(timedOut, tracked.Name)
			mu.Unlock()
		}(tracked)
	}
	wg.Wait()

	if len(timedOut) == 0 {
		return nil
	}
	return &BatchTimeoutError{Priority: priority, Names: timedOut}
}

// cancelOne requests cancellation and waits for the task to confirm. Returns
// false when the batch deadline expired first.
func (c *Canceller) cancelOne(ctx context.Context, tracked *TrackedTask) bool {
	start := time.Now()
	tracked.task.Cancel()

	select {
	case <-tracked.task.Done():
		elapsed := time.Since(start)
		if c.estimator != nil {
			c.estimator.Update("cancel:"+tracked.Name, elapsed)
		}
		c.registry.Unregister(tracked.ID)
		c.metrics.RecordCancellation(tracked.Priority.String(), "cancelled")
		logging.Debug("Tasks", "task %s cancelled in %s", tracked.Name, elapsed)
		return true
	case <-ctx.Done():
		c.metrics.RecordCancellation(tracked.Priority.String(), "timeout")
		logging.Warn("Tasks", "task %s did not stop before the %s batch deadline", tracked.Name, tracked.Priority)
		return false
	}
}
