package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"conductor/internal/dependency"
	"conductor/internal/resource"
	"conductor/pkg/logging"
)

// Phase identifies one step of the shutdown sequence.
type Phase string

const (
	PhaseInitialize       Phase = "INITIALIZE"
	PhaseStopAccepting    Phase = "STOP_ACCEPTING"
	PhaseDrainRequests    Phase = "DRAIN_REQUESTS"
	PhaseCancelTasks      Phase = "CANCEL_TASKS"
	PhaseCleanupResources Phase = "CLEANUP_RESOURCES"
	PhaseFinalize         Phase = "FINALIZE"
)

// PhaseOrder lists the shutdown phases in execution order.
var PhaseOrder = []Phase{
	PhaseInitialize,
	PhaseStopAccepting,
	PhaseDrainRequests,
	PhaseCancelTasks,
	PhaseCleanupResources,
	PhaseFinalize,
}

// DefaultPhaseTimeouts returns the stock per-phase budgets.
func DefaultPhaseTimeouts() map[Phase]time.Duration {
	return map[Phase]time.Duration{
		PhaseInitialize:       2 * time.Second,
		PhaseStopAccepting:    3 * time.Second,
		PhaseDrainRequests:    10 * time.Second,
		PhaseCancelTasks:      10 * time.Second,
		PhaseCleanupResources: 10 * time.Second,
		PhaseFinalize:         5 * time.Second,
	}
}

// deadlockScanInterval is how often the wait-for graph is scanned while
// cleanup handlers hold resource locks.
const deadlockScanInterval = 250 * time.Millisecond

// PhaseError records one failure observed during a shutdown phase. The phase
// itself still completes; errors are accumulated, never fatal.
type PhaseError struct {
	Phase    Phase
	Name     string
	Err      error
	Duration time.Duration
}

// Report is the final shutdown summary returned to every Shutdown caller.
type Report struct {
	Reason          string
	StartedAt       time.Time
	Duration        time.Duration
	CompletedPhases []Phase
	Errors          []PhaseError
}

// Success reports whether shutdown finished without a single error.
func (r *Report) Success() bool { return len(r.Errors) == 0 }

// phaseHandler is a caller-registered hook run during one phase.
type phaseHandler struct {
	name string
	fn   func(ctx context.Context) error
}

// RegisterPhaseHandler adds a hook executed during the given phase. Handlers
// of one phase run concurrently under the phase budget; their errors are
// recorded in the report.
func (o *Orchestrator) RegisterPhaseHandler(phase Phase, name string, fn func(ctx context.Context) error) {
	o.mu.Lock()
	o.phaseHandlers[phase] = append(o.phaseHandlers[phase], phaseHandler{name: name, fn: fn})
	o.mu.Unlock()
}

// shutdownState tracks a shutdown run across concurrent callers.
type shutdownState struct {
	once sync.Once

	mu        sync.Mutex
	flag      bool
	reason    string
	startedAt time.Time
	current   Phase
	completed []Phase
	errs      []PhaseError
	report    *Report
}

func newShutdownState() *shutdownState { return &shutdownState{} }

func (s *shutdownState) requested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flag
}

func (s *shutdownState) begin(reason string) {
	s.mu.Lock()
	s.flag = true
	s.reason = reason
	s.startedAt = time.Now()
	s.mu.Unlock()
}

func (s *shutdownState) beginPhase(phase Phase) {
	s.mu.Lock()
	s.current = phase
	s.mu.Unlock()
}

func (s *shutdownState) completePhase(phase Phase, errs []PhaseError) {
	s.mu.Lock()
	s.completed = append(s.completed, phase)
	s.errs = append(s.errs, errs...)
	s.mu.Unlock()
}

// Progress is a point-in-time view of an ongoing or finished shutdown.
type Progress struct {
	Requested       bool
	Reason          string
	Phase           Phase
	CompletedPhases []Phase
	StartedAt       time.Time
	Elapsed         time.Duration
	Errors          int
}

// Progress returns a snapshot of the current shutdown, if any.
func (o *Orchestrator) Progress() Progress {
	s := o.shutdown
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Progress{
		Requested:       s.flag,
		Reason:          s.reason,
		Phase:           s.current,
		CompletedPhases: append([]Phase(nil), s.completed...),
		StartedAt:       s.startedAt,
		Errors:          len(s.errs),
	}
	if s.flag {
		p.Elapsed = time.Since(s.startedAt)
	}
	return p
}

// Shutdown runs the six-phase sequence exactly once and returns the final
// report. Concurrent and repeated callers block until the one run finishes
// and receive the same report. Shutdown never gives up early: a failing or
// timed-out phase is recorded and the next phase still runs.
func (o *Orchestrator) Shutdown(reason string) *Report {
	o.shutdown.once.Do(func() {
		o.runShutdown(reason)
	})

	o.shutdown.mu.Lock()
	defer o.shutdown.mu.Unlock()
	return o.shutdown.report
}

func (o *Orchestrator) runShutdown(reason string) {
	o.shutdown.begin(reason)
	logging.Info("Shutdown", "shutdown requested: %s", reason)

	// Shutdown deliberately does not inherit a caller context; the phase
	// budgets are the only bound on its runtime.
	ctx := context.Background()

	o.runPhase(ctx, PhaseInitialize, o.initialize)
	o.runPhase(ctx, PhaseStopAccepting, nil)
	o.runPhase(ctx, PhaseDrainRequests, nil)
	o.runPhase(ctx, PhaseCancelTasks, o.cancelTasks)
	o.runPhase(ctx, PhaseCleanupResources, o.cleanupResources)
	o.runPhase(ctx, PhaseFinalize, nil)

	s := o.shutdown
	s.mu.Lock()
	s.report = &Report{
		Reason:          s.reason,
		StartedAt:       s.startedAt,
		Duration:        time.Since(s.startedAt),
		CompletedPhases: append([]Phase(nil), s.completed...),
		Errors:          append([]PhaseError(nil), s.errs...),
	}
	report := s.report
	s.mu.Unlock()

	if report.Success() {
		logging.Info("Shutdown", "shutdown complete in %s", report.Duration)
	} else {
		logging.Warn("Shutdown", "shutdown complete in %s with %d error(s)",
			report.Duration, len(report.Errors))
	}
}

func (o *Orchestrator) phaseBudget(phase Phase) time.Duration {
	if d, ok := o.config.PhaseTimeouts[phase]; ok && d > 0 {
		return d
	}
	return o.config.DefaultTimeout
}

// runPhase executes one phase: its built-in body, then the registered
// handlers, all bounded by the phase budget. Exceeding the budget records a
// PhaseTimeoutError; the phase still counts as completed.
func (o *Orchestrator) runPhase(ctx context.Context, phase Phase, body func(ctx context.Context) []PhaseError) {
	budget := o.phaseBudget(phase)
	phaseCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	o.shutdown.beginPhase(phase)
	logging.Debug("Shutdown", "phase %s starting (budget %s)", phase, budget)
	begin := time.Now()

	var errs []PhaseError
	if body != nil {
		errs = body(phaseCtx)
	}
	errs = append(errs, o.runPhaseHandlers(phaseCtx, phase)...)

	elapsed := time.Since(begin)
	if phaseCtx.Err() == context.DeadlineExceeded {
		errs = append(errs, PhaseError{
			Phase:    phase,
			Err:      &PhaseTimeoutError{Phase: phase, Timeout: budget},
			Duration: elapsed,
		})
	}

	for _, pe := range errs {
		logging.Error("Shutdown", pe.Err, "phase %s: %s", phase, pe.Name)
		o.config.Metrics.RecordShutdownError(string(phase))
	}
	o.config.Metrics.ObservePhase(string(phase), elapsed)
	o.shutdown.completePhase(phase, errs)
	logging.Debug("Shutdown", "phase %s done in %s", phase, elapsed)
}

func (o *Orchestrator) runPhaseHandlers(ctx context.Context, phase Phase) []PhaseError {
	o.mu.RLock()
	handlers := append([]phaseHandler(nil), o.phaseHandlers[phase]...)
	o.mu.RUnlock()
	if len(handlers) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []PhaseError
		g    errgroup.Group
	)
	for _, h := range handlers {
		h := h
		g.Go(func() error {
			begin := time.Now()
			if err := h.fn(ctx); err != nil {
				mu.Lock()
				errs = append(errs, PhaseError{Phase: phase, Name: h.name, Err: err, Duration: time.Since(begin)})
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errs
}

func (o *Orchestrator) initialize(ctx context.Context) []PhaseError {
	logging.Info("Shutdown", "%d service(s) running, %d task(s) tracked, %d cleanup handler(s) registered",
		len(o.StartedServices()), o.tasks.Len(), len(o.sortedCleanups()))
	return nil
}

func (o *Orchestrator) cancelTasks(ctx context.Context) []PhaseError {
	var errs []PhaseError
	begin := time.Now()
	for _, err := range o.canceller.CancelAll(ctx) {
		errs = append(errs, PhaseError{
			Phase:    PhaseCancelTasks,
			Name:     "tasks",
			Err:      err,
			Duration: time.Since(begin),
		})
	}
	return errs
}

// cleanupResources tears registered resources down in reverse dependency
// order: a resource is cleaned only after everything depending on it has
// finished. Handlers run concurrently up to MaxConcurrentCleanups, each
// under the resource lock. A background scan breaks lock deadlocks while the
// phase runs.
func (o *Orchestrator) cleanupResources(ctx context.Context) []PhaseError {
	order, err := o.resources.Order()
	if err != nil {
		return []PhaseError{{Phase: PhaseCleanupResources, Name: "dependency-graph", Err: err}}
	}

	scanCtx, stopScan := context.WithCancel(ctx)
	defer stopScan()
	go o.scanDeadlocks(scanCtx)

	sem := semaphore.NewWeighted(o.config.MaxConcurrentCleanups)
	done := make(map[dependency.NodeID]chan struct{}, len(order))
	for _, id := range order {
		done[id] = make(chan struct{})
	}

	var (
		mu   sync.Mutex
		errs []PhaseError
		wg   sync.WaitGroup
	)

	for _, id := range order {
		o.mu.RLock()
		handler := o.cleanups[string(id)]
		o.mu.RUnlock()

		dependents := o.resources.Dependents(id)

		wg.Add(1)
		go func(id dependency.NodeID, h *cleanupHandler) {
			defer wg.Done()
			defer close(done[id])

			for _, dep := range dependents {
				select {
				case <-done[dep]:
				case <-ctx.Done():
					return
				}
			}
			if h == nil {
				// Dependency-only node; nothing to run.
				return
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			begin := time.Now()
			if err := o.cleanupResource(ctx, h); err != nil {
				mu.Lock()
				errs = append(errs, PhaseError{
					Phase:    PhaseCleanupResources,
					Name:     h.name,
					Err:      err,
					Duration: time.Since(begin),
				})
				mu.Unlock()
			}
		}(id, handler)
	}

	wg.Wait()
	return errs
}

func (o *Orchestrator) scanDeadlocks(ctx context.Context) {
	ticker := time.NewTicker(deadlockScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.locks.CheckDeadlocks()
		}
	}
}

// cleanupResource runs one handler under the retry policy. The resource
// moves to CLEANING first, to CLEANED on success and to FAILED once the
// attempt budget is spent. Already cleaned resources are skipped.
func (o *Orchestrator) cleanupResource(ctx context.Context, h *cleanupHandler) error {
	const holder = "shutdown"

	if o.states.State(h.name) == resource.StateCleaned {
		return nil
	}
	if err := o.states.Transition(h.name, resource.StateCleaning); err != nil {
		return err
	}

	acquired, err := o.locks.Acquire(ctx, h.name, holder, o.config.LockMaxWait)
	if err != nil {
		o.states.Transition(h.name, resource.StateFailed)
		return &ResourceCleanupError{Resource: h.name, Attempts: 0, Err: err}
	}
	if acquired {
		defer o.locks.Release(h.name, holder)
	} else {
		logging.Warn("Shutdown", "resource %s: lock not acquired in %s, cleaning anyway",
			h.name, o.config.LockMaxWait)
	}

	key := "cleanup:" + h.name
	var lastErr error
	for attempt := 1; attempt <= o.config.MaxRetries; attempt++ {
		begin := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, o.adaptiveBudget(key, h.timeout))
		runErr := h.fn(attemptCtx)
		cancel()

		if runErr == nil {
			o.estimator.Update(key, time.Since(begin))
			if terr := o.states.Transition(h.name, resource.StateCleaned); terr != nil {
				return terr
			}
			logging.Debug("Shutdown", "resource %s cleaned in %s", h.name, time.Since(begin))
			return nil
		}

		lastErr = runErr
		o.config.Metrics.RecordCleanupRetry(h.name)
		logging.Warn("Shutdown", "resource %s cleanup attempt %d failed: %v", h.name, attempt, runErr)

		if attempt == o.config.MaxRetries {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * o.config.RetryBackoff):
		case <-ctx.Done():
			o.states.Transition(h.name, resource.StateFailed)
			return &ResourceCleanupError{Resource: h.name, Attempts: attempt, Err: ctx.Err()}
		}
	}

	o.states.Transition(h.name, resource.StateFailed)
	return &ResourceCleanupError{Resource: h.name, Attempts: o.config.MaxRetries, Err: lastErr}
}
