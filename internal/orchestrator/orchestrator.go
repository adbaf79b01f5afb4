package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"conductor/internal/breaker"
	"conductor/internal/dependency"
	"conductor/internal/metrics"
	"conductor/internal/resource"
	"conductor/internal/services"
	"conductor/internal/tasks"
	"conductor/internal/timeout"
	"conductor/pkg/logging"
)

// Config holds the tunables for the orchestrator. Zero values fall back to
// the defaults below.
type Config struct {
	// DefaultTimeout bounds individual start and cleanup calls when no
	// adaptive history exists yet. It is also the estimator's upper clamp.
	DefaultTimeout time.Duration

	// MaxRetries is the attempt budget for service starts and resource
	// cleanups.
	MaxRetries int

	// RetryBackoff is the initial delay between attempts. Start retries
	// double it per attempt; cleanup retries grow it linearly.
	RetryBackoff time.Duration

	// MaxConcurrentCleanups caps how many cleanup handlers run at once.
	MaxConcurrentCleanups int64

	// PhaseTimeouts bounds each shutdown phase. Missing phases use
	// DefaultTimeout.
	PhaseTimeouts map[Phase]time.Duration

	// Cancel controls batched task cancellation.
	Cancel tasks.CancelConfig

	// AdaptiveMinTimeout and AdaptiveHistorySize shape the timeout
	// estimator.
	AdaptiveMinTimeout  time.Duration
	AdaptiveHistorySize int

	// Circuit breaker settings applied to every per-service breaker.
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	BreakerHalfOpenMaxCalls int

	// LockMaxWait bounds resource lock acquisition during cleanup.
	LockMaxWait time.Duration

	// DeadlockCheckInterval throttles wait-for graph scans.
	DeadlockCheckInterval time.Duration

	// Metrics receives observations. Nil disables instrumentation.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:          30 * time.Second,
		MaxRetries:              3,
		RetryBackoff:            500 * time.Millisecond,
		MaxConcurrentCleanups:   5,
		PhaseTimeouts:           DefaultPhaseTimeouts(),
		Cancel:                  tasks.DefaultCancelConfig(),
		AdaptiveMinTimeout:      100 * time.Millisecond,
		AdaptiveHistorySize:     timeout.DefaultHistorySize,
		BreakerFailureThreshold: breaker.DefaultFailureThreshold,
		BreakerRecoveryTimeout:  breaker.DefaultRecoveryTimeout,
		BreakerHalfOpenMaxCalls: breaker.DefaultHalfOpenMaxCalls,
		LockMaxWait:             resource.DefaultMaxWait,
		DeadlockCheckInterval:   resource.DefaultCheckInterval,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.MaxConcurrentCleanups <= 0 {
		c.MaxConcurrentCleanups = def.MaxConcurrentCleanups
	}
	if c.PhaseTimeouts == nil {
		c.PhaseTimeouts = def.PhaseTimeouts
	}
	if c.Cancel.BatchSize <= 0 {
		c.Cancel = def.Cancel
	}
	if c.AdaptiveMinTimeout <= 0 {
		c.AdaptiveMinTimeout = def.AdaptiveMinTimeout
	}
	if c.AdaptiveHistorySize <= 0 {
		c.AdaptiveHistorySize = def.AdaptiveHistorySize
	}
	if c.BreakerFailureThreshold <= 0 {
		c.BreakerFailureThreshold = def.BreakerFailureThreshold
	}
	if c.BreakerRecoveryTimeout <= 0 {
		c.BreakerRecoveryTimeout = def.BreakerRecoveryTimeout
	}
	if c.BreakerHalfOpenMaxCalls <= 0 {
		c.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	if c.LockMaxWait <= 0 {
		c.LockMaxWait = def.LockMaxWait
	}
	if c.DeadlockCheckInterval <= 0 {
		c.DeadlockCheckInterval = def.DeadlockCheckInterval
	}
	return c
}

// cleanupHandler is a registered resource teardown step.
type cleanupHandler struct {
	name     string
	fn       func(ctx context.Context) error
	priority int
	timeout  time.Duration
}

// Orchestrator drives service startup in dependency order and a phased,
// idempotent shutdown. It is the single owner of the service registry, the
// resource state machines and the task registry.
type Orchestrator struct {
	config Config

	registry  *services.Registry
	graph     *dependency.Graph
	resources *dependency.Graph

	estimator *timeout.Estimator
	tasks     *tasks.Registry
	canceller *tasks.Canceller
	locks     *resource.LockManager

	states *resource.StateMachine

	mu            sync.RWMutex
	breakers      map[string]*breaker.Breaker
	cleanups      map[string]*cleanupHandler
	phaseHandlers map[Phase][]phaseHandler
	healthChecks  map[string]func(ctx context.Context) (bool, error)
	started       []string

	shutdown *shutdownState
}

// New creates an orchestrator with the given configuration.
func New(cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()

	estimator := timeout.NewEstimator(cfg.AdaptiveMinTimeout, cfg.DefaultTimeout, cfg.AdaptiveHistorySize)
	taskRegistry := tasks.NewRegistry(cfg.Metrics)
	detector := resource.NewDeadlockDetector(cfg.DeadlockCheckInterval)

	return &Orchestrator{
		config:        cfg,
		registry:      services.NewRegistry(),
		graph:         dependency.New(),
		resources:     dependency.New(),
		estimator:     estimator,
		tasks:         taskRegistry,
		canceller:     tasks.NewCanceller(taskRegistry, cfg.Cancel, estimator, cfg.Metrics),
		locks:         resource.NewLockManager(detector, cfg.Metrics),
		states:        resource.NewStateMachine(cfg.Metrics),
		breakers:      make(map[string]*breaker.Breaker),
		cleanups:      make(map[string]*cleanupHandler),
		phaseHandlers: make(map[Phase][]phaseHandler),
		healthChecks:  make(map[string]func(ctx context.Context) (bool, error)),
		shutdown:      newShutdownState(),
	}
}

// Tasks exposes the task registry so callers can track cancellable work.
func (o *Orchestrator) Tasks() *tasks.Registry { return o.tasks }

// Locks exposes the resource lock manager.
func (o *Orchestrator) Locks() *resource.LockManager { return o.locks }

// RegisterService adds a managed service and its dependency edges. Services
// must be registered before Startup. The handle's Cleanup is wired into the
// CLEANUP_RESOURCES phase automatically, with resource dependencies
// mirroring the service dependencies.
func (o *Orchestrator) RegisterService(name string, handle services.Handle, dependsOn ...string) error {
	if err := o.registry.Register(name, handle, dependsOn...); err != nil {
		return err
	}
	o.graph.Register(dependency.NodeID(name), toNodeIDs(dependsOn)...)

	o.mu.Lock()
	o.cleanups[name] = &cleanupHandler{name: name, fn: handle.Cleanup, timeout: o.config.DefaultTimeout}
	o.mu.Unlock()
	o.resources.Register(dependency.NodeID(name), toNodeIDs(dependsOn)...)
	return nil
}

// RegisterCleanupHandler adds a resource teardown step run during the
// CLEANUP_RESOURCES phase. priority orders resources that are otherwise
// unconstrained; higher priorities clean up first. A non-positive timeout
// falls back to DefaultTimeout.
func (o *Orchestrator) RegisterCleanupHandler(name string, fn func(ctx context.Context) error, priority int, cleanupTimeout time.Duration) error {
	if name == "" {
		return fmt.Errorf("cleanup handler has empty name")
	}
	if fn == nil {
		return fmt.Errorf("cleanup handler %s is nil", name)
	}
	if cleanupTimeout <= 0 {
		cleanupTimeout = o.config.DefaultTimeout
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.cleanups[name]; exists {
		return fmt.Errorf("cleanup handler %s already registered", name)
	}
	o.cleanups[name] = &cleanupHandler{name: name, fn: fn, priority: priority, timeout: cleanupTimeout}
	o.resources.Register(dependency.NodeID(name))
	return nil
}

// RegisterResourceDependency declares that resource depends on each of
// dependsOn. During cleanup the dependent resource is torn down first.
func (o *Orchestrator) RegisterResourceDependency(resourceName string, dependsOn ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.resources.Register(dependency.NodeID(resourceName), toNodeIDs(dependsOn)...)
	h, ok := o.cleanups[resourceName]
	if !ok {
		return
	}
	for _, dep := range dependsOn {
		o.resources.SetWeight(dependency.NodeID(resourceName), dependency.NodeID(dep), h.priority)
	}
}

// RegisterHealthCheck adds a named liveness probe reported by HealthStatus.
func (o *Orchestrator) RegisterHealthCheck(name string, fn func(ctx context.Context) (bool, error)) {
	o.mu.Lock()
	o.healthChecks[name] = fn
	o.mu.Unlock()
}

// Startup brings every registered service up in dependency order. Each start
// runs under the retry policy; the first service that exhausts its attempts
// aborts startup and the error is returned.
func (o *Orchestrator) Startup(ctx context.Context) error {
	begin := time.Now()

	order, err := o.graph.Order()
	if err != nil {
		return fmt.Errorf("resolving service order: %w", err)
	}

	logging.Info("Orchestrator", "starting %d service(s)", o.registry.Len())

	for _, id := range order {
		name := string(id)
		entry, ok := o.registry.Get(name)
		if !ok {
			// Dependency-only node with no handle of its own.
			continue
		}
		if err := o.startService(ctx, entry); err != nil {
			logging.Error("Orchestrator", err, "startup aborted at service %s", name)
			return err
		}

		if terr := o.states.Transition(name, resource.StateInUse); terr != nil {
			logging.Warn("Orchestrator", "service %s: %v", name, terr)
		}

		o.mu.Lock()
		o.started = append(o.started, name)
		o.mu.Unlock()
	}

	logging.Info("Orchestrator", "startup complete in %s", time.Since(begin))
	return nil
}

// IsShuttingDown reports whether Shutdown has been requested.
func (o *Orchestrator) IsShuttingDown() bool {
	return o.shutdown.requested()
}

// ServiceHealth is the probe result for one service or named check.
type ServiceHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthStatus aggregates per-service health. The overall flag is false as
// soon as one probe fails or shutdown is in progress.
type HealthStatus struct {
	Healthy      bool                     `json:"healthy"`
	ShuttingDown bool                     `json:"shuttingDown"`
	Services     map[string]ServiceHealth `json:"services"`
}

// healthCheckTimeout bounds each individual probe so one hung check cannot
// stall the whole status.
const healthCheckTimeout = 5 * time.Second

// HealthStatus probes every registered service handle and named health
// check. Each probe runs under its own timeout.
func (o *Orchestrator) HealthStatus(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:      true,
		ShuttingDown: o.IsShuttingDown(),
		Services:     make(map[string]ServiceHealth),
	}
	if status.ShuttingDown {
		status.Healthy = false
	}

	for _, name := range o.registry.Names() {
		entry, ok := o.registry.Get(name)
		if !ok {
			continue
		}
		healthy, err := probe(ctx, entry.Handle.CheckHealth)
		status.Services[name] = toServiceHealth(healthy, err)
		if !healthy || err != nil {
			status.Healthy = false
		}
	}

	o.mu.RLock()
	checks := make(map[string]func(ctx context.Context) (bool, error), len(o.healthChecks))
	for name, fn := range o.healthChecks {
		checks[name] = fn
	}
	o.mu.RUnlock()

	for name, fn := range checks {
		healthy, err := probe(ctx, fn)
		status.Services[name] = toServiceHealth(healthy, err)
		if !healthy || err != nil {
			status.Healthy = false
		}
	}
	return status
}

func probe(ctx context.Context, fn func(ctx context.Context) (bool, error)) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return fn(probeCtx)
}

func toServiceHealth(healthy bool, err error) ServiceHealth {
	sh := ServiceHealth{Healthy: healthy && err == nil}
	if err != nil {
		sh.Error = err.Error()
	}
	return sh
}

// ResourceStates returns a snapshot of every tracked resource state.
func (o *Orchestrator) ResourceStates() map[string]resource.State {
	return o.states.Snapshot()
}

// StartedServices returns the successfully started services, most recent
// first.
func (o *Orchestrator) StartedServices() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]string, len(o.started))
	for i, name := range o.started {
		out[len(o.started)-1-i] = name
	}
	return out
}

func (o *Orchestrator) sortedCleanups() []*cleanupHandler {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*cleanupHandler, 0, len(o.cleanups))
	for _, h := range o.cleanups {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func toNodeIDs(names []string) []dependency.NodeID {
	ids := make([]dependency.NodeID, len(names))
	for i, name := range names {
		ids[i] = dependency.NodeID(name)
	}
	return ids
}
