// Package metrics exposes Prometheus instrumentation for the lifecycle
// orchestrator: phase and startup durations, task cancellations, resource
// state transitions, circuit breaker states, deadlock detections and cleanup
// retries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// durationBuckets cover fast in-process operations up to the longest phase
// budgets.
var durationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics tracks Prometheus metrics for the orchestrator.
//
// All metrics use the "conductor_" prefix. Methods handle a nil receiver
// gracefully, so a nil *Metrics acts as a no-op when instrumentation is
// disabled (e.g. in unit tests that do not assert on metrics).
type Metrics struct {
	registry *prometheus.Registry

	// StartupDuration tracks per-service start time, including retries.
	// Labels: service
	StartupDuration *prometheus.HistogramVec

	// PhaseDuration tracks time spent per shutdown phase.
	// Labels: phase
	PhaseDuration *prometheus.HistogramVec

	// ShutdownErrors counts errors recorded during shutdown by taxonomy type.
	// Labels: type=[phase_timeout, cleanup, cancel, handler, deadlock, forced_release]
	ShutdownErrors *prometheus.CounterVec

	// ActiveTasks tracks currently registered cancellable tasks per tier.
	// Labels: priority
	ActiveTasks *prometheus.GaugeVec

	// TaskCancellations counts per-task cancellation outcomes.
	// Labels: priority, outcome=[cancelled, completed, timeout]
	TaskCancellations *prometheus.CounterVec

	// StateTransitions counts resource state machine transitions.
	// Labels: resource, from, to
	StateTransitions *prometheus.CounterVec

	// StateDuration tracks time spent in each resource state before leaving it.
	// Labels: resource, state
	StateDuration *prometheus.HistogramVec

	// BreakerState reports circuit breaker state per protected call site
	// (0=closed, 1=open, 2=half-open).
	// Labels: name
	BreakerState *prometheus.GaugeVec

	// DeadlocksDetected counts lock-wait cycles found and broken.
	DeadlocksDetected prometheus.Counter

	// CleanupRetries counts cleanup attempts beyond the first per resource.
	// Labels: resource
	CleanupRetries *prometheus.CounterVec
}

// New creates and registers orchestrator metrics on a fresh registry. Each
// orchestrator instance owns its metrics; there is no process-global state,
// so tests can construct as many instances as they need.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		StartupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_startup_duration_seconds",
			Help:    "Time taken to start each service, including retries",
			Buckets: durationBuckets,
		}, []string{"service"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_shutdown_phase_duration_seconds",
			Help:    "Time spent in each shutdown phase",
			Buckets: durationBuckets,
		}, []string{"phase"}),
		ShutdownErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_shutdown_errors_total",
			Help: "Errors recorded during shutdown",
		}, []string{"type"}),
		ActiveTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "conductor_active_tasks",
			Help: "Currently registered cancellable tasks",
		}, []string{"priority"}),
		TaskCancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_task_cancellations_total",
			Help: "Task cancellation outcomes per priority tier",
		}, []string{"priority", "outcome"}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_resource_state_transitions_total",
			Help: "Resource state machine transitions",
		}, []string{"resource", "from", "to"}),
		StateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_resource_state_duration_seconds",
			Help:    "Time spent in each resource state",
			Buckets: durationBuckets,
		}, []string{"resource", "state"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "conductor_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		DeadlocksDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_deadlocks_detected_total",
			Help: "Lock-wait cycles detected and broken",
		}),
		CleanupRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_cleanup_retries_total",
			Help: "Cleanup attempts beyond the first per resource",
		}, []string{"resource"}),
	}

	registry.MustRegister(
		m.StartupDuration,
		m.PhaseDuration,
		m.ShutdownErrors,
		m.ActiveTasks,
		m.TaskCancellations,
		m.StateTransitions,
		m.StateDuration,
		m.BreakerState,
		m.DeadlocksDetected,
		m.CleanupRetries,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry in Prometheus text
// format. Returns nil on a nil receiver.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStartup records one service start duration.
func (m *Metrics) ObserveStartup(service string, d time.Duration) {
	if m == nil {
		return
	}
	m.StartupDuration.WithLabelValues(service).Observe(d.Seconds())
}

// ObservePhase records the duration of one shutdown phase.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordShutdownError counts one shutdown error of the given taxonomy type.
func (m *Metrics) RecordShutdownError(errType string) {
	if m == nil {
		return
	}
	m.ShutdownErrors.WithLabelValues(errType).Inc()
}

// TaskRegistered adjusts the active task gauge for a tier.
func (m *Metrics) TaskRegistered(priority string, delta float64) {
	if m == nil {
		return
	}
	m.ActiveTasks.WithLabelValues(priority).Add(delta)
}

// RecordCancellation counts one task cancellation outcome.
func (m *Metrics) RecordCancellation(priority, outcome string) {
	if m == nil {
		return
	}
	m.TaskCancellations.WithLabelValues(priority, outcome).Inc()
}

// RecordTransition counts one resource state transition and the time spent in
// the state being left.
func (m *Metrics) RecordTransition(resource, from, to string, inPrevious time.Duration) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(resource, from, to).Inc()
	m.StateDuration.WithLabelValues(resource, from).Observe(inPrevious.Seconds())
}

// SetBreakerState publishes the numeric state of a circuit breaker.
func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(state)
}

// RecordDeadlock counts one detected lock-wait cycle.
func (m *Metrics) RecordDeadlock() {
	if m == nil {
		return
	}
	m.DeadlocksDetected.Inc()
}

// RecordCleanupRetry counts one cleanup retry for a resource.
func (m *Metrics) RecordCleanupRetry(resource string) {
	if m == nil {
		return
	}
	m.CleanupRetries.WithLabelValues(resource).Inc()
}
