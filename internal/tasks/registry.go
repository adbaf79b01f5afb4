package tasks

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"conductor/internal/metrics"
	"conductor/pkg/logging"
)

// Priority classifies how urgently a task must be cancelled during shutdown.
// Lower values are cancelled first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// Priorities lists all tiers in cancellation order.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// String makes Priority satisfy the fmt.Stringer interface.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Task is a cancellable unit of work. Cancel requests a stop and must be
// idempotent; Done is closed once the task has actually stopped.
type Task interface {
	Cancel()
	Done() <-chan struct{}
}

// TrackedTask couples a live task with its priority tier and name. Tracked
// tasks are exclusively owned by the Registry and removed on completion or
// cancellation; a removed task is never re-added.
type TrackedTask struct {
	ID       string
	Name     string
	Priority Priority
	task     Task
}

// Registry tracks live cancellable work by priority tier. Safe for concurrent
// use.
type Registry struct {
	mu      sync.Mutex
	tasks   map[string]*TrackedTask
	metrics *metrics.Metrics
}

// NewRegistry returns an empty task registry.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		tasks:   make(map[string]*TrackedTask),
		metrics: m,
	}
}

// Register tracks the task under a fresh id and returns it.
func (r *Registry) Register(task Task, priority Priority, name string) string {
	id := uuid.NewString()

	r.mu.Lock()
	r.tasks[id] = &TrackedTask{ID: id, Name: name, Priority: priority, task: task}
	r.mu.Unlock()

	r.metrics.TaskRegistered(priority.String(), 1)
	return id
}

// Unregister removes the task. Idempotent; unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	tracked, ok := r.tasks[id]
	if ok {
		delete(r.tasks, id)
	}
	r.mu.Unlock()

	if ok {
		r.metrics.TaskRegistered(tracked.Priority.String(), -1)
	}
}

// Len reports how many tasks are currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// ByPriority returns the tracked tasks of one tier. Order within a tier
// carries no cancellation guarantee; it is sorted by name only so output is
// stable.
func (r *Registry) ByPriority(p Priority) []*TrackedTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*TrackedTask
	for _, tracked := range r.tasks {
		if tracked.Priority == p {
			out = append(out, tracked)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// goroutineTask adapts a context-cancelled goroutine to the Task interface.
type goroutineTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *goroutineTask) Cancel()               { t.cancel() }
func (t *goroutineTask) Done() <-chan struct{} { return t.done }

// Go runs fn in a tracked goroutine with a cancellable context and
// unregisters it when fn returns. A context.Canceled result is the normal
// outcome of cancellation and is not logged as a failure.
func (r *Registry) Go(ctx context.Context, name string, priority Priority, fn func(context.Context) error) string {
	ctx, cancel := context.WithCancel(ctx)
	task := &goroutineTask{cancel: cancel, done: make(chan struct{})}
	id := r.Register(task, priority, name)

	go func() {
		defer close(task.done)
		defer r.Unregister(id)
		defer cancel()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error("Tasks", err, "task %s failed", name)
		}
	}()
	return id
}
