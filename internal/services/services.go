// Package services defines the handle contract managed services implement
// and a name-keyed registry over them. The orchestrator starts handles in
// dependency order and cleans them up in reverse.
package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handle is the contract a managed service implements. Start brings the
// service up, Cleanup releases whatever Start claimed, and CheckHealth
// reports liveness. All three must honor the context deadline.
type Handle interface {
	Start(ctx context.Context) error
	Cleanup(ctx context.Context) error
	CheckHealth(ctx context.Context) (bool, error)
}

// FuncHandle adapts plain functions to the Handle interface. Nil functions
// are treated as no-ops; a nil health check reports healthy.
type FuncHandle struct {
	StartFunc   func(ctx context.Context) error
	CleanupFunc func(ctx context.Context) error
	HealthFunc  func(ctx context.Context) (bool, error)
}

func (h *FuncHandle) Start(ctx context.Context) error {
	if h.StartFunc == nil {
		return nil
	}
	return h.StartFunc(ctx)
}

func (h *FuncHandle) Cleanup(ctx context.Context) error {
	if h.CleanupFunc == nil {
		return nil
	}
	return h.CleanupFunc(ctx)
}

func (h *FuncHandle) CheckHealth(ctx context.Context) (bool, error) {
	if h.HealthFunc == nil {
		return true, nil
	}
	return h.HealthFunc(ctx)
}

// Entry couples a registered handle with its name and declared dependencies.
type Entry struct {
	Name      string
	DependsOn []string
	Handle    Handle
}

// Registry is a name-keyed collection of service entries. Safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a service under its name. Names are unique; registering a
// duplicate or a nil handle is an error.
func (r *Registry) Register(name string, handle Handle, dependsOn ...string) error {
	if name == "" {
		return fmt.Errorf("service has empty name")
	}
	if handle == nil {
		return fmt.Errorf("cannot register nil handle for service %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("service %s already registered", name)
	}
	r.entries[name] = &Entry{Name: name, DependsOn: dependsOn, Handle: handle}
	return nil
}

// Get returns the entry for a name.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, exists := r.entries[name]
	return entry, exists
}

// Names returns all registered service names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports how many services are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
