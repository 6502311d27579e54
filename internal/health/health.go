// Package health aggregates subsystem probes for the health endpoint.
package health

import (
	"context"
	"sort"
	"sync"
)

// Status is one subsystem's probe result.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single subsystem.
type Checker func(ctx context.Context) Status

// Registry is a set of named checkers run together on demand.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Checker
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Checker)}
}

// Register adds a checker under name, replacing any previous one.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checks[name] = check
	r.mu.Unlock()
}

// CheckAll probes every registered subsystem and reports the aggregate.
// Results come back sorted by name so the endpoint output is stable.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]Checker, len(names))
	for i, name := range names {
		checks[i] = r.checks[name]
	}
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, len(checks))
	for i, check := range checks {
		statuses[i] = check(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}
