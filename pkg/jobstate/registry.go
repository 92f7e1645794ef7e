package jobstate

import (
	"sort"
	"sync"
)

// Registry hands out the process-lifetime Guard for each job type.
//
// Guards are created on first use and never destroyed, only reset to
// idle through their own lifecycle methods. A Registry is safe for
// concurrent use and is passed by shared reference to every caller that
// needs to start, cancel, or observe a job type; there is no hidden
// package-level instance.
type Registry struct {
	mu     sync.Mutex
	guards map[string]*Guard
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{guards: make(map[string]*Guard)}
}

// Guard returns the guard for the given job type, creating it on first
// use. Callers for the same job type always receive the same *Guard.
func (r *Registry) Guard(jobType string) *Guard {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.guards[jobType]
	if !ok {
		g = &Guard{}
		r.guards[jobType] = g
	}
	return g
}

// JobTypes returns the known job types in sorted order.
func (r *Registry) JobTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]string, 0, len(r.guards))
	for t := range r.guards {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Snapshot returns the current state of every known job type, keyed by
// job type name.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	guards := make(map[string]*Guard, len(r.guards))
	for t, g := range r.guards {
		guards[t] = g
	}
	r.mu.Unlock()

	out := make(map[string]State, len(guards))
	for t, g := range guards {
		out[t] = g.Snapshot()
	}
	return out
}
