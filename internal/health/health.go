// Package health tracks named component probes behind the liveness and
// readiness endpoints.
package health

import (
	"context"
	"sync"
	"sync/atomic"
)

// CheckFunc probes one component; nil means healthy.
type CheckFunc func(ctx context.Context) error

// Registry holds named probes plus the daemon readiness latch. Probes answer
// "is this component working"; the latch answers "has wiring finished".
type Registry struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	ready  atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]CheckFunc)}
}

// Register adds or replaces a probe.
func (r *Registry) Register(name string, fn CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = fn
}

// SetReady latches daemon readiness.
func (r *Registry) SetReady(v bool) { r.ready.Store(v) }

// Ready reports the readiness latch.
func (r *Registry) Ready() bool { return r.ready.Load() }

// Check runs every probe and returns failures keyed by probe name. An empty
// map means healthy.
func (r *Registry) Check(ctx context.Context) map[string]error {
	r.mu.RLock()
	checks := make(map[string]CheckFunc, len(r.checks))
	for name, fn := range r.checks {
		checks[name] = fn
	}
	r.mu.RUnlock()

	failures := make(map[string]error)
	for name, fn := range checks {
		if err := fn(ctx); err != nil {
			failures[name] = err
		}
	}
	return failures
}
