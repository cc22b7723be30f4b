package breaker

import (
	"github.com/puzpuzpuz/xsync/v4"
)

// Registry holds one breaker per model name, created lazily on first
// reference and kept for the process lifetime. Reads are lock-free after
// creation.
type Registry struct {
	breakers *xsync.Map[string, *CircuitBreaker]
	newOpts  func(name string) []Option
}

// NewRegistry creates a registry. newOpts supplies per-breaker options
// (thresholds, logger, state hook) keyed by model name.
func NewRegistry(newOpts func(name string) []Option) *Registry {
	if newOpts == nil {
		newOpts = func(string) []Option { return nil }
	}
	return &Registry{
		breakers: xsync.NewMap[string, *CircuitBreaker](),
		newOpts:  newOpts,
	}
}

// Get returns the breaker for a model, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	cb, _ := r.breakers.LoadOrCompute(name, func() (*CircuitBreaker, bool) {
		return New(name, r.newOpts(name)...), false
	})
	return cb
}

// Lookup returns an existing breaker without creating one.
func (r *Registry) Lookup(name string) (*CircuitBreaker, bool) {
	return r.breakers.Load(name)
}

// All returns every breaker created so far.
func (r *Registry) All() map[string]*CircuitBreaker {
	out := make(map[string]*CircuitBreaker)
	r.breakers.Range(func(name string, cb *CircuitBreaker) bool {
		out[name] = cb
		return true
	})
	return out
}

// Snapshot returns the status of every breaker created so far.
func (r *Registry) Snapshot() map[string]Status {
	out := make(map[string]Status)
	r.breakers.Range(func(name string, cb *CircuitBreaker) bool {
		out[name] = cb.Status()
		return true
	})
	return out
}
