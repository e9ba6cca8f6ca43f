// Package hooks provides named filter chains that let external code
// observe, rewrite, or veto pipeline values before they are acted on.
// Filters run synchronously in registration order; returning nil vetoes
// the value and short-circuits the rest of the chain.
package hooks

import "sync"

// Filter points the pipeline consults.
const (
	PreDispatchPayload  = "pre_dispatch_payload"
	PreInsertAudit      = "pre_insert_audit"
	PreDeliveryFindings = "pre_delivery_findings"
)

type Filter func(value any) any

type Registry struct {
	mu      sync.RWMutex
	filters map[string][]Filter
}

func NewRegistry() *Registry {
	return &Registry{
		filters: make(map[string][]Filter),
	}
}

func (r *Registry) Register(point string, f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[point] = append(r.filters[point], f)
}

// Apply runs value through every filter registered at point. The second
// return is false when a filter vetoed the value.
func (r *Registry) Apply(point string, value any) (any, bool) {
	r.mu.RLock()
	chain := r.filters[point]
	r.mu.RUnlock()

	for _, f := range chain {
		value = f(value)
		if value == nil {
			return nil, false
		}
	}

	return value, true
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry that plugin code registers
// against. Components take a *Registry so tests can use isolated ones.
func Default() *Registry {
	return defaultRegistry
}
