package stage

import (
	"context"
	"fmt"
	"strings"

	"lipsync/internal/jobs"
)

// Registry maps every pipeline stage to its adapter.
type Registry struct {
	adapters map[Name]Adapter
}

// NewRegistry builds a registry from adapters keyed by their Name.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[Name]Adapter, len(adapters))}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		name := adapter.Name()
		if _, dup := r.adapters[name]; dup {
			return nil, fmt.Errorf("stage registry: duplicate adapter for %q", name)
		}
		r.adapters[name] = adapter
	}
	return r, nil
}

// Lookup returns the adapter registered for name.
func (r *Registry) Lookup(name Name) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// Validate reports every pipeline stage without an adapter.
func (r *Registry) Validate() error {
	var missing []string
	for _, name := range jobs.StageOrder() {
		if _, ok := r.Lookup(name); !ok {
			missing = append(missing, string(name))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("stage registry: no adapter for %s", strings.Join(missing, ", "))
	}
	return nil
}

// Health gathers readiness for every stage in pipeline order. Adapters that
// cannot report are assumed ready.
func (r *Registry) Health(ctx context.Context) []Health {
	order := jobs.StageOrder()
	out := make([]Health, 0, len(order))
	for _, name := range order {
		adapter, ok := r.Lookup(name)
		switch {
		case !ok:
			out = append(out, Unhealthy(string(name), "adapter not configured"))
		default:
			if checker, ok := adapter.(HealthChecker); ok {
				health := checker.HealthCheck(ctx)
				if health.Name == "" {
					health.Name = string(name)
				}
				out = append(out, health)
				continue
			}
			out = append(out, Healthy(string(name)))
		}
	}
	return out
}
