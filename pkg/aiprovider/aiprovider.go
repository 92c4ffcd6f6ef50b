// Package aiprovider adds an optional enrichment step invoked only when
// no supplier in pkg/supplier returns a sufficiently confident match. AI
// providers never gate the catalog: a line can reach enriched without
// consulting one. The registry mirrors pkg/supplier's capability-set
// shape rather than introducing a second registration idiom.
package aiprovider

import (
	"context"
	"sort"
	"time"

	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
)

// Result is what a Provider returns for a single part lookup. It mirrors
// supplier.LookupResult's shape so scoring treats both sources uniformly.
type Result struct {
	Component       model.CatalogComponent
	MatchConfidence float64
	RetrievedAt     time.Time
}

// Provider is implemented by each AI enrichment backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, mpn, manufacturer, description string) (*Result, error)
	HealthCheck(ctx context.Context) error
}

// Registration pairs a Provider with its dispatch priority.
type Registration struct {
	Name      string
	Priority  int
	Available bool
	provider  Provider
}

// Registry holds providers in deterministic iteration order: sorted by
// priority, ties broken by registration order, following the plugin-registry
// design note.
type Registry struct {
	registrations []Registration
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds provider at priority. Lower priority values are tried
// first.
func (r *Registry) Register(provider Provider, priority int) {
	r.registrations = append(r.registrations, Registration{
		Name: provider.Name(), Priority: priority, Available: true, provider: provider,
	})
	sort.SliceStable(r.registrations, func(i, j int) bool {
		return r.registrations[i].Priority < r.registrations[j].Priority
	})
}

// MarkUnavailable flags a provider as degraded without removing it, so
// iteration order and registry introspection stay stable across an outage.
func (r *Registry) MarkUnavailable(name string) {
	for i := range r.registrations {
		if r.registrations[i].Name == name {
			r.registrations[i].Available = false
		}
	}
}

// Registrations returns the current iteration order, for health/status
// reporting.
func (r *Registry) Registrations() []Registration {
	return append([]Registration(nil), r.registrations...)
}

// Search tries each available provider in priority order, returning the
// first result whose MatchConfidence is non-zero. This is purely additive:
// per SPEC_FULL's ambient-AI-provider note, a line can reach `enriched`
// without ever calling a provider, so Search returning (nil, nil) is a
// normal outcome, not an error.
func (r *Registry) Search(ctx context.Context, mpn, manufacturer, description string) (*Result, error) {
	for _, reg := range r.registrations {
		if !reg.Available {
			continue
		}
		result, err := reg.provider.Search(ctx, mpn, manufacturer, description)
		if err != nil {
			continue
		}
		if result != nil && result.MatchConfidence > 0 {
			return result, nil
		}
	}
	return nil, nil
}
