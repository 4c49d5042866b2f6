package providers

import (
	"fmt"

	"github.com/upb/ip-broker/services"
)

// Registry owns the metrics store of every configured provider. The set is
// fixed at construction; configuration order is preserved and used as the
// final ranking tie-break.
type Registry struct {
	ordered []*ProviderMetrics
	byName  map[string]*ProviderMetrics
}

// NewRegistry validates descs and creates one metrics store per provider.
// Invalid descriptors and duplicate names are rejected before anything is
// served.
func NewRegistry(descs []Descriptor, clock Clock) (*Registry, error) {
	if len(descs) == 0 {
		return nil, services.NewDomainError(services.ErrorTypeValidation, services.ErrInvalidProviderConfig.Message,
			fmt.Errorf("at least one provider is required"))
	}

	r := &Registry{
		ordered: make([]*ProviderMetrics, 0, len(descs)),
		byName:  make(map[string]*ProviderMetrics, len(descs)),
	}

	for _, desc := range descs {
		if err := desc.Validate(); err != nil {
			return nil, err
		}

		// Check if already registered
		if _, exists := r.byName[desc.Name]; exists {
			return nil, services.NewDomainError(services.ErrorTypeConflict, services.ErrDuplicateProvider.Message, nil).
				WithDetail(services.DetailProvider, desc.Name)
		}

		m := NewProviderMetrics(desc, clock)
		r.ordered = append(r.ordered, m)
		r.byName[desc.Name] = m
	}

	return r, nil
}

// Get retrieves a provider's metrics by name
func (r *Registry) Get(name string) (*ProviderMetrics, error) {
	m, exists := r.byName[name]
	if !exists {
		return nil, services.ErrProviderNotFound
	}
	return m, nil
}

// List returns every provider in configuration order
func (r *Registry) List() []*ProviderMetrics {
	out := make([]*ProviderMetrics, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Names returns all provider names in configuration order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ordered))
	for _, m := range r.ordered {
		names = append(names, m.Name())
	}
	return names
}

// Count returns the number of registered providers
func (r *Registry) Count() int {
	return len(r.ordered)
}
