// Package adapters holds the provider adapter registry. Adding a new
// payment provider means writing one AdapterFactory and registering it
// here; the reconciler never learns provider specifics.
package adapters

import (
	"strings"

	paymentdomain "github.com/barva88/trauck/internal/payment/domain"
)

type Registry struct {
	factories map[string]paymentdomain.AdapterFactory
}

func NewRegistry(factories ...paymentdomain.AdapterFactory) *Registry {
	registry := &Registry{factories: make(map[string]paymentdomain.AdapterFactory, len(factories))}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if name == "" {
			continue
		}
		registry.factories[name] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[strings.ToLower(strings.TrimSpace(provider))]
	return ok
}

func (r *Registry) NewAdapter(provider string, config paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, paymentdomain.ErrProviderNotFound
	}
	return factory.NewAdapter(config)
}
