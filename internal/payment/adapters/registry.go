package adapters

import (
	"strings"

	paymentdomain "github.com/commercekit/paygate/internal/payment/domain"
)

// Registry holds one adapter factory per provider, keyed by the provider
// name used in webhook routes.
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

func (r *Registry) NewAdapter(provider string, cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	if r == nil {
		return nil, paymentdomain.ErrProviderNotFound
	}
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, paymentdomain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}
