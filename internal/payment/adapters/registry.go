package adapters

import (
	"sort"
	"strings"

	"github.com/railzwaylabs/storepay/internal/payment/domain"
)

// Registry maps provider codes to adapter factories. It is built once at
// startup and never mutated.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	m := make(map[string]domain.AdapterFactory, len(factories))
	for _, f := range factories {
		if f == nil {
			continue
		}
		m[strings.ToLower(f.Provider())] = f
	}
	return &Registry{factories: m}
}

func (r *Registry) ProviderExists(code string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(code)]
	return ok
}

func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.factories))
	for code := range r.factories {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) NewAdapter(code string, cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrUnknownProvider
	}
	f, ok := r.factories[normalize(code)]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return f.NewAdapter(cfg)
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
