package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/storepay/internal/payment/adapters"
	"github.com/railzwaylabs/storepay/internal/payment/domain"
	providerdomain "github.com/railzwaylabs/storepay/internal/providers/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Registry  *adapters.Registry
	Providers providerdomain.Service
}

// Facade resolves tenant-scoped adapters from the registry and the stored
// provider credentials.
type Facade struct {
	log       *zap.Logger
	registry  *adapters.Registry
	providers providerdomain.Service
}

func NewFacade(p Params) *Facade {
	return &Facade{
		log:       p.Log.Named("payment.gateway"),
		registry:  p.Registry,
		providers: p.Providers,
	}
}

// Resolution is a verified webhook together with the tenant whose
// credentials authenticated it.
type Resolution struct {
	TenantID snowflake.ID
	Provider string
	Callback *domain.CallbackResult
	// Ignored is set when the event verified but carries no payment outcome.
	Ignored bool
}

func (f *Facade) ForTenant(ctx context.Context, tenantID snowflake.ID, code string) (domain.PaymentAdapter, error) {
	code = normalize(code)
	if !f.registry.ProviderExists(code) {
		return nil, domain.ErrUnknownProvider
	}
	creds, err := f.providers.GetActiveCredentials(ctx, tenantID, code)
	if err != nil {
		if errors.Is(err, providerdomain.ErrConfigNotFound) {
			return nil, domain.ErrProviderNotEnabled
		}
		if errors.Is(err, providerdomain.ErrInvalidConfig) {
			return nil, domain.ErrInvalidConfig
		}
		return nil, err
	}
	return f.registry.NewAdapter(code, domain.AdapterConfig{
		TenantID: tenantID,
		Provider: code,
		Config:   creds.Values,
	})
}

// ResolveWebhook tries every active credential set for the provider until
// one verifies the raw body. When none does the caller gets a single
// ErrInvalidSignature regardless of how many sets were tried.
func (f *Facade) ResolveWebhook(ctx context.Context, code string, payload []byte, headers http.Header) (*Resolution, error) {
	code = normalize(code)
	if !f.registry.ProviderExists(code) {
		return nil, domain.ErrUnknownProvider
	}
	credentials, err := f.providers.ListActiveCredentials(ctx, code)
	if err != nil {
		return nil, err
	}

	for _, creds := range credentials {
		adapter, err := f.registry.NewAdapter(code, domain.AdapterConfig{
			TenantID: creds.TenantID,
			Provider: code,
			Config:   creds.Values,
		})
		if err != nil {
			f.log.Warn("skipping unusable credential set",
				zap.String("provider", code),
				zap.String("tenant_id", creds.TenantID.String()),
				zap.Error(err))
			continue
		}

		result, err := adapter.VerifyCallback(ctx, payload, headers)
		switch {
		case err == nil:
			return &Resolution{TenantID: creds.TenantID, Provider: code, Callback: result}, nil
		case errors.Is(err, domain.ErrInvalidSignature):
			continue
		case errors.Is(err, domain.ErrEventIgnored):
			if result == nil {
				result = &domain.CallbackResult{}
			}
			return &Resolution{TenantID: creds.TenantID, Provider: code, Callback: result, Ignored: true}, nil
		default:
			// Signature matched but the body is unusable; further sets
			// cannot do better.
			return &Resolution{TenantID: creds.TenantID, Provider: code, Callback: result}, err
		}
	}
	return nil, domain.ErrInvalidSignature
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
