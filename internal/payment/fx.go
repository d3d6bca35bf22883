package payment

import (
	"github.com/railzwaylabs/storepay/internal/config"
	"github.com/railzwaylabs/storepay/internal/observability"
	"github.com/railzwaylabs/storepay/internal/payment/adapters"
	"github.com/railzwaylabs/storepay/internal/payment/adapters/moyasar"
	"github.com/railzwaylabs/storepay/internal/payment/adapters/stripe"
	"github.com/railzwaylabs/storepay/internal/payment/adapters/xendit"
	"github.com/railzwaylabs/storepay/internal/payment/gateway"
	"github.com/railzwaylabs/storepay/internal/payment/repository"
	paymentservice "github.com/railzwaylabs/storepay/internal/payment/service"
	"github.com/railzwaylabs/storepay/internal/payment/webhook"
	providerdomain "github.com/railzwaylabs/storepay/internal/providers/payment/domain"
	"go.uber.org/fx"
)

type transportParams struct {
	fx.In

	Cfg     config.Config
	Metrics *observability.Metrics `optional:"true"`
}

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(p transportParams) *adapters.Transport {
		return adapters.NewTransport(p.Cfg.Payments.ProviderTimeout, p.Metrics)
	}),
	fx.Provide(func(t *adapters.Transport) *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(t),
			xendit.NewFactory(t),
			moyasar.NewFactory(t),
		)
	}),
	fx.Provide(func(r *adapters.Registry) providerdomain.Catalog { return r }),
	fx.Provide(gateway.NewFacade),
	fx.Provide(func(f *gateway.Facade) paymentservice.AdapterResolver { return f }),
	fx.Provide(func(f *gateway.Facade) webhook.Resolver { return f }),
	fx.Provide(paymentservice.NewOrchestrator),
	fx.Provide(func(o *paymentservice.Orchestrator) webhook.OutcomeApplier { return o }),
	fx.Provide(webhook.NewService),
)
