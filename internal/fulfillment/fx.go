package fulfillment

import (
	"context"

	"github.com/railzwaylabs/storepay/internal/config"
	"github.com/railzwaylabs/storepay/internal/fulfillment/domain"
	"github.com/railzwaylabs/storepay/internal/fulfillment/provider/slack"
	"github.com/railzwaylabs/storepay/internal/fulfillment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("fulfillment",
	fx.Provide(
		service.NewOutbox,
		service.NewShipping,
		service.NewLogSms,
		service.NewLogTelemetry,
		func(cfg config.Config, log *zap.Logger) domain.MerchantNotifier {
			return slack.NewNotifier(cfg.Fulfillment.SlackWebhookURL, log)
		},
		service.NewDispatcher,
		func(d *service.Dispatcher) domain.Kicker { return d },
	),
)

// RunDispatcher starts the kick-driven dispatch loop for the lifetime of the app.
var RunDispatcher = fx.Invoke(func(lc fx.Lifecycle, d *service.Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go d.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
})
