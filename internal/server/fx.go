package server

import (
	"context"

	"github.com/railzwaylabs/storepay/internal/migration"
	paymentservice "github.com/railzwaylabs/storepay/internal/payment/service"
	"github.com/railzwaylabs/storepay/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("server",
	fx.Provide(
		func(o *paymentservice.Orchestrator) Payments { return o },
		func(w *webhook.Service) Webhooks { return w },
		func(g *migration.Gate) HealthChecker { return g },
		NewServer,
	),
)

// Start serves HTTP for the lifetime of the app.
var Start = fx.Invoke(func(lc fx.Lifecycle, s *Server, shutdowner fx.Shutdowner, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := s.ListenAndServe(ctx); err != nil {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
})
