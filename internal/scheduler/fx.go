package scheduler

import (
	"context"

	fulfillmentservice "github.com/railzwaylabs/storepay/internal/fulfillment/service"
	"github.com/railzwaylabs/storepay/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(
		NewLocker,
		func(d *fulfillmentservice.Dispatcher) TaskDispatcher { return d },
		func(w *webhook.Service) EventPurger { return w },
		New,
	),
)

// Start runs the scheduler loop for the lifetime of the app.
var Start = fx.Invoke(func(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.Run(ctx)
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
