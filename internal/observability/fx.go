package observability

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/railzwaylabs/storepay/internal/config"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(
		func(cfg config.Config) (*zap.Logger, zap.AtomicLevel, error) {
			return NewLogger(cfg)
		},
		NewMetrics,
	),
	fx.Invoke(registerTracing),
	fx.Invoke(watchLogLevel),
)

func registerTracing(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) error {
	tp, err := NewTracerProvider(context.Background(), cfg)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := tp.Shutdown(ctx); err != nil {
				log.Warn("tracer shutdown failed", zap.Error(err))
			}
			_ = log.Sync()
			return nil
		},
	})
	return nil
}

func watchLogLevel(v *viper.Viper, level zap.AtomicLevel, log *zap.Logger) {
	config.Watch(v, func(cfg config.Config, e fsnotify.Event) {
		next := parseLevel(cfg.Log.Level)
		if next != level.Level() {
			level.SetLevel(next)
			log.Info("log level changed", zap.String("file", e.Name), zap.Stringer("level", next))
		}
	})
}
