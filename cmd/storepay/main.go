package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/storepay/internal/clock"
	"github.com/railzwaylabs/storepay/internal/config"
	"github.com/railzwaylabs/storepay/internal/fulfillment"
	"github.com/railzwaylabs/storepay/internal/ledger"
	"github.com/railzwaylabs/storepay/internal/migration"
	"github.com/railzwaylabs/storepay/internal/observability"
	"github.com/railzwaylabs/storepay/internal/order"
	"github.com/railzwaylabs/storepay/internal/payment"
	"github.com/railzwaylabs/storepay/internal/providers"
	"github.com/railzwaylabs/storepay/internal/redis"
	"github.com/railzwaylabs/storepay/internal/scheduler"
	"github.com/railzwaylabs/storepay/internal/security/vault"
	"github.com/railzwaylabs/storepay/internal/server"
	"github.com/railzwaylabs/storepay/internal/settlement"
	settlementdomain "github.com/railzwaylabs/storepay/internal/settlement/domain"
	"github.com/railzwaylabs/storepay/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "storepay",
		Short:         "Storepay payment orchestration and settlement engine",
		Version:       readVersionFromEnv(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newSchedulerCmd(), newAllCmd(), newSettleCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and record the schema state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the payment API and webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(append(coreModules(), server.Start, fulfillment.RunDispatcher)...).Run()
			return nil
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run settlement, outbox and retention jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(append(coreModules(), redis.Module, scheduler.Module, scheduler.Start)...).Run()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then the API and the scheduler in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			fx.New(append(coreModules(),
				redis.Module,
				scheduler.Module,
				server.Start,
				scheduler.Start,
				fulfillment.RunDispatcher,
			)...).Run()
			return nil
		},
	}
}

func newSettleCmd() *cobra.Command {
	var (
		storeID string
		from    string
		to      string
	)
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Create settlements for a period (all stores unless --store is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			end := time.Now().UTC().Truncate(24 * time.Hour)
			start := end.Add(-24 * time.Hour)
			var err error
			if from != "" {
				if start, err = time.Parse(time.DateOnly, from); err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
			}
			if to != "" {
				if end, err = time.Parse(time.DateOnly, to); err != nil {
					return fmt.Errorf("invalid --to: %w", err)
				}
			}
			return runSettle(cmd.Context(), storeID, start, end)
		},
	}
	cmd.Flags().StringVar(&storeID, "store", "", "store id to settle")
	cmd.Flags().StringVar(&from, "from", "", "period start date (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "period end date (YYYY-MM-DD, exclusive)")
	return cmd
}

// coreModules wires everything a process needs to touch payments and
// settlements. Redis is only required by the scheduler.
func coreModules() []fx.Option {
	return []fx.Option{
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		vault.Module,
		migration.Module,
		fx.Invoke(enforceSchemaGate),
		order.Module,
		ledger.Module,
		fulfillment.Module,
		providers.Module,
		payment.Module,
		settlement.Module,
		server.Module,
	}
}

func runMigrate() error {
	var conn *gorm.DB
	var log *zap.Logger
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		db.Module,
		fx.Populate(&conn, &log),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	defer func() { _ = app.Stop(context.Background()) }()

	if err := migration.Run(ctx, conn, log); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	return nil
}

func runSettle(ctx context.Context, rawStoreID string, start, end time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var svc settlementdomain.Service
	var log *zap.Logger
	app := fx.New(append(coreModules(), fx.Populate(&svc, &log))...)
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()

	if rawStoreID != "" {
		storeID, err := snowflake.ParseString(rawStoreID)
		if err != nil {
			return fmt.Errorf("invalid --store: %w", err)
		}
		st, err := svc.CreateForPeriod(ctx, storeID, start, end)
		if err != nil {
			return err
		}
		log.Info("settlement ready",
			zap.String("settlement_id", st.ID.String()),
			zap.Int("orders", st.OrderCount),
			zap.String("net", st.Net.StringFixed(2)))
		return nil
	}

	summary, err := svc.RunForAllStores(ctx, start, end)
	if err != nil {
		return err
	}
	if len(summary.Failed) > 0 {
		return fmt.Errorf("settlement failed for %d store(s)", len(summary.Failed))
	}
	return nil
}

func enforceSchemaGate(lc fx.Lifecycle, gate *migration.Gate) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := gate.Check(ctx); err != nil {
				return fmt.Errorf("schema gate: %w (run `storepay migrate`)", err)
			}
			return nil
		},
	})
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
