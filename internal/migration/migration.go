package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	fulfillmentdomain "github.com/railzwaylabs/storepay/internal/fulfillment/domain"
	ledgerdomain "github.com/railzwaylabs/storepay/internal/ledger/domain"
	orderdomain "github.com/railzwaylabs/storepay/internal/order/domain"
	paymentdomain "github.com/railzwaylabs/storepay/internal/payment/domain"
	providerdomain "github.com/railzwaylabs/storepay/internal/providers/payment/domain"
	settlementdomain "github.com/railzwaylabs/storepay/internal/settlement/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table the engine owns. Non-postgres databases are
// created from these with AutoMigrate.
func Models() []any {
	return []any{
		&SchemaState{},
		&orderdomain.Order{},
		&orderdomain.Shipment{},
		&providerdomain.ProviderConfig{},
		&paymentdomain.PaymentIntent{},
		&paymentdomain.PaymentAttempt{},
		&paymentdomain.WebhookEvent{},
		&paymentdomain.PaymentEvent{},
		&paymentdomain.Payment{},
		&paymentdomain.RefundRecord{},
		&ledgerdomain.Account{},
		&ledgerdomain.Entry{},
		&settlementdomain.FeePolicy{},
		&settlementdomain.Settlement{},
		&settlementdomain.Item{},
		&fulfillmentdomain.Task{},
	}
}

// Run brings the schema up to the embedded version and records it in
// schema_state. Postgres runs the versioned SQL scripts under an advisory
// lock; mysql and sqlite are migrated from the models.
func Run(ctx context.Context, db *gorm.DB, log *zap.Logger) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	manifest, err := LoadManifest()
	if err != nil {
		return err
	}

	dialect := db.Dialector.Name()
	switch dialect {
	case "postgres":
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := runVersioned(ctx, sqlDB, manifest); err != nil {
			return err
		}
	default:
		if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate %s: %w", dialect, err)
		}
	}

	if err := recordSchemaState(ctx, db, manifest); err != nil {
		return err
	}
	log.Info("schema ready",
		zap.String("dialect", dialect),
		zap.String("schema_version", manifest.VersionString()),
		zap.String("checksum", manifest.Checksum))
	return nil
}

func runVersioned(ctx context.Context, db *sql.DB, manifest Manifest) error {
	unlock, err := acquireAdvisoryLock(ctx, db)
	if err != nil {
		return err
	}
	defer func() {
		_ = unlock(context.Background())
	}()

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if _, err := ensureNotDirty(migrator); err != nil {
		return err
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	current, err := ensureNotDirty(migrator)
	if err != nil {
		return err
	}
	if current != manifest.Version {
		return fmt.Errorf("schema version mismatch after migrate: got %d want %d", current, manifest.Version)
	}
	return nil
}

func ensureNotDirty(migrator *migrate.Migrate) (uint, error) {
	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, nil
		}
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("database migrations are dirty at version %d", version)
	}
	return version, nil
}
