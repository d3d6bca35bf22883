package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	AppName     string
	Environment string
	Version     string
	ConfigFile  string
	// NodeID seeds the snowflake generator; unique per running instance.
	NodeID      int64

	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	OTel        OTelConfig
	Vault       VaultConfig
	Payments    PaymentsConfig
	Settlement  SettlementConfig
	Fulfillment FulfillmentConfig
	Scheduler   SchedulerConfig
}

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	AdminToken      string
}

type DatabaseConfig struct {
	Driver          string // postgres, mysql, sqlite
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level string
}

type OTelConfig struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type VaultConfig struct {
	AESKey string
}

type PaymentsConfig struct {
	ProviderTimeout      time.Duration
	WebhookRetentionDays int
	DefaultCurrency      string
}

type SettlementConfig struct {
	Interval time.Duration
	// Lookback bounds how far back the periodic run reaches for unsettled orders.
	Lookback time.Duration
	// Default fee policy for stores without a row in store_fee_policies.
	DefaultFeeMode    string
	DefaultFeePercent string
	DefaultFeeFlat    string
}

type FulfillmentConfig struct {
	MaxAttempts     int
	BatchSize       int
	DefaultCarrier  string
	SlackWebhookURL string
}

type SchedulerConfig struct {
	Tick    time.Duration
	LockTTL time.Duration
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, EnvDevelopment)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "storepay")
	v.SetDefault("app.env", EnvProduction)
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.node_id", 1)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("otel.sample_ratio", 1.0)

	v.SetDefault("payments.provider_timeout", 20*time.Second)
	v.SetDefault("payments.webhook_retention_days", 90)
	v.SetDefault("payments.default_currency", "SAR")

	v.SetDefault("settlement.interval", 24*time.Hour)
	v.SetDefault("settlement.lookback", 30*24*time.Hour)
	v.SetDefault("settlement.default_fee_mode", "per_order")
	v.SetDefault("settlement.default_fee_percent", "0")
	v.SetDefault("settlement.default_fee_flat", "0")

	v.SetDefault("fulfillment.max_attempts", 5)
	v.SetDefault("fulfillment.batch_size", 50)
	v.SetDefault("fulfillment.default_carrier", "standard")

	v.SetDefault("scheduler.tick", time.Minute)
	v.SetDefault("scheduler.lock_ttl", 10*time.Minute)
}

// Load reads configuration from an optional .env file, an optional config file
// and STOREPAY_* environment variables, in increasing order of precedence.
func Load() (Config, *viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("STOREPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := strings.TrimSpace(v.GetString("config")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		AppName:     v.GetString("app.name"),
		Environment: v.GetString("app.env"),
		Version:     v.GetString("app.version"),
		ConfigFile:  v.ConfigFileUsed(),
		NodeID:      v.GetInt64("app.node_id"),
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			AdminToken:      v.GetString("http.admin_token"),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(v.GetString("database.driver")),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{Level: v.GetString("log.level")},
		OTel: OTelConfig{
			Endpoint:    v.GetString("otel.endpoint"),
			Insecure:    v.GetBool("otel.insecure"),
			SampleRatio: v.GetFloat64("otel.sample_ratio"),
		},
		Vault: VaultConfig{AESKey: v.GetString("vault.aes_key")},
		Payments: PaymentsConfig{
			ProviderTimeout:      v.GetDuration("payments.provider_timeout"),
			WebhookRetentionDays: v.GetInt("payments.webhook_retention_days"),
			DefaultCurrency:      strings.ToUpper(v.GetString("payments.default_currency")),
		},
		Settlement: SettlementConfig{
			Interval:          v.GetDuration("settlement.interval"),
			Lookback:          v.GetDuration("settlement.lookback"),
			DefaultFeeMode:    v.GetString("settlement.default_fee_mode"),
			DefaultFeePercent: v.GetString("settlement.default_fee_percent"),
			DefaultFeeFlat:    v.GetString("settlement.default_fee_flat"),
		},
		Fulfillment: FulfillmentConfig{
			MaxAttempts:     v.GetInt("fulfillment.max_attempts"),
			BatchSize:       v.GetInt("fulfillment.batch_size"),
			DefaultCarrier:  v.GetString("fulfillment.default_carrier"),
			SlackWebhookURL: v.GetString("fulfillment.slack_webhook_url"),
		},
		Scheduler: SchedulerConfig{
			Tick:    v.GetDuration("scheduler.tick"),
			LockTTL: v.GetDuration("scheduler.lock_ttl"),
		},
	}
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if strings.TrimSpace(c.Vault.AESKey) == "" {
		return errors.New("vault.aes_key is required")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("app.node_id must be in [0, 1023], got %d", c.NodeID)
	}
	if c.Payments.ProviderTimeout <= 0 {
		return errors.New("payments.provider_timeout must be positive")
	}
	return nil
}

// Watch reloads the config file on change and hands the fresh values to fn.
// Only settings that are safe to change at runtime should be consumed by fn.
func Watch(v *viper.Viper, fn func(Config, fsnotify.Event)) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		fn(fromViper(v), e)
	})
	v.WatchConfig()
}
