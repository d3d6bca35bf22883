package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("STOREPAY_DATABASE_DRIVER", "sqlite")
	t.Setenv("STOREPAY_DATABASE_DSN", "file::memory:")
	t.Setenv("STOREPAY_VAULT_AES_KEY", "test-key")
	t.Setenv("STOREPAY_PAYMENTS_PROVIDER_TIMEOUT", "5s")

	cfg, v, err := Load()
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 5*time.Second, cfg.Payments.ProviderTimeout)
	require.Equal(t, "SAR", cfg.Payments.DefaultCurrency)
	require.Equal(t, 5, cfg.Fulfillment.MaxAttempts)
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Database: DatabaseConfig{Driver: "oracle", DSN: "x"},
		Vault:    VaultConfig{AESKey: "k"},
		Payments: PaymentsConfig{ProviderTimeout: time.Second},
	}
	require.Error(t, cfg.Validate())

	cfg.Database.Driver = "postgres"
	require.NoError(t, cfg.Validate())

	cfg.NodeID = 2048
	require.Error(t, cfg.Validate())
	cfg.NodeID = 7

	cfg.Vault.AESKey = ""
	require.Error(t, cfg.Validate())
}
