package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/storepay/internal/providers/payment/domain"
	"github.com/railzwaylabs/storepay/internal/providers/payment/repository"
	"github.com/railzwaylabs/storepay/internal/security/vault"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type staticCatalog map[string]bool

func (c staticCatalog) ProviderExists(code string) bool { return c[code] }

func newService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.ProviderConfig{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	v, err := vault.NewAESVault("test-key")
	require.NoError(t, err)

	return New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    repository.Provide(),
		Vault:   v,
		Catalog: staticCatalog{"stripe": true},
	}), db
}

func TestUpsert_EncryptsAndReplaces(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	summary, err := svc.Upsert(ctx, domain.UpsertRequest{
		TenantID: 7, Provider: "Stripe", IsActive: true,
		Values: map[string]any{"webhook_secret": "whsec_1", "api_key": "sk_1"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"api_key", "webhook_secret"}, summary.Keys)

	var row domain.ProviderConfig
	require.NoError(t, db.First(&row).Error)
	require.NotContains(t, string(row.Config), "whsec_1")

	_, err = svc.Upsert(ctx, domain.UpsertRequest{
		TenantID: 7, Provider: "stripe", IsActive: true,
		Values: map[string]any{"webhook_secret": "whsec_2"},
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&domain.ProviderConfig{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	creds, err := svc.GetActiveCredentials(ctx, 7, "stripe")
	require.NoError(t, err)
	require.Equal(t, "whsec_2", creds.Values["webhook_secret"])
}

func TestUpsert_RejectsUnknownProvider(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Upsert(context.Background(), domain.UpsertRequest{
		TenantID: 7, Provider: "paypal", Values: map[string]any{"k": "v"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidProvider)
}

func TestListActiveCredentials_SkipsInactiveAndBroken(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, domain.UpsertRequest{TenantID: 1, Provider: "stripe", IsActive: true, Values: map[string]any{"webhook_secret": "a"}})
	require.NoError(t, err)
	_, err = svc.Upsert(ctx, domain.UpsertRequest{TenantID: 2, Provider: "stripe", IsActive: false, Values: map[string]any{"webhook_secret": "b"}})
	require.NoError(t, err)
	require.NoError(t, db.Create(&domain.ProviderConfig{ID: 99, TenantID: 3, Provider: "stripe", IsActive: true, Config: []byte(`{"v":1,"n":"x","c":"y"}`)}).Error)

	creds, err := svc.ListActiveCredentials(ctx, "stripe")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	require.Equal(t, snowflake.ID(1), creds[0].TenantID)

	_, err = svc.GetActiveCredentials(ctx, 2, "stripe")
	require.ErrorIs(t, err, domain.ErrConfigNotFound)
}
