package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/storepay/internal/payment/adapters"
	"github.com/railzwaylabs/storepay/internal/payment/adapters/stripe"
	"github.com/railzwaylabs/storepay/internal/payment/domain"
	providerdomain "github.com/railzwaylabs/storepay/internal/providers/payment/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockProviders struct{ mock.Mock }

func (m *mockProviders) GetActiveCredentials(ctx context.Context, tenantID snowflake.ID, provider string) (*providerdomain.Credentials, error) {
	args := m.Called(tenantID, provider)
	creds, _ := args.Get(0).(*providerdomain.Credentials)
	return creds, args.Error(1)
}

func (m *mockProviders) ListActiveCredentials(ctx context.Context, provider string) ([]providerdomain.Credentials, error) {
	args := m.Called(provider)
	creds, _ := args.Get(0).([]providerdomain.Credentials)
	return creds, args.Error(1)
}

func (m *mockProviders) Upsert(ctx context.Context, req providerdomain.UpsertRequest) (*providerdomain.ConfigSummary, error) {
	return nil, nil
}

func newFacade(p providerdomain.Service) *Facade {
	registry := adapters.NewRegistry(stripe.NewFactory(adapters.NewTransport(time.Second, nil)))
	return NewFacade(Params{Log: zap.NewNop(), Registry: registry, Providers: p})
}

func signed(secret string, payload []byte) http.Header {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	h := http.Header{}
	h.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return h
}

func TestForTenant(t *testing.T) {
	providers := &mockProviders{}
	providers.On("GetActiveCredentials", snowflake.ID(1), "stripe").
		Return(&providerdomain.Credentials{TenantID: 1, Provider: "stripe", Values: map[string]any{"webhook_secret": "s"}}, nil)
	providers.On("GetActiveCredentials", snowflake.ID(2), "stripe").
		Return(nil, providerdomain.ErrConfigNotFound)
	f := newFacade(providers)

	adapter, err := f.ForTenant(context.Background(), 1, "Stripe")
	require.NoError(t, err)
	require.NotNil(t, adapter)

	_, err = f.ForTenant(context.Background(), 2, "stripe")
	require.ErrorIs(t, err, domain.ErrProviderNotEnabled)

	_, err = f.ForTenant(context.Background(), 1, "paypal")
	require.ErrorIs(t, err, domain.ErrUnknownProvider)
}

func TestResolveWebhook_MatchesSecondTenant(t *testing.T) {
	providers := &mockProviders{}
	providers.On("ListActiveCredentials", "stripe").Return([]providerdomain.Credentials{
		{TenantID: 1, Provider: "stripe", Values: map[string]any{"webhook_secret": "tenant-one"}},
		{TenantID: 2, Provider: "stripe", Values: map[string]any{"webhook_secret": "tenant-two"}},
	}, nil)
	f := newFacade(providers)

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_status":"paid"}}}`)
	res, err := f.ResolveWebhook(context.Background(), "stripe", payload, signed("tenant-two", payload))
	require.NoError(t, err)
	require.Equal(t, snowflake.ID(2), res.TenantID)
	require.Equal(t, "cs_1", res.Callback.ProviderReference)

	_, err = f.ResolveWebhook(context.Background(), "stripe", payload, signed("nobody", payload))
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestResolveWebhook_IgnoredEvent(t *testing.T) {
	providers := &mockProviders{}
	providers.On("ListActiveCredentials", "stripe").Return([]providerdomain.Credentials{
		{TenantID: 1, Provider: "stripe", Values: map[string]any{"webhook_secret": "s"}},
	}, nil)
	f := newFacade(providers)

	payload := []byte(`{"id":"evt_2","type":"invoice.created","data":{"object":{}}}`)
	res, err := f.ResolveWebhook(context.Background(), "stripe", payload, signed("s", payload))
	require.NoError(t, err)
	require.True(t, res.Ignored)
	require.Equal(t, "evt_2", res.Callback.EventID)
}
