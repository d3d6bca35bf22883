package xendit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/railzwaylabs/storepay/internal/payment/adapters"
	paymentdomain "github.com/railzwaylabs/storepay/internal/payment/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T, baseURL string) paymentdomain.PaymentAdapter {
	t.Helper()
	a, err := NewFactory(adapters.NewTransport(time.Second, nil)).NewAdapter(paymentdomain.AdapterConfig{
		Provider: "xendit",
		Config:   map[string]any{"webhook_secret": "cb-token", "api_key": "xnd_key", "base_url": baseURL},
	})
	require.NoError(t, err)
	return a
}

func TestVerifyCallback(t *testing.T) {
	a := newAdapter(t, "")
	payload := []byte(`{"id":"inv_1","external_id":"5","status":"PAID","paid_amount":100,"currency":"IDR","paid_at":"2024-05-01T10:00:00Z"}`)

	headers := http.Header{}
	headers.Set("X-Callback-Token", "cb-token")
	res, err := a.VerifyCallback(context.Background(), payload, headers)
	require.NoError(t, err)
	assert.Equal(t, "inv_1:paid", res.EventID)
	assert.Equal(t, "inv_1", res.ProviderReference)
	assert.Equal(t, paymentdomain.IntentStatusSucceeded, res.Status)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(100)))

	headers.Set("X-Callback-Token", "wrong")
	_, err = a.VerifyCallback(context.Background(), payload, headers)
	require.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestVerifyCallback_ExpiredIsFailure(t *testing.T) {
	a := newAdapter(t, "")
	headers := http.Header{}
	headers.Set("X-Callback-Token", "cb-token")
	headers.Set("Webhook-Id", "wh_77")

	res, err := a.VerifyCallback(context.Background(), []byte(`{"id":"inv_1","status":"EXPIRED"}`), headers)
	require.NoError(t, err)
	assert.Equal(t, "wh_77", res.EventID)
	assert.Equal(t, paymentdomain.IntentStatusFailed, res.Status)
}

func TestInitiatePayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "xnd_key", user)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(150.5), body["amount"])
		w.Write([]byte(`{"id":"inv_1","invoice_url":"https://checkout.xendit.co/inv_1","status":"PENDING"}`))
	}))
	defer srv.Close()

	res, err := newAdapter(t, srv.URL).InitiatePayment(context.Background(), paymentdomain.InitiateRequest{
		IntentID: 5, Amount: decimal.RequireFromString("150.50"), Currency: "IDR",
	})
	require.NoError(t, err)
	assert.Equal(t, "inv_1", res.ProviderReference)
	assert.Equal(t, "https://checkout.xendit.co/inv_1", res.RedirectURL)
}

func TestInitiatePayment_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	a, err := NewFactory(adapters.NewTransport(50*time.Millisecond, nil)).NewAdapter(paymentdomain.AdapterConfig{
		Config: map[string]any{"webhook_secret": "cb", "api_key": "k", "base_url": srv.URL},
	})
	require.NoError(t, err)

	_, err = a.InitiatePayment(context.Background(), paymentdomain.InitiateRequest{Amount: decimal.NewFromInt(1), Currency: "IDR"})
	require.ErrorIs(t, err, paymentdomain.ErrProviderNetwork)
}
