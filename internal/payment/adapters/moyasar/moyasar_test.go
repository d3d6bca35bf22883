package moyasar

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
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

var paidPayload = []byte(`{"id":"evt_m1","type":"payment_paid","created_at":"2024-05-01T10:00:00Z",
	"data":{"id":"pay_1","status":"paid","amount":10000,"currency":"SAR","invoice_id":"inv_9"}}`)

func mac(payload []byte) []byte {
	m := hmac.New(sha256.New, []byte("moy-secret"))
	m.Write(payload)
	return m.Sum(nil)
}

func newAdapter(t *testing.T, cfg map[string]any) paymentdomain.PaymentAdapter {
	t.Helper()
	base := map[string]any{"webhook_secret": "moy-secret", "secret_key": "sk_live"}
	for k, v := range cfg {
		base[k] = v
	}
	a, err := NewFactory(adapters.NewTransport(time.Second, nil)).NewAdapter(paymentdomain.AdapterConfig{Provider: "moyasar", Config: base})
	require.NoError(t, err)
	return a
}

func TestVerifyCallback_HexSignature(t *testing.T) {
	a := newAdapter(t, nil)
	headers := http.Header{}
	headers.Set("X-Moyasar-Signature", hex.EncodeToString(mac(paidPayload)))

	res, err := a.VerifyCallback(context.Background(), paidPayload, headers)
	require.NoError(t, err)
	assert.Equal(t, "evt_m1", res.EventID)
	assert.Equal(t, "inv_9", res.ProviderReference)
	assert.Equal(t, paymentdomain.IntentStatusSucceeded, res.Status)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("100.00")))
}

func TestVerifyCallback_CustomHeaderBase64(t *testing.T) {
	a := newAdapter(t, map[string]any{"signature_header": "X-Signature", "signature_encoding": "base64"})
	headers := http.Header{}
	headers.Set("X-Signature", base64.StdEncoding.EncodeToString(mac(paidPayload)))

	_, err := a.VerifyCallback(context.Background(), paidPayload, headers)
	require.NoError(t, err)

	headers.Set("X-Signature", hex.EncodeToString(mac(paidPayload)))
	_, err = a.VerifyCallback(context.Background(), paidPayload, headers)
	require.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestNewAdapter_RejectsUnknownEncoding(t *testing.T) {
	_, err := NewFactory(nil).NewAdapter(paymentdomain.AdapterConfig{
		Config: map[string]any{"webhook_secret": "x", "signature_encoding": "base32"},
	})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}

func TestRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/invoices/inv_9":
			w.Write([]byte(`{"id":"inv_9","status":"paid","payments":[{"id":"pay_0","status":"failed"},{"id":"pay_1","status":"paid"}]}`))
		case "/v1/payments/pay_1/refund":
			w.Write([]byte(`{"id":"pay_1","status":"refunded"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := newAdapter(t, map[string]any{"base_url": srv.URL})
	res, err := a.Refund(context.Background(), paymentdomain.RefundRequest{
		ProviderReference: "inv_9", Amount: decimal.RequireFromString("10"), Currency: "SAR",
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.RefundStatusApproved, res.Status)
}
