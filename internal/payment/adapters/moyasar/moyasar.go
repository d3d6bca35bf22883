package moyasar

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/railzwaylabs/storepay/internal/payment/adapters"
	paymentdomain "github.com/railzwaylabs/storepay/internal/payment/domain"
)

const (
	providerCode           = "moyasar"
	defaultBaseURL         = "https://api.moyasar.com"
	defaultSignatureHeader = "X-Moyasar-Signature"
)

type Factory struct {
	transport *adapters.Transport
}

func NewFactory(transport *adapters.Transport) *Factory {
	return &Factory{transport: transport}
}

func (f *Factory) Provider() string {
	return providerCode
}

// NewAdapter reads secret_key and webhook_secret. signature_header and
// signature_encoding (hex or base64) describe how the tenant's webhook
// endpoint was registered.
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	webhookSecret, ok := adapters.ReadString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	secretKey, _ := adapters.ReadString(cfg.Config, "secret_key")

	header, ok := adapters.ReadString(cfg.Config, "signature_header")
	if !ok {
		header = defaultSignatureHeader
	}
	encoding, ok := adapters.ReadString(cfg.Config, "signature_encoding")
	if !ok {
		encoding = "hex"
	}
	encoding = strings.ToLower(encoding)
	if encoding != "hex" && encoding != "base64" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	return &Adapter{
		transport:       f.transport,
		baseURL:         adapters.BaseURL(cfg.Config, defaultBaseURL),
		secretKey:       secretKey,
		webhookSecret:   webhookSecret,
		signatureHeader: header,
		encoding:        encoding,
	}, nil
}

type Adapter struct {
	transport       *adapters.Transport
	baseURL         string
	secretKey       string
	webhookSecret   string
	signatureHeader string
	encoding        string
}

func (a *Adapter) InitiatePayment(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.InitiateResult, error) {
	if a.secretKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	description := req.Description
	if description == "" {
		description = "Order " + req.OrderID.String()
	}

	httpReq, err := a.newJSONRequest(http.MethodPost, "/v1/invoices", map[string]any{
		"amount":       adapters.ToMinor(req.Amount, req.Currency),
		"currency":     strings.ToUpper(req.Currency),
		"description":  description,
		"callback_url": req.ReturnURL,
		"success_url":  req.ReturnURL,
		"metadata": map[string]string{
			"intent_id": req.IntentID.String(),
			"order_id":  req.OrderID.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	body, err := a.transport.Do(ctx, providerCode, "initiate", httpReq)
	if err != nil {
		return nil, err
	}

	var invoice invoiceObject
	if err := json.Unmarshal(body, &invoice); err != nil || invoice.ID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return &paymentdomain.InitiateResult{
		ProviderReference: invoice.ID,
		RedirectURL:       invoice.URL,
		Status:            paymentdomain.IntentStatusPending,
		Raw:               body,
	}, nil
}

func (a *Adapter) VerifyCallback(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.CallbackResult, error) {
	if err := a.verify(payload, headers); err != nil {
		return nil, err
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	result := &paymentdomain.CallbackResult{
		EventID:    event.ID,
		EventType:  event.Type,
		OccurredAt: parseTime(event.CreatedAt),
	}

	switch event.Type {
	case "payment_paid", "payment_captured":
		result.Status = paymentdomain.IntentStatusSucceeded
	case "payment_failed", "payment_canceled", "payment_expired":
		result.Status = paymentdomain.IntentStatusFailed
		result.FailureReason = event.Data.Source.Message
	case "payment_authorized", "payment_verified":
		result.Status = paymentdomain.IntentStatusRequiresAction
	default:
		return result, paymentdomain.ErrEventIgnored
	}

	// Invoice payments reference the invoice created at initiation;
	// direct payments fall back to the payment id.
	result.ProviderReference = event.Data.InvoiceID
	if result.ProviderReference == "" {
		result.ProviderReference = event.Data.ID
	}
	if result.ProviderReference == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if event.Data.Amount > 0 {
		amount := adapters.FromMinor(event.Data.Amount, event.Data.Currency)
		result.Amount = &amount
	}
	result.Currency = strings.ToUpper(event.Data.Currency)
	return result, nil
}

// Refund looks up the paid payment under the invoice and refunds it.
func (a *Adapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	if a.secretKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	getReq, err := a.newJSONRequest(http.MethodGet, "/v1/invoices/"+url.PathEscape(req.ProviderReference), nil)
	if err != nil {
		return nil, err
	}
	body, err := a.transport.Do(ctx, providerCode, "retrieve_invoice", getReq)
	if err != nil {
		return nil, err
	}
	var invoice invoiceObject
	if err := json.Unmarshal(body, &invoice); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	paymentID := invoice.paidPaymentID()
	if paymentID == "" {
		return nil, fmt.Errorf("moyasar invoice %s has no paid payment: %w", req.ProviderReference, paymentdomain.ErrRefundNotAllowed)
	}

	refundReq, err := a.newJSONRequest(http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/refund", map[string]any{
		"amount": adapters.ToMinor(req.Amount, req.Currency),
	})
	if err != nil {
		return nil, err
	}
	body, err = a.transport.Do(ctx, providerCode, "refund", refundReq)
	if err != nil {
		return nil, err
	}

	var payment paymentObject
	if err := json.Unmarshal(body, &payment); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	status := paymentdomain.RefundStatusPending
	switch payment.Status {
	case "refunded":
		status = paymentdomain.RefundStatusApproved
	case "failed":
		status = paymentdomain.RefundStatusFailed
	}
	return &paymentdomain.RefundResult{ProviderRefundID: payment.ID, Status: status, Raw: body}, nil
}

func (a *Adapter) verify(payload []byte, headers http.Header) error {
	given := strings.TrimSpace(headers.Get(a.signatureHeader))
	if given == "" {
		return paymentdomain.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	sum := mac.Sum(nil)

	var expected string
	if a.encoding == "base64" {
		expected = base64.StdEncoding.EncodeToString(sum)
	} else {
		expected = hex.EncodeToString(sum)
		given = strings.ToLower(given)
	}
	if !hmac.Equal([]byte(given), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) newJSONRequest(method, path string, payload any) (*http.Request, error) {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(a.secretKey, "")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

type webhookEvent struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	CreatedAt string        `json:"created_at"`
	Data      paymentObject `json:"data"`
}

type paymentObject struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	InvoiceID string `json:"invoice_id"`
	Source    struct {
		Message string `json:"message"`
	} `json:"source"`
}

type invoiceObject struct {
	ID       string          `json:"id"`
	URL      string          `json:"url"`
	Status   string          `json:"status"`
	Payments []paymentObject `json:"payments"`
}

func (i invoiceObject) paidPaymentID() string {
	for _, p := range i.Payments {
		if p.Status == "paid" || p.Status == "captured" {
			return p.ID
		}
	}
	return ""
}

func parseTime(v string) time.Time {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}
