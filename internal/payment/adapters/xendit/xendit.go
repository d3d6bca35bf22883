package xendit

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/railzwaylabs/storepay/internal/payment/adapters"
	paymentdomain "github.com/railzwaylabs/storepay/internal/payment/domain"
	"github.com/shopspring/decimal"
)

const (
	providerCode   = "xendit"
	defaultBaseURL = "https://api.xendit.co"
)

// Factory creates Xendit adapters
type Factory struct {
	transport *adapters.Transport
}

func NewFactory(transport *adapters.Transport) *Factory {
	return &Factory{transport: transport}
}

func (f *Factory) Provider() string {
	return providerCode
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	webhookSecret, ok := adapters.ReadString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	apiKey, ok := adapters.ReadString(cfg.Config, "api_key")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}

	return &Adapter{
		transport:     f.transport,
		baseURL:       adapters.BaseURL(cfg.Config, defaultBaseURL),
		webhookSecret: webhookSecret,
		apiKey:        apiKey,
	}, nil
}

// Adapter implements PaymentAdapter on top of Xendit invoices.
type Adapter struct {
	transport     *adapters.Transport
	baseURL       string
	webhookSecret string
	apiKey        string
}

func (a *Adapter) InitiatePayment(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.InitiateResult, error) {
	description := req.Description
	if description == "" {
		description = "Order " + req.OrderID.String()
	}

	reqBody := map[string]any{
		"external_id":          req.IntentID.String(),
		"amount":               json.Number(req.Amount.StringFixed(2)),
		"currency":             strings.ToUpper(req.Currency),
		"success_redirect_url": req.ReturnURL,
		"failure_redirect_url": req.ReturnURL,
		"description":          description,
	}
	if req.CustomerEmail != "" {
		reqBody["payer_email"] = req.CustomerEmail
	}

	httpReq, err := a.newJSONRequest(http.MethodPost, "/v2/invoices", reqBody)
	if err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("X-Idempotency-Key", req.IdempotencyKey)
	}

	body, err := a.transport.Do(ctx, providerCode, "initiate", httpReq)
	if err != nil {
		return nil, err
	}

	var invoice struct {
		ID         string `json:"id"`
		InvoiceURL string `json:"invoice_url"`
		Status     string `json:"status"`
	}
	if err := json.Unmarshal(body, &invoice); err != nil || invoice.ID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	return &paymentdomain.InitiateResult{
		ProviderReference: invoice.ID,
		RedirectURL:       invoice.InvoiceURL,
		Status:            paymentdomain.IntentStatusPending,
		Raw:               body,
	}, nil
}

// VerifyCallback checks the X-Callback-Token header and maps the invoice
// callback. Invoice callbacks carry no event id, so the webhook-id header is
// used when present and invoice id plus status otherwise.
func (a *Adapter) VerifyCallback(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.CallbackResult, error) {
	callbackToken := strings.TrimSpace(headers.Get("X-Callback-Token"))
	if callbackToken == "" {
		return nil, paymentdomain.ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(callbackToken), []byte(a.webhookSecret)) != 1 {
		return nil, paymentdomain.ErrInvalidSignature
	}

	var event invoiceCallback
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	eventID := strings.TrimSpace(headers.Get("Webhook-Id"))
	if eventID == "" {
		eventID = event.ID + ":" + strings.ToLower(event.Status)
	}

	result := &paymentdomain.CallbackResult{
		EventID:           eventID,
		EventType:         "invoice." + strings.ToLower(event.Status),
		ProviderReference: event.ID,
		Currency:          strings.ToUpper(event.Currency),
		OccurredAt:        parseTime(event.PaidAt, event.Updated),
	}

	switch strings.ToUpper(event.Status) {
	case "PAID", "SETTLED":
		result.Status = paymentdomain.IntentStatusSucceeded
	case "EXPIRED":
		result.Status = paymentdomain.IntentStatusFailed
		result.FailureReason = "invoice_expired"
	case "PENDING":
		result.Status = paymentdomain.IntentStatusPending
	default:
		return result, paymentdomain.ErrEventIgnored
	}

	if event.PaidAmount != nil {
		amount := *event.PaidAmount
		result.Amount = &amount
	} else if event.Amount != nil {
		amount := *event.Amount
		result.Amount = &amount
	}
	return result, nil
}

func (a *Adapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	reqBody := map[string]any{
		"invoice_id": req.ProviderReference,
		"amount":     json.Number(req.Amount.StringFixed(2)),
		"currency":   strings.ToUpper(req.Currency),
		"reason":     refundReason(req.Reason),
	}
	httpReq, err := a.newJSONRequest(http.MethodPost, "/refunds", reqBody)
	if err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	body, err := a.transport.Do(ctx, providerCode, "refund", httpReq)
	if err != nil {
		return nil, err
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &refund); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	status := paymentdomain.RefundStatusPending
	switch strings.ToUpper(refund.Status) {
	case "SUCCEEDED":
		status = paymentdomain.RefundStatusApproved
	case "FAILED":
		status = paymentdomain.RefundStatusFailed
	case "CANCELLED":
		status = paymentdomain.RefundStatusRejected
	}
	return &paymentdomain.RefundResult{ProviderRefundID: refund.ID, Status: status, Raw: body}, nil
}

func (a *Adapter) newJSONRequest(method, path string, payload any) (*http.Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(method, a.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	// Basic Auth with API Key as username
	req.SetBasicAuth(a.apiKey, "")
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

type invoiceCallback struct {
	ID            string           `json:"id"`
	ExternalID    string           `json:"external_id"`
	Status        string           `json:"status"`
	Amount        *decimal.Decimal `json:"amount"`
	PaidAmount    *decimal.Decimal `json:"paid_amount"`
	Currency      string           `json:"currency"`
	PaymentMethod string           `json:"payment_method"`
	PaidAt        string           `json:"paid_at"`
	Updated       string           `json:"updated"`
}

func parseTime(values ...string) time.Time {
	for _, v := range values {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// Xendit accepts a fixed set of refund reasons.
func refundReason(reason string) string {
	switch strings.ToUpper(strings.TrimSpace(reason)) {
	case "FRAUDULENT", "DUPLICATE", "REQUESTED_BY_CUSTOMER", "CANCELLATION":
		return strings.ToUpper(strings.TrimSpace(reason))
	default:
		return "REQUESTED_BY_CUSTOMER"
	}
}
