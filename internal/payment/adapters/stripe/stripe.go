package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/railzwaylabs/storepay/internal/payment/adapters"
	paymentdomain "github.com/railzwaylabs/storepay/internal/payment/domain"
)

const (
	providerCode     = "stripe"
	defaultBaseURL   = "https://api.stripe.com"
	defaultTolerance = 5 * time.Minute
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

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, ok := adapters.ReadString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}

	// API key is optional for webhook-only credential sets.
	apiKey, _ := adapters.ReadString(cfg.Config, "api_key")

	tolerance := defaultTolerance
	if raw, ok := cfg.Config["tolerance_seconds"].(float64); ok && raw > 0 {
		tolerance = time.Duration(raw) * time.Second
	}

	return &Adapter{
		transport:     f.transport,
		baseURL:       adapters.BaseURL(cfg.Config, defaultBaseURL),
		webhookSecret: secret,
		apiKey:        apiKey,
		tolerance:     tolerance,
		now:           time.Now,
	}, nil
}

type Adapter struct {
	transport     *adapters.Transport
	baseURL       string
	webhookSecret string
	apiKey        string
	tolerance     time.Duration
	now           func() time.Time
}

// InitiatePayment creates a hosted Checkout Session. The session id is the
// provider reference carried by every later webhook.
func (a *Adapter) InitiatePayment(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.InitiateResult, error) {
	if a.apiKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	description := req.Description
	if description == "" {
		description = "Order " + req.OrderID.String()
	}

	data := url.Values{}
	data.Set("mode", "payment")
	data.Set("success_url", req.ReturnURL)
	data.Set("cancel_url", req.ReturnURL)
	data.Set("client_reference_id", req.IntentID.String())
	data.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	data.Set("line_items[0][price_data][product_data][name]", description)
	data.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(adapters.ToMinor(req.Amount, req.Currency), 10))
	data.Set("line_items[0][quantity]", "1")
	data.Set("metadata[intent_id]", req.IntentID.String())
	data.Set("metadata[order_id]", req.OrderID.String())
	data.Set("payment_intent_data[metadata][intent_id]", req.IntentID.String())
	if req.CustomerEmail != "" {
		data.Set("customer_email", req.CustomerEmail)
	}

	httpReq, err := http.NewRequest(http.MethodPost, a.baseURL+"/v1/checkout/sessions", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	body, err := a.transport.Do(ctx, providerCode, "initiate", httpReq)
	if err != nil {
		return nil, err
	}

	var session checkoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if session.ID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	return &paymentdomain.InitiateResult{
		ProviderReference: session.ID,
		RedirectURL:       session.URL,
		ClientSecret:      session.ClientSecret,
		Status:            paymentdomain.IntentStatusPending,
		Raw:               body,
	}, nil
}

func (a *Adapter) VerifyCallback(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.CallbackResult, error) {
	if err := a.verify(payload, headers); err != nil {
		return nil, err
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var status paymentdomain.IntentStatus
	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		status = paymentdomain.IntentStatusPending
	case "checkout.session.async_payment_succeeded":
		status = paymentdomain.IntentStatusSucceeded
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		status = paymentdomain.IntentStatusFailed
	default:
		return &paymentdomain.CallbackResult{EventID: event.ID, EventType: event.Type}, paymentdomain.ErrEventIgnored
	}

	var session checkoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if session.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if event.Type == "checkout.session.completed" {
		// Card payments are paid on completion; delayed methods report
		// unpaid here and follow up with an async_payment event.
		if session.PaymentStatus == "paid" || session.PaymentStatus == "no_payment_required" {
			status = paymentdomain.IntentStatusSucceeded
		} else {
			status = paymentdomain.IntentStatusRequiresAction
		}
	}

	result := &paymentdomain.CallbackResult{
		EventID:           event.ID,
		EventType:         event.Type,
		ProviderReference: session.ID,
		Status:            status,
		Currency:          strings.ToUpper(session.Currency),
		OccurredAt:        timestamp(event.Created),
	}
	if session.AmountTotal > 0 {
		amount := adapters.FromMinor(session.AmountTotal, session.Currency)
		result.Amount = &amount
	}
	if event.Type == "checkout.session.expired" {
		result.FailureReason = "session_expired"
	}
	return result, nil
}

// Refund resolves the session's PaymentIntent and refunds against it.
func (a *Adapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	if a.apiKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	getReq, err := http.NewRequest(http.MethodGet, a.baseURL+"/v1/checkout/sessions/"+url.PathEscape(req.ProviderReference), nil)
	if err != nil {
		return nil, err
	}
	getReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	body, err := a.transport.Do(ctx, providerCode, "retrieve_session", getReq)
	if err != nil {
		return nil, err
	}
	var session checkoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	paymentIntentID := session.paymentIntentID()
	if paymentIntentID == "" {
		return nil, fmt.Errorf("stripe session %s has no payment intent: %w", req.ProviderReference, paymentdomain.ErrRefundNotAllowed)
	}

	data := url.Values{}
	data.Set("payment_intent", paymentIntentID)
	data.Set("amount", strconv.FormatInt(adapters.ToMinor(req.Amount, req.Currency), 10))
	if req.Reason != "" {
		data.Set("metadata[reason]", req.Reason)
	}
	refundReq, err := http.NewRequest(http.MethodPost, a.baseURL+"/v1/refunds", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	refundReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	refundReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if req.IdempotencyKey != "" {
		refundReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	body, err = a.transport.Do(ctx, providerCode, "refund", refundReq)
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
	switch refund.Status {
	case "succeeded":
		status = paymentdomain.RefundStatusApproved
	case "failed":
		status = paymentdomain.RefundStatusFailed
	case "canceled":
		status = paymentdomain.RefundStatusRejected
	}
	return &paymentdomain.RefundResult{ProviderRefundID: refund.ID, Status: status, Raw: body}, nil
}

func (a *Adapter) verify(payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	ts, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if a.tolerance > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return paymentdomain.ErrInvalidSignature
		}
		if age := a.now().Sub(time.Unix(sec, 0)); age > a.tolerance || age < -a.tolerance {
			return paymentdomain.ErrInvalidSignature
		}
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type checkoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	ClientSecret  string `json:"client_secret"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency"`
	// PaymentIntent is either an id or an expanded object.
	PaymentIntent any `json:"payment_intent"`
}

func (s checkoutSession) paymentIntentID() string {
	switch pi := s.PaymentIntent.(type) {
	case string:
		return pi
	case map[string]any:
		if id, ok := pi["id"].(string); ok {
			return id
		}
	}
	return ""
}

func parseStripeSignature(header string) (string, []string, error) {
	var ts string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			ts = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return ts, signatures, nil
}

func timestamp(created int64) time.Time {
	if created == 0 {
		return time.Now().UTC()
	}
	return time.Unix(created, 0).UTC()
}
