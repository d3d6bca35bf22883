package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mock/mock_adapter.go -package=mock . PaymentAdapter

// PaymentAdapter is implemented once per provider. Adapters own the
// provider's field names and signature scheme; nothing outside the adapter
// package parses provider payloads.
type PaymentAdapter interface {
	InitiatePayment(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	// VerifyCallback authenticates the raw webhook body and normalizes it.
	// It returns ErrInvalidSignature on a signature mismatch. Event types
	// that carry no payment outcome return ErrEventIgnored together with a
	// result holding at least EventID and EventType.
	VerifyCallback(ctx context.Context, payload []byte, headers http.Header) (*CallbackResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

type AdapterConfig struct {
	TenantID snowflake.ID
	Provider string
	Config   map[string]any
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(config AdapterConfig) (PaymentAdapter, error)
}

type InitiateRequest struct {
	IntentID       snowflake.ID
	OrderID        snowflake.ID
	TenantID       snowflake.ID
	Amount         decimal.Decimal
	Currency       string
	ReturnURL      string
	Description    string
	CustomerEmail  string
	CustomerName   string
	IdempotencyKey string
}

type InitiateResult struct {
	ProviderReference string
	RedirectURL       string
	ClientSecret      string
	// Status is pending or requires_action.
	Status IntentStatus
	Raw    []byte
}

type CallbackResult struct {
	EventID           string
	EventType         string
	ProviderReference string
	Status            IntentStatus
	Amount            *decimal.Decimal
	Currency          string
	FailureReason     string
	OccurredAt        time.Time
}

type RefundRequest struct {
	ProviderReference string
	Amount            decimal.Decimal
	Currency          string
	Reason            string
	IdempotencyKey    string
}

type RefundResult struct {
	ProviderRefundID string
	Status           RefundStatus
	Raw              []byte
}
