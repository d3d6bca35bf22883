package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrUnknownProvider     = errors.New("unknown_provider")
	ErrProviderNotEnabled  = errors.New("provider_not_enabled")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrInvalidEvent        = errors.New("invalid_event")
	ErrEventIgnored        = errors.New("event_ignored")
	ErrInvalidConfig       = errors.New("invalid_config")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidOrder        = errors.New("invalid_order")
	ErrIntentNotFound      = errors.New("intent_not_found")
	ErrAlreadyTerminal     = errors.New("intent_already_terminal")
	ErrInvalidTransition   = errors.New("invalid_intent_transition")
	ErrProviderNetwork     = errors.New("provider_unavailable")
	ErrPaymentInProgress   = errors.New("payment_already_in_progress")
	ErrOrderAlreadyPaid    = errors.New("order_already_paid")
	ErrRefundNotAllowed    = errors.New("refund_not_allowed")
	ErrRefundExceedsAmount = errors.New("refund_exceeds_amount")
	ErrRefundNotFound      = errors.New("refund_not_found")
	ErrRefundNotPending    = errors.New("refund_not_pending")
	ErrInvalidRefundStatus = errors.New("invalid_refund_status")
	ErrIdempotencyConflict = errors.New("idempotency_key_conflict")
)

// ProviderError is returned for transport failures and non-2xx provider
// responses. It matches ErrProviderNetwork under errors.Is.
type ProviderError struct {
	Provider   string
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Message != "":
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Operation, e.StatusCode, e.Message)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s %s: status %d", e.Provider, e.Operation, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Operation, e.Err)
	default:
		return fmt.Sprintf("%s %s: request failed", e.Provider, e.Operation)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProviderNetwork }
