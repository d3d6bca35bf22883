package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentIntent is the authoritative payment record for one checkout of an
// order through one provider.
type PaymentIntent struct {
	ID                snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID          snowflake.ID    `json:"tenant_id" gorm:"not null;uniqueIndex:ux_payment_intents_provider_ref"`
	StoreID           snowflake.ID    `json:"store_id" gorm:"not null;index"`
	OrderID           snowflake.ID    `json:"order_id" gorm:"not null;index"`
	Provider          string          `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_intents_provider_ref"`
	ProviderReference *string         `json:"provider_reference,omitempty" gorm:"type:varchar(255);uniqueIndex:ux_payment_intents_provider_ref"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Currency          string          `json:"currency" gorm:"type:varchar(3);not null"`
	Status            IntentStatus    `json:"status" gorm:"type:varchar(24);not null;index"`
	IdempotencyKey    string          `json:"idempotency_key" gorm:"type:varchar(128);not null;uniqueIndex"`
	ReturnURL         string          `json:"return_url,omitempty" gorm:"type:text"`
	RedirectURL       string          `json:"redirect_url,omitempty" gorm:"type:text"`
	FailureReason     string          `json:"failure_reason,omitempty" gorm:"type:text"`
	SucceededAt       *time.Time      `json:"succeeded_at,omitempty"`
	FailedAt          *time.Time      `json:"failed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time       `json:"updated_at" gorm:"not null"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

func (i *PaymentIntent) Reference() string {
	if i == nil || i.ProviderReference == nil {
		return ""
	}
	return *i.ProviderReference
}

// PaymentAttempt records one provider call made on behalf of an intent.
type PaymentAttempt struct {
	ID                snowflake.ID    `json:"id" gorm:"primaryKey"`
	IntentID          snowflake.ID    `json:"intent_id" gorm:"not null;index"`
	TenantID          snowflake.ID    `json:"tenant_id" gorm:"not null"`
	Provider          string          `json:"provider" gorm:"type:varchar(32);not null"`
	ProviderReference string          `json:"provider_reference,omitempty" gorm:"type:varchar(255)"`
	Status            AttemptStatus   `json:"status" gorm:"type:varchar(16);not null"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Currency          string          `json:"currency" gorm:"type:varchar(3);not null"`
	RawResponse       datatypes.JSON  `json:"raw_response,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt         time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time       `json:"updated_at" gorm:"not null"`
}

func (PaymentAttempt) TableName() string { return "payment_attempts" }

// WebhookEvent is the dedupe record for one provider event. IdempotencyKey is
// provider:tenant:event_id, or provider:unknown:<body hash> when the sender
// could not be authenticated.
type WebhookEvent struct {
	ID                snowflake.ID     `json:"id" gorm:"primaryKey"`
	TenantID          snowflake.ID     `json:"tenant_id" gorm:"not null;index"`
	Provider          string           `json:"provider" gorm:"type:varchar(32);not null"`
	EventID           string           `json:"event_id" gorm:"type:varchar(255);not null"`
	EventType         string           `json:"event_type" gorm:"type:varchar(128)"`
	IdempotencyKey    string           `json:"idempotency_key" gorm:"type:varchar(320);not null;uniqueIndex"`
	ProviderReference string           `json:"provider_reference,omitempty" gorm:"type:varchar(255)"`
	IntentID          *snowflake.ID    `json:"intent_id,omitempty"`
	ProcessingStatus  ProcessingStatus `json:"processing_status" gorm:"type:varchar(16);not null;index"`
	Error             string           `json:"error,omitempty" gorm:"type:text"`
	Deliveries        int              `json:"deliveries" gorm:"not null"`
	ReceivedAt        time.Time        `json:"received_at" gorm:"not null"`
	ProcessedAt       *time.Time       `json:"processed_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time        `json:"updated_at" gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// PaymentEvent is the append-only audit copy of every delivery, duplicates
// included. RawBody is snappy-compressed; Payload is the masked JSON.
type PaymentEvent struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	WebhookEventID *snowflake.ID  `json:"webhook_event_id,omitempty" gorm:"index"`
	TenantID       snowflake.ID   `json:"tenant_id" gorm:"not null"`
	Provider       string         `json:"provider" gorm:"type:varchar(32);not null"`
	EventID        string         `json:"event_id" gorm:"type:varchar(255)"`
	EventType      string         `json:"event_type" gorm:"type:varchar(128)"`
	Outcome        string         `json:"outcome" gorm:"type:varchar(32);not null"`
	SignatureValid bool           `json:"signature_valid" gorm:"not null"`
	Payload        datatypes.JSON `json:"payload"`
	RawBody        []byte         `json:"-"`
	ReceivedAt     time.Time      `json:"received_at" gorm:"not null;index"`
}

func (PaymentEvent) TableName() string { return "payment_events" }

// Payment is the settled money movement for an order.
type Payment struct {
	ID                snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID          snowflake.ID    `json:"tenant_id" gorm:"not null"`
	StoreID           snowflake.ID    `json:"store_id" gorm:"not null;index"`
	OrderID           snowflake.ID    `json:"order_id" gorm:"not null;uniqueIndex:ux_payments_order_method_ref"`
	IntentID          snowflake.ID    `json:"intent_id" gorm:"not null;index"`
	Method            string          `json:"method" gorm:"type:varchar(32);not null;uniqueIndex:ux_payments_order_method_ref"`
	ProviderReference string          `json:"provider_reference" gorm:"type:varchar(255);not null;uniqueIndex:ux_payments_order_method_ref"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Currency          string          `json:"currency" gorm:"type:varchar(3);not null"`
	PaidAt            time.Time       `json:"paid_at" gorm:"not null"`
	CreatedAt         time.Time       `json:"created_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

type RefundRecord struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID         snowflake.ID    `json:"tenant_id" gorm:"not null"`
	StoreID          snowflake.ID    `json:"store_id" gorm:"not null"`
	IntentID         snowflake.ID    `json:"intent_id" gorm:"not null;index"`
	OrderID          snowflake.ID    `json:"order_id" gorm:"not null;index"`
	Provider         string          `json:"provider" gorm:"type:varchar(32);not null"`
	ProviderRefundID string          `json:"provider_refund_id,omitempty" gorm:"type:varchar(255)"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Currency         string          `json:"currency" gorm:"type:varchar(3);not null"`
	Reason           string          `json:"reason,omitempty" gorm:"type:text"`
	Status           RefundStatus    `json:"status" gorm:"type:varchar(16);not null"`
	RawResponse      datatypes.JSON  `json:"raw_response,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"not null"`
}

func (RefundRecord) TableName() string { return "refund_records" }
