package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository finders return (nil, nil) when no row matches. Lock* methods
// must be called inside a transaction.
type Repository interface {
	InsertIntent(ctx context.Context, db *gorm.DB, intent *PaymentIntent) error
	FindIntentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentIntent, error)
	FindIntentByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*PaymentIntent, error)
	FindOpenIntent(ctx context.Context, db *gorm.DB, orderID snowflake.ID, provider string) (*PaymentIntent, error)
	LockIntentByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*PaymentIntent, error)
	LockIntentByReference(ctx context.Context, tx *gorm.DB, provider, reference string, tenantID snowflake.ID) (*PaymentIntent, error)
	UpdateIntent(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error

	InsertAttempt(ctx context.Context, db *gorm.DB, attempt *PaymentAttempt) error
	LatestAttempt(ctx context.Context, db *gorm.DB, intentID snowflake.ID) (*PaymentAttempt, error)
	UpdateAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error

	InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) error
	FindWebhookEventByKey(ctx context.Context, db *gorm.DB, key string) (*WebhookEvent, error)
	LockWebhookEvent(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*WebhookEvent, error)
	UpdateWebhookEvent(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error

	InsertPaymentEvent(ctx context.Context, db *gorm.DB, event *PaymentEvent) error
	DeletePaymentEventsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error)

	FindPayment(ctx context.Context, db *gorm.DB, orderID snowflake.ID, method, reference string) (*Payment, error)
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error

	InsertRefund(ctx context.Context, db *gorm.DB, refund *RefundRecord) error
	LockRefund(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*RefundRecord, error)
	UpdateRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	ListRefunds(ctx context.Context, db *gorm.DB, intentID snowflake.ID) ([]RefundRecord, error)
	SumReservedRefunds(ctx context.Context, db *gorm.DB, intentID snowflake.ID) (decimal.Decimal, error)

	// OrderSettlementStatus returns the status of the settlement batch that
	// holds the order, or "" while the order is unsettled.
	OrderSettlementStatus(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (string, error)
}
