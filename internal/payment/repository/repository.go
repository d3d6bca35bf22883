package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/storepay/internal/clock"
	"github.com/railzwaylabs/storepay/internal/payment/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	clock clock.Clock
}

func Provide(clk clock.Clock) domain.Repository {
	return &repo{clock: clk}
}

func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// first returns (nil, nil) on no rows, mirroring the Find+ID==0 idiom used
// across the repositories.
func first[T any](q *gorm.DB, idOf func(*T) snowflake.ID) (*T, error) {
	var out T
	if err := q.Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if idOf(&out) == 0 {
		return nil, nil
	}
	return &out, nil
}

func intentID(i *domain.PaymentIntent) snowflake.ID { return i.ID }
func attemptID(a *domain.PaymentAttempt) snowflake.ID { return a.ID }
func webhookID(e *domain.WebhookEvent) snowflake.ID { return e.ID }
func paymentID(p *domain.Payment) snowflake.ID { return p.ID }
func refundID(r *domain.RefundRecord) snowflake.ID { return r.ID }

func (r *repo) InsertIntent(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) error {
	return db.WithContext(ctx).Create(intent).Error
}

func (r *repo) FindIntentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentIntent, error) {
	return first(db.WithContext(ctx).Where("id = ?", id), intentID)
}

func (r *repo) FindIntentByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.PaymentIntent, error) {
	return first(db.WithContext(ctx).Where("idempotency_key = ?", key), intentID)
}

func (r *repo) FindOpenIntent(ctx context.Context, db *gorm.DB, orderID snowflake.ID, provider string) (*domain.PaymentIntent, error) {
	return first(db.WithContext(ctx).
		Where("order_id = ? AND provider = ? AND status IN ?", orderID, provider,
			[]domain.IntentStatus{domain.IntentStatusPending, domain.IntentStatusRequiresAction}).
		Order("created_at DESC"), intentID)
}

func (r *repo) LockIntentByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.PaymentIntent, error) {
	return first(forUpdate(tx.WithContext(ctx)).Where("id = ?", id), intentID)
}

func (r *repo) LockIntentByReference(ctx context.Context, tx *gorm.DB, provider, reference string, tenantID snowflake.ID) (*domain.PaymentIntent, error) {
	return first(forUpdate(tx.WithContext(ctx)).
		Where("provider = ? AND provider_reference = ? AND tenant_id = ?", provider, reference, tenantID), intentID)
}

func (r *repo) UpdateIntent(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	fields["updated_at"] = r.clock.Now(ctx)
	return db.WithContext(ctx).Model(&domain.PaymentIntent{}).Where("id = ?", id).Updates(fields).Error
}

func (r *repo) InsertAttempt(ctx context.Context, db *gorm.DB, attempt *domain.PaymentAttempt) error {
	return db.WithContext(ctx).Create(attempt).Error
}

func (r *repo) LatestAttempt(ctx context.Context, db *gorm.DB, intentID snowflake.ID) (*domain.PaymentAttempt, error) {
	return first(db.WithContext(ctx).Where("intent_id = ?", intentID).Order("id DESC"), attemptID)
}

func (r *repo) UpdateAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	fields["updated_at"] = r.clock.Now(ctx)
	return db.WithContext(ctx).Model(&domain.PaymentAttempt{}).Where("id = ?", id).Updates(fields).Error
}

func (r *repo) InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) FindWebhookEventByKey(ctx context.Context, db *gorm.DB, key string) (*domain.WebhookEvent, error) {
	return first(db.WithContext(ctx).Where("idempotency_key = ?", key), webhookID)
}

func (r *repo) LockWebhookEvent(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.WebhookEvent, error) {
	return first(forUpdate(tx.WithContext(ctx)).Where("id = ?", id), webhookID)
}

func (r *repo) UpdateWebhookEvent(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	fields["updated_at"] = r.clock.Now(ctx)
	return db.WithContext(ctx).Model(&domain.WebhookEvent{}).Where("id = ?", id).Updates(fields).Error
}

func (r *repo) InsertPaymentEvent(ctx context.Context, db *gorm.DB, event *domain.PaymentEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) DeletePaymentEventsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	// mysql rejects LIMIT inside an IN subquery, so ids are fetched first.
	var ids []snowflake.ID
	err := db.WithContext(ctx).Model(&domain.PaymentEvent{}).
		Where("received_at < ?", cutoff).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	res := db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.PaymentEvent{})
	return res.RowsAffected, res.Error
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, orderID snowflake.ID, method, reference string) (*domain.Payment, error) {
	return first(db.WithContext(ctx).
		Where("order_id = ? AND method = ? AND provider_reference = ?", orderID, method, reference), paymentID)
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) InsertRefund(ctx context.Context, db *gorm.DB, refund *domain.RefundRecord) error {
	return db.WithContext(ctx).Create(refund).Error
}

func (r *repo) LockRefund(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.RefundRecord, error) {
	return first(forUpdate(tx.WithContext(ctx)).Where("id = ?", id), refundID)
}

func (r *repo) UpdateRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	fields["updated_at"] = r.clock.Now(ctx)
	return db.WithContext(ctx).Model(&domain.RefundRecord{}).Where("id = ?", id).Updates(fields).Error
}

func (r *repo) ListRefunds(ctx context.Context, db *gorm.DB, intentID snowflake.ID) ([]domain.RefundRecord, error) {
	var rows []domain.RefundRecord
	err := db.WithContext(ctx).Where("intent_id = ?", intentID).Order("id ASC").Find(&rows).Error
	return rows, err
}

func (r *repo) SumReservedRefunds(ctx context.Context, db *gorm.DB, intentID snowflake.ID) (decimal.Decimal, error) {
	var rows []domain.RefundRecord
	err := db.WithContext(ctx).
		Select("amount", "status").
		Where("intent_id = ?", intentID).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, row := range rows {
		if row.Status.Counts() {
			total = total.Add(row.Amount)
		}
	}
	return total, nil
}

func (r *repo) OrderSettlementStatus(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (string, error) {
	var statuses []string
	err := db.WithContext(ctx).
		Table("settlement_items AS si").
		Joins("JOIN settlements s ON s.id = si.settlement_id").
		Where("si.order_id = ?", orderID).
		Limit(1).
		Pluck("s.status", &statuses).Error
	if err != nil || len(statuses) == 0 {
		return "", err
	}
	return statuses[0], nil
}
