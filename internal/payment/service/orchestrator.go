package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/railzwaylabs/storepay/internal/clock"
	fulfillmentdomain "github.com/railzwaylabs/storepay/internal/fulfillment/domain"
	ledgerdomain "github.com/railzwaylabs/storepay/internal/ledger/domain"
	"github.com/railzwaylabs/storepay/internal/observability"
	orderdomain "github.com/railzwaylabs/storepay/internal/order/domain"
	"github.com/railzwaylabs/storepay/internal/payment/domain"
	"github.com/railzwaylabs/storepay/pkg/db"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/railzwaylabs/storepay/internal/payment/service")

// AdapterResolver yields a tenant-scoped adapter. gateway.Facade implements it.
type AdapterResolver interface {
	ForTenant(ctx context.Context, tenantID snowflake.ID, code string) (domain.PaymentAdapter, error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Adapters AdapterResolver
	Orders   orderdomain.Service
	Ledger   ledgerdomain.Service
	Outbox   fulfillmentdomain.Outbox
	Clock    clock.Clock
	Metrics  *observability.Metrics `optional:"true"`
}

// Orchestrator is the single owner of PaymentIntent transitions.
type Orchestrator struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	adapters AdapterResolver
	orders   orderdomain.Service
	ledger   ledgerdomain.Service
	outbox   fulfillmentdomain.Outbox
	clock    clock.Clock
	metrics  *observability.Metrics
}

func NewOrchestrator(p Params) *Orchestrator {
	return &Orchestrator{
		db:       p.DB,
		log:      p.Log.Named("payment.orchestrator"),
		genID:    p.GenID,
		repo:     p.Repo,
		adapters: p.Adapters,
		orders:   p.Orders,
		ledger:   p.Ledger,
		outbox:   p.Outbox,
		clock:    p.Clock,
		metrics:  p.Metrics,
	}
}

type InitiateInput struct {
	OrderID        snowflake.ID
	Provider       string
	ReturnURL      string
	IdempotencyKey string
}

type InitiateOutput struct {
	IntentID     string              `json:"intent_id"`
	RedirectURL  string              `json:"redirect_url"`
	ClientSecret string              `json:"client_secret,omitempty"`
	Status       domain.IntentStatus `json:"status"`
}

// Initiate creates an intent and its first attempt, then asks the provider
// for a redirect. The provider call happens outside any transaction.
func (o *Orchestrator) Initiate(ctx context.Context, in InitiateInput) (out *InitiateOutput, err error) {
	ctx, span := tracer.Start(ctx, "payment.initiate")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}
	if in.OrderID == 0 {
		return nil, domain.ErrInvalidOrder
	}
	span.SetAttributes(attribute.String("payment.provider", provider), attribute.String("order.id", in.OrderID.String()))

	key := strings.TrimSpace(in.IdempotencyKey)
	callerKey := key != ""
	if callerKey {
		replay, err := o.replay(ctx, key, in.OrderID, provider)
		if err != nil || replay != nil {
			return replay, err
		}
	} else {
		key = ulid.Make().String()
	}

	order, err := o.orders.FindByID(ctx, nil, in.OrderID)
	if err != nil {
		return nil, err
	}
	if order.IsPaid() {
		return nil, domain.ErrOrderAlreadyPaid
	}

	adapter, err := o.adapters.ForTenant(ctx, order.TenantID, provider)
	if err != nil {
		return nil, err
	}

	now := o.clock.Now(ctx)
	intent := &domain.PaymentIntent{
		ID:             o.genID.Generate(),
		TenantID:       order.TenantID,
		StoreID:        order.StoreID,
		OrderID:        order.ID,
		Provider:       provider,
		Amount:         order.Total.Round(2),
		Currency:       order.Currency,
		Status:         domain.IntentStatusPending,
		IdempotencyKey: key,
		ReturnURL:      in.ReturnURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	attempt := &domain.PaymentAttempt{
		ID:        o.genID.Generate(),
		IntentID:  intent.ID,
		TenantID:  intent.TenantID,
		Provider:  provider,
		Status:    domain.AttemptStatusCreated,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := o.orders.ForUpdate(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if locked.IsPaid() {
			return domain.ErrOrderAlreadyPaid
		}
		open, err := o.repo.FindOpenIntent(ctx, tx, order.ID, provider)
		if err != nil {
			return err
		}
		if open != nil {
			return domain.ErrPaymentInProgress
		}
		if err := o.repo.InsertIntent(ctx, tx, intent); err != nil {
			return err
		}
		if err := o.repo.InsertAttempt(ctx, tx, attempt); err != nil {
			return err
		}
		return o.orders.MarkPaymentPending(ctx, tx, order.ID)
	})
	if err != nil {
		// A concurrent request with the same key may have won the order lock.
		if callerKey && (errors.Is(err, domain.ErrPaymentInProgress) || db.IsUniqueViolation(err)) {
			replay, replayErr := o.replay(ctx, key, in.OrderID, provider)
			if replayErr != nil {
				return nil, replayErr
			}
			if replay != nil {
				return replay, nil
			}
		}
		return nil, err
	}

	result, callErr := adapter.InitiatePayment(ctx, domain.InitiateRequest{
		IntentID:       intent.ID,
		OrderID:        order.ID,
		TenantID:       order.TenantID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		ReturnURL:      in.ReturnURL,
		CustomerEmail:  order.CustomerEmail,
		CustomerName:   order.CustomerName,
		IdempotencyKey: key,
	})
	if callErr != nil {
		o.failInitiation(ctx, intent, attempt, callErr)
		return nil, callErr
	}

	status := result.Status
	if status != domain.IntentStatusRequiresAction {
		status = domain.IntentStatusPending
	}
	reference := strings.TrimSpace(result.ProviderReference)
	var storedRef any
	if reference != "" {
		storedRef = reference
	}
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := o.repo.UpdateIntent(ctx, tx, intent.ID, map[string]any{
			"provider_reference": storedRef,
			"redirect_url":       result.RedirectURL,
			"status":             status,
		}); err != nil {
			return err
		}
		return o.repo.UpdateAttempt(ctx, tx, attempt.ID, map[string]any{
			"status":             domain.AttemptStatusPending,
			"provider_reference": reference,
			"raw_response":       jsonOrNil(result.Raw),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("record provider reference: %w", err)
	}

	o.metrics.Transition(provider, string(status))
	o.log.Info("payment initiated",
		zap.String("intent_id", intent.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("provider", provider),
		zap.String("provider_reference", reference))

	return &InitiateOutput{
		IntentID:     intent.ID.String(),
		RedirectURL:  result.RedirectURL,
		ClientSecret: result.ClientSecret,
		Status:       status,
	}, nil
}

// replay returns the intent already created under key, or nil when the key
// is unused.
func (o *Orchestrator) replay(ctx context.Context, key string, orderID snowflake.ID, provider string) (*InitiateOutput, error) {
	existing, err := o.repo.FindIntentByIdempotencyKey(ctx, o.db, key)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.OrderID != orderID || existing.Provider != provider {
		return nil, domain.ErrIdempotencyConflict
	}
	return &InitiateOutput{
		IntentID:    existing.ID.String(),
		RedirectURL: existing.RedirectURL,
		Status:      existing.Status,
	}, nil
}

func (o *Orchestrator) failInitiation(ctx context.Context, intent *domain.PaymentIntent, attempt *domain.PaymentAttempt, cause error) {
	now := o.clock.Now(ctx)
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := o.repo.UpdateAttempt(ctx, tx, attempt.ID, map[string]any{
			"status":        domain.AttemptStatusFailed,
			"error_message": cause.Error(),
		}); err != nil {
			return err
		}
		if err := o.repo.UpdateIntent(ctx, tx, intent.ID, map[string]any{
			"status":         domain.IntentStatusFailed,
			"failure_reason": cause.Error(),
			"failed_at":      now,
		}); err != nil {
			return err
		}
		return o.orders.MarkPaymentFailed(ctx, tx, intent.OrderID)
	})
	if err != nil {
		o.log.Error("failed to record initiation failure", zap.String("intent_id", intent.ID.String()), zap.Error(err))
	}
	o.metrics.Transition(intent.Provider, string(domain.IntentStatusFailed))
	o.log.Warn("provider initiation failed",
		zap.String("intent_id", intent.ID.String()),
		zap.String("provider", intent.Provider),
		zap.Error(cause))
}

// Report is a provider-reported outcome for an intent.
type Report struct {
	Status        domain.IntentStatus
	FailureReason string
	Raw           []byte
}

// ApplyOutcome moves a locked intent according to report. It must run in tx
// with the intent row already locked. The returned bool reports whether the
// intent changed. Terminal intents return domain.ErrAlreadyTerminal.
func (o *Orchestrator) ApplyOutcome(ctx context.Context, tx *gorm.DB, intent *domain.PaymentIntent, report Report) (bool, error) {
	next, changed, err := domain.NextIntentStatus(intent.Status, report.Status)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	switch next {
	case domain.IntentStatusSucceeded:
		err = o.applySucceeded(ctx, tx, intent, report)
	case domain.IntentStatusFailed:
		err = o.applyFailed(ctx, tx, intent, report)
	case domain.IntentStatusRequiresAction:
		err = o.repo.UpdateIntent(ctx, tx, intent.ID, map[string]any{"status": next})
	}
	if err != nil {
		return false, err
	}

	intent.Status = next
	o.metrics.Transition(intent.Provider, string(next))
	return true, nil
}

func (o *Orchestrator) applySucceeded(ctx context.Context, tx *gorm.DB, intent *domain.PaymentIntent, report Report) error {
	now := o.clock.Now(ctx)
	if err := o.repo.UpdateIntent(ctx, tx, intent.ID, map[string]any{
		"status":       domain.IntentStatusSucceeded,
		"succeeded_at": now,
	}); err != nil {
		return err
	}

	attempt, err := o.repo.LatestAttempt(ctx, tx, intent.ID)
	if err != nil {
		return err
	}
	if attempt != nil {
		if err := o.repo.UpdateAttempt(ctx, tx, attempt.ID, map[string]any{
			"status":       domain.AttemptStatusPaid,
			"raw_response": jsonOrNil(report.Raw),
		}); err != nil {
			return err
		}
	}

	alreadyPaid, err := o.orders.MarkAsPaid(ctx, tx, intent.OrderID, intent.Provider, now)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}

	reference := intent.Reference()
	payment, err := o.repo.FindPayment(ctx, tx, intent.OrderID, intent.Provider, reference)
	if err != nil {
		return err
	}
	if payment == nil {
		if err := o.repo.InsertPayment(ctx, tx, &domain.Payment{
			ID:                o.genID.Generate(),
			TenantID:          intent.TenantID,
			StoreID:           intent.StoreID,
			OrderID:           intent.OrderID,
			IntentID:          intent.ID,
			Method:            intent.Provider,
			ProviderReference: reference,
			Amount:            intent.Amount,
			Currency:          intent.Currency,
			PaidAt:            now,
			CreatedAt:         now,
		}); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
	}

	if _, err := o.ledger.CreditOrder(ctx, tx, ledgerdomain.CreditInput{
		TenantID:    intent.TenantID,
		StoreID:     intent.StoreID,
		OrderID:     intent.OrderID,
		Amount:      intent.Amount,
		Currency:    intent.Currency,
		Description: "payment " + intent.Provider + " " + reference,
	}); err != nil {
		return err
	}

	if alreadyPaid {
		o.log.Info("order already paid, side effects skipped",
			zap.String("intent_id", intent.ID.String()),
			zap.String("order_id", intent.OrderID.String()))
		return nil
	}

	order, err := o.orders.FindByID(ctx, tx, intent.OrderID)
	if err != nil {
		return err
	}
	return o.outbox.Enqueue(ctx, tx, order, fulfillmentdomain.PaidOrderTasks...)
}

func (o *Orchestrator) applyFailed(ctx context.Context, tx *gorm.DB, intent *domain.PaymentIntent, report Report) error {
	reason := report.FailureReason
	if reason == "" {
		reason = "provider_reported_failure"
	}
	if err := o.repo.UpdateIntent(ctx, tx, intent.ID, map[string]any{
		"status":         domain.IntentStatusFailed,
		"failure_reason": reason,
		"failed_at":      o.clock.Now(ctx),
	}); err != nil {
		return err
	}

	attempt, err := o.repo.LatestAttempt(ctx, tx, intent.ID)
	if err != nil {
		return err
	}
	if attempt != nil {
		if err := o.repo.UpdateAttempt(ctx, tx, attempt.ID, map[string]any{
			"status":        domain.AttemptStatusFailed,
			"error_message": reason,
			"raw_response":  jsonOrNil(report.Raw),
		}); err != nil {
			return err
		}
	}
	return o.orders.MarkPaymentFailed(ctx, tx, intent.OrderID)
}

type RefundInput struct {
	IntentID snowflake.ID
	// Amount defaults to the remaining refundable amount.
	Amount *decimal.Decimal
	Reason string
}

// Refund reserves the amount against the intent, calls the provider and
// books an approved refund as a ledger debit.
func (o *Orchestrator) Refund(ctx context.Context, in RefundInput) (*domain.RefundRecord, error) {
	ctx, span := tracer.Start(ctx, "payment.refund")
	defer span.End()

	intent, err := o.repo.FindIntentByID(ctx, o.db, in.IntentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrIntentNotFound
	}
	if intent.Status != domain.IntentStatusSucceeded {
		return nil, domain.ErrRefundNotAllowed
	}

	adapter, err := o.adapters.ForTenant(ctx, intent.TenantID, intent.Provider)
	if err != nil {
		return nil, err
	}

	var record *domain.RefundRecord
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := o.repo.LockIntentByID(ctx, tx, intent.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrIntentNotFound
		}
		reserved, err := o.repo.SumReservedRefunds(ctx, tx, intent.ID)
		if err != nil {
			return err
		}
		remaining := locked.Amount.Sub(reserved)

		amount := remaining
		if in.Amount != nil {
			amount = in.Amount.Round(2)
		}
		if !amount.IsPositive() {
			if remaining.IsPositive() {
				return domain.ErrInvalidAmount
			}
			return domain.ErrRefundExceedsAmount
		}
		if amount.GreaterThan(remaining) {
			return domain.ErrRefundExceedsAmount
		}

		now := o.clock.Now(ctx)
		record = &domain.RefundRecord{
			ID:        o.genID.Generate(),
			TenantID:  locked.TenantID,
			StoreID:   locked.StoreID,
			IntentID:  locked.ID,
			OrderID:   locked.OrderID,
			Provider:  locked.Provider,
			Amount:    amount,
			Currency:  locked.Currency,
			Reason:    strings.TrimSpace(in.Reason),
			Status:    domain.RefundStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return o.repo.InsertRefund(ctx, tx, record)
	})
	if err != nil {
		return nil, err
	}

	result, callErr := adapter.Refund(ctx, domain.RefundRequest{
		ProviderReference: intent.Reference(),
		Amount:            record.Amount,
		Currency:          record.Currency,
		Reason:            record.Reason,
		IdempotencyKey:    "refund-" + record.ID.String(),
	})
	if callErr != nil {
		record.Status = domain.RefundStatusFailed
		record.ErrorMessage = callErr.Error()
		if err := o.repo.UpdateRefund(ctx, o.db, record.ID, map[string]any{
			"status":        record.Status,
			"error_message": record.ErrorMessage,
		}); err != nil {
			o.log.Error("failed to record refund failure", zap.String("refund_id", record.ID.String()), zap.Error(err))
		}
		return record, callErr
	}

	record.Status = result.Status
	record.ProviderRefundID = result.ProviderRefundID
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := o.repo.UpdateRefund(ctx, tx, record.ID, map[string]any{
			"status":             record.Status,
			"provider_refund_id": record.ProviderRefundID,
			"raw_response":       jsonOrNil(result.Raw),
		}); err != nil {
			return err
		}
		if record.Status != domain.RefundStatusApproved {
			return nil
		}
		return o.bookRefund(ctx, tx, record)
	})
	if err != nil {
		return nil, fmt.Errorf("record refund result: %w", err)
	}

	o.log.Info("refund processed",
		zap.String("refund_id", record.ID.String()),
		zap.String("intent_id", intent.ID.String()),
		zap.String("amount", record.Amount.StringFixed(2)),
		zap.String("status", string(record.Status)))
	return record, nil
}

type ResolveRefundInput struct {
	RefundID         snowflake.ID
	Status           domain.RefundStatus
	ProviderRefundID string
	Reason           string
}

// ResolveRefund settles a refund the provider left pending. Approval books
// the ledger debit; rejection or failure releases the reserved amount.
func (o *Orchestrator) ResolveRefund(ctx context.Context, in ResolveRefundInput) (*domain.RefundRecord, error) {
	switch in.Status {
	case domain.RefundStatusApproved, domain.RefundStatusRejected, domain.RefundStatusFailed:
	default:
		return nil, domain.ErrInvalidRefundStatus
	}

	var record *domain.RefundRecord
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := o.repo.LockRefund(ctx, tx, in.RefundID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrRefundNotFound
		}
		if locked.Status != domain.RefundStatusPending {
			return domain.ErrRefundNotPending
		}

		fields := map[string]any{"status": in.Status}
		if ref := strings.TrimSpace(in.ProviderRefundID); ref != "" {
			locked.ProviderRefundID = ref
			fields["provider_refund_id"] = ref
		}
		if in.Status != domain.RefundStatusApproved {
			locked.ErrorMessage = strings.TrimSpace(in.Reason)
			fields["error_message"] = locked.ErrorMessage
		}
		if err := o.repo.UpdateRefund(ctx, tx, locked.ID, fields); err != nil {
			return err
		}
		locked.Status = in.Status
		record = locked
		if in.Status != domain.RefundStatusApproved {
			return nil
		}
		return o.bookRefund(ctx, tx, locked)
	})
	if err != nil {
		return nil, err
	}

	o.log.Info("refund resolved",
		zap.String("refund_id", record.ID.String()),
		zap.String("intent_id", record.IntentID.String()),
		zap.String("status", string(record.Status)))
	return record, nil
}

// bookRefund posts the debit for an approved refund. While the order is
// unsettled only the entry is written, since settlement nets approved
// refunds out of the order's gross. Once the order is in a batch the amount
// comes out of pending, or out of available after the payout.
func (o *Orchestrator) bookRefund(ctx context.Context, tx *gorm.DB, record *domain.RefundRecord) error {
	// The account lock orders this against settlement creation for the store.
	if _, err := o.ledger.LockAccount(ctx, tx, record.StoreID, record.Currency); err != nil {
		return err
	}
	settlementStatus, err := o.repo.OrderSettlementStatus(ctx, tx, record.OrderID)
	if err != nil {
		return err
	}
	bucket := ledgerdomain.BucketPending
	switch settlementStatus {
	case "":
		bucket = ledgerdomain.BucketNone
	case "paid":
		bucket = ledgerdomain.BucketAvailable
	}

	refundID := record.ID
	if _, err := o.ledger.Debit(ctx, tx, ledgerdomain.DebitInput{
		TenantID:    record.TenantID,
		StoreID:     record.StoreID,
		RefundID:    &refundID,
		Amount:      record.Amount,
		Currency:    record.Currency,
		Description: strings.TrimSpace("refund " + record.Provider + " " + record.ProviderRefundID),
		Bucket:      bucket,
	}); err != nil {
		return err
	}

	intent, err := o.repo.FindIntentByID(ctx, tx, record.IntentID)
	if err != nil || intent == nil {
		return err
	}
	refunds, err := o.repo.ListRefunds(ctx, tx, record.IntentID)
	if err != nil {
		return err
	}
	approved := decimal.Zero
	for _, r := range refunds {
		if r.Status == domain.RefundStatusApproved {
			approved = approved.Add(r.Amount)
		}
	}
	if approved.LessThan(intent.Amount) {
		return nil
	}
	attempt, err := o.repo.LatestAttempt(ctx, tx, intent.ID)
	if err != nil || attempt == nil {
		return err
	}
	return o.repo.UpdateAttempt(ctx, tx, attempt.ID, map[string]any{"status": domain.AttemptStatusRefunded})
}

type IntentDetail struct {
	Intent  *domain.PaymentIntent  `json:"intent"`
	Attempt *domain.PaymentAttempt `json:"latest_attempt,omitempty"`
	Refunds []domain.RefundRecord  `json:"refunds"`
}

func (o *Orchestrator) Get(ctx context.Context, id snowflake.ID) (*IntentDetail, error) {
	intent, err := o.repo.FindIntentByID(ctx, o.db, id)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrIntentNotFound
	}
	attempt, err := o.repo.LatestAttempt(ctx, o.db, id)
	if err != nil {
		return nil, err
	}
	refunds, err := o.repo.ListRefunds(ctx, o.db, id)
	if err != nil {
		return nil, err
	}
	if refunds == nil {
		refunds = []domain.RefundRecord{}
	}
	return &IntentDetail{Intent: intent, Attempt: attempt, Refunds: refunds}, nil
}

// jsonOrNil keeps invalid provider bodies out of jsonb columns.
func jsonOrNil(raw []byte) any {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return datatypes.JSON(raw)
}
