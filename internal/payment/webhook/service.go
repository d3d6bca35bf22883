package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/snappy"
	"github.com/railzwaylabs/storepay/internal/clock"
	fulfillmentdomain "github.com/railzwaylabs/storepay/internal/fulfillment/domain"
	"github.com/railzwaylabs/storepay/internal/observability"
	"github.com/railzwaylabs/storepay/internal/payment/domain"
	"github.com/railzwaylabs/storepay/internal/payment/gateway"
	paymentservice "github.com/railzwaylabs/storepay/internal/payment/service"
	"github.com/railzwaylabs/storepay/pkg/db"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/railzwaylabs/storepay/internal/payment/webhook")

// Resolver authenticates a raw webhook body against stored credentials.
type Resolver interface {
	ResolveWebhook(ctx context.Context, code string, payload []byte, headers http.Header) (*gateway.Resolution, error)
}

// OutcomeApplier moves a locked intent. *paymentservice.Orchestrator
// implements it.
type OutcomeApplier interface {
	ApplyOutcome(ctx context.Context, tx *gorm.DB, intent *domain.PaymentIntent, report paymentservice.Report) (bool, error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Resolver Resolver
	Applier  OutcomeApplier
	Clock    clock.Clock
	Kicker   fulfillmentdomain.Kicker `optional:"true"`
	Metrics  *observability.Metrics   `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	resolver Resolver
	applier  OutcomeApplier
	clock    clock.Clock
	kicker   fulfillmentdomain.Kicker
	metrics  *observability.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		genID:    p.GenID,
		repo:     p.Repo,
		resolver: p.Resolver,
		applier:  p.Applier,
		clock:    p.Clock,
		kicker:   p.Kicker,
		metrics:  p.Metrics,
	}
}

// Result describes the stored event for a delivery. ID is the webhook event
// row and is the same for every replay of one provider event.
type Result struct {
	ID               snowflake.ID            `json:"id,string"`
	ProviderCode     string                  `json:"provider_code"`
	EventID          string                  `json:"event_id"`
	ProcessingStatus domain.ProcessingStatus `json:"processing_status"`
	Idempotent       bool                    `json:"idempotent"`
}

// Ingest verifies, deduplicates and applies one provider delivery.
// Rejected deliveries are still recorded before the error is returned.
func (s *Service) Ingest(ctx context.Context, code string, body []byte, headers http.Header) (res *Result, err error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, domain.ErrInvalidProvider
	}

	ctx, span := tracer.Start(ctx, "webhook.ingest")
	span.SetAttributes(attribute.String("payment.provider", code), attribute.Int("webhook.size", len(body)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if res != nil {
			span.SetAttributes(attribute.String("webhook.status", string(res.ProcessingStatus)))
		}
		span.End()
	}()

	if !json.Valid(body) {
		s.reject(ctx, code, 0, body, domain.ErrInvalidPayload)
		return nil, domain.ErrInvalidPayload
	}

	resolution, err := s.resolver.ResolveWebhook(ctx, code, body, headers)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownProvider) {
			s.metrics.Webhook(code, "unknown_provider")
			return nil, err
		}
		var tenantID snowflake.ID
		if resolution != nil {
			tenantID = resolution.TenantID
		}
		s.reject(ctx, code, tenantID, body, err)
		return nil, err
	}

	cb := resolution.Callback
	eventID := strings.TrimSpace(cb.EventID)
	if eventID == "" {
		eventID = "body:" + bodyHash(body)
	}
	span.SetAttributes(attribute.String("webhook.event_id", eventID))

	event, created, err := s.loadOrCreate(ctx, &domain.WebhookEvent{
		TenantID:          resolution.TenantID,
		Provider:          code,
		EventID:           eventID,
		EventType:         cb.EventType,
		IdempotencyKey:    fmt.Sprintf("%s:%s:%s", code, resolution.TenantID, eventID),
		ProviderReference: cb.ProviderReference,
		ProcessingStatus:  domain.ProcessingPending,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{ID: event.ID, ProviderCode: code, EventID: eventID}
	if !created && event.ProcessingStatus.Final() {
		s.recordDuplicate(ctx, event, body)
		result.ProcessingStatus = event.ProcessingStatus
		result.Idempotent = true
		return result, nil
	}

	var (
		status  domain.ProcessingStatus
		reason  string
		settled bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.LockWebhookEvent(ctx, tx, event.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return fmt.Errorf("webhook event %s vanished", event.ID)
		}
		if locked.ProcessingStatus.Final() {
			result.Idempotent = true
			status = locked.ProcessingStatus
			return s.audit(ctx, tx, locked, body, "duplicate", true)
		}

		var intentID *snowflake.ID
		status, reason, intentID, settled, err = s.apply(ctx, tx, resolution)
		if err != nil {
			return err
		}

		fields := map[string]any{
			"processing_status": status,
			"error":             reason,
			"processed_at":      s.clock.Now(ctx),
			"event_type":        cb.EventType,
		}
		if intentID != nil {
			fields["intent_id"] = *intentID
		}
		if !created {
			fields["deliveries"] = gorm.Expr("deliveries + 1")
		}
		if err := s.repo.UpdateWebhookEvent(ctx, tx, event.ID, fields); err != nil {
			return err
		}
		return s.audit(ctx, tx, locked, body, string(status), true)
	})
	if err != nil {
		s.markFailed(ctx, event, body, err)
		return nil, err
	}

	if result.Idempotent {
		s.metrics.Webhook(code, "duplicate")
	} else {
		s.metrics.Webhook(code, string(status))
	}
	if settled && s.kicker != nil {
		s.kicker.Kick()
	}

	s.log.Info("webhook processed",
		zap.String("provider", code),
		zap.String("tenant_id", resolution.TenantID.String()),
		zap.String("event_id", eventID),
		zap.String("event_type", cb.EventType),
		zap.String("status", string(status)),
		zap.Bool("idempotent", result.Idempotent))

	result.ProcessingStatus = status
	return result, nil
}

// apply runs inside the event transaction. settled reports whether the
// intent reached succeeded in this call.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, resolution *gateway.Resolution) (domain.ProcessingStatus, string, *snowflake.ID, bool, error) {
	cb := resolution.Callback
	if resolution.Ignored {
		return domain.ProcessingIgnored, "event_type_ignored", nil, false, nil
	}
	if strings.TrimSpace(cb.ProviderReference) == "" {
		return domain.ProcessingIgnored, "missing_provider_reference", nil, false, nil
	}

	intent, err := s.repo.LockIntentByReference(ctx, tx, resolution.Provider, cb.ProviderReference, resolution.TenantID)
	if err != nil {
		return "", "", nil, false, err
	}
	if intent == nil {
		s.log.Warn("webhook references unknown intent",
			zap.String("provider", resolution.Provider),
			zap.String("provider_reference", cb.ProviderReference))
		return domain.ProcessingIgnored, domain.ErrIntentNotFound.Error(), nil, false, nil
	}
	intentID := intent.ID

	if cb.Status == domain.IntentStatusSucceeded && cb.Amount != nil && !cb.Amount.Equal(intent.Amount) {
		s.log.Error("webhook amount mismatch",
			zap.String("intent_id", intent.ID.String()),
			zap.String("expected", intent.Amount.StringFixed(2)),
			zap.String("reported", cb.Amount.StringFixed(2)))
		return domain.ProcessingFailed, "amount_mismatch", &intentID, false, nil
	}

	changed, err := s.applier.ApplyOutcome(ctx, tx, intent, paymentservice.Report{
		Status:        cb.Status,
		FailureReason: cb.FailureReason,
	})
	switch {
	case errors.Is(err, domain.ErrAlreadyTerminal):
		return domain.ProcessingProcessed, "", &intentID, false, nil
	case errors.Is(err, domain.ErrInvalidTransition):
		return domain.ProcessingIgnored, err.Error(), &intentID, false, nil
	case err != nil:
		return "", "", nil, false, err
	}
	return domain.ProcessingProcessed, "", &intentID, changed && intent.Status == domain.IntentStatusSucceeded, nil
}

// loadOrCreate inserts the dedupe row or loads the one a concurrent
// delivery already inserted.
func (s *Service) loadOrCreate(ctx context.Context, event *domain.WebhookEvent) (*domain.WebhookEvent, bool, error) {
	existing, err := s.repo.FindWebhookEventByKey(ctx, s.db, event.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := s.clock.Now(ctx)
	event.ID = s.genID.Generate()
	event.Deliveries = 1
	event.ReceivedAt = now
	event.CreatedAt = now
	event.UpdatedAt = now
	if err := s.repo.InsertWebhookEvent(ctx, s.db, event); err != nil {
		if !db.IsUniqueViolation(err) {
			return nil, false, err
		}
		existing, err = s.repo.FindWebhookEventByKey(ctx, s.db, event.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("webhook event %s not readable after conflict", event.IdempotencyKey)
		}
		return existing, false, nil
	}
	return event, true, nil
}

func (s *Service) recordDuplicate(ctx context.Context, event *domain.WebhookEvent, body []byte) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpdateWebhookEvent(ctx, tx, event.ID, map[string]any{
			"deliveries": gorm.Expr("deliveries + 1"),
		}); err != nil {
			return err
		}
		return s.audit(ctx, tx, event, body, "duplicate", true)
	})
	if err != nil {
		s.log.Error("failed to record duplicate delivery", zap.String("event_id", event.EventID), zap.Error(err))
	}
	s.metrics.Webhook(event.Provider, "duplicate")
}

// reject records a delivery that could not be authenticated or parsed.
func (s *Service) reject(ctx context.Context, code string, tenantID snowflake.ID, body []byte, cause error) {
	outcome := "invalid_payload"
	if errors.Is(cause, domain.ErrInvalidSignature) {
		outcome = "invalid_signature"
	}
	s.metrics.Webhook(code, outcome)
	s.log.Warn("webhook rejected",
		zap.String("provider", code),
		zap.Int("payload_size", len(body)),
		zap.Error(cause))

	hash := bodyHash(body)
	event, created, err := s.loadOrCreate(ctx, &domain.WebhookEvent{
		TenantID:         tenantID,
		Provider:         code,
		EventID:          hash,
		IdempotencyKey:   fmt.Sprintf("%s:unknown:%s", code, hash),
		ProcessingStatus: domain.ProcessingFailed,
		Error:            cause.Error(),
	})
	if err != nil {
		s.log.Error("failed to record rejected webhook", zap.String("provider", code), zap.Error(err))
		return
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !created {
			if err := s.repo.UpdateWebhookEvent(ctx, tx, event.ID, map[string]any{
				"deliveries": gorm.Expr("deliveries + 1"),
			}); err != nil {
				return err
			}
		}
		return s.audit(ctx, tx, event, body, outcome, false)
	})
	if err != nil {
		s.log.Error("failed to record rejected webhook", zap.String("provider", code), zap.Error(err))
	}
}

func (s *Service) markFailed(ctx context.Context, event *domain.WebhookEvent, body []byte, cause error) {
	s.metrics.Webhook(event.Provider, string(domain.ProcessingFailed))
	s.log.Error("webhook processing failed",
		zap.String("provider", event.Provider),
		zap.String("event_id", event.EventID),
		zap.Error(cause))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpdateWebhookEvent(ctx, tx, event.ID, map[string]any{
			"processing_status": domain.ProcessingFailed,
			"error":             cause.Error(),
		}); err != nil {
			return err
		}
		return s.audit(ctx, tx, event, body, string(domain.ProcessingFailed), true)
	})
	if err != nil {
		s.log.Error("failed to mark webhook failed", zap.String("event_id", event.EventID), zap.Error(err))
	}
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, event *domain.WebhookEvent, body []byte, outcome string, signatureValid bool) error {
	eventRowID := event.ID
	row := &domain.PaymentEvent{
		ID:             s.genID.Generate(),
		WebhookEventID: &eventRowID,
		TenantID:       event.TenantID,
		Provider:       event.Provider,
		EventID:        event.EventID,
		EventType:      event.EventType,
		Outcome:        outcome,
		SignatureValid: signatureValid,
		RawBody:        snappy.Encode(nil, body),
		ReceivedAt:     s.clock.Now(ctx),
	}
	if json.Valid(body) {
		row.Payload = datatypes.JSON(maskPayload(body))
	}
	return s.repo.InsertPaymentEvent(ctx, tx, row)
}

// PurgeEvents deletes audit rows received before cutoff in batches and
// returns how many were removed.
func (s *Service) PurgeEvents(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.repo.DeletePaymentEventsBefore(ctx, s.db, cutoff, batch)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(batch) {
			return total, nil
		}
	}
}

// RawBody returns the original delivery bytes of an audit row.
func RawBody(event *domain.PaymentEvent) ([]byte, error) {
	if len(event.RawBody) == 0 {
		return nil, nil
	}
	return snappy.Decode(nil, event.RawBody)
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])[:16]
}

func maskPayload(raw []byte) []byte {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	maskMap(obj)
	masked, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return masked
}

func maskMap(m map[string]any) {
	for k, v := range m {
		switch strings.ToLower(k) {
		case "card", "billing_details", "shipping_details", "payment_method_details",
			"card_number", "cvc", "masked_card_number", "source":
			m[k] = "***"
		default:
			if nested, ok := v.(map[string]any); ok {
				maskMap(nested)
			} else if arr, ok := v.([]any); ok {
				for _, item := range arr {
					if itemMap, ok := item.(map[string]any); ok {
						maskMap(itemMap)
					}
				}
			}
		}
	}
}
