package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/railzwaylabs/storepay/internal/config"
	"github.com/railzwaylabs/storepay/internal/fulfillment/domain"
	"github.com/railzwaylabs/storepay/internal/observability"
	orderdomain "github.com/railzwaylabs/storepay/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultBatchSize   = 50
	defaultMaxAttempts = 5
	claimLease         = 5 * time.Minute
)

type DispatcherParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Cfg       config.Config
	Metrics   *observability.Metrics `optional:"true"`
	Orders    orderdomain.Service
	Shipping  domain.ShippingService
	Merchant  domain.MerchantNotifier
	Sms       domain.SmsSender
	Telemetry domain.Telemetry
}

// Dispatcher executes outbox tasks after the payment transaction commits.
// Failures are retried with backoff up to the attempt budget and never
// propagate back into payment processing.
type Dispatcher struct {
	db          *gorm.DB
	log         *zap.Logger
	metrics     *observability.Metrics
	orders      orderdomain.Service
	shipping    domain.ShippingService
	merchant    domain.MerchantNotifier
	sms         domain.SmsSender
	telemetry   domain.Telemetry
	batchSize   int
	maxAttempts int
	now         func() time.Time

	kick chan struct{}
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	batch := p.Cfg.Fulfillment.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	maxAttempts := p.Cfg.Fulfillment.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Dispatcher{
		db:          p.DB,
		log:         p.Log.Named("fulfillment.dispatcher"),
		metrics:     p.Metrics,
		orders:      p.Orders,
		shipping:    p.Shipping,
		merchant:    p.Merchant,
		sms:         p.Sms,
		telemetry:   p.Telemetry,
		batchSize:   batch,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		kick:        make(chan struct{}, 1),
	}
}

// Kick requests an immediate dispatch pass. It never blocks.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run dispatches whenever kicked until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.kick:
			if _, err := d.ProcessPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.log.Error("dispatch pass failed", zap.Error(err))
			}
		}
	}
}

// ProcessPending runs one batch of due tasks and returns how many completed.
func (d *Dispatcher) ProcessPending(ctx context.Context) (int, error) {
	now := d.now()
	var tasks []domain.Task
	err := d.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", domain.TaskStatusPending, now).
		Order("id ASC").
		Limit(d.batchSize).
		Find(&tasks).Error
	if err != nil {
		return 0, err
	}

	done := 0
	for i := range tasks {
		task := &tasks[i]
		claimed, err := d.claim(ctx, task, now)
		if err != nil {
			return done, err
		}
		if !claimed {
			continue
		}

		runErr := d.execute(ctx, task)
		if err := d.finish(ctx, task, runErr); err != nil {
			return done, err
		}
		if runErr == nil {
			done++
		}
	}
	return done, nil
}

// claim pushes next_attempt_at past the lease so a concurrent dispatcher
// skips the row; a crashed worker's claim simply expires.
func (d *Dispatcher) claim(ctx context.Context, task *domain.Task, now time.Time) (bool, error) {
	res := d.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status = ? AND next_attempt_at <= ?", task.ID, domain.TaskStatusPending, now).
		Updates(map[string]any{
			"next_attempt_at": now.Add(claimLease),
			"attempts":        gorm.Expr("attempts + 1"),
			"updated_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		task.Attempts++
		return true, nil
	}
	return false, nil
}

func (d *Dispatcher) execute(ctx context.Context, task *domain.Task) error {
	order, err := d.orders.FindByID(ctx, nil, task.OrderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}

	switch task.Kind {
	case domain.TaskCreateShipment:
		return d.shipping.CreateShipment(ctx, order)
	case domain.TaskNotifyMerchant:
		return d.merchant.NotifyOrderPlaced(ctx, order)
	case domain.TaskNotifyCustomer:
		if order.CustomerPhone == "" {
			return nil
		}
		msg := fmt.Sprintf("Payment received for order %s. Total %s %s.", orderLabel(order), order.Total.StringFixed(2), order.Currency)
		return d.sms.Send(ctx, order.CustomerPhone, msg)
	case domain.TaskTrackTelemetry:
		return d.telemetry.Track(ctx, "order_paid", map[string]any{
			"order_id":  order.ID.String(),
			"store_id":  order.StoreID.String(),
			"tenant_id": order.TenantID.String(),
			"amount":    order.Total.StringFixed(2),
			"currency":  order.Currency,
			"method":    order.PaymentMethod,
		})
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (d *Dispatcher) finish(ctx context.Context, task *domain.Task, runErr error) error {
	now := d.now()
	updates := map[string]any{"updated_at": now}

	switch {
	case runErr == nil:
		updates["status"] = domain.TaskStatusDone
		updates["completed_at"] = now
		updates["last_error"] = ""
		d.metrics.Fulfillment(string(task.Kind), "done")
	case task.Attempts >= d.maxAttempts:
		updates["status"] = domain.TaskStatusFailed
		updates["last_error"] = runErr.Error()
		d.metrics.Fulfillment(string(task.Kind), "failed")
		d.log.Error("fulfillment task exhausted",
			zap.String("task_id", task.ID.String()),
			zap.String("kind", string(task.Kind)),
			zap.String("order_id", task.OrderID.String()),
			zap.Int("attempts", task.Attempts),
			zap.Error(runErr))
	default:
		updates["last_error"] = runErr.Error()
		updates["next_attempt_at"] = now.Add(backoff(task.Attempts))
		d.metrics.Fulfillment(string(task.Kind), "retry")
		d.log.Warn("fulfillment task failed",
			zap.String("task_id", task.ID.String()),
			zap.String("kind", string(task.Kind)),
			zap.Int("attempts", task.Attempts),
			zap.Error(runErr))
	}

	return d.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", task.ID).
		Updates(updates).Error
}

func backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 8 {
		attempts = 8
	}
	return time.Duration(1<<uint(attempts-1)) * 30 * time.Second
}

func orderLabel(order *orderdomain.Order) string {
	if order.Number != "" {
		return order.Number
	}
	return order.ID.String()
}
