package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/storepay/internal/clock"
	"github.com/railzwaylabs/storepay/internal/config"
	ledgerdomain "github.com/railzwaylabs/storepay/internal/ledger/domain"
	"github.com/railzwaylabs/storepay/internal/observability"
	orderdomain "github.com/railzwaylabs/storepay/internal/order/domain"
	"github.com/railzwaylabs/storepay/internal/settlement/domain"
	"github.com/railzwaylabs/storepay/internal/settlement/fee"
	"github.com/railzwaylabs/storepay/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("github.com/railzwaylabs/storepay/internal/settlement/service")

const itemBatchSize = 500

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Ledger  ledgerdomain.Service
	Clock   clock.Clock
	Cfg     config.Config
	Metrics *observability.Metrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	ledger          ledgerdomain.Service
	clock           clock.Clock
	metrics         *observability.Metrics
	defaultPolicy   fee.Policy
	defaultCurrency string
}

func NewService(p Params) domain.Service {
	log := p.Log.Named("settlement.service")
	return &Service{
		db:              p.DB,
		log:             log,
		genID:           p.GenID,
		ledger:          p.Ledger,
		clock:           p.Clock,
		metrics:         p.Metrics,
		defaultPolicy:   defaultPolicy(p.Cfg.Settlement, log),
		defaultCurrency: p.Cfg.Payments.DefaultCurrency,
	}
}

func defaultPolicy(cfg config.SettlementConfig, log *zap.Logger) fee.Policy {
	policy := fee.Policy{Mode: fee.Mode(cfg.DefaultFeeMode), Percent: decimal.Zero, Flat: decimal.Zero}
	if policy.Mode == "" {
		policy.Mode = fee.ModePerOrder
	}
	if v, err := decimal.NewFromString(cfg.DefaultFeePercent); err == nil {
		policy.Percent = v
	}
	if v, err := decimal.NewFromString(cfg.DefaultFeeFlat); err == nil {
		policy.Flat = v
	}
	if err := policy.Validate(); err != nil {
		log.Warn("invalid default fee policy, falling back to zero fees", zap.Error(err))
		return fee.Policy{Mode: fee.ModePerOrder, Percent: decimal.Zero, Flat: decimal.Zero}
	}
	return policy
}

type eligibleOrder struct {
	ID       snowflake.ID
	TenantID snowflake.ID
	Total    decimal.Decimal
	Refunded decimal.Decimal
	Currency string
}

// refundedSQL sums the approved refunds of the outer orders row.
const refundedSQL = "COALESCE((SELECT SUM(r.amount) FROM refund_records r WHERE r.order_id = orders.id AND r.status = 'approved'), 0)"

func (s *Service) CreateForPeriod(ctx context.Context, storeID snowflake.ID, start, end time.Time) (*domain.Settlement, error) {
	settlement, _, err := s.create(ctx, storeID, start, end)
	return settlement, err
}

// create runs the whole batch in one transaction holding the store's ledger
// account row lock, so concurrent runs for one store serialize before the
// anti-join. created is false when an earlier run is returned instead.
func (s *Service) create(ctx context.Context, storeID snowflake.ID, start, end time.Time) (settlement *domain.Settlement, created bool, err error) {
	if storeID == 0 {
		return nil, false, domain.ErrInvalidStore
	}
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return nil, false, domain.ErrInvalidPeriod
	}

	ctx, span := tracer.Start(ctx, "settlement.create")
	span.SetAttributes(
		attribute.String("store.id", storeID.String()),
		attribute.String("period.start", start.Format(time.RFC3339)),
		attribute.String("period.end", end.Format(time.RFC3339)),
	)
	defer span.End()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		currency, err := s.storeCurrency(ctx, tx, storeID)
		if err != nil {
			return err
		}
		if _, err := s.ledger.LockAccount(ctx, tx, storeID, currency); err != nil {
			return err
		}

		orders, err := s.eligibleOrders(ctx, tx, storeID, start, end)
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			existing, err := s.latestForPeriod(ctx, tx, storeID, start, end)
			if err != nil {
				return err
			}
			if existing == nil {
				return domain.ErrNoEligibleOrders
			}
			settlement = existing
			return nil
		}

		policy, err := s.policyFor(ctx, tx, storeID)
		if err != nil {
			return err
		}

		grosses := make([]decimal.Decimal, len(orders))
		for i, o := range orders {
			if o.Currency != orders[0].Currency {
				return domain.ErrMixedCurrency
			}
			grosses[i] = o.Total.Sub(o.Refunded)
		}
		alloc, err := fee.Allocate(policy, grosses)
		if err != nil {
			return err
		}

		now := s.clock.Now(ctx)
		settlement = &domain.Settlement{
			ID:          s.genID.Generate(),
			TenantID:    orders[0].TenantID,
			StoreID:     storeID,
			PeriodStart: start,
			PeriodEnd:   end,
			Currency:    orders[0].Currency,
			Gross:       alloc.Gross,
			Fee:         alloc.Fee,
			Net:         alloc.Net,
			OrderCount:  len(orders),
			FeeMode:     policy.Mode,
			Status:      domain.StatusCreated,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Create(settlement).Error; err != nil {
			return fmt.Errorf("insert settlement: %w", err)
		}

		items := make([]domain.Item, len(orders))
		for i, o := range orders {
			split := alloc.Items[i]
			items[i] = domain.Item{
				ID:           s.genID.Generate(),
				SettlementID: settlement.ID,
				StoreID:      storeID,
				OrderID:      o.ID,
				Gross:        split.Gross,
				Fee:          split.Fee,
				Net:          split.Net,
				CreatedAt:    now,
			}
		}
		if err := tx.CreateInBatches(items, itemBatchSize).Error; err != nil {
			return fmt.Errorf("insert settlement items: %w", err)
		}

		created = true
		return s.ledger.AddPending(ctx, tx, storeID, settlement.Currency, alloc.Net)
	})
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	if created {
		s.metrics.Settlement("created")
		s.log.Info("settlement created",
			zap.String("settlement_id", settlement.ID.String()),
			zap.String("store_id", storeID.String()),
			zap.Int("orders", settlement.OrderCount),
			zap.String("gross", settlement.Gross.StringFixed(2)),
			zap.String("fee", settlement.Fee.StringFixed(2)),
			zap.String("net", settlement.Net.StringFixed(2)))
	} else {
		s.metrics.Settlement("reused")
	}
	return settlement, created, nil
}

func (s *Service) storeCurrency(ctx context.Context, tx *gorm.DB, storeID snowflake.ID) (string, error) {
	var currencies []string
	err := tx.WithContext(ctx).Model(&orderdomain.Order{}).
		Where("store_id = ?", storeID).
		Order("id DESC").
		Limit(1).
		Pluck("currency", &currencies).Error
	if err != nil {
		return "", err
	}
	if len(currencies) == 0 || currencies[0] == "" {
		return s.defaultCurrency, nil
	}
	return currencies[0], nil
}

// eligibleOrders selects paid orders created in [start, end) that no
// settlement item references yet, with approved refunds netted out. Fully
// refunded orders are skipped.
func (s *Service) eligibleOrders(ctx context.Context, tx *gorm.DB, storeID snowflake.ID, start, end time.Time) ([]eligibleOrder, error) {
	var rows []eligibleOrder
	err := tx.WithContext(ctx).Model(&orderdomain.Order{}).
		Select("orders.id, orders.tenant_id, orders.total, orders.currency, "+refundedSQL+" AS refunded").
		Where("orders.store_id = ? AND orders.payment_status = ?", storeID, orderdomain.PaymentStatusPaid).
		Where("orders.created_at >= ? AND orders.created_at < ?", start, end).
		Where("NOT EXISTS (SELECT 1 FROM settlement_items si WHERE si.order_id = orders.id)").
		Where("orders.total > " + refundedSQL).
		Order("orders.id ASC").
		Scan(&rows).Error
	return rows, err
}

func (s *Service) latestForPeriod(ctx context.Context, tx *gorm.DB, storeID snowflake.ID, start, end time.Time) (*domain.Settlement, error) {
	var rows []domain.Settlement
	err := tx.WithContext(ctx).
		Where("store_id = ? AND period_start = ? AND period_end = ?", storeID, start, end).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (s *Service) policyFor(ctx context.Context, tx *gorm.DB, storeID snowflake.ID) (fee.Policy, error) {
	var rows []domain.FeePolicy
	if err := tx.WithContext(ctx).Where("store_id = ?", storeID).Limit(1).Find(&rows).Error; err != nil {
		return fee.Policy{}, err
	}
	if len(rows) == 0 {
		return s.defaultPolicy, nil
	}
	return rows[0].Policy(), nil
}

func (s *Service) RunForAllStores(ctx context.Context, start, end time.Time) (*domain.RunSummary, error) {
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return nil, domain.ErrInvalidPeriod
	}

	var storeIDs []snowflake.ID
	err := s.db.WithContext(ctx).Model(&orderdomain.Order{}).
		Distinct("store_id").
		Where("payment_status = ? AND created_at >= ? AND created_at < ?", orderdomain.PaymentStatusPaid, start, end).
		Where("NOT EXISTS (SELECT 1 FROM settlement_items si WHERE si.order_id = orders.id)").
		Where("orders.total > " + refundedSQL).
		Order("store_id").
		Pluck("store_id", &storeIDs).Error
	if err != nil {
		return nil, fmt.Errorf("list stores with unsettled orders: %w", err)
	}

	summary := &domain.RunSummary{Created: []snowflake.ID{}}
	for _, storeID := range storeIDs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		settlement, created, err := s.create(ctx, storeID, start, end)
		switch {
		case errors.Is(err, domain.ErrNoEligibleOrders):
			summary.Skipped++
		case err != nil:
			if summary.Failed == nil {
				summary.Failed = map[string]string{}
			}
			summary.Failed[storeID.String()] = err.Error()
			s.metrics.Settlement("failed_run")
			s.log.Error("settlement run failed for store", zap.String("store_id", storeID.String()), zap.Error(err))
		case created:
			summary.Created = append(summary.Created, settlement.ID)
		default:
			summary.Skipped++
		}
	}

	s.log.Info("settlement run finished",
		zap.Time("period_start", start),
		zap.Time("period_end", end),
		zap.Int("stores", len(storeIDs)),
		zap.Int("created", len(summary.Created)),
		zap.Int("failed", len(summary.Failed)))
	return summary, nil
}

func (s *Service) Approve(ctx context.Context, id snowflake.ID) (*domain.Settlement, error) {
	return s.transition(ctx, id, domain.StatusApproved, []domain.Status{domain.StatusCreated},
		func(tx *gorm.DB, st *domain.Settlement, now time.Time) map[string]any {
			return map[string]any{"approved_at": now}
		}, nil)
}

// MarkPaid releases the batch net from pending to available and books the
// payout as a debit against available.
func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID) (*domain.Settlement, error) {
	return s.transition(ctx, id, domain.StatusPaid, []domain.Status{domain.StatusApproved},
		func(tx *gorm.DB, st *domain.Settlement, now time.Time) map[string]any {
			return map[string]any{"paid_at": now}
		},
		func(tx *gorm.DB, st *domain.Settlement) error {
			if !st.Net.IsPositive() {
				return nil
			}
			if err := s.ledger.Release(ctx, tx, st.StoreID, st.Net); err != nil {
				return err
			}
			settlementID := st.ID
			_, err := s.ledger.Debit(ctx, tx, ledgerdomain.DebitInput{
				TenantID:     st.TenantID,
				StoreID:      st.StoreID,
				SettlementID: &settlementID,
				Amount:       st.Net,
				Currency:     st.Currency,
				Description:  "settlement payout " + st.ID.String(),
			})
			return err
		})
}

// MarkFailed keeps the items attached; the batch net stays in pending until
// an operator resolves the payout.
func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID, reason string) (*domain.Settlement, error) {
	return s.transition(ctx, id, domain.StatusFailed, []domain.Status{domain.StatusCreated, domain.StatusApproved},
		func(tx *gorm.DB, st *domain.Settlement, now time.Time) map[string]any {
			return map[string]any{"failed_at": now, "failure_reason": reason}
		}, nil)
}

type fieldsFunc func(tx *gorm.DB, st *domain.Settlement, now time.Time) map[string]any
type effectFunc func(tx *gorm.DB, st *domain.Settlement) error

func (s *Service) transition(ctx context.Context, id snowflake.ID, to domain.Status, from []domain.Status, fields fieldsFunc, effect effectFunc) (*domain.Settlement, error) {
	var out domain.Settlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []domain.Settlement
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return domain.ErrSettlementNotFound
		}
		st := rows[0]
		if !allowed(st.Status, from) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, st.Status, to)
		}

		now := s.clock.Now(ctx)
		updates := fields(tx, &st, now)
		updates["status"] = to
		updates["updated_at"] = now
		if err := tx.Model(&domain.Settlement{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if effect != nil {
			if err := effect(tx, &st); err != nil {
				return err
			}
		}
		return tx.Where("id = ?", id).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Settlement(string(to))
	s.log.Info("settlement transitioned", zap.String("settlement_id", id.String()), zap.String("status", string(to)))
	return &out, nil
}

func allowed(status domain.Status, from []domain.Status) bool {
	for _, f := range from {
		if status == f {
			return true
		}
	}
	return false
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Detail, error) {
	var rows []domain.Settlement
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrSettlementNotFound
	}
	var items []domain.Item
	if err := s.db.WithContext(ctx).Where("settlement_id = ?", id).Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return &domain.Detail{Settlement: rows[0], Items: items}, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Settlement, *pagination.PageInfo, error) {
	q := s.db.WithContext(ctx).Model(&domain.Settlement{})
	if filter.StoreID != nil {
		q = q.Where("store_id = ?", *filter.StoreID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.From != nil {
		q = q.Where("period_start >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("period_end <= ?", filter.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	page := filter.Pagination.Normalize()
	var rows []domain.Settlement
	if err := q.Order("created_at DESC, id DESC").
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	return rows, page.Info(total), nil
}

func (s *Service) SetFeePolicy(ctx context.Context, storeID snowflake.ID, policy fee.Policy) (*domain.FeePolicy, error) {
	if storeID == 0 {
		return nil, domain.ErrInvalidStore
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now(ctx)
	row := &domain.FeePolicy{
		ID:        s.genID.Generate(),
		StoreID:   storeID,
		Mode:      policy.Mode,
		Percent:   policy.Percent,
		Flat:      policy.Flat.Round(2),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"mode", "percent", "flat", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return nil, err
	}

	var out domain.FeePolicy
	if err := s.db.WithContext(ctx).Where("store_id = ?", storeID).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}
