package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/storepay/internal/clock"
	"github.com/railzwaylabs/storepay/internal/ledger/domain"
	"github.com/railzwaylabs/storepay/internal/observability"
	"github.com/railzwaylabs/storepay/pkg/db"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *observability.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *observability.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *Service) CreditOrder(ctx context.Context, tx *gorm.DB, in domain.CreditInput) (bool, error) {
	if in.OrderID == 0 || in.StoreID == 0 {
		return false, domain.ErrInvalidStore
	}
	if !in.Amount.IsPositive() {
		return false, domain.ErrInvalidAmount
	}

	orderID := in.OrderID
	entry := domain.Entry{
		ID:          s.genID.Generate(),
		TenantID:    in.TenantID,
		StoreID:     in.StoreID,
		OrderID:     &orderID,
		Type:        domain.EntryTypeCredit,
		Amount:      in.Amount.Round(2),
		Currency:    in.Currency,
		Description: in.Description,
		CreatedAt:   s.clock.Now(ctx),
	}

	// The nested transaction is a savepoint when tx is already a transaction,
	// so a unique violation does not abort the caller's work on postgres.
	err := s.conn(tx).WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		return sp.Create(&entry).Error
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			s.metrics.Ledger(string(domain.EntryTypeCredit), "duplicate")
			s.log.Debug("order already credited", zap.String("order_id", orderID.String()))
			return false, nil
		}
		s.metrics.Ledger(string(domain.EntryTypeCredit), "error")
		return false, fmt.Errorf("insert ledger credit: %w", err)
	}

	s.metrics.Ledger(string(domain.EntryTypeCredit), "created")
	s.log.Info("ledger credit posted",
		zap.String("order_id", orderID.String()),
		zap.String("store_id", in.StoreID.String()),
		zap.String("amount", entry.Amount.StringFixed(2)))
	return true, nil
}

func (s *Service) Debit(ctx context.Context, tx *gorm.DB, in domain.DebitInput) (*domain.Entry, error) {
	if in.StoreID == 0 {
		return nil, domain.ErrInvalidStore
	}
	if !in.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	conn := s.conn(tx).WithContext(ctx)

	account, err := s.LockAccount(ctx, conn, in.StoreID, in.Currency)
	if err != nil {
		return nil, err
	}

	amount := in.Amount.Round(2)
	now := s.clock.Now(ctx)
	fields := map[string]any{"updated_at": now}
	switch in.Bucket {
	case domain.BucketNone:
	case domain.BucketPending:
		fields["pending_balance"] = account.PendingBalance.Sub(amount)
	case domain.BucketAvailable, "":
		fields["available_balance"] = account.AvailableBalance.Sub(amount)
	default:
		return nil, fmt.Errorf("unknown ledger bucket %q", in.Bucket)
	}
	if err := conn.Model(&domain.Account{}).
		Where("id = ?", account.ID).
		Updates(fields).Error; err != nil {
		return nil, err
	}

	entry := &domain.Entry{
		ID:           s.genID.Generate(),
		TenantID:     in.TenantID,
		StoreID:      in.StoreID,
		SettlementID: in.SettlementID,
		RefundID:     in.RefundID,
		Type:         domain.EntryTypeDebit,
		Amount:       amount,
		Currency:     in.Currency,
		Description:  in.Description,
		CreatedAt:    now,
	}
	if err := conn.Create(entry).Error; err != nil {
		s.metrics.Ledger(string(domain.EntryTypeDebit), "error")
		return nil, fmt.Errorf("insert ledger debit: %w", err)
	}
	s.metrics.Ledger(string(domain.EntryTypeDebit), "created")
	return entry, nil
}

// LockAccount returns the store's account row locked FOR UPDATE, creating it
// first when the store has never been posted to.
func (s *Service) LockAccount(ctx context.Context, tx *gorm.DB, storeID snowflake.ID, currency string) (*domain.Account, error) {
	if storeID == 0 {
		return nil, domain.ErrInvalidStore
	}
	conn := s.conn(tx).WithContext(ctx)
	now := s.clock.Now(ctx)

	seed := domain.Account{
		ID:               s.genID.Generate(),
		StoreID:          storeID,
		Currency:         currency,
		PendingBalance:   decimal.Zero,
		AvailableBalance: decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_id"}},
		DoNothing: true,
	}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("ensure ledger account: %w", err)
	}

	var account domain.Account
	err := conn.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("store_id = ?", storeID).
		First(&account).Error
	if err != nil {
		return nil, fmt.Errorf("lock ledger account: %w", err)
	}
	return &account, nil
}

func (s *Service) AddPending(ctx context.Context, tx *gorm.DB, storeID snowflake.ID, currency string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return domain.ErrInvalidAmount
	}
	conn := s.conn(tx).WithContext(ctx)
	account, err := s.LockAccount(ctx, conn, storeID, currency)
	if err != nil {
		return err
	}
	return conn.Model(&domain.Account{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"pending_balance": account.PendingBalance.Add(amount.Round(2)),
			"updated_at":      s.clock.Now(ctx),
		}).Error
}

// Release moves amount from pending to available.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, storeID snowflake.ID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return domain.ErrInvalidAmount
	}
	conn := s.conn(tx).WithContext(ctx)

	var account domain.Account
	err := conn.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("store_id = ?", storeID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrAccountNotFound
	}
	if err != nil {
		return err
	}

	amount = amount.Round(2)
	return conn.Model(&domain.Account{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"pending_balance":   account.PendingBalance.Sub(amount),
			"available_balance": account.AvailableBalance.Add(amount),
			"updated_at":        s.clock.Now(ctx),
		}).Error
}

func (s *Service) Balance(ctx context.Context, storeID snowflake.ID) (*domain.Balance, error) {
	var account domain.Account
	err := s.db.WithContext(ctx).Where("store_id = ?", storeID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	var entries []domain.Entry
	if err := s.db.WithContext(ctx).
		Select("type", "amount").
		Where("store_id = ?", storeID).
		Find(&entries).Error; err != nil {
		return nil, err
	}

	credited, debited := decimal.Zero, decimal.Zero
	for _, e := range entries {
		switch e.Type {
		case domain.EntryTypeCredit:
			credited = credited.Add(e.Amount)
		case domain.EntryTypeDebit:
			debited = debited.Add(e.Amount)
		}
	}

	return &domain.Balance{
		StoreID:   storeID.String(),
		Currency:  account.Currency,
		Pending:   account.PendingBalance,
		Available: account.AvailableBalance,
		Credited:  credited,
		Debited:   debited,
	}, nil
}
