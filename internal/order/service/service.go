package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/storepay/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(p Params) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("order.service"),
	}
}

func (s *Service) conn(db *gorm.DB) *gorm.DB {
	if db != nil {
		return db
	}
	return s.db
}

func (s *Service) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := s.conn(db).WithContext(ctx).Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Service) ForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := s.conn(tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Service) MarkAsPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, method string, paidAt time.Time) (bool, error) {
	order, err := s.ForUpdate(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if order.IsPaid() {
		return true, nil
	}
	paidAt = paidAt.UTC()
	err = s.conn(tx).WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"payment_status": domain.PaymentStatusPaid,
			"payment_method": method,
			"paid_at":        paidAt,
			"updated_at":     time.Now().UTC(),
		}).Error
	if err != nil {
		return false, err
	}
	s.log.Info("order marked paid", zap.String("order_id", id.String()), zap.String("method", method))
	return false, nil
}

func (s *Service) MarkPaymentPending(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return s.setStatusUnlessPaid(ctx, tx, id, domain.PaymentStatusPending)
}

func (s *Service) MarkPaymentFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return s.setStatusUnlessPaid(ctx, tx, id, domain.PaymentStatusFailed)
}

func (s *Service) setStatusUnlessPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, status domain.PaymentStatus) error {
	res := s.conn(tx).WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND payment_status <> ?", id, domain.PaymentStatusPaid).
		Updates(map[string]any{
			"payment_status": status,
			"updated_at":     time.Now().UTC(),
		})
	return res.Error
}
