package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/storepay/internal/order/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Order{}))
	return db
}

func TestMarkAsPaid_IsIdempotent(t *testing.T) {
	db := setupDB(t)
	svc := New(Params{DB: db, Log: zap.NewNop()})
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, db.Create(&domain.Order{
		ID: 1, TenantID: 10, StoreID: 20, Total: decimal.RequireFromString("100.00"),
		Currency: "SAR", PaymentStatus: domain.PaymentStatusPending, CreatedAt: now, UpdatedAt: now,
	}).Error)

	already, err := svc.MarkAsPaid(ctx, nil, 1, "card", now)
	require.NoError(t, err)
	require.False(t, already)

	already, err = svc.MarkAsPaid(ctx, nil, 1, "card", now)
	require.NoError(t, err)
	require.True(t, already)

	require.NoError(t, svc.MarkPaymentFailed(ctx, nil, 1))
	order, err := svc.FindByID(ctx, nil, 1)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	require.NotNil(t, order.PaidAt)
}

func TestFindByID_NotFound(t *testing.T) {
	db := setupDB(t)
	svc := New(Params{DB: db, Log: zap.NewNop()})

	_, err := svc.FindByID(context.Background(), nil, 99)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}
