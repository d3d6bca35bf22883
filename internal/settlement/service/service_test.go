package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/storepay/internal/clock"
	"github.com/railzwaylabs/storepay/internal/config"
	ledgerdomain "github.com/railzwaylabs/storepay/internal/ledger/domain"
	ledgerservice "github.com/railzwaylabs/storepay/internal/ledger/service"
	orderdomain "github.com/railzwaylabs/storepay/internal/order/domain"
	paymentdomain "github.com/railzwaylabs/storepay/internal/payment/domain"
	"github.com/railzwaylabs/storepay/internal/settlement/domain"
	"github.com/railzwaylabs/storepay/internal/settlement/fee"
	"github.com/railzwaylabs/storepay/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	day1 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 = day1.Add(24 * time.Hour)
	day3 = day2.Add(24 * time.Hour)
)

type fixture struct {
	db     *gorm.DB
	ledger ledgerdomain.Service
	svc    *Service
	nextID snowflake.ID
}

func setup(t *testing.T, cfg config.SettlementConfig) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&orderdomain.Order{}, &paymentdomain.RefundRecord{},
		&ledgerdomain.Entry{}, &ledgerdomain.Account{},
		&domain.Settlement{}, &domain.Item{}, &domain.FeePolicy{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	clk := clock.NewManual(day3.Add(time.Hour))
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: clk})

	svc := NewService(Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Ledger: ledger,
		Clock:  clk,
		Cfg: config.Config{
			Payments:   config.PaymentsConfig{DefaultCurrency: "SAR"},
			Settlement: cfg,
		},
	}).(*Service)
	return &fixture{db: db, ledger: ledger, svc: svc, nextID: 1000}
}

func (f *fixture) order(t *testing.T, storeID snowflake.ID, total string, status orderdomain.PaymentStatus, created time.Time) snowflake.ID {
	t.Helper()
	f.nextID++
	require.NoError(t, f.db.Create(&orderdomain.Order{
		ID:            f.nextID,
		TenantID:      10,
		StoreID:       storeID,
		Total:         decimal.RequireFromString(total),
		Currency:      "SAR",
		PaymentStatus: status,
		CreatedAt:     created,
		UpdatedAt:     created,
	}).Error)
	return f.nextID
}

func (f *fixture) refund(t *testing.T, orderID snowflake.ID, amount string, status paymentdomain.RefundStatus) {
	t.Helper()
	f.nextID++
	require.NoError(t, f.db.Create(&paymentdomain.RefundRecord{
		ID:        f.nextID,
		TenantID:  10,
		StoreID:   20,
		IntentID:  1,
		OrderID:   orderID,
		Provider:  "stripe",
		Amount:    decimal.RequireFromString(amount),
		Currency:  "SAR",
		Status:    status,
		CreatedAt: day1,
		UpdatedAt: day1,
	}).Error)
}

func TestCreateForPeriod_PaidOrderScenario(t *testing.T) {
	f := setup(t, config.SettlementConfig{DefaultFeeMode: "per_order", DefaultFeePercent: "2.5", DefaultFeeFlat: "0"})
	ctx := context.Background()
	orderID := f.order(t, 20, "100.00", orderdomain.PaymentStatusPaid, day1.Add(3*time.Hour))
	f.order(t, 20, "40.00", orderdomain.PaymentStatusPending, day1.Add(4*time.Hour))

	st, err := f.svc.CreateForPeriod(ctx, 20, day1, day2)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, st.Status)
	assert.Equal(t, 1, st.OrderCount)
	assert.Equal(t, "100.00", st.Gross.StringFixed(2))
	assert.Equal(t, "2.50", st.Fee.StringFixed(2))
	assert.Equal(t, "97.50", st.Net.StringFixed(2))
	assert.Equal(t, "SAR", st.Currency)

	detail, err := f.svc.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, orderID, detail.Items[0].OrderID)
	assert.True(t, detail.Items[0].Net.Equal(st.Net))

	balance, err := f.ledger.Balance(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, "97.50", balance.Pending.StringFixed(2))
	assert.Equal(t, "0.00", balance.Available.StringFixed(2))

	_, err = f.svc.Approve(ctx, st.ID)
	require.NoError(t, err)
	paid, err := f.svc.MarkPaid(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	balance, err = f.ledger.Balance(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, "0.00", balance.Pending.StringFixed(2))
	assert.Equal(t, "0.00", balance.Available.StringFixed(2))
	assert.Equal(t, "97.50", balance.Debited.StringFixed(2))

	var payout ledgerdomain.Entry
	require.NoError(t, f.db.Where("settlement_id = ?", st.ID).First(&payout).Error)
	assert.Equal(t, ledgerdomain.EntryTypeDebit, payout.Type)
}

func TestCreateForPeriod_NeverSettlesAnOrderTwice(t *testing.T) {
	f := setup(t, config.SettlementConfig{})
	ctx := context.Background()
	f.order(t, 20, "10.00", orderdomain.PaymentStatusPaid, day1.Add(time.Hour))
	f.order(t, 20, "15.00", orderdomain.PaymentStatusPaid, day2.Add(time.Hour))

	first, err := f.svc.CreateForPeriod(ctx, 20, day1, day2)
	require.NoError(t, err)
	assert.Equal(t, 1, first.OrderCount)

	// A rerun over the same period returns the existing batch.
	again, err := f.svc.CreateForPeriod(ctx, 20, day1, day2)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	// An overlapping wider period only picks up what is left.
	wide, err := f.svc.CreateForPeriod(ctx, 20, day1, day3)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, wide.ID)
	assert.Equal(t, 1, wide.OrderCount)
	assert.Equal(t, "15.00", wide.Gross.StringFixed(2))

	_, err = f.svc.CreateForPeriod(ctx, 20, day2, day3)
	require.ErrorIs(t, err, domain.ErrNoEligibleOrders)

	var items int64
	require.NoError(t, f.db.Model(&domain.Item{}).Count(&items).Error)
	assert.Equal(t, int64(2), items)

	balance, err := f.ledger.Balance(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, "25.00", balance.Pending.StringFixed(2))
}

func TestCreateForPeriod_NetsApprovedRefunds(t *testing.T) {
	f := setup(t, config.SettlementConfig{DefaultFeeMode: "per_order", DefaultFeePercent: "2.5", DefaultFeeFlat: "0"})
	ctx := context.Background()
	partial := f.order(t, 20, "100.00", orderdomain.PaymentStatusPaid, day1.Add(time.Hour))
	f.refund(t, partial, "40.00", paymentdomain.RefundStatusApproved)
	f.refund(t, partial, "5.00", paymentdomain.RefundStatusFailed)
	f.refund(t, partial, "7.00", paymentdomain.RefundStatusPending)

	full := f.order(t, 20, "30.00", orderdomain.PaymentStatusPaid, day1.Add(2*time.Hour))
	f.refund(t, full, "10.00", paymentdomain.RefundStatusApproved)
	f.refund(t, full, "20.00", paymentdomain.RefundStatusApproved)

	st, err := f.svc.CreateForPeriod(ctx, 20, day1, day2)
	require.NoError(t, err)
	assert.Equal(t, 1, st.OrderCount)
	assert.Equal(t, "60.00", st.Gross.StringFixed(2))
	assert.Equal(t, "1.50", st.Fee.StringFixed(2))
	assert.Equal(t, "58.50", st.Net.StringFixed(2))

	detail, err := f.svc.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, partial, detail.Items[0].OrderID)

	balance, err := f.ledger.Balance(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, "58.50", balance.Pending.StringFixed(2))
}

func TestCreateForPeriod_FullyRefundedOrdersAreNotSettled(t *testing.T) {
	f := setup(t, config.SettlementConfig{})
	ctx := context.Background()
	orderID := f.order(t, 20, "25.00", orderdomain.PaymentStatusPaid, day1.Add(time.Hour))
	f.refund(t, orderID, "25.00", paymentdomain.RefundStatusApproved)

	_, err := f.svc.CreateForPeriod(ctx, 20, day1, day2)
	require.ErrorIs(t, err, domain.ErrNoEligibleOrders)

	summary, err := f.svc.RunForAllStores(ctx, day1, day2)
	require.NoError(t, err)
	assert.Empty(t, summary.Created)
	assert.Empty(t, summary.Failed)
}

func TestCreateForPeriod_ConcurrentRunsCreateOneBatch(t *testing.T) {
	f := setup(t, config.SettlementConfig{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.order(t, 20, "20.00", orderdomain.PaymentStatusPaid, day1.Add(time.Duration(i)*time.Hour))
	}

	var wg sync.WaitGroup
	ids := make([]snowflake.ID, 6)
	errs := make([]error, 6)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, err := f.svc.CreateForPeriod(ctx, 20, day1, day2)
			errs[i] = err
			if st != nil {
				ids[i] = st.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	var count int64
	require.NoError(t, f.db.Model(&domain.Settlement{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	balance, err := f.ledger.Balance(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, "100.00", balance.Pending.StringFixed(2))
}

func TestCreateForPeriod_StorePolicyOverridesDefault(t *testing.T) {
	f := setup(t, config.SettlementConfig{DefaultFeeMode: "per_order", DefaultFeePercent: "10", DefaultFeeFlat: "0"})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.order(t, 20, "10.00", orderdomain.PaymentStatusPaid, day1.Add(time.Duration(i)*time.Hour))
	}

	policy, err := f.svc.SetFeePolicy(ctx, 20, fee.Policy{Mode: fee.ModePerBatch, Percent: decimal.Zero, Flat: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, fee.ModePerBatch, policy.Mode)

	// Upsert keeps one row per store.
	_, err = f.svc.SetFeePolicy(ctx, 20, fee.Policy{Mode: fee.ModePerBatch, Percent: decimal.Zero, Flat: decimal.NewFromInt(1)})
	require.NoError(t, err)
	var rows int64
	require.NoError(t, f.db.Model(&domain.FeePolicy{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)

	st, err := f.svc.CreateForPeriod(ctx, 20, day1, day2)
	require.NoError(t, err)
	assert.Equal(t, fee.ModePerBatch, st.FeeMode)
	assert.Equal(t, "1.00", st.Fee.StringFixed(2))
	assert.Equal(t, "29.00", st.Net.StringFixed(2))

	detail, err := f.svc.Get(ctx, st.ID)
	require.NoError(t, err)
	fees, nets := decimal.Zero, decimal.Zero
	for _, item := range detail.Items {
		fees = fees.Add(item.Fee)
		nets = nets.Add(item.Net)
	}
	assert.True(t, fees.Equal(st.Fee))
	assert.True(t, nets.Equal(st.Net))

	_, err = f.svc.SetFeePolicy(ctx, 20, fee.Policy{Mode: "weekly"})
	require.Error(t, err)
}

func TestCreateForPeriod_InvalidInput(t *testing.T) {
	f := setup(t, config.SettlementConfig{})
	ctx := context.Background()

	_, err := f.svc.CreateForPeriod(ctx, 20, day2, day1)
	require.ErrorIs(t, err, domain.ErrInvalidPeriod)
	_, err = f.svc.CreateForPeriod(ctx, 20, day1, day1)
	require.ErrorIs(t, err, domain.ErrInvalidPeriod)
	_, err = f.svc.CreateForPeriod(ctx, 0, day1, day2)
	require.ErrorIs(t, err, domain.ErrInvalidStore)
	_, err = f.svc.CreateForPeriod(ctx, 20, day1, day2)
	require.ErrorIs(t, err, domain.ErrNoEligibleOrders)
}

func TestTransitions(t *testing.T) {
	f := setup(t, config.SettlementConfig{})
	ctx := context.Background()
	f.order(t, 20, "10.00", orderdomain.PaymentStatusPaid, day1.Add(time.Hour))
	st, err := f.svc.CreateForPeriod(ctx, 20, day1, day2)
	require.NoError(t, err)

	_, err = f.svc.MarkPaid(ctx, st.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Approve(ctx, 42)
	require.ErrorIs(t, err, domain.ErrSettlementNotFound)

	failed, err := f.svc.MarkFailed(ctx, st.ID, "bank_rejected")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, "bank_rejected", failed.FailureReason)
	require.NotNil(t, failed.FailedAt)

	_, err = f.svc.Approve(ctx, st.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	// Failed batches keep their items and pending amount.
	balance, err := f.ledger.Balance(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, "10.00", balance.Pending.StringFixed(2))
	_, err = f.svc.CreateForPeriod(ctx, 20, day1, day3)
	require.ErrorIs(t, err, domain.ErrNoEligibleOrders)
}

func TestRunForAllStores(t *testing.T) {
	f := setup(t, config.SettlementConfig{})
	ctx := context.Background()
	f.order(t, 20, "10.00", orderdomain.PaymentStatusPaid, day1.Add(time.Hour))
	f.order(t, 21, "12.00", orderdomain.PaymentStatusPaid, day1.Add(2*time.Hour))
	f.order(t, 22, "14.00", orderdomain.PaymentStatusFailed, day1.Add(2*time.Hour))

	summary, err := f.svc.RunForAllStores(ctx, day1, day2)
	require.NoError(t, err)
	assert.Len(t, summary.Created, 2)
	assert.Empty(t, summary.Failed)

	summary, err = f.svc.RunForAllStores(ctx, day1, day2)
	require.NoError(t, err)
	assert.Empty(t, summary.Created)

	_, err = f.svc.RunForAllStores(ctx, day2, day1)
	require.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestList(t *testing.T) {
	f := setup(t, config.SettlementConfig{})
	ctx := context.Background()
	f.order(t, 20, "10.00", orderdomain.PaymentStatusPaid, day1.Add(time.Hour))
	f.order(t, 20, "11.00", orderdomain.PaymentStatusPaid, day2.Add(time.Hour))
	f.order(t, 21, "12.00", orderdomain.PaymentStatusPaid, day1.Add(time.Hour))

	first, err := f.svc.CreateForPeriod(ctx, 20, day1, day2)
	require.NoError(t, err)
	_, err = f.svc.CreateForPeriod(ctx, 20, day2, day3)
	require.NoError(t, err)
	_, err = f.svc.CreateForPeriod(ctx, 21, day1, day2)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, first.ID)
	require.NoError(t, err)

	store := snowflake.ID(20)
	rows, page, err := f.svc.List(ctx, domain.ListFilter{StoreID: &store, Pagination: pagination.Pagination{Page: 1, PageSize: 1}})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, int64(2), page.Total)
	assert.True(t, page.HasMore)

	rows, _, err = f.svc.List(ctx, domain.ListFilter{Status: domain.StatusApproved})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, first.ID, rows[0].ID)

	from := day2
	rows, _, err = f.svc.List(ctx, domain.ListFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStatement(t *testing.T) {
	f := setup(t, config.SettlementConfig{DefaultFeeMode: "per_order", DefaultFeePercent: "2.5"})
	ctx := context.Background()
	f.order(t, 20, "100.00", orderdomain.PaymentStatusPaid, day1.Add(time.Hour))
	f.order(t, 20, "50.00", orderdomain.PaymentStatusPaid, day1.Add(2*time.Hour))
	st, err := f.svc.CreateForPeriod(ctx, 20, day1, day2)
	require.NoError(t, err)

	pdf, err := f.svc.Statement(ctx, st.ID)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))

	_, err = f.svc.Statement(ctx, 42)
	require.ErrorIs(t, err, domain.ErrSettlementNotFound)
}

func TestDefaultPolicy_FallsBackOnBadConfig(t *testing.T) {
	p := defaultPolicy(config.SettlementConfig{DefaultFeeMode: "hourly", DefaultFeePercent: "5"}, zap.NewNop())
	assert.Equal(t, fee.ModePerOrder, p.Mode)
	assert.True(t, p.Percent.IsZero())

	p = defaultPolicy(config.SettlementConfig{DefaultFeeMode: "per_batch", DefaultFeePercent: "1.5", DefaultFeeFlat: "0.25"}, zap.NewNop())
	assert.Equal(t, fee.ModePerBatch, p.Mode)
	assert.Equal(t, "1.5", p.Percent.String())
	assert.Equal(t, "0.25", p.Flat.String())
}
