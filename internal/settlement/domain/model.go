package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/storepay/internal/settlement/fee"
	"github.com/railzwaylabs/storepay/pkg/db/pagination"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCreated  Status = "created"
	StatusApproved Status = "approved"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
)

var (
	ErrInvalidPeriod      = errors.New("invalid_settlement_period")
	ErrInvalidStore       = errors.New("invalid_store")
	ErrNoEligibleOrders   = errors.New("no_eligible_orders")
	ErrSettlementNotFound = errors.New("settlement_not_found")
	ErrInvalidTransition  = errors.New("invalid_settlement_transition")
	ErrMixedCurrency      = errors.New("mixed_currency_batch")
)

type Settlement struct {
	ID            snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID      snowflake.ID    `json:"tenant_id" gorm:"not null"`
	StoreID       snowflake.ID    `json:"store_id" gorm:"not null;index:idx_settlements_store_period"`
	PeriodStart   time.Time       `json:"period_start" gorm:"not null;index:idx_settlements_store_period"`
	PeriodEnd     time.Time       `json:"period_end" gorm:"not null;index:idx_settlements_store_period"`
	Currency      string          `json:"currency" gorm:"type:varchar(3);not null"`
	Gross         decimal.Decimal `json:"gross_amount" gorm:"type:numeric(18,2);not null"`
	Fee           decimal.Decimal `json:"fee_amount" gorm:"type:numeric(18,2);not null"`
	Net           decimal.Decimal `json:"net_amount" gorm:"type:numeric(18,2);not null"`
	OrderCount    int             `json:"order_count" gorm:"not null"`
	FeeMode       fee.Mode        `json:"fee_mode" gorm:"type:varchar(16);not null"`
	Status        Status          `json:"status" gorm:"type:varchar(16);not null;index"`
	FailureReason string          `json:"failure_reason,omitempty" gorm:"type:text"`
	ApprovedAt    *time.Time      `json:"approved_at,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	FailedAt      *time.Time      `json:"failed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"not null"`
}

func (Settlement) TableName() string { return "settlements" }

// Item links one order to the settlement that paid it out. OrderID is unique
// so an order can never be settled twice.
type Item struct {
	ID           snowflake.ID    `json:"id" gorm:"primaryKey"`
	SettlementID snowflake.ID    `json:"settlement_id" gorm:"not null;index"`
	StoreID      snowflake.ID    `json:"store_id" gorm:"not null"`
	OrderID      snowflake.ID    `json:"order_id" gorm:"not null;uniqueIndex"`
	Gross        decimal.Decimal `json:"gross_amount" gorm:"type:numeric(18,2);not null"`
	Fee          decimal.Decimal `json:"fee_amount" gorm:"type:numeric(18,2);not null"`
	Net          decimal.Decimal `json:"net_amount" gorm:"type:numeric(18,2);not null"`
	CreatedAt    time.Time       `json:"created_at" gorm:"not null"`
}

func (Item) TableName() string { return "settlement_items" }

type FeePolicy struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	StoreID   snowflake.ID    `json:"store_id" gorm:"not null;uniqueIndex"`
	Mode      fee.Mode        `json:"mode" gorm:"type:varchar(16);not null"`
	Percent   decimal.Decimal `json:"percent" gorm:"type:numeric(7,4);not null"`
	Flat      decimal.Decimal `json:"flat" gorm:"type:numeric(18,2);not null"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"not null"`
}

func (FeePolicy) TableName() string { return "store_fee_policies" }

func (p *FeePolicy) Policy() fee.Policy {
	return fee.Policy{Mode: p.Mode, Percent: p.Percent, Flat: p.Flat}
}

type Detail struct {
	Settlement
	Items []Item `json:"items"`
}

type ListFilter struct {
	StoreID *snowflake.ID
	Status  Status
	From    *time.Time
	To      *time.Time
	pagination.Pagination
}

// RunSummary reports a batch run over many stores.
type RunSummary struct {
	Created []snowflake.ID    `json:"created"`
	Skipped int               `json:"skipped"`
	Failed  map[string]string `json:"failed,omitempty"`
}

type Service interface {
	CreateForPeriod(ctx context.Context, storeID snowflake.ID, start, end time.Time) (*Settlement, error)
	RunForAllStores(ctx context.Context, start, end time.Time) (*RunSummary, error)
	Approve(ctx context.Context, id snowflake.ID) (*Settlement, error)
	MarkPaid(ctx context.Context, id snowflake.ID) (*Settlement, error)
	MarkFailed(ctx context.Context, id snowflake.ID, reason string) (*Settlement, error)
	Get(ctx context.Context, id snowflake.ID) (*Detail, error)
	List(ctx context.Context, filter ListFilter) ([]Settlement, *pagination.PageInfo, error)
	Statement(ctx context.Context, id snowflake.ID) ([]byte, error)
	SetFeePolicy(ctx context.Context, storeID snowflake.ID, policy fee.Policy) (*FeePolicy, error)
}
