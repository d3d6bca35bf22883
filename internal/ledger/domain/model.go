package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type EntryType string

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
)

var (
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidStore    = errors.New("invalid_store")
	ErrAccountNotFound = errors.New("ledger_account_not_found")
)

// Entry is an immutable ledger posting. OrderID is set only for order-level
// credits and is unique, which makes a second credit for the same order
// impossible.
type Entry struct {
	ID           snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID     snowflake.ID    `json:"tenant_id" gorm:"not null;index"`
	StoreID      snowflake.ID    `json:"store_id" gorm:"not null;index"`
	OrderID      *snowflake.ID   `json:"order_id,omitempty" gorm:"uniqueIndex:ux_ledger_entries_order"`
	SettlementID *snowflake.ID   `json:"settlement_id,omitempty" gorm:"index"`
	RefundID     *snowflake.ID   `json:"refund_id,omitempty" gorm:"index"`
	Type         EntryType       `json:"type" gorm:"type:varchar(8);not null"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Currency     string          `json:"currency" gorm:"type:varchar(3);not null"`
	Description  string          `json:"description" gorm:"type:text"`
	CreatedAt    time.Time       `json:"created_at" gorm:"not null"`
}

func (Entry) TableName() string { return "ledger_entries" }

// Account tracks a store's balances. Pending holds settled-but-unpaid net,
// Available holds amounts released for payout.
type Account struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	StoreID          snowflake.ID    `json:"store_id" gorm:"not null;uniqueIndex"`
	Currency         string          `json:"currency" gorm:"type:varchar(3);not null"`
	PendingBalance   decimal.Decimal `json:"pending_balance" gorm:"type:numeric(18,2);not null"`
	AvailableBalance decimal.Decimal `json:"available_balance" gorm:"type:numeric(18,2);not null"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"not null"`
}

func (Account) TableName() string { return "ledger_accounts" }

type CreditInput struct {
	TenantID    snowflake.ID
	StoreID     snowflake.ID
	OrderID     snowflake.ID
	Amount      decimal.Decimal
	Currency    string
	Description string
}

type DebitInput struct {
	TenantID     snowflake.ID
	StoreID      snowflake.ID
	SettlementID *snowflake.ID
	RefundID     *snowflake.ID
	Amount       decimal.Decimal
	Currency     string
	Description  string
	// Bucket selects the balance the debit reduces. The zero value is
	// BucketAvailable.
	Bucket Bucket
}

type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketPending   Bucket = "pending"
	// BucketNone records the entry without moving a balance.
	BucketNone Bucket = "none"
)

type Balance struct {
	StoreID   string          `json:"store_id"`
	Currency  string          `json:"currency"`
	Pending   decimal.Decimal `json:"pending_balance"`
	Available decimal.Decimal `json:"available_balance"`
	Credited  decimal.Decimal `json:"total_credited"`
	Debited   decimal.Decimal `json:"total_debited"`
}

// Service posts ledger entries. Methods taking tx must run inside the
// caller's transaction so postings commit or roll back with the business
// change that caused them.
type Service interface {
	// CreditOrder returns created=false when the order already has a credit.
	CreditOrder(ctx context.Context, tx *gorm.DB, in CreditInput) (created bool, err error)
	Debit(ctx context.Context, tx *gorm.DB, in DebitInput) (*Entry, error)
	LockAccount(ctx context.Context, tx *gorm.DB, storeID snowflake.ID, currency string) (*Account, error)
	AddPending(ctx context.Context, tx *gorm.DB, storeID snowflake.ID, currency string, amount decimal.Decimal) error
	Release(ctx context.Context, tx *gorm.DB, storeID snowflake.ID, amount decimal.Decimal) error
	Balance(ctx context.Context, storeID snowflake.ID) (*Balance, error)
}
