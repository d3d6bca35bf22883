package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "unpaid"
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Order is the storefront order as seen by the payment engine. Only the
// payment-related columns are mapped.
type Order struct {
	ID            snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID      snowflake.ID    `json:"tenant_id" gorm:"not null;index"`
	StoreID       snowflake.ID    `json:"store_id" gorm:"not null;index"`
	Number        string          `json:"number" gorm:"type:varchar(64)"`
	CustomerName  string          `json:"customer_name" gorm:"type:varchar(255)"`
	CustomerPhone string          `json:"customer_phone" gorm:"type:varchar(32)"`
	CustomerEmail string          `json:"customer_email" gorm:"type:varchar(255)"`
	Total         decimal.Decimal `json:"total" gorm:"type:numeric(18,2);not null"`
	Currency      string          `json:"currency" gorm:"type:varchar(3);not null"`
	PaymentStatus PaymentStatus   `json:"payment_status" gorm:"type:varchar(16);not null;index"`
	PaymentMethod string          `json:"payment_method" gorm:"type:varchar(32)"`
	PaidAt        *time.Time      `json:"paid_at" gorm:"index"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) IsPaid() bool {
	return o != nil && o.PaymentStatus == PaymentStatusPaid
}

type ShipmentStatus string

const (
	ShipmentStatusPending ShipmentStatus = "pending"
	ShipmentStatusShipped ShipmentStatus = "shipped"
)

type Shipment struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrderID   snowflake.ID   `json:"order_id" gorm:"not null;uniqueIndex"`
	StoreID   snowflake.ID   `json:"store_id" gorm:"not null;index"`
	Carrier   string         `json:"carrier" gorm:"type:varchar(64);not null"`
	Status    ShipmentStatus `json:"status" gorm:"type:varchar(16);not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null"`
}

func (Shipment) TableName() string { return "shipments" }
