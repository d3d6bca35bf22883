package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type TaskKind string

const (
	TaskCreateShipment TaskKind = "create_shipment"
	TaskNotifyMerchant TaskKind = "notify_merchant"
	TaskNotifyCustomer TaskKind = "notify_customer_sms"
	TaskTrackTelemetry TaskKind = "track_telemetry"
)

// PaidOrderTasks are enqueued once when an order first becomes paid.
var PaidOrderTasks = []TaskKind{
	TaskCreateShipment,
	TaskNotifyMerchant,
	TaskNotifyCustomer,
	TaskTrackTelemetry,
}

type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// Task is an outbox row written in the same transaction as the payment
// transition that caused it. (order_id, kind) is unique.
type Task struct {
	ID            snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID      snowflake.ID   `json:"tenant_id" gorm:"not null;index"`
	StoreID       snowflake.ID   `json:"store_id" gorm:"not null"`
	OrderID       snowflake.ID   `json:"order_id" gorm:"not null;uniqueIndex:ux_fulfillment_tasks_order_kind"`
	Kind          TaskKind       `json:"kind" gorm:"type:varchar(32);not null;uniqueIndex:ux_fulfillment_tasks_order_kind"`
	Status        TaskStatus     `json:"status" gorm:"type:varchar(16);not null;index"`
	Attempts      int            `json:"attempts" gorm:"not null"`
	LastError     string         `json:"last_error" gorm:"type:text"`
	Payload       datatypes.JSON `json:"payload"`
	NextAttemptAt time.Time      `json:"next_attempt_at" gorm:"not null;index"`
	CompletedAt   *time.Time     `json:"completed_at"`
	CreatedAt     time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"not null"`
}

func (Task) TableName() string { return "fulfillment_tasks" }
