package domain

import (
	"context"

	orderdomain "github.com/railzwaylabs/storepay/internal/order/domain"
	"gorm.io/gorm"
)

type ShippingService interface {
	CreateShipment(ctx context.Context, order *orderdomain.Order) error
}

type MerchantNotifier interface {
	NotifyOrderPlaced(ctx context.Context, order *orderdomain.Order) error
}

type SmsSender interface {
	Send(ctx context.Context, phone, message string) error
}

type Telemetry interface {
	Track(ctx context.Context, event string, props map[string]any) error
}

// Outbox records side effects inside the caller's transaction.
type Outbox interface {
	Enqueue(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, kinds ...TaskKind) error
}

// Kicker wakes the dispatcher after a commit so tasks run without waiting
// for the next scheduler tick.
type Kicker interface {
	Kick()
}
