package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrOrderNotFound = errors.New("order_not_found")

// Service is the narrow order contract used by the payment engine. Methods
// taking a *gorm.DB participate in the caller's transaction; a nil db uses the
// service's own connection.
type Service interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	// ForUpdate loads the order with a row lock held until the transaction ends.
	ForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Order, error)
	// MarkAsPaid reports whether the order was already paid before the call.
	MarkAsPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, method string, paidAt time.Time) (alreadyPaid bool, err error)
	MarkPaymentPending(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
	MarkPaymentFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
}
