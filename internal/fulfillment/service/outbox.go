package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/storepay/internal/fulfillment/domain"
	orderdomain "github.com/railzwaylabs/storepay/internal/order/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxParams struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
}

type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutbox(p OutboxParams) domain.Outbox {
	return &Outbox{db: p.DB, genID: p.GenID}
}

func (o *Outbox) Enqueue(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, kinds ...domain.TaskKind) error {
	if order == nil || len(kinds) == 0 {
		return nil
	}
	if tx == nil {
		tx = o.db
	}
	now := time.Now().UTC()
	tasks := make([]domain.Task, 0, len(kinds))
	for _, kind := range kinds {
		tasks = append(tasks, domain.Task{
			ID:            o.genID.Generate(),
			TenantID:      order.TenantID,
			StoreID:       order.StoreID,
			OrderID:       order.ID,
			Kind:          kind,
			Status:        domain.TaskStatusPending,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&tasks).Error
}
