package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/storepay/internal/config"
	"github.com/railzwaylabs/storepay/internal/fulfillment/domain"
	orderdomain "github.com/railzwaylabs/storepay/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ShippingParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	GenID *snowflake.Node
}

// Shipping records a pending shipment for the order's store. An existing
// shipment for the order is left untouched.
type Shipping struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	carrier string
}

func NewShipping(p ShippingParams) domain.ShippingService {
	carrier := p.Cfg.Fulfillment.DefaultCarrier
	if carrier == "" {
		carrier = "standard"
	}
	return &Shipping{
		db:      p.DB,
		log:     p.Log.Named("fulfillment.shipping"),
		genID:   p.GenID,
		carrier: carrier,
	}
}

func (s *Shipping) CreateShipment(ctx context.Context, order *orderdomain.Order) error {
	now := time.Now().UTC()
	shipment := orderdomain.Shipment{
		ID:        s.genID.Generate(),
		OrderID:   order.ID,
		StoreID:   order.StoreID,
		Carrier:   s.carrier,
		Status:    orderdomain.ShipmentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(&shipment)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info("shipment created", zap.String("order_id", order.ID.String()), zap.String("carrier", s.carrier))
	}
	return nil
}
