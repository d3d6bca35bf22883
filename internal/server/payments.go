package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/railzwaylabs/storepay/internal/payment/domain"
	paymentservice "github.com/railzwaylabs/storepay/internal/payment/service"
	"github.com/shopspring/decimal"
)

type initiatePaymentRequest struct {
	OrderID      string `json:"order_id" binding:"required"`
	ProviderCode string `json:"provider_code" binding:"required"`
	ReturnURL    string `json:"return_url" binding:"required,url"`
}

// InitiatePayment
// POST /api/payments/initiate
func (s *Server) InitiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orderID, err := snowflake.ParseString(req.OrderID)
	if err != nil || orderID <= 0 {
		AbortWithError(c, invalidRequestError("invalid order_id"))
		return
	}
	key, ok := idempotencyKeyFromHeader(c)
	if !ok {
		AbortWithError(c, invalidRequestError("idempotency key too long"))
		return
	}

	out, err := s.payments.Initiate(c.Request.Context(), paymentservice.InitiateInput{
		OrderID:        orderID,
		Provider:       req.ProviderCode,
		ReturnURL:      req.ReturnURL,
		IdempotencyKey: key,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, out)
}

// GetPaymentIntent
// GET /api/payments/intents/:id
func (s *Server) GetPaymentIntent(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	detail, err := s.payments.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, detail)
}

type createRefundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason" binding:"max=255"`
}

// CreateRefund
// POST /api/payments/intents/:id/refunds
func (s *Server) CreateRefund(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req createRefundRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	refund, err := s.payments.Refund(c.Request.Context(), paymentservice.RefundInput{
		IntentID: id,
		Amount:   req.Amount,
		Reason:   req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, refund)
}

type resolveRefundRequest struct {
	Status           string `json:"status" binding:"required,oneof=approved rejected failed"`
	ProviderRefundID string `json:"provider_refund_id" binding:"max=255"`
	Reason           string `json:"reason" binding:"max=255"`
}

// ResolveRefund
// POST /api/admin/refunds/:id/resolve
func (s *Server) ResolveRefund(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req resolveRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("status must be approved, rejected or failed"))
		return
	}

	refund, err := s.payments.ResolveRefund(c.Request.Context(), paymentservice.ResolveRefundInput{
		RefundID:         id,
		Status:           paymentdomain.RefundStatus(req.Status),
		ProviderRefundID: req.ProviderRefundID,
		Reason:           req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, refund)
}
