package server

import (
	"github.com/gin-gonic/gin"
	providerdomain "github.com/railzwaylabs/storepay/internal/providers/payment/domain"
	"github.com/railzwaylabs/storepay/internal/settlement/fee"
	"github.com/shopspring/decimal"
)

// GetStoreBalance
// GET /api/admin/stores/:store_id/balance
func (s *Server) GetStoreBalance(c *gin.Context) {
	storeID, ok := parseIDParam(c, "store_id")
	if !ok {
		return
	}

	balance, err := s.ledger.Balance(c.Request.Context(), storeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, balance)
}

type feePolicyRequest struct {
	Mode    fee.Mode         `json:"mode" binding:"required"`
	Percent *decimal.Decimal `json:"percent"`
	Flat    *decimal.Decimal `json:"flat"`
}

// SetStoreFeePolicy
// PUT /api/admin/stores/:store_id/fee-policy
func (s *Server) SetStoreFeePolicy(c *gin.Context) {
	storeID, ok := parseIDParam(c, "store_id")
	if !ok {
		return
	}

	var req feePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	policy := fee.Policy{Mode: req.Mode, Percent: decimal.Zero, Flat: decimal.Zero}
	if req.Percent != nil {
		policy.Percent = *req.Percent
	}
	if req.Flat != nil {
		policy.Flat = *req.Flat
	}

	row, err := s.settlements.SetFeePolicy(c.Request.Context(), storeID, policy)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, row)
}

type upsertProviderConfigRequest struct {
	Config   map[string]any `json:"config" binding:"required"`
	IsActive *bool          `json:"is_active"`
}

// UpsertProviderConfig stores a tenant's provider credentials encrypted.
// PUT /api/admin/tenants/:tenant_id/providers/:provider_code
func (s *Server) UpsertProviderConfig(c *gin.Context) {
	tenantID, ok := parseIDParam(c, "tenant_id")
	if !ok {
		return
	}

	var req upsertProviderConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	summary, err := s.providers.Upsert(c.Request.Context(), providerdomain.UpsertRequest{
		TenantID: tenantID,
		Provider: c.Param("provider_code"),
		Values:   req.Config,
		IsActive: active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, summary)
}
