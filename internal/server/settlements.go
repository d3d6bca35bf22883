package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	settlementdomain "github.com/railzwaylabs/storepay/internal/settlement/domain"
	"github.com/railzwaylabs/storepay/pkg/db/pagination"
)

// ListSettlements
// GET /api/admin/settlements
func (s *Server) ListSettlements(c *gin.Context) {
	filter := settlementdomain.ListFilter{
		Status: settlementdomain.Status(c.Query("status")),
	}

	if raw := c.Query("store_id"); raw != "" {
		storeID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, invalidRequestError("invalid store_id"))
			return
		}
		filter.StoreID = &storeID
	}

	var ok bool
	if filter.From, ok = parseTimeQuery(c, "from"); !ok {
		return
	}
	if filter.To, ok = parseTimeQuery(c, "to"); !ok {
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("page_size"))
	filter.Pagination = pagination.Pagination{Page: page, PageSize: size}

	rows, pageInfo, err := s.settlements.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondList(c, rows, pageInfo)
}

// parseTimeQuery accepts RFC 3339 timestamps or plain dates.
func parseTimeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, true
		}
	}
	AbortWithError(c, invalidRequestError("invalid "+name))
	return nil, false
}

type runSettlementsRequest struct {
	StoreID     string     `json:"store_id"`
	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`
}

// RunSettlements settles one store, or every store when store_id is omitted.
// The period defaults to the previous UTC day.
// POST /api/admin/settlements/run
func (s *Server) RunSettlements(c *gin.Context) {
	var req runSettlementsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.Add(-24 * time.Hour)
	if req.PeriodStart != nil {
		start = *req.PeriodStart
	}
	if req.PeriodEnd != nil {
		end = *req.PeriodEnd
	}

	ctx := c.Request.Context()
	if req.StoreID != "" {
		storeID, err := snowflake.ParseString(req.StoreID)
		if err != nil {
			AbortWithError(c, invalidRequestError("invalid store_id"))
			return
		}
		settlement, err := s.settlements.CreateForPeriod(ctx, storeID, start, end)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		respondData(c, settlement)
		return
	}

	summary, err := s.settlements.RunForAllStores(ctx, start, end)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, summary)
}

// GetSettlement
// GET /api/admin/settlements/:id
func (s *Server) GetSettlement(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	detail, err := s.settlements.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, detail)
}

// ApproveSettlement
// POST /api/admin/settlements/:id/approve
func (s *Server) ApproveSettlement(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	settlement, err := s.settlements.Approve(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, settlement)
}

// MarkSettlementPaid
// POST /api/admin/settlements/:id/mark-paid
func (s *Server) MarkSettlementPaid(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	settlement, err := s.settlements.MarkPaid(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, settlement)
}

type markSettlementFailedRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// MarkSettlementFailed
// POST /api/admin/settlements/:id/mark-failed
func (s *Server) MarkSettlementFailed(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req markSettlementFailedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("reason is required"))
		return
	}

	settlement, err := s.settlements.MarkFailed(c.Request.Context(), id, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, settlement)
}

// DownloadSettlementStatement
// GET /api/admin/settlements/:id/statement.pdf
func (s *Server) DownloadSettlementStatement(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	pdf, err := s.settlements.Statement(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="settlement-`+id.String()+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}
