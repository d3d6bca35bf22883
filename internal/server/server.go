package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/railzwaylabs/storepay/internal/config"
	ledgerdomain "github.com/railzwaylabs/storepay/internal/ledger/domain"
	"github.com/railzwaylabs/storepay/internal/observability"
	paymentdomain "github.com/railzwaylabs/storepay/internal/payment/domain"
	paymentservice "github.com/railzwaylabs/storepay/internal/payment/service"
	"github.com/railzwaylabs/storepay/internal/payment/webhook"
	providerdomain "github.com/railzwaylabs/storepay/internal/providers/payment/domain"
	settlementdomain "github.com/railzwaylabs/storepay/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Payments is the storefront-facing slice of the orchestrator.
type Payments interface {
	Initiate(ctx context.Context, in paymentservice.InitiateInput) (*paymentservice.InitiateOutput, error)
	Get(ctx context.Context, id snowflake.ID) (*paymentservice.IntentDetail, error)
	Refund(ctx context.Context, in paymentservice.RefundInput) (*paymentdomain.RefundRecord, error)
	ResolveRefund(ctx context.Context, in paymentservice.ResolveRefundInput) (*paymentdomain.RefundRecord, error)
}

type Webhooks interface {
	Ingest(ctx context.Context, code string, body []byte, headers http.Header) (*webhook.Result, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}

type Params struct {
	fx.In

	Cfg         config.Config
	Log         *zap.Logger
	Payments    Payments
	Webhooks    Webhooks
	Settlements settlementdomain.Service
	Ledger      ledgerdomain.Service
	Providers   providerdomain.Service
	Health      HealthChecker
	Metrics     *observability.Metrics `optional:"true"`
}

type Server struct {
	cfg         config.Config
	log         *zap.Logger
	payments    Payments
	webhooks    Webhooks
	settlements settlementdomain.Service
	ledger      ledgerdomain.Service
	providers   providerdomain.Service
	health      HealthChecker
	metrics     *observability.Metrics
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:         p.Cfg,
		log:         p.Log.Named("server"),
		payments:    p.Payments,
		webhooks:    p.Webhooks,
		settlements: p.Settlements,
		ledger:      p.Ledger,
		providers:   p.Providers,
		health:      p.Health,
		metrics:     p.Metrics,
	}
}

// Handler builds the gin engine with every route mounted.
func (s *Server) Handler() http.Handler {
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(RequestID(), s.Recovery(), s.AccessLog())
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.Health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	r.POST("/payments/webhooks/:provider_code", s.ReceiveWebhook)

	api := r.Group("/api")
	api.POST("/payments/initiate", s.InitiatePayment)
	api.GET("/payments/intents/:id", s.GetPaymentIntent)
	api.POST("/payments/intents/:id/refunds", s.AdminTokenRequired(), s.CreateRefund)

	admin := api.Group("/admin", s.AdminTokenRequired())
	admin.POST("/refunds/:id/resolve", s.ResolveRefund)
	admin.GET("/settlements", s.ListSettlements)
	admin.POST("/settlements/run", s.RunSettlements)
	admin.GET("/settlements/:id", s.GetSettlement)
	admin.POST("/settlements/:id/approve", s.ApproveSettlement)
	admin.POST("/settlements/:id/mark-paid", s.MarkSettlementPaid)
	admin.POST("/settlements/:id/mark-failed", s.MarkSettlementFailed)
	admin.GET("/settlements/:id/statement.pdf", s.DownloadSettlementStatement)
	admin.GET("/stores/:store_id/balance", s.GetStoreBalance)
	admin.PUT("/stores/:store_id/fee-policy", s.SetStoreFeePolicy)
	admin.PUT("/tenants/:tenant_id/providers/:provider_code", s.UpsertProviderConfig)
}

func (s *Server) Health(c *gin.Context) {
	if s.health != nil {
		if err := s.health.Check(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "reason": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.cfg.Version})
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil || id <= 0 {
		AbortWithError(c, invalidRequestError("invalid "+name))
		return 0, false
	}
	return id, true
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then drains
// in-flight requests within the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
