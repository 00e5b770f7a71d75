package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/barva88/trauck/internal/audit/domain"
	catalogdomain "github.com/barva88/trauck/internal/catalog/domain"
	appconfig "github.com/barva88/trauck/internal/config"
	"github.com/barva88/trauck/internal/gateway"
	meteringdomain "github.com/barva88/trauck/internal/metering/domain"
	"github.com/barva88/trauck/internal/observability/logger"
	"github.com/barva88/trauck/internal/observability/metrics"
	orderdomain "github.com/barva88/trauck/internal/order/domain"
	paymentdomain "github.com/barva88/trauck/internal/payment/domain"
	refunddomain "github.com/barva88/trauck/internal/refund/domain"
	walletdomain "github.com/barva88/trauck/internal/wallet/domain"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         appconfig.Config
	WalletSvc   walletdomain.Service
	CatalogSvc  catalogdomain.Service
	OrderSvc    orderdomain.Service
	MeteringSvc meteringdomain.Service
	RefundSvc   refunddomain.Service
	PaymentSvc  paymentdomain.Service
	Gateway     gateway.Gateway      `optional:"true"`
	AuditSvc    auditdomain.Service  `optional:"true"`
	HTTPMetrics *metrics.HTTPMetrics `optional:"true"`
}

type Server struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         appconfig.Config
	walletSvc   walletdomain.Service
	catalogSvc  catalogdomain.Service
	orderSvc    orderdomain.Service
	meteringSvc meteringdomain.Service
	refundSvc   refunddomain.Service
	paymentSvc  paymentdomain.Service
	gateway     gateway.Gateway
	auditSvc    auditdomain.Service
	httpMetrics *metrics.HTTPMetrics

	webhookLimiter *rateLimiter
}

func NewServer(p Params) *Server {
	return &Server{
		db:             p.DB,
		log:            p.Log.Named("server"),
		cfg:            p.Cfg,
		walletSvc:      p.WalletSvc,
		catalogSvc:     p.CatalogSvc,
		orderSvc:       p.OrderSvc,
		meteringSvc:    p.MeteringSvc,
		refundSvc:      p.RefundSvc,
		paymentSvc:     p.PaymentSvc,
		gateway:        p.Gateway,
		auditSvc:       p.AuditSvc,
		httpMetrics:    p.HTTPMetrics,
		webhookLimiter: newRateLimiter(p.Cfg.WebhookRateLimit, p.Cfg.WebhookRateLimitWindow),
	}
}

// NewEngine builds the gin engine with the shared middleware stack and
// all routes registered.
func NewEngine(s *Server) *gin.Engine {
	if s.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz"},
	}))
	if s.httpMetrics != nil {
		engine.Use(metrics.GinMiddleware(s.httpMetrics))
	}

	engine.GET("/healthz", s.Healthz)
	engine.POST("/webhooks/:provider", s.HandleWebhook)

	api := engine.Group("/api")
	api.Use(s.RequireUser())
	{
		api.GET("/plans", s.ListPlans)
		api.GET("/wallet", s.GetWallet)
		api.GET("/wallet/transactions", s.ListTransactions)
		api.POST("/checkout", s.CreateCheckout)
		api.POST("/portal", s.CreatePortal)
		api.POST("/consume", s.Consume)
		api.GET("/orders/:id", s.GetOrder)
		api.POST("/orders/:id/refund", s.RequestRefund)
	}

	if s.cfg.Environment != "production" {
		engine.POST("/internal/test-cleanup", s.TestCleanup)
	}

	return engine
}

func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Provide(NewEngine),
	fx.Invoke(RunHTTP),
)

// RunHTTP starts the HTTP listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, engine *gin.Engine, cfg appconfig.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
