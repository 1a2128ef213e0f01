// Package httpserver exposes the core operations to role-gated callers. The
// facade assumes the principal is already authenticated upstream; ownership
// and reviewer checks belong to the gateway in front of it.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quillmarket/ledger/internal/dispatch"
	"github.com/quillmarket/ledger/pkg/coupon"
	"github.com/quillmarket/ledger/pkg/ledger"
	"github.com/quillmarket/ledger/pkg/payout"
)

// Services bundles the wired domain services the facade fronts.
type Services struct {
	Ledger     *ledger.Service
	Coupons    *coupon.Service
	Payouts    *payout.Service
	Dispatcher *dispatch.Dispatcher
}

// Server is the gin facade over the core services.
type Server struct {
	logger   *zap.Logger
	services Services
	cfg      Config
}

// New wires a Server.
func New(cfg Config, services Services, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{logger: logger, services: services, cfg: cfg}, nil
}

// Router builds the gin engine with all routes attached.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/webhooks/payment", server.handlePaymentWebhook)

	api := router.Group("/api")
	api.POST("/accounts", server.handleCreateAccount)
	api.GET("/accounts/:id/balance", server.handleBalance)
	api.GET("/accounts/:id/entries", server.handleEntries)

	api.POST("/coupons", server.handleCreateCoupon)
	api.POST("/coupons/validate", server.handleValidateCoupon)
	api.POST("/coupons/:code/deactivate", server.handleDeactivateCoupon)
	api.POST("/coupons/:code/activate", server.handleActivateCoupon)

	api.POST("/payouts", server.handleRequestPayout)
	api.GET("/payouts/:id", server.handleGetPayout)
	api.GET("/payouts/:id/details", server.handlePayoutDetails)
	api.POST("/payouts/:id/approve", server.handleApprovePayout)
	api.POST("/payouts/:id/reject", server.handleRejectPayout)
	api.POST("/payouts/:id/process", server.handleProcessPayout)
	api.POST("/payouts/:id/complete", server.handleCompletePayout)
	api.POST("/payouts/:id/cancel", server.handleCancelPayout)

	return router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http facade listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
