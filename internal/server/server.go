package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-brokerage/internal/auth"
	"github.com/ksred/klear-brokerage/internal/balance"
	"github.com/ksred/klear-brokerage/internal/config"
	"github.com/ksred/klear-brokerage/internal/ledger"
	"github.com/ksred/klear-brokerage/internal/metrics"
	"github.com/ksred/klear-brokerage/internal/trading"
	"github.com/ksred/klear-brokerage/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const housekeepingInterval = time.Hour

// Server wires the services and HTTP routes of the brokerage API
type Server struct {
	Router  *gin.Engine
	Auth    *auth.Service
	Trading *trading.Service
	Balance *balance.Service

	auditor  *ledger.Auditor
	limiter  *middleware.RateLimiter
	registry *prometheus.Registry
}

// New builds the services on db and registers every route
func New(db *gorm.DB, cfg *config.Config) (*Server, error) {
	matchPolicy, err := trading.ParseMatchPolicy(cfg.Trading.MatchPolicy)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var rules []middleware.RateRule
	if cfg.HTTP.RateLimit {
		rules = middleware.DefaultRateRules
	}

	authService := auth.NewService(db, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	s := &Server{
		Auth:     authService,
		Trading:  trading.NewService(db, authService, m),
		Balance:  balance.NewService(db, authService, m),
		auditor:  ledger.NewAuditor(ledger.NewDatabase(db), cfg.Ledger.AuditInterval, m),
		limiter:  middleware.NewRateLimiter(rules),
		registry: registry,
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(), middleware.Metrics(m))
	router.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler(registry)))

	setupRoutes(
		router,
		authService,
		s.limiter,
		auth.NewGinHandlers(authService),
		trading.NewGinHandlers(s.Trading, matchPolicy),
		balance.NewGinHandlers(s.Balance),
	)
	s.Router = router
	return s, nil
}

// Start runs the background workers until ctx is canceled
func (s *Server) Start(ctx context.Context) {
	go s.auditor.Start(ctx)
	go s.limiter.Cleanup(ctx)
	go s.housekeeping(ctx)
}

// housekeeping purges expired token revocations and idempotency keys
func (s *Server) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Auth.PurgeRevocations(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to purge token revocations")
			} else if n > 0 {
				log.Debug().Int64("count", n).Msg("Purged token revocations")
			}
			if n, err := s.Trading.PurgeIdempotencyKeys(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to purge idempotency keys")
			} else if n > 0 {
				log.Debug().Int64("count", n).Msg("Purged idempotency keys")
			}
		}
	}
}

// setupRoutes configures all API endpoints and their handlers
// - Auth routes: register, login and validate are public; logout and me need a token
// - Order, balance and asset routes: protected by JWT authentication
func setupRoutes(
	router *gin.Engine,
	validator middleware.TokenValidator,
	limiter *middleware.RateLimiter,
	authHandlers *auth.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	balanceHandlers *balance.GinHandlers,
) {
	jwtAuth := middleware.JWTAuth(validator)
	rateLimit := limiter.Middleware()

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authRoutes := v1.Group("/auth")
		authRoutes.Use(rateLimit)
		{
			authRoutes.POST("/register", authHandlers.RegisterHandler())
			authRoutes.POST("/login", authHandlers.LoginHandler())
			authRoutes.POST("/validate", authHandlers.ValidateHandler())
			authRoutes.POST("/logout", jwtAuth, authHandlers.LogoutHandler())
			authRoutes.GET("/me", jwtAuth, authHandlers.MeHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(jwtAuth, rateLimit)
		{
			orders.POST("", tradingHandlers.CreateOrderHandler())
			orders.GET("", tradingHandlers.ListOrdersHandler())
			orders.GET("/:order_id", tradingHandlers.GetOrderHandler())
			orders.DELETE("/:order_id", tradingHandlers.CancelOrderHandler())
			orders.PUT("/:order_id/match", tradingHandlers.MatchOrderHandler())
		}

		// Cash movements and the journal
		balanceRoutes := v1.Group("/balance")
		balanceRoutes.Use(jwtAuth, rateLimit)
		{
			balanceRoutes.POST("/deposit/:customer_id", balanceHandlers.DepositHandler())
			balanceRoutes.POST("/withdraw/:customer_id", balanceHandlers.WithdrawHandler())
			balanceRoutes.GET("/transactions/:customer_id", balanceHandlers.TransactionsHandler())
		}

		assets := v1.Group("/assets")
		assets.Use(jwtAuth, rateLimit)
		{
			assets.GET("/:customer_id", balanceHandlers.AssetsHandler())
		}
	}
}
