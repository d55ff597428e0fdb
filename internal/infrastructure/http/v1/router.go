// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"stockledger/internal/core/idempotency"
	"stockledger/internal/domain/audit"
	"stockledger/internal/infrastructure/http/v1/handlers"
	"stockledger/internal/infrastructure/http/v1/middleware"
	"stockledger/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	Ledger   handlers.LedgerService
	Closings handlers.ClosingService
	Reposts  handlers.RepostService
	Reports  handlers.ReportsService
	Audit    audit.Reader

	// Health probes and pool statistics for /health.
	Driver       string
	HealthChecks []handlers.HealthCheck
	Stats        func() map[string]any

	// Idempotency is optional; without it X-Idempotency-Key is ignored.
	Idempotency idempotency.Store
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	handlers.NewHealthHandler(cfg.Driver, cfg.HealthChecks, cfg.Stats).RegisterRoutes(router)

	v1 := router.Group("/api/v1")
	if cfg.Idempotency != nil {
		v1.Use(middleware.Idempotency(cfg.Idempotency))
	}

	base := handlers.NewBaseHandler()
	handlers.NewLedgerHandler(base, cfg.Ledger).RegisterRoutes(v1)
	handlers.NewClosingHandler(base, cfg.Closings).RegisterRoutes(v1)
	handlers.NewRepostHandler(base, cfg.Reposts).RegisterRoutes(v1)
	handlers.NewReportsHandler(base, cfg.Reports).RegisterRoutes(v1)
	if cfg.Audit != nil {
		handlers.NewAuditHandler(base, cfg.Audit).RegisterRoutes(v1)
	}

	return router
}
