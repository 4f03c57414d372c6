package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
	"github.com/gasops/bankbridge/internal/metrics"
	"github.com/gasops/bankbridge/internal/middleware"
	"github.com/gasops/bankbridge/pkg/config"
)

// RegisterRoutes sets up all application routes, injecting dependencies
// through the service container.
func RegisterRoutes(
	r *gin.Engine,
	cfg *config.Config,
	services *portssvc.ServiceContainer,
	registry *metrics.Registry,
) {
	r.GET("/health", func(c *gin.Context) {
		c.String(200, "OK")
	})

	setupAPIV1Routes(r, cfg, services, registry)
}

// setupAPIV1Routes configures the /api/v1 group and delegates to specific
// handler registrations. The trigger endpoints are rate limited so a
// misconfigured scheduler cannot double-fire runs.
func setupAPIV1Routes(
	r *gin.Engine,
	cfg *config.Config,
	services *portssvc.ServiceContainer,
	registry *metrics.Registry,
) {
	groupMiddleware := []gin.HandlerFunc{}
	if cfg.JWTSecret != "" {
		groupMiddleware = append(groupMiddleware, middleware.AuthMiddleware(cfg.JWTSecret))
	}
	v1 := r.Group("/api/v1", groupMiddleware...)

	rate, err := limiter.NewRateFromFormatted(cfg.RateLimit)
	if err != nil {
		// Fall back to the documented default rather than running unlimited.
		rate, _ = limiter.NewRateFromFormatted("120-M")
	}
	rateLimit := middleware.RateLimit(limiter.New(memory.NewStore(), rate))

	registerBatchRoutes(v1, services.Batch, rateLimit)
	registerReconciliationRoutes(v1, services.Reconciliation, rateLimit)
	registerTransferRoutes(v1, services.Retry)
	registerMonitoringRoutes(v1, services.Breaker, services.Retry, registry)
}
