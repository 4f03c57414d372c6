package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
	"github.com/gasops/bankbridge/internal/dto"
	"github.com/gasops/bankbridge/internal/metrics"
	"github.com/gasops/bankbridge/internal/middleware"
)

// monitoringHandler exposes the stats surface the external metrics sink
// scrapes.
type monitoringHandler struct {
	breakerService portssvc.CircuitBreakerSvc
	retryService   portssvc.RetryQueueSvc
	registry       *metrics.Registry
}

func newMonitoringHandler(bs portssvc.CircuitBreakerSvc, rs portssvc.RetryQueueSvc, reg *metrics.Registry) *monitoringHandler {
	return &monitoringHandler{breakerService: bs, retryService: rs, registry: reg}
}

// registerMonitoringRoutes registers the stats route.
func registerMonitoringRoutes(rg *gin.RouterGroup, breakerService portssvc.CircuitBreakerSvc, retryService portssvc.RetryQueueSvc, reg *metrics.Registry) {
	h := newMonitoringHandler(breakerService, retryService, reg)

	monitoring := rg.Group("/monitoring")
	{
		monitoring.GET("/stats", h.getStats)
	}
}

// getStats returns per-bank transfer counters, breaker states and the retry
// queue depth in one response.
func (h *monitoringHandler) getStats(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())

	depth, err := h.retryService.Depth(c.Request.Context())
	if err != nil {
		logger.Error("Failed to read retry queue depth", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read retry queue depth"})
		return
	}

	c.JSON(http.StatusOK, dto.MonitoringResponse{
		Banks:           h.registry.Snapshot(),
		Breakers:        dto.ToBreakerStateResponses(h.breakerService.Snapshot()),
		RetryQueueDepth: depth,
	})
}
