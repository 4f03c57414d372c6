package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gasops/bankbridge/internal/apperrors"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
	"github.com/gasops/bankbridge/internal/dto"
	"github.com/gasops/bankbridge/internal/middleware"
)

// batchHandler handles HTTP requests that trigger batch generation.
type batchHandler struct {
	batchService portssvc.BatchSvc
}

func newBatchHandler(bs portssvc.BatchSvc) *batchHandler {
	return &batchHandler{batchService: bs}
}

// registerBatchRoutes registers the batch trigger routes.
func registerBatchRoutes(rg *gin.RouterGroup, batchService portssvc.BatchSvc, rateLimit gin.HandlerFunc) {
	h := newBatchHandler(batchService)

	batches := rg.Group("/batches")
	{
		batches.POST("/generate", rateLimit, h.generateBatches)
		batches.GET("/:batchID", h.getBatch)
	}
}

// getBatch retrieves one batch with its transactions.
func (h *batchHandler) getBatch(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	batchID := c.Param("batchID")

	logger = logger.With(slog.String("batch_id", batchID))
	logger.Info("Received request to get batch")

	batch, err := h.batchService.GetBatchByID(c.Request.Context(), batchID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			logger.Warn("Batch not found")
			c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		} else {
			logger.Error("Failed to get batch", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve batch"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ToBatchResponse(batch))
}

// generateBatches triggers the daily batch run for every bank with pending
// transactions on the given processing date. The external scheduler calls
// this once a day; reruns are safe because pending transactions are claimed
// into a batch exactly once.
func (h *batchHandler) generateBatches(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())

	// The body is optional: an empty POST runs today's batch.
	var req dto.GenerateBatchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Warn("Failed to bind JSON for GenerateBatches", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
			return
		}
	}

	date := time.Now().UTC().Truncate(24 * time.Hour)
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			logger.Warn("Invalid processing date", slog.String("date", req.Date))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date, expected YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	logger.Info("Received request to generate daily batches", slog.Time("processing_date", date))

	results, err := h.batchService.GenerateAndUploadDailyBatch(c.Request.Context(), date)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			logger.Warn("Validation error generating batches", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else {
			logger.Error("Failed to generate batches", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate batches"})
		}
		return
	}

	logger.Info("Daily batch run finished", slog.Int("banks", len(results)))
	c.JSON(http.StatusOK, dto.ToGenerateBatchResponse(date, results))
}
