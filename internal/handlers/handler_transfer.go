package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gasops/bankbridge/internal/apperrors"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
	"github.com/gasops/bankbridge/internal/dto"
	"github.com/gasops/bankbridge/internal/middleware"
)

// transferHandler exposes the retry queue to operator tooling.
type transferHandler struct {
	retryService portssvc.RetryQueueSvc
}

func newTransferHandler(rs portssvc.RetryQueueSvc) *transferHandler {
	return &transferHandler{retryService: rs}
}

// registerTransferRoutes registers the dead-letter and drain routes.
func registerTransferRoutes(rg *gin.RouterGroup, retryService portssvc.RetryQueueSvc) {
	h := newTransferHandler(retryService)

	transfers := rg.Group("/transfers")
	{
		transfers.GET("/dead-letter", h.listDeadLettered)
		transfers.POST("/:transferID/replay", h.replayTransfer)
		transfers.POST("/drain", h.drainQueue)
	}
}

// listDeadLettered returns transfers that exhausted their retry budget and
// await manual handling.
func (h *transferHandler) listDeadLettered(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())

	var params dto.ListDeadLetteredParams
	if err := c.ShouldBindQuery(&params); err != nil {
		logger.Warn("Failed to bind query params for ListDeadLettered", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters: " + err.Error()})
		return
	}

	attempts, err := h.retryService.ListDeadLettered(c.Request.Context(), params.Limit)
	if err != nil {
		logger.Error("Failed to list dead-lettered transfers", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list dead-lettered transfers"})
		return
	}

	logger.Info("Dead-lettered transfers listed", slog.Int("count", len(attempts)))
	c.JSON(http.StatusOK, dto.ToListDeadLetteredResponse(attempts))
}

// replayTransfer manually re-drives one dead-lettered transfer.
func (h *transferHandler) replayTransfer(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	transferID := c.Param("transferID")

	logger = logger.With(slog.String("transfer_id", transferID))
	logger.Info("Received request to replay transfer")

	attempt, err := h.retryService.Replay(c.Request.Context(), transferID)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			logger.Warn("Transfer not found for replay")
			c.JSON(http.StatusNotFound, gin.H{"error": "Transfer not found"})
		case errors.Is(err, apperrors.ErrValidation):
			logger.Warn("Transfer not replayable", slog.String("error", err.Error()))
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			logger.Error("Failed to replay transfer", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to replay transfer"})
		}
		return
	}

	logger.Info("Transfer replay finished", slog.String("outcome", string(attempt.Outcome)))
	c.JSON(http.StatusOK, dto.ToTransferAttemptResponse(attempt))
}

// drainQueue forces an immediate drain pass over the retry queue, ahead of
// the background ticker.
func (h *transferHandler) drainQueue(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	logger.Info("Received request to drain retry queue")

	processed, err := h.retryService.DrainEligible(c.Request.Context())
	if err != nil {
		logger.Error("Failed to drain retry queue", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to drain retry queue"})
		return
	}

	logger.Info("Retry queue drained", slog.Int("processed", processed))
	c.JSON(http.StatusOK, dto.DrainResponse{Processed: processed})
}
