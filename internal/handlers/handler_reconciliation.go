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

// reconciliationHandler handles HTTP requests that trigger reconciliation.
type reconciliationHandler struct {
	reconciliationService portssvc.ReconciliationSvc
}

func newReconciliationHandler(rs portssvc.ReconciliationSvc) *reconciliationHandler {
	return &reconciliationHandler{reconciliationService: rs}
}

// registerReconciliationRoutes registers the reconciliation trigger routes.
func registerReconciliationRoutes(rg *gin.RouterGroup, reconciliationService portssvc.ReconciliationSvc, rateLimit gin.HandlerFunc) {
	h := newReconciliationHandler(reconciliationService)

	recon := rg.Group("/reconciliation")
	{
		recon.POST("/:bankCode/run", rateLimit, h.runReconciliation)
	}
}

// runReconciliation downloads and applies one bank's response file against
// its awaiting batch. The scheduler polls this after the bank's expected
// response window; a missing file before cutoff is not an error worth a 5xx.
func (h *reconciliationHandler) runReconciliation(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	bankCode := c.Param("bankCode")

	logger = logger.With(slog.String("bank_code", bankCode))
	logger.Info("Received request to run reconciliation")

	outcome, err := h.reconciliationService.CheckAndProcessReconciliation(c.Request.Context(), bankCode)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			logger.Info("Nothing to reconcile", slog.String("reason", err.Error()))
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, apperrors.ErrVerification):
			logger.Error("Response file failed verification and was quarantined", slog.String("error", err.Error()))
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Response file failed signature verification"})
		case errors.Is(err, apperrors.ErrFormat):
			logger.Error("Response file failed to parse", slog.String("error", err.Error()))
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case apperrors.IsTransient(err) || apperrors.IsCircuitOpen(err):
			logger.Warn("Response file not retrievable yet", slog.String("error", err.Error()))
			c.JSON(http.StatusAccepted, gin.H{"status": "response file not available yet"})
		default:
			logger.Error("Failed to run reconciliation", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to run reconciliation"})
		}
		return
	}

	logger.Info("Reconciliation finished",
		slog.String("batch_id", outcome.BatchID),
		slog.Int("matched", outcome.Matched),
		slog.Int("exceptions", len(outcome.Exceptions)),
		slog.Bool("batch_closed", outcome.BatchClosed),
	)
	c.JSON(http.StatusOK, dto.ToReconciliationOutcomeResponse(outcome))
}
