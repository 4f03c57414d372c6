package services

import (
	"context"
	"time"

	"github.com/gasops/bankbridge/internal/core/domain"
)

// BatchRunResult summarises one bank's outcome of a daily batch run.
type BatchRunResult struct {
	BankCode string             `json:"bankCode"`
	BatchID  string             `json:"batchID,omitempty"`
	Status   domain.BatchStatus `json:"status,omitempty"`
	Queued   bool               `json:"queued"` // true when the upload went to the retry queue
	Error    string             `json:"error,omitempty"`
}

// BatchSvc is the batch-generation trigger entry point, called by the
// external scheduler.
type BatchSvc interface {
	// GenerateAndUploadDailyBatch builds, encodes, encrypts and uploads one
	// batch per bank with pending transactions on the given date. Banks are
	// processed concurrently under a bounded worker pool; one bank's failure
	// never aborts the others.
	GenerateAndUploadDailyBatch(ctx context.Context, date time.Time) ([]BatchRunResult, error)

	// GetBatchByID retrieves one batch with its transactions, for the
	// operator query surface.
	GetBatchByID(ctx context.Context, batchID string) (*domain.PaymentBatch, error)
}

// ReconciliationSvc is the reconciliation trigger entry point.
type ReconciliationSvc interface {
	// CheckAndProcessReconciliation downloads, decrypts and applies the
	// bank's response file against its awaiting batch.
	CheckAndProcessReconciliation(ctx context.Context, bankCode string) (*domain.ReconciliationOutcome, error)

	// Apply matches decoded records against the batch's transactions,
	// updating statuses and raising exceptions. Exposed separately so files
	// released from quarantine can be re-applied.
	Apply(ctx context.Context, records []domain.ReconciliationRecord, batch *domain.PaymentBatch) (*domain.ReconciliationOutcome, error)
}
