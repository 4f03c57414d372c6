package repositories

import (
	"context"
	"time"

	"github.com/gasops/bankbridge/internal/core/domain"
)

// BatchReader defines read operations for payment batch data.
type BatchReader interface {
	// FindBatchByID retrieves a batch with its transactions in sequence order.
	FindBatchByID(ctx context.Context, batchID string) (*domain.PaymentBatch, error)

	// FindBatchForReconciliation retrieves the most recent batch for a bank
	// that is awaiting reconciliation (Uploaded or Reconciling).
	FindBatchForReconciliation(ctx context.Context, bankCode string) (*domain.PaymentBatch, error)

	// ListPendingTransactions retrieves transactions due on the processing
	// date that have not yet been assigned to a batch, per bank.
	ListPendingTransactions(ctx context.Context, bankCode string, date time.Time) ([]domain.PaymentTransaction, error)
}

// BatchWriter defines write operations for payment batch data.
type BatchWriter interface {
	// SaveBatch persists a new batch and its transactions.
	SaveBatch(ctx context.Context, batch domain.PaymentBatch) error

	// UpdateBatchStatus moves a batch to a new status, recording the open
	// exception count when the batch is being closed.
	UpdateBatchStatus(ctx context.Context, batchID string, status domain.BatchStatus, openExceptions int) error

	// UpdateTransactionStatus updates one transaction inside a batch.
	UpdateTransactionStatus(ctx context.Context, batchID, transactionID string, status domain.TransactionStatus) error

	// SaveException persists a reconciliation exception for manual review.
	SaveException(ctx context.Context, exc domain.ReconciliationException) error
}

// BatchRepository combines all batch-related repository interfaces.
type BatchRepository interface {
	BatchReader
	BatchWriter
}
