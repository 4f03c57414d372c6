package pgsql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
	"github.com/gasops/bankbridge/internal/core/ports/repositories"
)

type PgxBatchRepository struct {
	pool *pgxpool.Pool
}

// NewPgxBatchRepository creates a new repository for payment batch data.
func NewPgxBatchRepository(pool *pgxpool.Pool) repositories.BatchRepository {
	return &PgxBatchRepository{pool: pool}
}

var _ repositories.BatchRepository = (*PgxBatchRepository)(nil)

// FindBatchByID retrieves a batch with its transactions in sequence order.
func (r *PgxBatchRepository) FindBatchByID(ctx context.Context, batchID string) (*domain.PaymentBatch, error) {
	query := `
		SELECT batch_id, bank_code, processing_date, status, open_exceptions,
		       created_at, created_by, last_updated_at, last_updated_by
		FROM payment_batches
		WHERE batch_id = $1;
	`
	var batch domain.PaymentBatch
	err := r.pool.QueryRow(ctx, query, batchID).Scan(
		&batch.BatchID,
		&batch.BankCode,
		&batch.ProcessingDate,
		&batch.Status,
		&batch.OpenExceptions,
		&batch.CreatedAt,
		&batch.CreatedBy,
		&batch.LastUpdatedAt,
		&batch.LastUpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find batch %s: %w", batchID, err)
	}

	txns, err := r.loadTransactions(ctx, batchID)
	if err != nil {
		return nil, err
	}
	batch.Transactions = txns
	return &batch, nil
}

// FindBatchForReconciliation retrieves the most recent batch for a bank that
// is still awaiting its response file.
func (r *PgxBatchRepository) FindBatchForReconciliation(ctx context.Context, bankCode string) (*domain.PaymentBatch, error) {
	query := `
		SELECT batch_id
		FROM payment_batches
		WHERE bank_code = $1 AND status IN ('UPLOADED', 'RECONCILING')
		ORDER BY processing_date DESC, created_at DESC
		LIMIT 1;
	`
	var batchID string
	err := r.pool.QueryRow(ctx, query, bankCode).Scan(&batchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find awaiting batch for bank %s: %w", bankCode, err)
	}
	return r.FindBatchByID(ctx, batchID)
}

// ListPendingTransactions retrieves unassigned transactions due on or before
// the processing date, in the order they will be sequenced.
func (r *PgxBatchRepository) ListPendingTransactions(ctx context.Context, bankCode string, date time.Time) ([]domain.PaymentTransaction, error) {
	query := `
		SELECT transaction_id, account_number, payee_name, amount, scheduled_date, status
		FROM payment_transactions
		WHERE bank_code = $1 AND batch_id IS NULL AND status = 'PENDING' AND scheduled_date <= $2
		ORDER BY scheduled_date, transaction_id;
	`
	rows, err := r.pool.Query(ctx, query, bankCode, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending transactions for bank %s: %w", bankCode, err)
	}
	defer rows.Close()

	txns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PaymentTransaction, error) {
		var txn domain.PaymentTransaction
		err := row.Scan(
			&txn.TransactionID,
			&txn.AccountNumber,
			&txn.PayeeName,
			&txn.Amount,
			&txn.ScheduledDate,
			&txn.Status,
		)
		return txn, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending transactions: %w", err)
	}
	return txns, nil
}

// SaveBatch persists the batch row and claims its transactions in one
// transaction: a crash between the two can never leave a half-assigned batch.
func (r *PgxBatchRepository) SaveBatch(ctx context.Context, batch domain.PaymentBatch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch save: %w", err)
	}
	defer tx.Rollback(ctx)

	insertBatch := `
		INSERT INTO payment_batches (batch_id, bank_code, processing_date, status, open_exceptions,
		                             created_at, created_by, last_updated_at, last_updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	_, err = tx.Exec(ctx, insertBatch,
		batch.BatchID,
		batch.BankCode,
		batch.ProcessingDate,
		batch.Status,
		batch.OpenExceptions,
		batch.CreatedAt,
		batch.CreatedBy,
		batch.LastUpdatedAt,
		batch.LastUpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch %s: %w", batch.BatchID, err)
	}

	claim := `
		UPDATE payment_transactions
		SET batch_id = $1, sequence_number = $2, status = $3
		WHERE transaction_id = $4 AND batch_id IS NULL;
	`
	for _, txn := range batch.Transactions {
		tag, err := tx.Exec(ctx, claim, batch.BatchID, txn.SequenceNumber, txn.Status, txn.TransactionID)
		if err != nil {
			return fmt.Errorf("failed to claim transaction %s: %w", txn.TransactionID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: transaction %s already assigned to a batch", apperrors.ErrDuplicate, txn.TransactionID)
		}
	}
	return tx.Commit(ctx)
}

// UpdateBatchStatus moves a batch to a new status, recording the open
// exception count when the batch is being closed.
func (r *PgxBatchRepository) UpdateBatchStatus(ctx context.Context, batchID string, status domain.BatchStatus, openExceptions int) error {
	query := `
		UPDATE payment_batches
		SET status = $1, open_exceptions = $2, last_updated_at = $3
		WHERE batch_id = $4;
	`
	tag, err := r.pool.Exec(ctx, query, status, openExceptions, time.Now().UTC(), batchID)
	if err != nil {
		return fmt.Errorf("failed to update batch %s status: %w", batchID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// UpdateTransactionStatus updates one transaction inside a batch.
func (r *PgxBatchRepository) UpdateTransactionStatus(ctx context.Context, batchID, transactionID string, status domain.TransactionStatus) error {
	query := `
		UPDATE payment_transactions
		SET status = $1
		WHERE batch_id = $2 AND transaction_id = $3;
	`
	tag, err := r.pool.Exec(ctx, query, status, batchID, transactionID)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s status: %w", transactionID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// SaveException persists a reconciliation exception for manual review.
func (r *PgxBatchRepository) SaveException(ctx context.Context, exc domain.ReconciliationException) error {
	query := `
		INSERT INTO reconciliation_exceptions (exception_id, batch_id, transaction_id, reason,
		                                       expected_amount, reported_amount, bank_reference, raised_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err := r.pool.Exec(ctx, query,
		exc.ExceptionID,
		exc.BatchID,
		exc.TransactionID,
		exc.Reason,
		exc.ExpectedAmount,
		exc.ReportedAmount,
		exc.BankReference,
		exc.RaisedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save exception for transaction %s: %w", exc.TransactionID, err)
	}
	return nil
}

func (r *PgxBatchRepository) loadTransactions(ctx context.Context, batchID string) ([]domain.PaymentTransaction, error) {
	query := `
		SELECT sequence_number, transaction_id, account_number, payee_name, amount, scheduled_date, status
		FROM payment_transactions
		WHERE batch_id = $1
		ORDER BY sequence_number;
	`
	rows, err := r.pool.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for batch %s: %w", batchID, err)
	}
	defer rows.Close()

	txns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PaymentTransaction, error) {
		var txn domain.PaymentTransaction
		err := row.Scan(
			&txn.SequenceNumber,
			&txn.TransactionID,
			&txn.AccountNumber,
			&txn.PayeeName,
			&txn.Amount,
			&txn.ScheduledDate,
			&txn.Status,
		)
		return txn, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan transactions for batch %s: %w", batchID, err)
	}
	return txns, nil
}
