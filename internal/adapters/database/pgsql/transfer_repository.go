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

type PgxTransferRepository struct {
	pool *pgxpool.Pool
}

// NewPgxTransferRepository creates the durable store behind the retry queue.
func NewPgxTransferRepository(pool *pgxpool.Pool) repositories.TransferAttemptRepository {
	return &PgxTransferRepository{pool: pool}
}

var _ repositories.TransferAttemptRepository = (*PgxTransferRepository)(nil)

const transferColumns = `
	transfer_id, bank_code, batch_id, direction, remote_path, payload, checksum,
	attempt_count, max_attempts, next_eligible, outcome, last_error,
	created_at, created_by, last_updated_at, last_updated_by
`

// SaveAttempt persists a new transfer attempt, payload included, so a retry
// after process restart replays the exact bytes.
func (r *PgxTransferRepository) SaveAttempt(ctx context.Context, attempt domain.TransferAttempt) error {
	query := `
		INSERT INTO transfer_attempts (` + transferColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16);
	`
	_, err := r.pool.Exec(ctx, query,
		attempt.TransferID,
		attempt.BankCode,
		nullable(attempt.BatchID),
		attempt.Direction,
		attempt.RemotePath,
		attempt.Payload,
		attempt.Checksum,
		attempt.AttemptCount,
		attempt.MaxAttempts,
		attempt.NextEligible,
		attempt.Outcome,
		nullable(attempt.LastError),
		attempt.CreatedAt,
		attempt.CreatedBy,
		attempt.LastUpdatedAt,
		attempt.LastUpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save transfer attempt %s: %w", attempt.TransferID, err)
	}
	return nil
}

// UpdateAttempt persists the mutable state of an existing attempt.
func (r *PgxTransferRepository) UpdateAttempt(ctx context.Context, attempt domain.TransferAttempt) error {
	query := `
		UPDATE transfer_attempts
		SET attempt_count = $1, next_eligible = $2, outcome = $3, last_error = $4,
		    max_attempts = $5, last_updated_at = $6
		WHERE transfer_id = $7;
	`
	tag, err := r.pool.Exec(ctx, query,
		attempt.AttemptCount,
		attempt.NextEligible,
		attempt.Outcome,
		nullable(attempt.LastError),
		attempt.MaxAttempts,
		time.Now().UTC(),
		attempt.TransferID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transfer attempt %s: %w", attempt.TransferID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// FindAttemptByID retrieves one attempt, payload included.
func (r *PgxTransferRepository) FindAttemptByID(ctx context.Context, transferID string) (*domain.TransferAttempt, error) {
	query := `SELECT ` + transferColumns + ` FROM transfer_attempts WHERE transfer_id = $1;`
	rows, err := r.pool.Query(ctx, query, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer attempt %s: %w", transferID, err)
	}
	defer rows.Close()

	attempt, err := pgx.CollectOneRow(rows, scanAttempt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan transfer attempt %s: %w", transferID, err)
	}
	return &attempt, nil
}

// ListDueAttempts retrieves queued attempts whose next-eligible time has
// passed, oldest first.
func (r *PgxTransferRepository) ListDueAttempts(ctx context.Context, now time.Time, limit int) ([]domain.TransferAttempt, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfer_attempts
		WHERE outcome = 'QUEUED' AND next_eligible <= $1
		ORDER BY next_eligible
		LIMIT $2;
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due transfer attempts: %w", err)
	}
	defer rows.Close()

	attempts, err := pgx.CollectRows(rows, scanAttempt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan due transfer attempts: %w", err)
	}
	return attempts, nil
}

// ListStalledAttempts retrieves upload attempts orphaned by a crash: rows
// left IN_PROGRESS mid-upload or FAILED between the executor's persist and
// the queue's requeue, untouched since before the cutoff and with retry
// budget left.
func (r *PgxTransferRepository) ListStalledAttempts(ctx context.Context, before time.Time, limit int) ([]domain.TransferAttempt, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfer_attempts
		WHERE direction = 'UPLOAD'
		  AND outcome IN ('IN_PROGRESS', 'FAILED')
		  AND attempt_count < max_attempts
		  AND last_updated_at <= $1
		ORDER BY last_updated_at
		LIMIT $2;
	`
	rows, err := r.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stalled transfer attempts: %w", err)
	}
	defer rows.Close()

	attempts, err := pgx.CollectRows(rows, scanAttempt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan stalled transfer attempts: %w", err)
	}
	return attempts, nil
}

// ListDeadLettered retrieves dead-lettered attempts, most recent first.
func (r *PgxTransferRepository) ListDeadLettered(ctx context.Context, limit int) ([]domain.TransferAttempt, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfer_attempts
		WHERE outcome = 'DEAD_LETTERED'
		ORDER BY last_updated_at DESC
		LIMIT $1;
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead-lettered attempts: %w", err)
	}
	defer rows.Close()

	attempts, err := pgx.CollectRows(rows, scanAttempt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan dead-lettered attempts: %w", err)
	}
	return attempts, nil
}

// CountQueued returns the current retry queue depth.
func (r *PgxTransferRepository) CountQueued(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfer_attempts WHERE outcome = 'QUEUED';`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued attempts: %w", err)
	}
	return count, nil
}

func scanAttempt(row pgx.CollectableRow) (domain.TransferAttempt, error) {
	var attempt domain.TransferAttempt
	var batchID, lastError *string
	err := row.Scan(
		&attempt.TransferID,
		&attempt.BankCode,
		&batchID,
		&attempt.Direction,
		&attempt.RemotePath,
		&attempt.Payload,
		&attempt.Checksum,
		&attempt.AttemptCount,
		&attempt.MaxAttempts,
		&attempt.NextEligible,
		&attempt.Outcome,
		&lastError,
		&attempt.CreatedAt,
		&attempt.CreatedBy,
		&attempt.LastUpdatedAt,
		&attempt.LastUpdatedBy,
	)
	if batchID != nil {
		attempt.BatchID = *batchID
	}
	if lastError != nil {
		attempt.LastError = *lastError
	}
	return attempt, err
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
