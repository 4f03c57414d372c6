package repositories

import (
	"context"
	"time"

	"github.com/gasops/bankbridge/internal/core/domain"
)

// TransferAttemptRepository is the durable backing store of the retry queue.
// It must provide at-least-once delivery: an attempt listed as due may be
// handed out again after a crash, which is safe because the checksummed
// atomic-rename upload is idempotent.
type TransferAttemptRepository interface {
	// SaveAttempt persists a new transfer attempt, payload included.
	SaveAttempt(ctx context.Context, attempt domain.TransferAttempt) error

	// UpdateAttempt persists outcome, attempt count, next-eligible time and
	// last error of an existing attempt.
	UpdateAttempt(ctx context.Context, attempt domain.TransferAttempt) error

	// FindAttemptByID retrieves one attempt, payload included.
	FindAttemptByID(ctx context.Context, transferID string) (*domain.TransferAttempt, error)

	// ListDueAttempts retrieves queued attempts whose next-eligible time has
	// passed, oldest first, bounded by limit.
	ListDueAttempts(ctx context.Context, now time.Time, limit int) ([]domain.TransferAttempt, error)

	// ListDeadLettered retrieves dead-lettered attempts for the operator
	// query surface, most recent first.
	ListDeadLettered(ctx context.Context, limit int) ([]domain.TransferAttempt, error)

	// ListStalledAttempts retrieves upload attempts with retry budget left
	// that were in flight or mid-requeue when a process died: rows stuck in
	// IN_PROGRESS or FAILED whose last update predates the given cutoff.
	ListStalledAttempts(ctx context.Context, before time.Time, limit int) ([]domain.TransferAttempt, error)

	// CountQueued returns the current retry queue depth.
	CountQueued(ctx context.Context) (int, error)
}
