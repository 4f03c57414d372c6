package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
	"github.com/gasops/bankbridge/internal/core/ports/repositories"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
)

// RetryConfig tunes the backoff schedule of the durable retry queue.
type RetryConfig struct {
	// BaseDelay is the first retry delay; each attempt doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// DrainLimit bounds how many due attempts one drain pass re-drives.
	DrainLimit int
	// StallAfter is how long an attempt may sit IN_PROGRESS or FAILED
	// without an update before a drain pass treats it as orphaned by a
	// crash and requeues it.
	StallAfter time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Hour
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 8 * time.Hour
	}
	if c.DrainLimit <= 0 {
		c.DrainLimit = 50
	}
	if c.StallAfter <= 0 {
		c.StallAfter = 15 * time.Minute
	}
	return c
}

// retryQueueService is the durable delay-queue of failed uploads. Attempts
// live in the transfer repository, so a process restart loses nothing; the
// scheduler calls DrainEligible periodically to re-drive whatever is due.
type retryQueueService struct {
	BaseService
	transfers repositories.TransferAttemptRepository
	executor  portssvc.TransferExecutorSvc
	cfg       RetryConfig
	now       func() time.Time
	jitter    func(time.Duration) time.Duration
}

// RetryOption is a functional option for configuring the retry queue.
type RetryOption func(*retryQueueService)

// WithRetryClock overrides the clock, for tests.
func WithRetryClock(now func() time.Time) RetryOption {
	return func(s *retryQueueService) {
		s.now = now
	}
}

// WithRetryJitter overrides the jitter function, for tests.
func WithRetryJitter(jitter func(time.Duration) time.Duration) RetryOption {
	return func(s *retryQueueService) {
		s.jitter = jitter
	}
}

// NewRetryQueueService creates the retry queue on top of the transfer
// repository and executor.
func NewRetryQueueService(transfers repositories.TransferAttemptRepository,
	executor portssvc.TransferExecutorSvc, cfg RetryConfig, options ...RetryOption) portssvc.RetryQueueSvc {
	svc := &retryQueueService{
		transfers: transfers,
		executor:  executor,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		jitter:    defaultJitter,
	}
	for _, option := range options {
		option(svc)
	}
	return svc
}

var _ portssvc.RetryQueueSvc = (*retryQueueService)(nil)

// defaultJitter spreads retries by up to ±10% so every bank's failed uploads
// do not thunder back at the same instant.
func defaultJitter(d time.Duration) time.Duration {
	spread := int64(d / 10)
	if spread == 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(2*spread)-spread)
}

// backoff computes the delay before the next retry of an attempt that has
// already failed attemptCount times.
func (s *retryQueueService) backoff(attemptCount int) time.Duration {
	delay := s.cfg.BaseDelay
	for i := 1; i < attemptCount; i++ {
		delay *= 2
		if delay >= s.cfg.MaxDelay {
			delay = s.cfg.MaxDelay
			break
		}
	}
	// Jitter never pushes the delay past the cap.
	delay = s.jitter(delay)
	if delay > s.cfg.MaxDelay {
		delay = s.cfg.MaxDelay
	}
	return delay
}

// Enqueue schedules a transiently failed attempt for a later retry. The
// attempt must already be persisted by the executor; this only stamps the
// queued outcome and the next-eligible time.
func (s *retryQueueService) Enqueue(ctx context.Context, attempt domain.TransferAttempt) error {
	if attempt.Exhausted() {
		return fmt.Errorf("%w: attempt %s has no retry budget left", apperrors.ErrValidation, attempt.TransferID)
	}
	delay := s.backoff(attempt.AttemptCount)
	attempt.Outcome = domain.TransferQueued
	attempt.NextEligible = s.now().Add(delay)
	attempt.LastUpdatedAt = s.now()
	if err := s.transfers.UpdateAttempt(ctx, attempt); err != nil {
		return err
	}
	s.LogInfo(ctx, "Transfer queued for retry",
		slog.String("transfer_id", attempt.TransferID),
		slog.String("bank_code", attempt.BankCode),
		slog.Int("attempt", attempt.AttemptCount),
		slog.Time("next_eligible", attempt.NextEligible))
	return nil
}

// recoverStalled requeues upload attempts orphaned by a crash: IN_PROGRESS
// rows whose process died mid-upload, and FAILED rows that died between the
// executor's persist and the queue's requeue. Re-running them is safe because
// the checksummed temp-write and atomic rename make uploads idempotent. Only
// rows untouched for the stall window are taken, so live attempts are never
// stolen from a running executor.
func (s *retryQueueService) recoverStalled(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.StallAfter)
	stalled, err := s.transfers.ListStalledAttempts(ctx, cutoff, s.cfg.DrainLimit)
	if err != nil {
		s.LogError(ctx, err, "Failed to list stalled transfers")
		return
	}
	for i := range stalled {
		attempt := stalled[i]
		previous := attempt.Outcome
		attempt.Outcome = domain.TransferQueued
		attempt.NextEligible = s.now()
		attempt.LastUpdatedAt = s.now()
		if err := s.transfers.UpdateAttempt(ctx, attempt); err != nil {
			s.LogError(ctx, err, "Failed to requeue stalled transfer", slog.String("transfer_id", attempt.TransferID))
			continue
		}
		s.LogWarn(ctx, "Requeued stalled transfer",
			slog.String("transfer_id", attempt.TransferID),
			slog.String("bank_code", attempt.BankCode),
			slog.String("previous_outcome", string(previous)))
	}
}

// DrainEligible re-drives every due attempt through the executor. Attempts
// stranded by a crash are swept back onto the queue first, then transient
// failures with remaining budget go back on the queue with a longer delay;
// the executor dead-letters the rest. Returns how many attempts were driven.
func (s *retryQueueService) DrainEligible(ctx context.Context) (int, error) {
	s.recoverStalled(ctx)
	due, err := s.transfers.ListDueAttempts(ctx, s.now(), s.cfg.DrainLimit)
	if err != nil {
		return 0, err
	}
	processed := 0
	for i := range due {
		attempt := due[i]
		processed++
		execErr := s.executor.Execute(ctx, &attempt)
		if execErr == nil {
			continue
		}
		if (apperrors.IsTransient(execErr) || apperrors.IsCircuitOpen(execErr)) && !attempt.Exhausted() {
			if qErr := s.Enqueue(ctx, attempt); qErr != nil {
				s.LogError(ctx, qErr, "Failed to requeue transfer", slog.String("transfer_id", attempt.TransferID))
			}
			continue
		}
		// Dead-lettered; the executor already persisted the outcome.
		s.LogWarn(ctx, "Retry did not succeed",
			slog.String("transfer_id", attempt.TransferID),
			slog.String("outcome", string(attempt.Outcome)),
			slog.String("error", execErr.Error()))
	}
	return processed, nil
}

// ListDeadLettered exposes dead-lettered attempts for the operator surface.
func (s *retryQueueService) ListDeadLettered(ctx context.Context, limit int) ([]domain.TransferAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.transfers.ListDeadLettered(ctx, limit)
}

// Replay re-drives one dead-lettered attempt immediately with a single extra
// unit of retry budget. Operator-triggered; safe because the upload itself is
// idempotent.
func (s *retryQueueService) Replay(ctx context.Context, transferID string) (*domain.TransferAttempt, error) {
	attempt, err := s.transfers.FindAttemptByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if attempt.Outcome != domain.TransferDeadLettered {
		return nil, fmt.Errorf("%w: transfer %s is %s, only dead-lettered attempts can be replayed",
			apperrors.ErrValidation, transferID, attempt.Outcome)
	}
	attempt.MaxAttempts = attempt.AttemptCount + 1
	if err := s.executor.Execute(ctx, attempt); err != nil {
		return attempt, err
	}
	return attempt, nil
}

// Depth reports the current number of queued attempts.
func (s *retryQueueService) Depth(ctx context.Context) (int, error) {
	return s.transfers.CountQueued(ctx)
}
