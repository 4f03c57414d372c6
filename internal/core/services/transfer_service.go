package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
	"github.com/gasops/bankbridge/internal/core/ports/repositories"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
	"github.com/gasops/bankbridge/internal/metrics"
	"github.com/gasops/bankbridge/internal/middleware"
)

// tempSuffix marks an in-flight upload on the remote side. Banks only pick up
// files once they appear under their final name, so a crash mid-write leaves
// nothing visible to them.
const tempSuffix = ".tmp"

// transferExecutorService performs individual SFTP transfers behind the
// circuit breaker, drawing connections from the per-bank pool and persisting
// every attempt for the retry queue.
type transferExecutorService struct {
	BaseService
	pool        portssvc.ConnectionPoolSvc
	breaker     portssvc.CircuitBreakerSvc
	transfers   repositories.TransferAttemptRepository
	reg         *metrics.Registry
	maxAttempts int
	now         func() time.Time
}

// NewTransferExecutorService creates the transfer executor. maxAttempts is
// the retry budget stamped on every new attempt; values below 1 default to 3.
func NewTransferExecutorService(pool portssvc.ConnectionPoolSvc, breaker portssvc.CircuitBreakerSvc,
	transfers repositories.TransferAttemptRepository, reg *metrics.Registry, maxAttempts int) portssvc.TransferExecutorSvc {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &transferExecutorService{
		pool:        pool,
		breaker:     breaker,
		transfers:   transfers,
		reg:         reg,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

var _ portssvc.TransferExecutorSvc = (*transferExecutorService)(nil)

// Upload writes payload to remotePath on the bank's endpoint and records the
// attempt durably. A transient failure leaves the attempt in Failed so the
// batch service can enqueue it; a permanent failure dead-letters it directly.
func (s *transferExecutorService) Upload(ctx context.Context, bankCode string, payload []byte, remotePath, batchID string) (*domain.TransferAttempt, error) {
	attempt := s.newAttempt(ctx, bankCode, batchID, domain.DirectionUpload, remotePath, payload)
	if err := s.transfers.SaveAttempt(ctx, *attempt); err != nil {
		s.LogError(ctx, err, "Failed to persist transfer attempt", slog.String("transfer_id", attempt.TransferID))
		return nil, err
	}
	err := s.Execute(ctx, attempt)
	return attempt, err
}

// Download fetches remotePath from the bank's endpoint. Download attempts are
// recorded for audit but never queued: the next scheduled reconciliation run
// is the retry.
func (s *transferExecutorService) Download(ctx context.Context, bankCode, remotePath string, manifest *domain.RemoteManifest) ([]byte, *domain.TransferAttempt, error) {
	attempt := s.newAttempt(ctx, bankCode, "", domain.DirectionDownload, remotePath, nil)
	attempt.AttemptCount = 1

	data, err := s.doDownload(ctx, bankCode, remotePath, manifest)
	s.reg.RecordDownload(bankCode, err == nil)
	if err != nil {
		attempt.Outcome = domain.TransferFailed
		attempt.LastError = err.Error()
	} else {
		attempt.Outcome = domain.TransferSuccess
		attempt.Checksum = checksumHex(data)
	}
	if saveErr := s.transfers.SaveAttempt(ctx, *attempt); saveErr != nil {
		s.LogError(ctx, saveErr, "Failed to persist download attempt", slog.String("transfer_id", attempt.TransferID))
	}
	if err != nil {
		return nil, attempt, err
	}
	return data, attempt, nil
}

// Execute runs one upload attempt end to end, classifies the failure and
// persists the resulting state. Retries re-enter through this method.
func (s *transferExecutorService) Execute(ctx context.Context, attempt *domain.TransferAttempt) error {
	if attempt.Direction != domain.DirectionUpload {
		return fmt.Errorf("%w: only upload attempts are retryable", apperrors.ErrValidation)
	}

	attempt.AttemptCount++
	attempt.Outcome = domain.TransferInProgress
	attempt.LastUpdatedAt = s.now()

	err := s.doUpload(ctx, attempt)
	s.reg.RecordUpload(attempt.BankCode, err == nil)

	switch {
	case err == nil:
		attempt.Outcome = domain.TransferSuccess
		attempt.LastError = ""
		s.LogInfo(ctx, "Upload completed",
			slog.String("transfer_id", attempt.TransferID),
			slog.String("bank_code", attempt.BankCode),
			slog.String("remote_path", attempt.RemotePath),
			slog.Int("attempt", attempt.AttemptCount))
	case apperrors.IsCircuitOpen(err):
		// No network attempt happened; the rejection does not consume budget.
		attempt.AttemptCount--
		attempt.Outcome = domain.TransferFailed
		attempt.LastError = err.Error()
		s.LogWarn(ctx, "Upload rejected by open circuit",
			slog.String("transfer_id", attempt.TransferID),
			slog.String("bank_code", attempt.BankCode))
	case apperrors.IsTransient(err) && !attempt.Exhausted():
		attempt.Outcome = domain.TransferFailed
		attempt.LastError = err.Error()
		s.LogWarn(ctx, "Upload failed, retry possible",
			slog.String("transfer_id", attempt.TransferID),
			slog.String("bank_code", attempt.BankCode),
			slog.Int("attempt", attempt.AttemptCount),
			slog.String("error", err.Error()))
	default:
		attempt.Outcome = domain.TransferDeadLettered
		attempt.LastError = err.Error()
		s.LogError(ctx, err, "Upload dead-lettered",
			slog.String("transfer_id", attempt.TransferID),
			slog.String("bank_code", attempt.BankCode),
			slog.Int("attempt", attempt.AttemptCount))
	}

	attempt.LastUpdatedAt = s.now()
	if saveErr := s.transfers.UpdateAttempt(ctx, *attempt); saveErr != nil {
		s.LogError(ctx, saveErr, "Failed to persist attempt outcome", slog.String("transfer_id", attempt.TransferID))
		if err == nil {
			return saveErr
		}
	}
	return err
}

// doUpload is the guarded write: breaker gate, pooled connection, temp-file
// write, size and checksum verification, atomic rename.
func (s *transferExecutorService) doUpload(ctx context.Context, attempt *domain.TransferAttempt) error {
	bankCode := attempt.BankCode
	if err := s.breaker.Allow(bankCode); err != nil {
		s.reg.RecordCircuitRejection(bankCode)
		return err
	}

	conn, err := s.pool.Acquire(ctx, bankCode)
	if err != nil {
		s.breaker.ReportFailure(bankCode)
		return s.classify(bankCode, "acquire", err)
	}

	healthy := true
	defer func() { s.pool.Release(bankCode, conn, healthy) }()

	tempPath := attempt.RemotePath + tempSuffix
	// A stale temp file from a crashed attempt must not corrupt this write.
	if err := conn.Remove(tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.LogDebug(ctx, "Removing stale temp file failed", slog.String("path", tempPath), slog.String("error", err.Error()))
	}

	n, err := conn.WriteFile(tempPath, attempt.Payload)
	if err != nil {
		healthy = false
		s.breaker.ReportFailure(bankCode)
		return s.classify(bankCode, "write", err)
	}
	if n != int64(len(attempt.Payload)) {
		healthy = false
		s.breaker.ReportFailure(bankCode)
		return s.classify(bankCode, "write",
			fmt.Errorf("short write: %d of %d bytes", n, len(attempt.Payload)))
	}

	size, err := conn.Size(tempPath)
	if err != nil {
		healthy = false
		s.breaker.ReportFailure(bankCode)
		return s.classify(bankCode, "verify", err)
	}
	if size != int64(len(attempt.Payload)) {
		s.breaker.ReportFailure(bankCode)
		return s.classify(bankCode, "verify",
			fmt.Errorf("remote size %d does not match local %d", size, len(attempt.Payload)))
	}

	written, err := conn.ReadFile(tempPath)
	if err != nil {
		healthy = false
		s.breaker.ReportFailure(bankCode)
		return s.classify(bankCode, "verify", err)
	}
	if sum := checksumHex(written); sum != attempt.Checksum {
		s.breaker.ReportFailure(bankCode)
		return s.classify(bankCode, "verify",
			fmt.Errorf("remote checksum %s does not match local %s", sum, attempt.Checksum))
	}

	if err := conn.Rename(tempPath, attempt.RemotePath); err != nil {
		healthy = false
		s.breaker.ReportFailure(bankCode)
		return s.classify(bankCode, "rename", err)
	}

	s.breaker.ReportSuccess(bankCode)
	return nil
}

func (s *transferExecutorService) doDownload(ctx context.Context, bankCode, remotePath string, manifest *domain.RemoteManifest) ([]byte, error) {
	if err := s.breaker.Allow(bankCode); err != nil {
		s.reg.RecordCircuitRejection(bankCode)
		return nil, err
	}

	conn, err := s.pool.Acquire(ctx, bankCode)
	if err != nil {
		s.breaker.ReportFailure(bankCode)
		return nil, s.classify(bankCode, "acquire", err)
	}

	healthy := true
	defer func() { s.pool.Release(bankCode, conn, healthy) }()

	data, err := conn.ReadFile(remotePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			healthy = false
		}
		s.breaker.ReportFailure(bankCode)
		return nil, s.classify(bankCode, "read", err)
	}

	if manifest != nil {
		if manifest.Size > 0 && manifest.Size != int64(len(data)) {
			s.breaker.ReportFailure(bankCode)
			return nil, s.classify(bankCode, "verify",
				fmt.Errorf("downloaded size %d does not match declared %d", len(data), manifest.Size))
		}
		if manifest.SHA256 != "" && checksumHex(data) != manifest.SHA256 {
			s.breaker.ReportFailure(bankCode)
			return nil, s.classify(bankCode, "verify",
				fmt.Errorf("downloaded checksum does not match declared %s", manifest.SHA256))
		}
	}

	s.breaker.ReportSuccess(bankCode)
	return data, nil
}

func (s *transferExecutorService) newAttempt(ctx context.Context, bankCode, batchID string,
	direction domain.TransferDirection, remotePath string, payload []byte) *domain.TransferAttempt {
	now := s.now()
	subject, ok := middleware.GetSubjectFromCtx(ctx)
	if !ok {
		subject = "system"
	}
	return &domain.TransferAttempt{
		TransferID:   uuid.NewString(),
		BankCode:     bankCode,
		BatchID:      batchID,
		Direction:    direction,
		RemotePath:   remotePath,
		Payload:      payload,
		Checksum:     checksumHex(payload),
		AttemptCount: 0,
		MaxAttempts:  s.maxAttempts,
		NextEligible: now,
		Outcome:      domain.TransferInProgress,
		AuditFields: domain.AuditFields{
			CreatedAt:     now,
			CreatedBy:     subject,
			LastUpdatedAt: now,
			LastUpdatedBy: subject,
		},
	}
}

// classify wraps raw SFTP errors with their retry classification. Missing
// files and permission rejections will not heal on retry; everything
// network-shaped is assumed transient and left to the retry budget.
func (s *transferExecutorService) classify(bankCode, op string, err error) error {
	var pe *apperrors.PoolExhaustedError
	if errors.As(err, &pe) {
		return err
	}
	switch {
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return apperrors.NewPermanentTransferError(bankCode, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTransientTransferError(bankCode, op, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return apperrors.NewTransientTransferError(bankCode, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.NewTransientTransferError(bankCode, op, err)
	}
	return apperrors.NewTransientTransferError(bankCode, op, err)
}

func checksumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
