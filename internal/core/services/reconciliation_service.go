package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/codec"
	"github.com/gasops/bankbridge/internal/core/domain"
	"github.com/gasops/bankbridge/internal/core/ports/repositories"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
)

// reconciliationService drives the inbound half of the exchange cycle:
// download the bank's response file, decrypt and verify it, match its records
// against the awaiting batch.
type reconciliationService struct {
	BaseService
	repo          repositories.BatchRepository
	banks         portssvc.BankDirectory
	cipher        portssvc.FileCipherSvc
	executor      portssvc.TransferExecutorSvc
	quarantineDir string
	now           func() time.Time
}

// ReconOption is a functional option for configuring the reconciliation
// service.
type ReconOption func(*reconciliationService)

// WithReconClock overrides the clock, for tests.
func WithReconClock(now func() time.Time) ReconOption {
	return func(s *reconciliationService) {
		s.now = now
	}
}

// NewReconciliationService creates the reconciliation service. Files failing
// signature verification are written to quarantineDir and never parsed.
func NewReconciliationService(repo repositories.BatchRepository, banks portssvc.BankDirectory,
	cipher portssvc.FileCipherSvc, executor portssvc.TransferExecutorSvc,
	quarantineDir string, options ...ReconOption) portssvc.ReconciliationSvc {
	svc := &reconciliationService{
		repo:          repo,
		banks:         banks,
		cipher:        cipher,
		executor:      executor,
		quarantineDir: quarantineDir,
		now:           time.Now,
	}
	for _, option := range options {
		option(svc)
	}
	return svc
}

var _ portssvc.ReconciliationSvc = (*reconciliationService)(nil)

// CheckAndProcessReconciliation runs one reconciliation pass for the bank.
// A response file that is not there yet is not an error to retry: the next
// scheduled run picks it up, and once the bank's cutoff passes the batch is
// closed with its unresolved transactions parked as exceptions.
func (s *reconciliationService) CheckAndProcessReconciliation(ctx context.Context, bankCode string) (*domain.ReconciliationOutcome, error) {
	bank, err := s.banks.Get(bankCode)
	if err != nil {
		return nil, err
	}
	batch, err := s.repo.FindBatchForReconciliation(ctx, bankCode)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: no batch awaiting reconciliation for bank %s", apperrors.ErrNotFound, bankCode)
		}
		return nil, err
	}

	remotePath := path.Join(bank.DownloadPath, responseFileName(bankCode, batch.ProcessingDate))
	ciphertext, _, err := s.executor.Download(ctx, bankCode, remotePath, nil)
	if err != nil {
		if s.now().After(bank.CutoffFor(batch.ProcessingDate)) {
			s.LogWarn(ctx, "Cutoff passed without a response file, closing batch",
				slog.String("bank_code", bankCode),
				slog.String("batch_id", batch.BatchID))
			return s.closeAtCutoff(ctx, batch)
		}
		s.LogInfo(ctx, "Response file not retrieved, will retry on next run",
			slog.String("bank_code", bankCode),
			slog.String("remote_path", remotePath),
			slog.String("error", err.Error()))
		return nil, err
	}

	plaintext, err := s.cipher.DecryptAndVerify(ctx, ciphertext, bankCode)
	if err != nil {
		if errors.Is(err, apperrors.ErrVerification) {
			s.quarantine(ctx, bankCode, ciphertext)
		}
		return nil, err
	}

	records, err := codec.DecodeReconciliation(plaintext, bank)
	if err != nil {
		s.LogError(ctx, err, "Response file rejected",
			slog.String("bank_code", bankCode),
			slog.String("batch_id", batch.BatchID))
		return nil, err
	}

	if batch.Status == domain.BatchUploaded {
		if err := s.repo.UpdateBatchStatus(ctx, batch.BatchID, domain.BatchReconciling, 0); err != nil {
			return nil, err
		}
		batch.Status = domain.BatchReconciling
	}
	return s.Apply(ctx, records, batch)
}

// Apply matches decoded response records against the batch by transaction id.
// Amounts must match exactly; every anomaly becomes a persisted exception and
// is never silently dropped. Once nothing is left unresolved, or the cutoff
// has passed, the batch closes.
func (s *reconciliationService) Apply(ctx context.Context, records []domain.ReconciliationRecord, batch *domain.PaymentBatch) (*domain.ReconciliationOutcome, error) {
	byID := make(map[string]*domain.PaymentTransaction, len(batch.Transactions))
	for i := range batch.Transactions {
		byID[batch.Transactions[i].TransactionID] = &batch.Transactions[i]
	}

	outcome := &domain.ReconciliationOutcome{BatchID: batch.BatchID}
	for _, rec := range records {
		txn, ok := byID[rec.TransactionID]
		if !ok {
			exc, err := s.raiseException(ctx, batch.BatchID, rec.TransactionID,
				domain.ExceptionUnknownTransaction, 0, rec.Amount, rec.BankReference)
			if err != nil {
				return nil, err
			}
			outcome.Exceptions = append(outcome.Exceptions, exc)
			continue
		}
		if txn.Amount != rec.Amount {
			exc, err := s.raiseException(ctx, batch.BatchID, rec.TransactionID,
				domain.ExceptionAmountMismatch, txn.Amount, rec.Amount, rec.BankReference)
			if err != nil {
				return nil, err
			}
			outcome.Exceptions = append(outcome.Exceptions, exc)
			if err := s.setTransactionStatus(ctx, batch, txn, domain.TxnException); err != nil {
				return nil, err
			}
			continue
		}

		outcome.Matched++
		status := domain.TxnReconciledFailure
		if rec.Succeeded() {
			status = domain.TxnReconciledSuccess
			outcome.Succeeded++
		} else {
			outcome.Failed++
		}
		if err := s.setTransactionStatus(ctx, batch, txn, status); err != nil {
			return nil, err
		}
	}

	unresolved := unresolvedCount(batch)
	switch {
	case unresolved == 0:
		if err := s.repo.UpdateBatchStatus(ctx, batch.BatchID, domain.BatchReconciled, 0); err != nil {
			return nil, err
		}
		batch.Status = domain.BatchReconciled
		outcome.BatchClosed = true
		s.LogInfo(ctx, "Batch fully reconciled",
			slog.String("bank_code", batch.BankCode),
			slog.String("batch_id", batch.BatchID),
			slog.Int("succeeded", outcome.Succeeded),
			slog.Int("failed", outcome.Failed),
			slog.Int("exceptions", len(outcome.Exceptions)))
	case s.afterCutoff(batch):
		closed, err := s.closeAtCutoff(ctx, batch)
		if err != nil {
			return nil, err
		}
		outcome.BatchClosed = true
		outcome.OpenAtCutoff = closed.OpenAtCutoff
		outcome.Exceptions = append(outcome.Exceptions, closed.Exceptions...)
	default:
		s.LogInfo(ctx, "Partial reconciliation, batch stays open",
			slog.String("bank_code", batch.BankCode),
			slog.String("batch_id", batch.BatchID),
			slog.Int("unresolved", unresolved))
	}
	return outcome, nil
}

// closeAtCutoff parks every still-unresolved transaction as an exception and
// closes the batch with the open count recorded.
func (s *reconciliationService) closeAtCutoff(ctx context.Context, batch *domain.PaymentBatch) (*domain.ReconciliationOutcome, error) {
	outcome := &domain.ReconciliationOutcome{BatchID: batch.BatchID, BatchClosed: true}
	for i := range batch.Transactions {
		txn := &batch.Transactions[i]
		if resolved(txn.Status) {
			continue
		}
		exc, err := s.raiseException(ctx, batch.BatchID, txn.TransactionID,
			domain.ExceptionCutoffUnresolved, txn.Amount, 0, "")
		if err != nil {
			return nil, err
		}
		outcome.Exceptions = append(outcome.Exceptions, exc)
		if err := s.setTransactionStatus(ctx, batch, txn, domain.TxnException); err != nil {
			return nil, err
		}
		outcome.OpenAtCutoff++
	}
	if err := s.repo.UpdateBatchStatus(ctx, batch.BatchID, domain.BatchReconciled, outcome.OpenAtCutoff); err != nil {
		return nil, err
	}
	batch.Status = domain.BatchReconciled
	batch.OpenExceptions = outcome.OpenAtCutoff
	s.LogWarn(ctx, "Batch closed at cutoff with unresolved transactions",
		slog.String("bank_code", batch.BankCode),
		slog.String("batch_id", batch.BatchID),
		slog.Int("open_exceptions", outcome.OpenAtCutoff))
	return outcome, nil
}

func (s *reconciliationService) raiseException(ctx context.Context, batchID, transactionID string,
	reason domain.ExceptionReason, expected, reported int64, bankRef string) (domain.ReconciliationException, error) {
	exc := domain.ReconciliationException{
		ExceptionID:    uuid.NewString(),
		BatchID:        batchID,
		TransactionID:  transactionID,
		Reason:         reason,
		ExpectedAmount: expected,
		ReportedAmount: reported,
		BankReference:  bankRef,
		RaisedAt:       s.now(),
	}
	if err := s.repo.SaveException(ctx, exc); err != nil {
		s.LogError(ctx, err, "Failed to persist reconciliation exception",
			slog.String("batch_id", batchID),
			slog.String("transaction_id", transactionID))
		return exc, err
	}
	s.LogWarn(ctx, "Reconciliation exception raised",
		slog.String("batch_id", batchID),
		slog.String("transaction_id", transactionID),
		slog.String("reason", string(reason)))
	return exc, nil
}

func (s *reconciliationService) setTransactionStatus(ctx context.Context, batch *domain.PaymentBatch,
	txn *domain.PaymentTransaction, status domain.TransactionStatus) error {
	if err := s.repo.UpdateTransactionStatus(ctx, batch.BatchID, txn.TransactionID, status); err != nil {
		s.LogError(ctx, err, "Failed to update transaction status",
			slog.String("batch_id", batch.BatchID),
			slog.String("transaction_id", txn.TransactionID))
		return err
	}
	txn.Status = status
	return nil
}

func (s *reconciliationService) afterCutoff(batch *domain.PaymentBatch) bool {
	bank, err := s.banks.Get(batch.BankCode)
	if err != nil {
		return false
	}
	return s.now().After(bank.CutoffFor(batch.ProcessingDate))
}

// quarantine writes a file that failed signature verification to the local
// quarantine directory for manual inspection. The ciphertext is stored, never
// any decrypted content.
func (s *reconciliationService) quarantine(ctx context.Context, bankCode string, ciphertext []byte) {
	if s.quarantineDir == "" {
		s.LogError(ctx, apperrors.ErrVerification, "Response file failed verification and no quarantine directory is configured",
			slog.String("bank_code", bankCode))
		return
	}
	if err := os.MkdirAll(s.quarantineDir, 0o750); err != nil {
		s.LogError(ctx, err, "Failed to create quarantine directory", slog.String("dir", s.quarantineDir))
		return
	}
	name := fmt.Sprintf("%s-%s.pgp", bankCode, s.now().UTC().Format("20060102T150405Z"))
	target := filepath.Join(s.quarantineDir, name)
	if err := os.WriteFile(target, ciphertext, 0o640); err != nil {
		s.LogError(ctx, err, "Failed to write quarantined file", slog.String("path", target))
		return
	}
	s.LogWarn(ctx, "Response file quarantined",
		slog.String("bank_code", bankCode),
		slog.String("path", target))
}

func resolved(status domain.TransactionStatus) bool {
	switch status {
	case domain.TxnReconciledSuccess, domain.TxnReconciledFailure, domain.TxnException:
		return true
	}
	return false
}

func unresolvedCount(batch *domain.PaymentBatch) int {
	n := 0
	for _, t := range batch.Transactions {
		if !resolved(t.Status) {
			n++
		}
	}
	return n
}

// responseFileName is the inbound naming convention the banks publish under:
// RSP<bankCode><YYYYMMDD>.txt.pgp.
func responseFileName(bankCode string, date time.Time) string {
	return fmt.Sprintf("RSP%s%s.txt.pgp", bankCode, date.Format("20060102"))
}
