package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/codec"
	"github.com/gasops/bankbridge/internal/core/domain"
	"github.com/gasops/bankbridge/internal/core/ports/repositories"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
	"github.com/gasops/bankbridge/internal/middleware"
)

// bankConcurrency bounds how many banks one daily run works in parallel.
// Within each bank the connection pool bounds concurrency further.
const bankConcurrency = 3

// batchService drives the outbound half of the exchange cycle: collect
// pending payments per bank, encode, encrypt, upload.
type batchService struct {
	BaseService
	repo     repositories.BatchRepository
	banks    portssvc.BankDirectory
	cipher   portssvc.FileCipherSvc
	executor portssvc.TransferExecutorSvc
	retry    portssvc.RetryQueueSvc
	now      func() time.Time
}

// NewBatchService creates the daily batch generation service.
func NewBatchService(repo repositories.BatchRepository, banks portssvc.BankDirectory,
	cipher portssvc.FileCipherSvc, executor portssvc.TransferExecutorSvc,
	retry portssvc.RetryQueueSvc) portssvc.BatchSvc {
	return &batchService{
		repo:     repo,
		banks:    banks,
		cipher:   cipher,
		executor: executor,
		retry:    retry,
		now:      time.Now,
	}
}

var _ portssvc.BatchSvc = (*batchService)(nil)

// GenerateAndUploadDailyBatch runs one exchange cycle for every configured
// bank with pending transactions on date. Banks run concurrently under a
// bounded group; a failure for one bank is recorded in its result and never
// aborts the others.
func (s *batchService) GenerateAndUploadDailyBatch(ctx context.Context, date time.Time) ([]portssvc.BatchRunResult, error) {
	banks := s.banks.All()
	results := make([]portssvc.BatchRunResult, len(banks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bankConcurrency)
	for i, bank := range banks {
		i, bank := i, bank
		g.Go(func() error {
			results[i] = s.runBank(gctx, bank, date)
			return nil
		})
	}
	// Worker funcs never return errors; per-bank failures live in the results.
	_ = g.Wait()

	out := results[:0]
	for _, r := range results {
		if r.BankCode != "" {
			out = append(out, r)
		}
	}
	s.LogInfo(ctx, "Daily batch run finished",
		slog.Time("processing_date", date),
		slog.Int("banks", len(out)))
	return out, nil
}

// GetBatchByID retrieves one batch with its transactions.
func (s *batchService) GetBatchByID(ctx context.Context, batchID string) (*domain.PaymentBatch, error) {
	return s.repo.FindBatchByID(ctx, batchID)
}

// runBank executes the full cycle for one bank. Every failure path maps to a
// result; only banks with no pending work produce an empty result.
func (s *batchService) runBank(ctx context.Context, bank domain.BankConfiguration, date time.Time) portssvc.BatchRunResult {
	txns, err := s.repo.ListPendingTransactions(ctx, bank.BankCode, date)
	if err != nil {
		s.LogError(ctx, err, "Failed to list pending transactions", slog.String("bank_code", bank.BankCode))
		return portssvc.BatchRunResult{BankCode: bank.BankCode, Error: err.Error()}
	}
	if len(txns) == 0 {
		s.LogDebug(ctx, "No pending transactions", slog.String("bank_code", bank.BankCode))
		return portssvc.BatchRunResult{}
	}

	batch := s.newBatch(ctx, bank.BankCode, date, txns)
	if err := s.repo.SaveBatch(ctx, *batch); err != nil {
		s.LogError(ctx, err, "Failed to persist batch", slog.String("bank_code", bank.BankCode))
		return portssvc.BatchRunResult{BankCode: bank.BankCode, Error: err.Error()}
	}

	payload, err := codec.EncodeBatch(batch, bank)
	if err != nil {
		return s.failBatch(ctx, batch, fmt.Errorf("encode batch: %w", err))
	}
	if err := s.repo.UpdateBatchStatus(ctx, batch.BatchID, domain.BatchGenerated, 0); err != nil {
		return s.failBatch(ctx, batch, err)
	}
	batch.Status = domain.BatchGenerated

	ciphertext, err := s.cipher.EncryptAndSign(ctx, payload, bank.BankCode)
	if err != nil {
		return s.failBatch(ctx, batch, fmt.Errorf("encrypt batch: %w", err))
	}

	remotePath := path.Join(bank.UploadPath, paymentFileName(bank.BankCode, date))
	attempt, err := s.executor.Upload(ctx, bank.BankCode, ciphertext, remotePath, batch.BatchID)
	switch {
	case err == nil:
		if err := s.markUploaded(ctx, batch); err != nil {
			return portssvc.BatchRunResult{BankCode: bank.BankCode, BatchID: batch.BatchID,
				Status: batch.Status, Error: err.Error()}
		}
		return portssvc.BatchRunResult{BankCode: bank.BankCode, BatchID: batch.BatchID, Status: domain.BatchUploaded}
	case attempt != nil && (apperrors.IsTransient(err) || apperrors.IsCircuitOpen(err)) && !attempt.Exhausted():
		if qErr := s.retry.Enqueue(ctx, *attempt); qErr != nil {
			s.LogError(ctx, qErr, "Failed to enqueue transfer for retry", slog.String("batch_id", batch.BatchID))
			return s.failBatch(ctx, batch, err)
		}
		s.LogWarn(ctx, "Upload queued for retry",
			slog.String("bank_code", bank.BankCode),
			slog.String("batch_id", batch.BatchID),
			slog.String("error", err.Error()))
		return portssvc.BatchRunResult{BankCode: bank.BankCode, BatchID: batch.BatchID,
			Status: domain.BatchGenerated, Queued: true, Error: err.Error()}
	default:
		return s.failBatch(ctx, batch, err)
	}
}

func (s *batchService) newBatch(ctx context.Context, bankCode string, date time.Time, txns []domain.PaymentTransaction) *domain.PaymentBatch {
	now := s.now()
	subject, ok := middleware.GetSubjectFromCtx(ctx)
	if !ok {
		subject = "system"
	}
	// Sequence numbers are assigned here; upstream ordering (scheduled date,
	// then transaction id) is preserved from the repository query.
	for i := range txns {
		txns[i].SequenceNumber = i + 1
		txns[i].Status = domain.TxnPending
	}
	return &domain.PaymentBatch{
		BatchID:        uuid.NewString(),
		BankCode:       bankCode,
		ProcessingDate: date,
		Transactions:   txns,
		Status:         domain.BatchDraft,
		AuditFields: domain.AuditFields{
			CreatedAt:     now,
			CreatedBy:     subject,
			LastUpdatedAt: now,
			LastUpdatedBy: subject,
		},
	}
}

func (s *batchService) markUploaded(ctx context.Context, batch *domain.PaymentBatch) error {
	if err := s.repo.UpdateBatchStatus(ctx, batch.BatchID, domain.BatchUploaded, 0); err != nil {
		s.LogError(ctx, err, "Failed to mark batch uploaded", slog.String("batch_id", batch.BatchID))
		return err
	}
	batch.Status = domain.BatchUploaded
	for _, t := range batch.Transactions {
		if err := s.repo.UpdateTransactionStatus(ctx, batch.BatchID, t.TransactionID, domain.TxnSubmitted); err != nil {
			s.LogError(ctx, err, "Failed to mark transaction submitted",
				slog.String("batch_id", batch.BatchID),
				slog.String("transaction_id", t.TransactionID))
			return err
		}
	}
	s.LogInfo(ctx, "Batch uploaded",
		slog.String("bank_code", batch.BankCode),
		slog.String("batch_id", batch.BatchID),
		slog.Int("transactions", len(batch.Transactions)),
		slog.Int64("total_amount", batch.TotalAmount()))
	return nil
}

func (s *batchService) failBatch(ctx context.Context, batch *domain.PaymentBatch, cause error) portssvc.BatchRunResult {
	s.LogError(ctx, cause, "Batch run failed",
		slog.String("bank_code", batch.BankCode),
		slog.String("batch_id", batch.BatchID))
	if err := s.repo.UpdateBatchStatus(ctx, batch.BatchID, domain.BatchFailed, 0); err != nil {
		s.LogError(ctx, err, "Failed to mark batch failed", slog.String("batch_id", batch.BatchID))
	}
	return portssvc.BatchRunResult{
		BankCode: batch.BankCode,
		BatchID:  batch.BatchID,
		Status:   domain.BatchFailed,
		Error:    cause.Error(),
	}
}

// paymentFileName is the outbound naming convention the banks pick up from:
// PAY<bankCode><YYYYMMDD>.txt.pgp.
func paymentFileName(bankCode string, date time.Time) string {
	return fmt.Sprintf("PAY%s%s.txt.pgp", bankCode, date.Format("20060102"))
}
