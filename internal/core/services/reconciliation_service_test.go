package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/codec"
	"github.com/gasops/bankbridge/internal/core/domain"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
	"github.com/gasops/bankbridge/internal/core/services"
)

type ReconciliationServiceTestSuite struct {
	suite.Suite
	clock        time.Time
	mockRepo     *MockBatchRepo
	mockCipher   *MockFileCipher
	mockExecutor *MockTransferExecutor
	banks        *fakeBankDirectory
	service      portssvc.ReconciliationSvc
	date         time.Time
}

func (suite *ReconciliationServiceTestSuite) SetupTest() {
	suite.date = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	// Before the 15:30 cutoff unless a test advances the clock.
	suite.clock = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	suite.mockRepo = new(MockBatchRepo)
	suite.mockCipher = new(MockFileCipher)
	suite.mockExecutor = new(MockTransferExecutor)
	suite.banks = &fakeBankDirectory{banks: []domain.BankConfiguration{testBank("004")}}
	suite.service = services.NewReconciliationService(
		suite.mockRepo, suite.banks, suite.mockCipher, suite.mockExecutor,
		suite.T().TempDir(),
		services.WithReconClock(func() time.Time { return suite.clock }),
	)
}

func (suite *ReconciliationServiceTestSuite) awaitingBatch() *domain.PaymentBatch {
	txns := pendingTxns()
	for i := range txns {
		txns[i].SequenceNumber = i + 1
		txns[i].Status = domain.TxnSubmitted
	}
	return &domain.PaymentBatch{
		BatchID:        "batch-1",
		BankCode:       "004",
		ProcessingDate: suite.date,
		Transactions:   txns,
		Status:         domain.BatchUploaded,
	}
}

func successRecord(txnID string, amount int64) domain.ReconciliationRecord {
	return domain.ReconciliationRecord{
		TransactionID: txnID,
		ResponseCode:  domain.ResponseCodeSuccess,
		BankReference: "REF" + txnID,
		Amount:        amount,
		State:         domain.RecordUnmatched,
	}
}

func (suite *ReconciliationServiceTestSuite) TestApply_AllMatchedClosesBatch() {
	ctx := context.Background()
	batch := suite.awaitingBatch()
	records := []domain.ReconciliationRecord{
		successRecord("T001", 1000),
		successRecord("T002", 2000),
		successRecord("T003", 500),
	}

	for _, id := range []string{"T001", "T002", "T003"} {
		suite.mockRepo.On("UpdateTransactionStatus", ctx, "batch-1", id, domain.TxnReconciledSuccess).Return(nil).Once()
	}
	suite.mockRepo.On("UpdateBatchStatus", ctx, "batch-1", domain.BatchReconciled, 0).Return(nil).Once()

	outcome, err := suite.service.Apply(ctx, records, batch)

	suite.Require().NoError(err)
	suite.Equal(3, outcome.Matched)
	suite.Equal(3, outcome.Succeeded)
	suite.Equal(0, outcome.Failed)
	suite.Empty(outcome.Exceptions)
	suite.True(outcome.BatchClosed)
	suite.Equal(domain.BatchReconciled, batch.Status)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *ReconciliationServiceTestSuite) TestApply_FailureCodeReconcilesAsFailure() {
	ctx := context.Background()
	batch := suite.awaitingBatch()
	records := []domain.ReconciliationRecord{
		successRecord("T001", 1000),
		{TransactionID: "T002", ResponseCode: "2001", Amount: 2000},
		successRecord("T003", 500),
	}

	suite.mockRepo.On("UpdateTransactionStatus", ctx, "batch-1", "T001", domain.TxnReconciledSuccess).Return(nil).Once()
	suite.mockRepo.On("UpdateTransactionStatus", ctx, "batch-1", "T002", domain.TxnReconciledFailure).Return(nil).Once()
	suite.mockRepo.On("UpdateTransactionStatus", ctx, "batch-1", "T003", domain.TxnReconciledSuccess).Return(nil).Once()
	suite.mockRepo.On("UpdateBatchStatus", ctx, "batch-1", domain.BatchReconciled, 0).Return(nil).Once()

	outcome, err := suite.service.Apply(ctx, records, batch)

	suite.Require().NoError(err)
	suite.Equal(3, outcome.Matched)
	suite.Equal(2, outcome.Succeeded)
	suite.Equal(1, outcome.Failed)
	suite.True(outcome.BatchClosed)
}

func (suite *ReconciliationServiceTestSuite) TestApply_UnknownTransactionRaisesException() {
	ctx := context.Background()
	batch := suite.awaitingBatch()
	records := []domain.ReconciliationRecord{
		successRecord("T001", 1000),
		successRecord("T002", 2000),
		successRecord("T003", 500),
		successRecord("T999", 123),
	}

	for _, id := range []string{"T001", "T002", "T003"} {
		suite.mockRepo.On("UpdateTransactionStatus", ctx, "batch-1", id, domain.TxnReconciledSuccess).Return(nil).Once()
	}
	suite.mockRepo.On("SaveException", ctx, mock.MatchedBy(func(e domain.ReconciliationException) bool {
		return e.TransactionID == "T999" && e.Reason == domain.ExceptionUnknownTransaction && e.ReportedAmount == 123
	})).Return(nil).Once()
	suite.mockRepo.On("UpdateBatchStatus", ctx, "batch-1", domain.BatchReconciled, 0).Return(nil).Once()

	outcome, err := suite.service.Apply(ctx, records, batch)

	suite.Require().NoError(err)
	suite.Equal(3, outcome.Matched)
	suite.Require().Len(outcome.Exceptions, 1)
	suite.Equal(domain.ExceptionUnknownTransaction, outcome.Exceptions[0].Reason)
	suite.True(outcome.BatchClosed)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *ReconciliationServiceTestSuite) TestApply_AmountMismatchRaisesException() {
	ctx := context.Background()
	batch := suite.awaitingBatch()
	records := []domain.ReconciliationRecord{
		// Bank reports 1001 against an expected 1000: no tolerance.
		successRecord("T001", 1001),
		successRecord("T002", 2000),
		successRecord("T003", 500),
	}

	suite.mockRepo.On("SaveException", ctx, mock.MatchedBy(func(e domain.ReconciliationException) bool {
		return e.TransactionID == "T001" && e.Reason == domain.ExceptionAmountMismatch &&
			e.ExpectedAmount == 1000 && e.ReportedAmount == 1001
	})).Return(nil).Once()
	suite.mockRepo.On("UpdateTransactionStatus", ctx, "batch-1", "T001", domain.TxnException).Return(nil).Once()
	suite.mockRepo.On("UpdateTransactionStatus", ctx, "batch-1", "T002", domain.TxnReconciledSuccess).Return(nil).Once()
	suite.mockRepo.On("UpdateTransactionStatus", ctx, "batch-1", "T003", domain.TxnReconciledSuccess).Return(nil).Once()
	suite.mockRepo.On("UpdateBatchStatus", ctx, "batch-1", domain.BatchReconciled, 0).Return(nil).Once()

	outcome, err := suite.service.Apply(ctx, records, batch)

	suite.Require().NoError(err)
	suite.Equal(2, outcome.Matched)
	suite.Require().Len(outcome.Exceptions, 1)
	suite.True(outcome.BatchClosed)
}

func (suite *ReconciliationServiceTestSuite) TestApply_PartialResponseKeepsBatchOpenBeforeCutoff() {
	ctx := context.Background()
	batch := suite.awaitingBatch()
	records := []domain.ReconciliationRecord{successRecord("T001", 1000)}

	suite.mockRepo.On("UpdateTransactionStatus", ctx, "batch-1", "T001", domain.TxnReconciledSuccess).Return(nil).Once()

	outcome, err := suite.service.Apply(ctx, records, batch)

	suite.Require().NoError(err)
	suite.False(outcome.BatchClosed)
	suite.Equal(1, outcome.Matched)
	suite.mockRepo.AssertNotCalled(suite.T(), "UpdateBatchStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (suite *ReconciliationServiceTestSuite) TestApply_PartialResponseAfterCutoffClosesWithExceptions() {
	ctx := context.Background()
	batch := suite.awaitingBatch()
	records := []domain.ReconciliationRecord{successRecord("T001", 1000)}
	suite.clock = time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC) // past 15:30

	suite.mockRepo.On("UpdateTransactionStatus", ctx, "batch-1", "T001", domain.TxnReconciledSuccess).Return(nil).Once()
	for _, id := range []string{"T002", "T003"} {
		suite.mockRepo.On("SaveException", ctx, mock.MatchedBy(func(e domain.ReconciliationException) bool {
			return e.Reason == domain.ExceptionCutoffUnresolved
		})).Return(nil).Once()
		suite.mockRepo.On("UpdateTransactionStatus", ctx, "batch-1", id, domain.TxnException).Return(nil).Once()
	}
	suite.mockRepo.On("UpdateBatchStatus", ctx, "batch-1", domain.BatchReconciled, 2).Return(nil).Once()

	outcome, err := suite.service.Apply(ctx, records, batch)

	suite.Require().NoError(err)
	suite.True(outcome.BatchClosed)
	suite.Equal(2, outcome.OpenAtCutoff)
	suite.Len(outcome.Exceptions, 2)
	suite.Equal(2, batch.OpenExceptions)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *ReconciliationServiceTestSuite) TestCheckAndProcess_FullCycle() {
	ctx := context.Background()
	batch := suite.awaitingBatch()
	bank, err := suite.banks.Get("004")
	suite.Require().NoError(err)

	// Build a real response file so decrypt+decode run against actual bytes.
	plaintext := encodeResponseFile(suite.T(), bank, batch)
	ciphertext := []byte("pgp-wrapped")
	remote := "/download/RSP00420260302.txt.pgp"

	suite.mockRepo.On("FindBatchForReconciliation", ctx, "004").Return(batch, nil).Once()
	suite.mockExecutor.On("Download", ctx, "004", remote, (*domain.RemoteManifest)(nil)).
		Return(ciphertext, &domain.TransferAttempt{Outcome: domain.TransferSuccess}, nil).Once()
	suite.mockCipher.On("DecryptAndVerify", ctx, ciphertext, "004").Return(plaintext, nil).Once()
	suite.mockRepo.On("UpdateBatchStatus", ctx, "batch-1", domain.BatchReconciling, 0).Return(nil).Once()
	for _, id := range []string{"T001", "T002", "T003"} {
		suite.mockRepo.On("UpdateTransactionStatus", ctx, "batch-1", id, domain.TxnReconciledSuccess).Return(nil).Once()
	}
	suite.mockRepo.On("UpdateBatchStatus", ctx, "batch-1", domain.BatchReconciled, 0).Return(nil).Once()

	outcome, err := suite.service.CheckAndProcessReconciliation(ctx, "004")

	suite.Require().NoError(err)
	suite.Equal(3, outcome.Matched)
	suite.True(outcome.BatchClosed)
	suite.mockRepo.AssertExpectations(suite.T())
	suite.mockCipher.AssertExpectations(suite.T())
}

func (suite *ReconciliationServiceTestSuite) TestCheckAndProcess_VerificationFailureQuarantines() {
	ctx := context.Background()
	batch := suite.awaitingBatch()
	ciphertext := []byte("tampered")

	suite.mockRepo.On("FindBatchForReconciliation", ctx, "004").Return(batch, nil).Once()
	suite.mockExecutor.On("Download", ctx, "004", mock.Anything, (*domain.RemoteManifest)(nil)).
		Return(ciphertext, &domain.TransferAttempt{}, nil).Once()
	suite.mockCipher.On("DecryptAndVerify", ctx, ciphertext, "004").
		Return(nil, apperrors.ErrVerification).Once()

	outcome, err := suite.service.CheckAndProcessReconciliation(ctx, "004")

	suite.Require().Error(err)
	suite.ErrorIs(err, apperrors.ErrVerification)
	suite.Nil(outcome)
	// Nothing was parsed or applied.
	suite.mockRepo.AssertNotCalled(suite.T(), "UpdateTransactionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (suite *ReconciliationServiceTestSuite) TestCheckAndProcess_MissingFileAfterCutoffClosesBatch() {
	ctx := context.Background()
	batch := suite.awaitingBatch()
	suite.clock = time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)

	suite.mockRepo.On("FindBatchForReconciliation", ctx, "004").Return(batch, nil).Once()
	suite.mockExecutor.On("Download", ctx, "004", mock.Anything, (*domain.RemoteManifest)(nil)).
		Return(nil, &domain.TransferAttempt{}, apperrors.NewTransientTransferError("004", "read", context.DeadlineExceeded)).Once()
	suite.mockRepo.On("SaveException", ctx, mock.MatchedBy(func(e domain.ReconciliationException) bool {
		return e.Reason == domain.ExceptionCutoffUnresolved
	})).Return(nil).Times(3)
	suite.mockRepo.On("UpdateTransactionStatus", ctx, "batch-1", mock.AnythingOfType("string"), domain.TxnException).Return(nil).Times(3)
	suite.mockRepo.On("UpdateBatchStatus", ctx, "batch-1", domain.BatchReconciled, 3).Return(nil).Once()

	outcome, err := suite.service.CheckAndProcessReconciliation(ctx, "004")

	suite.Require().NoError(err)
	suite.True(outcome.BatchClosed)
	suite.Equal(3, outcome.OpenAtCutoff)
}

func (suite *ReconciliationServiceTestSuite) TestCheckAndProcess_NoAwaitingBatch() {
	ctx := context.Background()
	suite.mockRepo.On("FindBatchForReconciliation", ctx, "004").Return(nil, apperrors.ErrNotFound).Once()

	outcome, err := suite.service.CheckAndProcessReconciliation(ctx, "004")

	suite.Require().Error(err)
	suite.ErrorIs(err, apperrors.ErrNotFound)
	suite.Nil(outcome)
}

// encodeResponseFile renders a fixed-width response file matching every
// transaction in the batch with the success code.
func encodeResponseFile(t *testing.T, bank domain.BankConfiguration, batch *domain.PaymentBatch) []byte {
	t.Helper()
	records := make([]domain.ReconciliationRecord, 0, len(batch.Transactions))
	for _, txn := range batch.Transactions {
		records = append(records, domain.ReconciliationRecord{
			TransactionID: txn.TransactionID,
			ResponseCode:  domain.ResponseCodeSuccess,
			BankReference: "REF" + txn.TransactionID,
			Amount:        txn.Amount,
			Date:          batch.ProcessingDate,
		})
	}
	data, err := codec.EncodeReconciliation(records, batch.ProcessingDate, bank)
	if err != nil {
		t.Fatalf("encode response file: %v", err)
	}
	return data
}

func TestReconciliationServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ReconciliationServiceTestSuite))
}
