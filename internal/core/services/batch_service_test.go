package services_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
	"github.com/gasops/bankbridge/internal/core/services"
)

// --- Mock BatchRepository ---
type MockBatchRepo struct {
	mock.Mock
}

func (m *MockBatchRepo) FindBatchByID(ctx context.Context, batchID string) (*domain.PaymentBatch, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentBatch), args.Error(1)
}

func (m *MockBatchRepo) FindBatchForReconciliation(ctx context.Context, bankCode string) (*domain.PaymentBatch, error) {
	args := m.Called(ctx, bankCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentBatch), args.Error(1)
}

func (m *MockBatchRepo) ListPendingTransactions(ctx context.Context, bankCode string, date time.Time) ([]domain.PaymentTransaction, error) {
	args := m.Called(ctx, bankCode, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PaymentTransaction), args.Error(1)
}

func (m *MockBatchRepo) SaveBatch(ctx context.Context, batch domain.PaymentBatch) error {
	return m.Called(ctx, batch).Error(0)
}

func (m *MockBatchRepo) UpdateBatchStatus(ctx context.Context, batchID string, status domain.BatchStatus, openExceptions int) error {
	return m.Called(ctx, batchID, status, openExceptions).Error(0)
}

func (m *MockBatchRepo) UpdateTransactionStatus(ctx context.Context, batchID, transactionID string, status domain.TransactionStatus) error {
	return m.Called(ctx, batchID, transactionID, status).Error(0)
}

func (m *MockBatchRepo) SaveException(ctx context.Context, exc domain.ReconciliationException) error {
	return m.Called(ctx, exc).Error(0)
}

// --- Mock FileCipher ---
type MockFileCipher struct {
	mock.Mock
}

func (m *MockFileCipher) EncryptAndSign(ctx context.Context, plaintext []byte, bankCode string) ([]byte, error) {
	args := m.Called(ctx, plaintext, bankCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockFileCipher) DecryptAndVerify(ctx context.Context, ciphertext []byte, bankCode string) ([]byte, error) {
	args := m.Called(ctx, ciphertext, bankCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// --- Mock RetryQueue ---
type MockRetryQueue struct {
	mock.Mock
}

func (m *MockRetryQueue) Enqueue(ctx context.Context, attempt domain.TransferAttempt) error {
	return m.Called(ctx, attempt).Error(0)
}

func (m *MockRetryQueue) DrainEligible(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockRetryQueue) ListDeadLettered(ctx context.Context, limit int) ([]domain.TransferAttempt, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.TransferAttempt), args.Error(1)
}

func (m *MockRetryQueue) Replay(ctx context.Context, transferID string) (*domain.TransferAttempt, error) {
	args := m.Called(ctx, transferID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TransferAttempt), args.Error(1)
}

func (m *MockRetryQueue) Depth(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// --- Fake BankDirectory ---
type fakeBankDirectory struct {
	banks []domain.BankConfiguration
}

func (d *fakeBankDirectory) Get(bankCode string) (domain.BankConfiguration, error) {
	for _, b := range d.banks {
		if b.BankCode == bankCode {
			return b, nil
		}
	}
	return domain.BankConfiguration{}, fmt.Errorf("%w: bank %s", apperrors.ErrNotFound, bankCode)
}

func (d *fakeBankDirectory) All() []domain.BankConfiguration {
	return d.banks
}

func testBank(code string) domain.BankConfiguration {
	return domain.BankConfiguration{
		BankCode:       code,
		Name:           "Test Bank " + code,
		Host:           "sftp.test.example",
		Port:           22,
		Username:       "gasops",
		UploadPath:     "/upload",
		DownloadPath:   "/download",
		FileFormat:     domain.FormatFixedWidth,
		Encoding:       domain.EncodingUTF8,
		CutoffTime:     "15:30",
		CredentialsRef: "bank-" + code,
	}
}

func pendingTxns() []domain.PaymentTransaction {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return []domain.PaymentTransaction{
		{TransactionID: "T001", AccountNumber: "0011223344", PayeeName: "WANG XIAOMING", Amount: 1000, ScheduledDate: date},
		{TransactionID: "T002", AccountNumber: "0055667788", PayeeName: "LIN MEILING", Amount: 2000, ScheduledDate: date},
		{TransactionID: "T003", AccountNumber: "0099001122", PayeeName: "CHEN CHIAHAO", Amount: 500, ScheduledDate: date},
	}
}

// --- Test Suite ---
type BatchServiceTestSuite struct {
	suite.Suite
	mockRepo     *MockBatchRepo
	mockCipher   *MockFileCipher
	mockExecutor *MockTransferExecutor
	mockRetry    *MockRetryQueue
	banks        *fakeBankDirectory
	service      portssvc.BatchSvc
	date         time.Time
}

func (suite *BatchServiceTestSuite) SetupTest() {
	suite.mockRepo = new(MockBatchRepo)
	suite.mockCipher = new(MockFileCipher)
	suite.mockExecutor = new(MockTransferExecutor)
	suite.mockRetry = new(MockRetryQueue)
	suite.banks = &fakeBankDirectory{banks: []domain.BankConfiguration{testBank("004")}}
	suite.service = services.NewBatchService(
		suite.mockRepo, suite.banks, suite.mockCipher, suite.mockExecutor, suite.mockRetry)
	suite.date = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
}

func (suite *BatchServiceTestSuite) TestGenerateAndUpload_Success() {
	ctx := context.Background()
	ciphertext := []byte("pgp-bytes")

	suite.mockRepo.On("ListPendingTransactions", mock.Anything, "004", suite.date).Return(pendingTxns(), nil).Once()
	suite.mockRepo.On("SaveBatch", mock.Anything, mock.MatchedBy(func(b domain.PaymentBatch) bool {
		return b.BankCode == "004" && len(b.Transactions) == 3 &&
			b.Transactions[0].SequenceNumber == 1 && b.Transactions[2].SequenceNumber == 3
	})).Return(nil).Once()
	suite.mockRepo.On("UpdateBatchStatus", mock.Anything, mock.AnythingOfType("string"), domain.BatchGenerated, 0).Return(nil).Once()
	suite.mockCipher.On("EncryptAndSign", mock.Anything, mock.AnythingOfType("[]uint8"), "004").Return(ciphertext, nil).Once()
	suite.mockExecutor.On("Upload", mock.Anything, "004", ciphertext, "/upload/PAY00420260302.txt.pgp", mock.AnythingOfType("string")).
		Return(&domain.TransferAttempt{Outcome: domain.TransferSuccess, AttemptCount: 1, MaxAttempts: 3}, nil).Once()
	suite.mockRepo.On("UpdateBatchStatus", mock.Anything, mock.AnythingOfType("string"), domain.BatchUploaded, 0).Return(nil).Once()
	for _, id := range []string{"T001", "T002", "T003"} {
		suite.mockRepo.On("UpdateTransactionStatus", mock.Anything, mock.AnythingOfType("string"), id, domain.TxnSubmitted).Return(nil).Once()
	}

	results, err := suite.service.GenerateAndUploadDailyBatch(ctx, suite.date)

	suite.Require().NoError(err)
	suite.Require().Len(results, 1)
	suite.Equal("004", results[0].BankCode)
	suite.Equal(domain.BatchUploaded, results[0].Status)
	suite.False(results[0].Queued)
	suite.Empty(results[0].Error)

	suite.mockRepo.AssertExpectations(suite.T())
	suite.mockCipher.AssertExpectations(suite.T())
	suite.mockExecutor.AssertExpectations(suite.T())
}

func (suite *BatchServiceTestSuite) TestGenerateAndUpload_NoPendingTransactions() {
	suite.mockRepo.On("ListPendingTransactions", mock.Anything, "004", suite.date).
		Return([]domain.PaymentTransaction{}, nil).Once()

	results, err := suite.service.GenerateAndUploadDailyBatch(context.Background(), suite.date)

	suite.Require().NoError(err)
	suite.Empty(results)
	suite.mockRepo.AssertNotCalled(suite.T(), "SaveBatch", mock.Anything, mock.Anything)
}

func (suite *BatchServiceTestSuite) TestGenerateAndUpload_TransientUploadFailureQueues() {
	failedAttempt := &domain.TransferAttempt{
		TransferID:   "t-1",
		BankCode:     "004",
		Outcome:      domain.TransferFailed,
		AttemptCount: 1,
		MaxAttempts:  3,
	}
	transient := apperrors.NewTransientTransferError("004", "write", assert.AnError)

	suite.mockRepo.On("ListPendingTransactions", mock.Anything, "004", suite.date).Return(pendingTxns(), nil).Once()
	suite.mockRepo.On("SaveBatch", mock.Anything, mock.Anything).Return(nil).Once()
	suite.mockRepo.On("UpdateBatchStatus", mock.Anything, mock.AnythingOfType("string"), domain.BatchGenerated, 0).Return(nil).Once()
	suite.mockCipher.On("EncryptAndSign", mock.Anything, mock.Anything, "004").Return([]byte("pgp"), nil).Once()
	suite.mockExecutor.On("Upload", mock.Anything, "004", mock.Anything, mock.Anything, mock.Anything).
		Return(failedAttempt, transient).Once()
	suite.mockRetry.On("Enqueue", mock.Anything, *failedAttempt).Return(nil).Once()

	results, err := suite.service.GenerateAndUploadDailyBatch(context.Background(), suite.date)

	suite.Require().NoError(err)
	suite.Require().Len(results, 1)
	suite.True(results[0].Queued)
	suite.Equal(domain.BatchGenerated, results[0].Status)
	suite.NotEmpty(results[0].Error)
	suite.mockRetry.AssertExpectations(suite.T())
}

func (suite *BatchServiceTestSuite) TestGenerateAndUpload_PermanentUploadFailureFailsBatch() {
	deadAttempt := &domain.TransferAttempt{
		TransferID:   "t-1",
		BankCode:     "004",
		Outcome:      domain.TransferDeadLettered,
		AttemptCount: 1,
		MaxAttempts:  3,
	}
	permanent := apperrors.NewPermanentTransferError("004", "write", assert.AnError)

	suite.mockRepo.On("ListPendingTransactions", mock.Anything, "004", suite.date).Return(pendingTxns(), nil).Once()
	suite.mockRepo.On("SaveBatch", mock.Anything, mock.Anything).Return(nil).Once()
	suite.mockRepo.On("UpdateBatchStatus", mock.Anything, mock.AnythingOfType("string"), domain.BatchGenerated, 0).Return(nil).Once()
	suite.mockCipher.On("EncryptAndSign", mock.Anything, mock.Anything, "004").Return([]byte("pgp"), nil).Once()
	suite.mockExecutor.On("Upload", mock.Anything, "004", mock.Anything, mock.Anything, mock.Anything).
		Return(deadAttempt, permanent).Once()
	suite.mockRepo.On("UpdateBatchStatus", mock.Anything, mock.AnythingOfType("string"), domain.BatchFailed, 0).Return(nil).Once()

	results, err := suite.service.GenerateAndUploadDailyBatch(context.Background(), suite.date)

	suite.Require().NoError(err)
	suite.Require().Len(results, 1)
	suite.Equal(domain.BatchFailed, results[0].Status)
	suite.False(results[0].Queued)
	suite.mockRetry.AssertNotCalled(suite.T(), "Enqueue", mock.Anything, mock.Anything)
}

func (suite *BatchServiceTestSuite) TestGenerateAndUpload_OneBankFailureDoesNotAbortOthers() {
	suite.banks.banks = []domain.BankConfiguration{testBank("004"), testBank("812")}

	suite.mockRepo.On("ListPendingTransactions", mock.Anything, "004", suite.date).
		Return(nil, assert.AnError).Once()
	suite.mockRepo.On("ListPendingTransactions", mock.Anything, "812", suite.date).Return(pendingTxns(), nil).Once()
	suite.mockRepo.On("SaveBatch", mock.Anything, mock.Anything).Return(nil).Once()
	suite.mockRepo.On("UpdateBatchStatus", mock.Anything, mock.AnythingOfType("string"), domain.BatchGenerated, 0).Return(nil).Once()
	suite.mockCipher.On("EncryptAndSign", mock.Anything, mock.Anything, "812").Return([]byte("pgp"), nil).Once()
	suite.mockExecutor.On("Upload", mock.Anything, "812", mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.TransferAttempt{Outcome: domain.TransferSuccess, AttemptCount: 1, MaxAttempts: 3}, nil).Once()
	suite.mockRepo.On("UpdateBatchStatus", mock.Anything, mock.AnythingOfType("string"), domain.BatchUploaded, 0).Return(nil).Once()
	suite.mockRepo.On("UpdateTransactionStatus", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("string"), domain.TxnSubmitted).Return(nil).Times(3)

	results, err := suite.service.GenerateAndUploadDailyBatch(context.Background(), suite.date)

	suite.Require().NoError(err)
	suite.Require().Len(results, 2)
	byBank := map[string]portssvc.BatchRunResult{}
	for _, r := range results {
		byBank[r.BankCode] = r
	}
	suite.NotEmpty(byBank["004"].Error)
	suite.Equal(domain.BatchUploaded, byBank["812"].Status)
}

func (suite *BatchServiceTestSuite) TestGetBatchByID() {
	batch := &domain.PaymentBatch{BatchID: "batch-1", BankCode: "004", Transactions: pendingTxns()}
	suite.mockRepo.On("FindBatchByID", mock.Anything, "batch-1").Return(batch, nil).Once()

	got, err := suite.service.GetBatchByID(context.Background(), "batch-1")

	suite.Require().NoError(err)
	suite.Equal(batch, got)
	suite.mockRepo.AssertExpectations(suite.T())
}

func TestBatchServiceTestSuite(t *testing.T) {
	suite.Run(t, new(BatchServiceTestSuite))
}
