package services_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
	"github.com/gasops/bankbridge/internal/core/services"
	"github.com/gasops/bankbridge/internal/metrics"
)

// --- Mock Connection ---
type MockConnection struct {
	mock.Mock
}

func (m *MockConnection) WriteFile(path string, data []byte) (int64, error) {
	args := m.Called(path, data)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockConnection) ReadFile(path string) ([]byte, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockConnection) Rename(oldPath, newPath string) error {
	return m.Called(oldPath, newPath).Error(0)
}

func (m *MockConnection) Remove(path string) error {
	return m.Called(path).Error(0)
}

func (m *MockConnection) Size(path string) (int64, error) {
	args := m.Called(path)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockConnection) Keepalive() error {
	return m.Called().Error(0)
}

func (m *MockConnection) Close() error {
	return m.Called().Error(0)
}

// --- Mock ConnectionPool ---
type MockConnectionPool struct {
	mock.Mock
}

func (m *MockConnectionPool) Acquire(ctx context.Context, bankCode string) (portssvc.Connection, error) {
	args := m.Called(ctx, bankCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(portssvc.Connection), args.Error(1)
}

func (m *MockConnectionPool) Release(bankCode string, conn portssvc.Connection, healthy bool) {
	m.Called(bankCode, conn, healthy)
}

func (m *MockConnectionPool) Close() {
	m.Called()
}

// --- Mock CircuitBreaker ---
type MockCircuitBreaker struct {
	mock.Mock
}

func (m *MockCircuitBreaker) Allow(bankCode string) error {
	return m.Called(bankCode).Error(0)
}

func (m *MockCircuitBreaker) ReportSuccess(bankCode string) {
	m.Called(bankCode)
}

func (m *MockCircuitBreaker) ReportFailure(bankCode string) {
	m.Called(bankCode)
}

func (m *MockCircuitBreaker) Snapshot() []domain.CircuitBreakerState {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.CircuitBreakerState)
}

// --- Mock TransferAttemptRepository ---
type MockTransferRepo struct {
	mock.Mock
}

func (m *MockTransferRepo) SaveAttempt(ctx context.Context, attempt domain.TransferAttempt) error {
	return m.Called(ctx, attempt).Error(0)
}

func (m *MockTransferRepo) UpdateAttempt(ctx context.Context, attempt domain.TransferAttempt) error {
	return m.Called(ctx, attempt).Error(0)
}

func (m *MockTransferRepo) FindAttemptByID(ctx context.Context, transferID string) (*domain.TransferAttempt, error) {
	args := m.Called(ctx, transferID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TransferAttempt), args.Error(1)
}

func (m *MockTransferRepo) ListDueAttempts(ctx context.Context, now time.Time, limit int) ([]domain.TransferAttempt, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.TransferAttempt), args.Error(1)
}

func (m *MockTransferRepo) ListStalledAttempts(ctx context.Context, before time.Time, limit int) ([]domain.TransferAttempt, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.TransferAttempt), args.Error(1)
}

func (m *MockTransferRepo) ListDeadLettered(ctx context.Context, limit int) ([]domain.TransferAttempt, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.TransferAttempt), args.Error(1)
}

func (m *MockTransferRepo) CountQueued(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// --- Test Suite ---
type TransferExecutorTestSuite struct {
	suite.Suite
	mockPool    *MockConnectionPool
	mockBreaker *MockCircuitBreaker
	mockRepo    *MockTransferRepo
	mockConn    *MockConnection
	service     portssvc.TransferExecutorSvc
}

func (suite *TransferExecutorTestSuite) SetupTest() {
	suite.mockPool = new(MockConnectionPool)
	suite.mockBreaker = new(MockCircuitBreaker)
	suite.mockRepo = new(MockTransferRepo)
	suite.mockConn = new(MockConnection)
	suite.service = services.NewTransferExecutorService(
		suite.mockPool, suite.mockBreaker, suite.mockRepo, metrics.NewRegistry(), 3)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (suite *TransferExecutorTestSuite) TestUpload_Success() {
	ctx := context.Background()
	payload := []byte("H004\r\nD0001\r\nT0001\r\n")
	remote := "/upload/PAY00420260302.txt.pgp"
	temp := remote + ".tmp"

	suite.mockRepo.On("SaveAttempt", ctx, mock.AnythingOfType("domain.TransferAttempt")).Return(nil).Once()
	suite.mockBreaker.On("Allow", "004").Return(nil).Once()
	suite.mockPool.On("Acquire", mock.Anything, "004").Return(suite.mockConn, nil).Once()
	suite.mockConn.On("Remove", temp).Return(os.ErrNotExist).Once()
	suite.mockConn.On("WriteFile", temp, payload).Return(int64(len(payload)), nil).Once()
	suite.mockConn.On("Size", temp).Return(int64(len(payload)), nil).Once()
	suite.mockConn.On("ReadFile", temp).Return(payload, nil).Once()
	suite.mockConn.On("Rename", temp, remote).Return(nil).Once()
	suite.mockBreaker.On("ReportSuccess", "004").Once()
	suite.mockPool.On("Release", "004", suite.mockConn, true).Once()
	suite.mockRepo.On("UpdateAttempt", ctx, mock.MatchedBy(func(a domain.TransferAttempt) bool {
		return a.Outcome == domain.TransferSuccess && a.AttemptCount == 1
	})).Return(nil).Once()

	attempt, err := suite.service.Upload(ctx, "004", payload, remote, "batch-1")

	suite.Require().NoError(err)
	suite.Require().NotNil(attempt)
	suite.Equal(domain.TransferSuccess, attempt.Outcome)
	suite.Equal(sha256Hex(payload), attempt.Checksum)
	suite.Equal(1, attempt.AttemptCount)
	suite.Equal(domain.DirectionUpload, attempt.Direction)

	suite.mockConn.AssertExpectations(suite.T())
	suite.mockPool.AssertExpectations(suite.T())
	suite.mockBreaker.AssertExpectations(suite.T())
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *TransferExecutorTestSuite) TestUpload_TransientFailureLeavesAttemptRetryable() {
	ctx := context.Background()
	payload := []byte("payload")
	remote := "/upload/file.txt"
	temp := remote + ".tmp"
	writeErr := errors.New("connection reset by peer")

	suite.mockRepo.On("SaveAttempt", ctx, mock.Anything).Return(nil).Once()
	suite.mockBreaker.On("Allow", "004").Return(nil).Once()
	suite.mockPool.On("Acquire", mock.Anything, "004").Return(suite.mockConn, nil).Once()
	suite.mockConn.On("Remove", temp).Return(os.ErrNotExist).Once()
	suite.mockConn.On("WriteFile", temp, payload).Return(int64(0), writeErr).Once()
	suite.mockBreaker.On("ReportFailure", "004").Once()
	suite.mockPool.On("Release", "004", suite.mockConn, false).Once()
	suite.mockRepo.On("UpdateAttempt", ctx, mock.MatchedBy(func(a domain.TransferAttempt) bool {
		return a.Outcome == domain.TransferFailed
	})).Return(nil).Once()

	attempt, err := suite.service.Upload(ctx, "004", payload, remote, "batch-1")

	suite.Require().Error(err)
	suite.True(apperrors.IsTransient(err))
	suite.Equal(domain.TransferFailed, attempt.Outcome)
	suite.False(attempt.Exhausted())

	suite.mockPool.AssertExpectations(suite.T())
	suite.mockBreaker.AssertExpectations(suite.T())
}

func (suite *TransferExecutorTestSuite) TestUpload_PermanentFailureDeadLetters() {
	ctx := context.Background()
	payload := []byte("payload")
	remote := "/nope/file.txt"
	temp := remote + ".tmp"

	suite.mockRepo.On("SaveAttempt", ctx, mock.Anything).Return(nil).Once()
	suite.mockBreaker.On("Allow", "004").Return(nil).Once()
	suite.mockPool.On("Acquire", mock.Anything, "004").Return(suite.mockConn, nil).Once()
	suite.mockConn.On("Remove", temp).Return(os.ErrNotExist).Once()
	suite.mockConn.On("WriteFile", temp, payload).Return(int64(0), os.ErrPermission).Once()
	suite.mockBreaker.On("ReportFailure", "004").Once()
	suite.mockPool.On("Release", "004", suite.mockConn, false).Once()
	suite.mockRepo.On("UpdateAttempt", ctx, mock.MatchedBy(func(a domain.TransferAttempt) bool {
		return a.Outcome == domain.TransferDeadLettered
	})).Return(nil).Once()

	attempt, err := suite.service.Upload(ctx, "004", payload, remote, "batch-1")

	suite.Require().Error(err)
	suite.False(apperrors.IsTransient(err))
	suite.Equal(domain.TransferDeadLettered, attempt.Outcome)
}

func (suite *TransferExecutorTestSuite) TestUpload_ChecksumMismatchFailsBeforeRename() {
	ctx := context.Background()
	payload := []byte("payload")
	remote := "/upload/file.txt"
	temp := remote + ".tmp"

	suite.mockRepo.On("SaveAttempt", ctx, mock.Anything).Return(nil).Once()
	suite.mockBreaker.On("Allow", "004").Return(nil).Once()
	suite.mockPool.On("Acquire", mock.Anything, "004").Return(suite.mockConn, nil).Once()
	suite.mockConn.On("Remove", temp).Return(os.ErrNotExist).Once()
	suite.mockConn.On("WriteFile", temp, payload).Return(int64(len(payload)), nil).Once()
	suite.mockConn.On("Size", temp).Return(int64(len(payload)), nil).Once()
	suite.mockConn.On("ReadFile", temp).Return([]byte("corrupt"), nil).Once()
	suite.mockBreaker.On("ReportFailure", "004").Once()
	suite.mockPool.On("Release", "004", suite.mockConn, true).Once()
	suite.mockRepo.On("UpdateAttempt", ctx, mock.Anything).Return(nil).Once()

	_, err := suite.service.Upload(ctx, "004", payload, remote, "batch-1")

	suite.Require().Error(err)
	suite.True(apperrors.IsTransient(err))
	suite.mockConn.AssertNotCalled(suite.T(), "Rename", mock.Anything, mock.Anything)
}

func (suite *TransferExecutorTestSuite) TestUpload_CircuitOpenDoesNotConsumeBudget() {
	ctx := context.Background()
	payload := []byte("payload")
	coe := &apperrors.CircuitOpenError{BankCode: "004", RetryAfter: time.Minute}

	suite.mockRepo.On("SaveAttempt", ctx, mock.Anything).Return(nil).Once()
	suite.mockBreaker.On("Allow", "004").Return(coe).Once()
	suite.mockRepo.On("UpdateAttempt", ctx, mock.MatchedBy(func(a domain.TransferAttempt) bool {
		return a.Outcome == domain.TransferFailed && a.AttemptCount == 0
	})).Return(nil).Once()

	attempt, err := suite.service.Upload(ctx, "004", payload, "/upload/file.txt", "batch-1")

	suite.Require().Error(err)
	suite.True(apperrors.IsCircuitOpen(err))
	suite.Equal(0, attempt.AttemptCount)
	suite.Equal(domain.TransferFailed, attempt.Outcome)
	suite.mockPool.AssertNotCalled(suite.T(), "Acquire", mock.Anything, mock.Anything)
}

func (suite *TransferExecutorTestSuite) TestExecute_RejectsDownloadAttempts() {
	attempt := &domain.TransferAttempt{TransferID: "t-1", Direction: domain.DirectionDownload}

	err := suite.service.Execute(context.Background(), attempt)

	suite.Require().Error(err)
	suite.ErrorIs(err, apperrors.ErrValidation)
}

func (suite *TransferExecutorTestSuite) TestDownload_Success() {
	ctx := context.Background()
	data := []byte("R0001\r\nT0001\r\n")
	remote := "/download/RSP00420260302.txt.pgp"

	suite.mockBreaker.On("Allow", "004").Return(nil).Once()
	suite.mockPool.On("Acquire", mock.Anything, "004").Return(suite.mockConn, nil).Once()
	suite.mockConn.On("ReadFile", remote).Return(data, nil).Once()
	suite.mockBreaker.On("ReportSuccess", "004").Once()
	suite.mockPool.On("Release", "004", suite.mockConn, true).Once()
	suite.mockRepo.On("SaveAttempt", ctx, mock.MatchedBy(func(a domain.TransferAttempt) bool {
		return a.Direction == domain.DirectionDownload && a.Outcome == domain.TransferSuccess
	})).Return(nil).Once()

	got, attempt, err := suite.service.Download(ctx, "004", remote, nil)

	suite.Require().NoError(err)
	suite.Equal(data, got)
	suite.Equal(sha256Hex(data), attempt.Checksum)
}

func (suite *TransferExecutorTestSuite) TestDownload_ManifestMismatchRejected() {
	ctx := context.Background()
	data := []byte("truncated")
	remote := "/download/RSP00420260302.txt.pgp"

	suite.mockBreaker.On("Allow", "004").Return(nil).Once()
	suite.mockPool.On("Acquire", mock.Anything, "004").Return(suite.mockConn, nil).Once()
	suite.mockConn.On("ReadFile", remote).Return(data, nil).Once()
	suite.mockBreaker.On("ReportFailure", "004").Once()
	suite.mockPool.On("Release", "004", suite.mockConn, true).Once()
	suite.mockRepo.On("SaveAttempt", ctx, mock.Anything).Return(nil).Once()

	got, _, err := suite.service.Download(ctx, "004", remote, &domain.RemoteManifest{Size: 9999})

	suite.Require().Error(err)
	suite.Nil(got)
}

// remoteDirConn is a stateful in-memory remote directory, used to exercise
// the full interrupted-then-retried upload sequence end to end.
type remoteDirConn struct {
	files       map[string][]byte
	failRenames int
}

func newRemoteDirConn() *remoteDirConn {
	return &remoteDirConn{files: make(map[string][]byte)}
}

func (c *remoteDirConn) WriteFile(path string, data []byte) (int64, error) {
	c.files[path] = append([]byte(nil), data...)
	return int64(len(data)), nil
}

func (c *remoteDirConn) ReadFile(path string) ([]byte, error) {
	data, ok := c.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (c *remoteDirConn) Rename(oldPath, newPath string) error {
	if c.failRenames > 0 {
		c.failRenames--
		return errors.New("connection reset by peer")
	}
	data, ok := c.files[oldPath]
	if !ok {
		return os.ErrNotExist
	}
	c.files[newPath] = data
	delete(c.files, oldPath)
	return nil
}

func (c *remoteDirConn) Remove(path string) error {
	if _, ok := c.files[path]; !ok {
		return os.ErrNotExist
	}
	delete(c.files, path)
	return nil
}

func (c *remoteDirConn) Size(path string) (int64, error) {
	data, ok := c.files[path]
	if !ok {
		return 0, os.ErrNotExist
	}
	return int64(len(data)), nil
}

func (c *remoteDirConn) Keepalive() error { return nil }
func (c *remoteDirConn) Close() error     { return nil }

var _ portssvc.Connection = (*remoteDirConn)(nil)

func (suite *TransferExecutorTestSuite) TestUpload_InterruptedRetryLeavesSingleFinalFile() {
	ctx := context.Background()
	payload := []byte("H004\r\nD0001\r\nT0001\r\n")
	remote := "/upload/PAY00420260302.txt.pgp"
	temp := remote + ".tmp"

	conn := newRemoteDirConn()
	// Leftover from a crashed earlier attempt, and a rename that dies once.
	conn.files[temp] = []byte("stale partial bytes")
	conn.failRenames = 1

	suite.mockRepo.On("SaveAttempt", ctx, mock.Anything).Return(nil)
	suite.mockRepo.On("UpdateAttempt", ctx, mock.Anything).Return(nil)
	suite.mockBreaker.On("Allow", "004").Return(nil)
	suite.mockBreaker.On("ReportFailure", "004")
	suite.mockBreaker.On("ReportSuccess", "004")
	suite.mockPool.On("Acquire", mock.Anything, "004").Return(conn, nil)
	suite.mockPool.On("Release", "004", mock.Anything, mock.Anything)

	attempt, err := suite.service.Upload(ctx, "004", payload, remote, "batch-1")

	suite.Require().Error(err)
	suite.True(apperrors.IsTransient(err))
	suite.Equal(domain.TransferFailed, attempt.Outcome)
	// Nothing is visible under the final name after the failed try.
	suite.NotContains(conn.files, remote)

	suite.Require().NoError(suite.service.Execute(ctx, attempt))

	suite.Equal(domain.TransferSuccess, attempt.Outcome)
	suite.Equal(2, attempt.AttemptCount)
	suite.Equal(payload, conn.files[remote])
	suite.NotContains(conn.files, temp)
	suite.Len(conn.files, 1)
}

func TestTransferExecutorTestSuite(t *testing.T) {
	suite.Run(t, new(TransferExecutorTestSuite))
}
