package services

import (
	"context"

	"github.com/gasops/bankbridge/internal/core/domain"
)

// TransferExecutorSvc performs one guarded SFTP transfer: circuit breaker
// check, pooled connection, checksummed write, atomic rename.
type TransferExecutorSvc interface {
	// Upload writes payload to remotePath on the bank's SFTP endpoint. The
	// returned attempt records the outcome; on failure its outcome is Failed
	// (transient, caller may enqueue) or DeadLettered (permanent).
	Upload(ctx context.Context, bankCode string, payload []byte, remotePath, batchID string) (*domain.TransferAttempt, error)

	// Download fetches remotePath from the bank's SFTP endpoint, verifying
	// against the manifest when one is provided.
	Download(ctx context.Context, bankCode, remotePath string, manifest *domain.RemoteManifest) ([]byte, *domain.TransferAttempt, error)

	// Execute re-drives a previously persisted attempt (retry path).
	Execute(ctx context.Context, attempt *domain.TransferAttempt) error
}

// RetryQueueSvc is the durable delay-queue of failed transfers.
type RetryQueueSvc interface {
	// Enqueue schedules a failed attempt for a later retry with backoff.
	Enqueue(ctx context.Context, attempt domain.TransferAttempt) error

	// DrainEligible re-submits every due attempt through the executor and
	// returns how many attempts were processed.
	DrainEligible(ctx context.Context) (int, error)

	// ListDeadLettered exposes dead-lettered attempts for manual handling.
	ListDeadLettered(ctx context.Context, limit int) ([]domain.TransferAttempt, error)

	// Replay manually re-drives a dead-lettered attempt once.
	Replay(ctx context.Context, transferID string) (*domain.TransferAttempt, error)

	// Depth reports the current queue depth for monitoring.
	Depth(ctx context.Context) (int, error)
}

// CircuitBreakerSvc guards all network calls to a bank.
type CircuitBreakerSvc interface {
	// Allow reports whether a call to the bank may proceed. When the circuit
	// is open it returns a CircuitOpenError without any network attempt.
	Allow(bankCode string) error

	// ReportSuccess records a successful call.
	ReportSuccess(bankCode string)

	// ReportFailure records a failed call.
	ReportFailure(bankCode string)

	// Snapshot returns the current state of every known breaker.
	Snapshot() []domain.CircuitBreakerState
}

// FileCipherSvc encrypts/signs outbound files and decrypts/verifies inbound
// ones with bank-specific key material from the secret provider.
type FileCipherSvc interface {
	// EncryptAndSign encrypts for the bank's public key and signs with the
	// operator's private key.
	EncryptAndSign(ctx context.Context, plaintext []byte, bankCode string) ([]byte, error)

	// DecryptAndVerify decrypts with the operator's private key and verifies
	// the bank's signature. Verification failure is a hard rejection: no
	// plaintext is returned.
	DecryptAndVerify(ctx context.Context, ciphertext []byte, bankCode string) ([]byte, error)
}
