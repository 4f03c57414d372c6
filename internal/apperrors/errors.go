package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates that a requested resource could not be found.
var ErrNotFound = errors.New("resource not found")

// ErrValidation indicates that input data failed validation checks.
var ErrValidation = errors.New("validation error")

// ErrDuplicate indicates that an attempt was made to create a resource that already exists.
var ErrDuplicate = errors.New("resource already exists")

// ErrEncoding indicates a character could not be represented in the bank's
// target encoding. The whole batch is rejected before transfer.
var ErrEncoding = errors.New("encoding error")

// ErrFormat indicates a payment or reconciliation file failed structural
// validation (trailer mismatch, unparsable record). The file is rejected
// wholesale, never partially applied.
var ErrFormat = errors.New("file format error")

// ErrVerification indicates PGP decryption or signature verification failed.
// Security-relevant: the file must be quarantined, never parsed.
var ErrVerification = errors.New("signature verification failed")

// CircuitOpenError is returned when a bank's circuit breaker is open and the
// call was rejected without any network attempt.
type CircuitOpenError struct {
	BankCode   string
	OpenedAt   time.Time
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for bank %s (retry after %s)", e.BankCode, e.RetryAfter)
}

// PoolExhaustedError is returned when no SFTP connection became available
// within the acquire timeout. It is a transient condition.
type PoolExhaustedError struct {
	BankCode string
	Waited   time.Duration
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool for bank %s exhausted after waiting %s", e.BankCode, e.Waited)
}

// TransferErrorKind classifies a failed transfer for retry purposes.
type TransferErrorKind string

const (
	// TransferTransient covers timeouts, connection resets and pool
	// exhaustion; eligible for the retry queue.
	TransferTransient TransferErrorKind = "TRANSIENT"
	// TransferPermanent covers rejected credentials, invalid remote paths and
	// bank-side format rejections; dead-lettered immediately.
	TransferPermanent TransferErrorKind = "PERMANENT"
)

// TransferError wraps a failed transfer operation with its retry classification.
type TransferError struct {
	Kind     TransferErrorKind
	BankCode string
	Op       string
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s transfer failure (%s, bank %s): %v", e.Kind, e.Op, e.BankCode, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// NewTransientTransferError wraps err as a retryable transfer failure.
func NewTransientTransferError(bankCode, op string, err error) *TransferError {
	return &TransferError{Kind: TransferTransient, BankCode: bankCode, Op: op, Err: err}
}

// NewPermanentTransferError wraps err as a non-retryable transfer failure.
func NewPermanentTransferError(bankCode, op string, err error) *TransferError {
	return &TransferError{Kind: TransferPermanent, BankCode: bankCode, Op: op, Err: err}
}

// IsCircuitOpen reports whether err is a breaker rejection.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

// IsTransient reports whether err is classified as retryable. Circuit-open
// rejections are not transient transfer failures: the caller decides whether
// to enqueue, and the breaker is surfaced distinctly.
func IsTransient(err error) bool {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind == TransferTransient
	}
	var pe *PoolExhaustedError
	return errors.As(err, &pe)
}
