package domain

import "time"

// TransferDirection distinguishes uploads from downloads.
type TransferDirection string

const (
	DirectionUpload   TransferDirection = "UPLOAD"
	DirectionDownload TransferDirection = "DOWNLOAD"
)

// TransferOutcome is the lifecycle state of a transfer attempt.
type TransferOutcome string

const (
	TransferQueued       TransferOutcome = "QUEUED"
	TransferInProgress   TransferOutcome = "IN_PROGRESS"
	TransferSuccess      TransferOutcome = "SUCCESS"
	TransferFailed       TransferOutcome = "FAILED"
	TransferDeadLettered TransferOutcome = "DEAD_LETTERED"
)

// TransferAttempt records one durable transfer unit: created by the transfer
// executor, re-driven by the retry queue until success or dead-letter. The
// payload is retained so a retry after process restart can replay the exact
// bytes; the checksummed atomic rename makes replays idempotent.
type TransferAttempt struct {
	TransferID   string            `json:"transferID"`
	BankCode     string            `json:"bankCode"`
	BatchID      string            `json:"batchID,omitempty"`
	Direction    TransferDirection `json:"direction"`
	RemotePath   string            `json:"remotePath"`
	Payload      []byte            `json:"-"`
	Checksum     string            `json:"checksum"` // hex SHA-256 of the payload
	AttemptCount int               `json:"attemptCount"`
	MaxAttempts  int               `json:"maxAttempts"`
	NextEligible time.Time         `json:"nextEligible"`
	Outcome      TransferOutcome   `json:"outcome"`
	LastError    string            `json:"lastError,omitempty"`
	AuditFields
}

// Exhausted reports whether the attempt has used up its retry budget.
func (a *TransferAttempt) Exhausted() bool {
	return a.AttemptCount >= a.MaxAttempts
}

// RemoteManifest carries the size/checksum a bank publishes alongside a
// response file, when it publishes one. Either field may be zero-valued,
// meaning "not declared".
type RemoteManifest struct {
	Size   int64
	SHA256 string
}
