package dto

import (
	"time"

	"github.com/gasops/bankbridge/internal/core/domain"
)

// TransferAttemptResponse exposes a transfer attempt without its payload.
type TransferAttemptResponse struct {
	TransferID    string    `json:"transferID"`
	BankCode      string    `json:"bankCode"`
	BatchID       string    `json:"batchID,omitempty"`
	Direction     string    `json:"direction"`
	RemotePath    string    `json:"remotePath"`
	Checksum      string    `json:"checksum"`
	AttemptCount  int       `json:"attemptCount"`
	MaxAttempts   int       `json:"maxAttempts"`
	NextEligible  time.Time `json:"nextEligible"`
	Outcome       string    `json:"outcome"`
	LastError     string    `json:"lastError,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// ToTransferAttemptResponse converts a domain attempt to its API shape.
func ToTransferAttemptResponse(a *domain.TransferAttempt) TransferAttemptResponse {
	return TransferAttemptResponse{
		TransferID:    a.TransferID,
		BankCode:      a.BankCode,
		BatchID:       a.BatchID,
		Direction:     string(a.Direction),
		RemotePath:    a.RemotePath,
		Checksum:      a.Checksum,
		AttemptCount:  a.AttemptCount,
		MaxAttempts:   a.MaxAttempts,
		NextEligible:  a.NextEligible,
		Outcome:       string(a.Outcome),
		LastError:     a.LastError,
		CreatedAt:     a.CreatedAt,
		LastUpdatedAt: a.LastUpdatedAt,
	}
}

// ListDeadLetteredParams defines query parameters for the dead-letter list.
type ListDeadLetteredParams struct {
	Limit int `form:"limit,default=50"`
}

// ListDeadLetteredResponse wraps the dead-letter list.
type ListDeadLetteredResponse struct {
	Attempts []TransferAttemptResponse `json:"attempts"`
}

// ToListDeadLetteredResponse converts a slice of domain attempts.
func ToListDeadLetteredResponse(attempts []domain.TransferAttempt) ListDeadLetteredResponse {
	out := ListDeadLetteredResponse{Attempts: make([]TransferAttemptResponse, len(attempts))}
	for i, a := range attempts {
		out.Attempts[i] = ToTransferAttemptResponse(&a)
	}
	return out
}

// DrainResponse reports how many queued attempts a drain pass processed.
type DrainResponse struct {
	Processed int `json:"processed"`
}
