package domain

import (
	"fmt"
	"time"
)

// BatchStatus tracks a payment batch through the exchange cycle.
type BatchStatus string

const (
	BatchDraft       BatchStatus = "DRAFT"
	BatchGenerated   BatchStatus = "GENERATED"
	BatchUploaded    BatchStatus = "UPLOADED"
	BatchReconciling BatchStatus = "RECONCILING"
	BatchReconciled  BatchStatus = "RECONCILED"
	BatchFailed      BatchStatus = "FAILED"
)

// TransactionStatus tracks a single payment transaction.
type TransactionStatus string

const (
	TxnPending           TransactionStatus = "PENDING"
	TxnSubmitted         TransactionStatus = "SUBMITTED"
	TxnReconciledSuccess TransactionStatus = "RECONCILED_SUCCESS"
	TxnReconciledFailure TransactionStatus = "RECONCILED_FAILURE"
	TxnException         TransactionStatus = "EXCEPTION"
)

// PaymentTransaction is one customer payment inside a batch. Amount is in
// currency minor units; reconciliation matches it exactly, no tolerance.
type PaymentTransaction struct {
	SequenceNumber int               `json:"sequenceNumber"` // unique within batch, monotonic
	TransactionID  string            `json:"transactionID"`  // globally unique reconciliation join key
	AccountNumber  string            `json:"accountNumber"`
	PayeeName      string            `json:"payeeName"`
	Amount         int64             `json:"amount"`
	ScheduledDate  time.Time         `json:"scheduledDate"`
	Status         TransactionStatus `json:"status"`
}

// PaymentBatch is an ordered set of transactions bound for one bank on one
// processing date.
type PaymentBatch struct {
	BatchID        string               `json:"batchID"`
	BankCode       string               `json:"bankCode"`
	ProcessingDate time.Time            `json:"processingDate"`
	Transactions   []PaymentTransaction `json:"transactions"`
	Status         BatchStatus          `json:"status"`
	// OpenExceptions counts unresolved transactions at the time the batch was
	// closed (non-zero only when the cutoff forced closure).
	OpenExceptions int `json:"openExceptions"`
	AuditFields
}

// TotalAmount sums transaction amounts in minor units.
func (b *PaymentBatch) TotalAmount() int64 {
	var total int64
	for _, t := range b.Transactions {
		total += t.Amount
	}
	return total
}

// Validate checks the batch invariants that must hold before encoding:
// non-empty, sequence numbers strictly monotonic from 1, positive amounts.
func (b *PaymentBatch) Validate() error {
	if len(b.Transactions) == 0 {
		return fmt.Errorf("batch %s has no transactions", b.BatchID)
	}
	for i, t := range b.Transactions {
		if t.SequenceNumber != i+1 {
			return fmt.Errorf("batch %s: sequence number %d at position %d, want %d",
				b.BatchID, t.SequenceNumber, i, i+1)
		}
		if t.Amount <= 0 {
			return fmt.Errorf("batch %s: transaction %s has non-positive amount %d",
				b.BatchID, t.TransactionID, t.Amount)
		}
		if t.TransactionID == "" {
			return fmt.Errorf("batch %s: transaction at sequence %d missing transaction id",
				b.BatchID, t.SequenceNumber)
		}
	}
	return nil
}
