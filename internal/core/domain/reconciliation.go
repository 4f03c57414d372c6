package domain

import "time"

// ReconciliationState is the lifecycle of a parsed bank response record.
type ReconciliationState string

const (
	RecordUnmatched ReconciliationState = "UNMATCHED"
	RecordMatched   ReconciliationState = "MATCHED"
	RecordConfirmed ReconciliationState = "CONFIRMED"
	RecordException ReconciliationState = "EXCEPTION"
)

// ResponseCodeSuccess is the bank response code for a cleared payment. Any
// other code reconciles the transaction as a failure.
const ResponseCodeSuccess = "0000"

// ReconciliationRecord is one detail record parsed from a bank response file.
type ReconciliationRecord struct {
	TransactionID string              `json:"transactionID"`
	ResponseCode  string              `json:"responseCode"`
	BankReference string              `json:"bankReference"`
	Amount        int64               `json:"amount"`
	Date          time.Time           `json:"date"`
	Returned      bool                `json:"returned"` // true for return ('E') records
	State         ReconciliationState `json:"state"`
}

// Succeeded reports whether the bank cleared the payment.
func (r ReconciliationRecord) Succeeded() bool {
	return !r.Returned && r.ResponseCode == ResponseCodeSuccess
}

// ExceptionReason explains why a record or transaction needs manual review.
type ExceptionReason string

const (
	ExceptionUnknownTransaction ExceptionReason = "UNKNOWN_TRANSACTION"
	ExceptionAmountMismatch     ExceptionReason = "AMOUNT_MISMATCH"
	ExceptionCutoffUnresolved   ExceptionReason = "CUTOFF_UNRESOLVED"
)

// ReconciliationException is a record that could not be applied cleanly and
// is parked for manual review. Never silently dropped or auto-resolved.
type ReconciliationException struct {
	ExceptionID    string          `json:"exceptionID"`
	BatchID        string          `json:"batchID"`
	TransactionID  string          `json:"transactionID"`
	Reason         ExceptionReason `json:"reason"`
	ExpectedAmount int64           `json:"expectedAmount"`
	ReportedAmount int64           `json:"reportedAmount"`
	BankReference  string          `json:"bankReference,omitempty"`
	RaisedAt       time.Time       `json:"raisedAt"`
}

// ReconciliationOutcome summarises one Apply pass over a batch.
type ReconciliationOutcome struct {
	BatchID      string                    `json:"batchID"`
	Matched      int                       `json:"matched"`
	Succeeded    int                       `json:"succeeded"`
	Failed       int                       `json:"failed"`
	Exceptions   []ReconciliationException `json:"exceptions"`
	BatchClosed  bool                      `json:"batchClosed"`
	OpenAtCutoff int                       `json:"openAtCutoff"`
}
