package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gasops/bankbridge/internal/core/domain"
)

// ExceptionResponse is one parked reconciliation exception.
type ExceptionResponse struct {
	ExceptionID    string          `json:"exceptionID"`
	BatchID        string          `json:"batchID"`
	TransactionID  string          `json:"transactionID"`
	Reason         string          `json:"reason"`
	ExpectedAmount decimal.Decimal `json:"expectedAmount"`
	ReportedAmount decimal.Decimal `json:"reportedAmount"`
	BankReference  string          `json:"bankReference,omitempty"`
	RaisedAt       time.Time       `json:"raisedAt"`
}

// ReconciliationOutcomeResponse summarises one reconciliation pass.
type ReconciliationOutcomeResponse struct {
	BatchID      string              `json:"batchID"`
	Matched      int                 `json:"matched"`
	Succeeded    int                 `json:"succeeded"`
	Failed       int                 `json:"failed"`
	BatchClosed  bool                `json:"batchClosed"`
	OpenAtCutoff int                 `json:"openAtCutoff"`
	Exceptions   []ExceptionResponse `json:"exceptions"`
}

// ToReconciliationOutcomeResponse converts the service outcome to the API shape.
func ToReconciliationOutcomeResponse(o *domain.ReconciliationOutcome) ReconciliationOutcomeResponse {
	resp := ReconciliationOutcomeResponse{
		BatchID:      o.BatchID,
		Matched:      o.Matched,
		Succeeded:    o.Succeeded,
		Failed:       o.Failed,
		BatchClosed:  o.BatchClosed,
		OpenAtCutoff: o.OpenAtCutoff,
		Exceptions:   make([]ExceptionResponse, len(o.Exceptions)),
	}
	for i, e := range o.Exceptions {
		resp.Exceptions[i] = ExceptionResponse{
			ExceptionID:    e.ExceptionID,
			BatchID:        e.BatchID,
			TransactionID:  e.TransactionID,
			Reason:         string(e.Reason),
			ExpectedAmount: amountToDecimal(e.ExpectedAmount),
			ReportedAmount: amountToDecimal(e.ReportedAmount),
			BankReference:  e.BankReference,
			RaisedAt:       e.RaisedAt,
		}
	}
	return resp
}
