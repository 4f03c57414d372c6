package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gasops/bankbridge/internal/core/domain"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
)

// GenerateBatchRequest triggers a daily batch run. Date defaults to today
// when omitted.
type GenerateBatchRequest struct {
	Date string `json:"date" binding:"omitempty,datetime=2006-01-02"`
}

// BatchRunResponse reports one bank's outcome of a batch run.
type BatchRunResponse struct {
	BankCode string `json:"bankCode"`
	BatchID  string `json:"batchID,omitempty"`
	Status   string `json:"status,omitempty"`
	Queued   bool   `json:"queued"`
	Error    string `json:"error,omitempty"`
}

// GenerateBatchResponse wraps the per-bank results of one run.
type GenerateBatchResponse struct {
	Date    string             `json:"date"`
	Results []BatchRunResponse `json:"results"`
}

// ToGenerateBatchResponse converts the service results to the API shape.
func ToGenerateBatchResponse(date time.Time, results []portssvc.BatchRunResult) GenerateBatchResponse {
	out := GenerateBatchResponse{
		Date:    date.Format("2006-01-02"),
		Results: make([]BatchRunResponse, len(results)),
	}
	for i, r := range results {
		out.Results[i] = BatchRunResponse{
			BankCode: r.BankCode,
			BatchID:  r.BatchID,
			Status:   string(r.Status),
			Queued:   r.Queued,
			Error:    r.Error,
		}
	}
	return out
}

// amountToDecimal converts currency minor units to a display amount.
func amountToDecimal(minorUnits int64) decimal.Decimal {
	return decimal.New(minorUnits, -2)
}

// TransactionResponse is one payment transaction as exposed over the API.
type TransactionResponse struct {
	SequenceNumber int             `json:"sequenceNumber"`
	TransactionID  string          `json:"transactionID"`
	PayeeName      string          `json:"payeeName"`
	Amount         decimal.Decimal `json:"amount"`
	ScheduledDate  time.Time       `json:"scheduledDate"`
	Status         string          `json:"status"`
}

// BatchResponse mirrors domain.PaymentBatch for API consumers. Amounts are
// rendered as display decimals, account numbers are withheld.
type BatchResponse struct {
	BatchID        string                `json:"batchID"`
	BankCode       string                `json:"bankCode"`
	ProcessingDate time.Time             `json:"processingDate"`
	Status         string                `json:"status"`
	TotalAmount    decimal.Decimal       `json:"totalAmount"`
	OpenExceptions int                   `json:"openExceptions"`
	Transactions   []TransactionResponse `json:"transactions"`
	CreatedAt      time.Time             `json:"createdAt"`
	LastUpdatedAt  time.Time             `json:"lastUpdatedAt"`
}

// ToBatchResponse converts a domain batch to its API shape.
func ToBatchResponse(b *domain.PaymentBatch) BatchResponse {
	resp := BatchResponse{
		BatchID:        b.BatchID,
		BankCode:       b.BankCode,
		ProcessingDate: b.ProcessingDate,
		Status:         string(b.Status),
		TotalAmount:    amountToDecimal(b.TotalAmount()),
		OpenExceptions: b.OpenExceptions,
		Transactions:   make([]TransactionResponse, len(b.Transactions)),
		CreatedAt:      b.CreatedAt,
		LastUpdatedAt:  b.LastUpdatedAt,
	}
	for i, t := range b.Transactions {
		resp.Transactions[i] = TransactionResponse{
			SequenceNumber: t.SequenceNumber,
			TransactionID:  t.TransactionID,
			PayeeName:      t.PayeeName,
			Amount:         amountToDecimal(t.Amount),
			ScheduledDate:  t.ScheduledDate,
			Status:         string(t.Status),
		}
	}
	return resp
}
