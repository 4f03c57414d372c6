// Package codec encodes payment batches into bank exchange files and decodes
// bank files back. It is pure: no I/O, no mutable state. Record layouts follow
// Taiwan ACH convention: header/detail/trailer records discriminated by a
// leading record-type character, amounts in zero-padded currency minor units.
package codec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
)

const (
	recHeader   = 'H'
	recDetail   = 'D'
	recResponse = 'R'
	recReturn   = 'E'
	recTrailer  = 'T'

	layoutVersion = "0001"
	dateLayout    = "20060102"
)

// EncodeBatch renders the batch in the bank's configured format and encoding.
// The emitted trailer is verified against the actual detail count and amount
// sum before the bytes are returned.
func EncodeBatch(batch *domain.PaymentBatch, bank domain.BankConfiguration) ([]byte, error) {
	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, err)
	}
	switch bank.FileFormat {
	case domain.FormatFixedWidth:
		return encodeFixedWidth(batch, bank.Encoding)
	case domain.FormatCSV:
		return encodeCSV(batch, bank.Encoding, bank.Delimiter())
	default:
		return nil, fmt.Errorf("%w: unknown file format %q", apperrors.ErrValidation, bank.FileFormat)
	}
}

// DecodeBatch parses an outbound-format payment file back into a batch. Used
// for round-trip verification of generated files.
func DecodeBatch(data []byte, bank domain.BankConfiguration) (*domain.PaymentBatch, error) {
	switch bank.FileFormat {
	case domain.FormatFixedWidth:
		return decodeFixedWidthBatch(data, bank.Encoding)
	case domain.FormatCSV:
		return decodeCSVBatch(data, bank.Encoding, bank.Delimiter())
	default:
		return nil, fmt.Errorf("%w: unknown file format %q", apperrors.ErrValidation, bank.FileFormat)
	}
}

// EncodeReconciliation renders reconciliation records as a response file in
// the bank's format. Used by the bank simulator in tests and by operator
// tooling that replays corrected response files.
func EncodeReconciliation(records []domain.ReconciliationRecord, date time.Time, bank domain.BankConfiguration) ([]byte, error) {
	switch bank.FileFormat {
	case domain.FormatFixedWidth:
		return encodeFixedWidthReconciliation(records, date, bank.BankCode)
	case domain.FormatCSV:
		return encodeCSVReconciliation(records, date, bank.BankCode, bank.Encoding, bank.Delimiter())
	default:
		return nil, fmt.Errorf("%w: unknown file format %q", apperrors.ErrValidation, bank.FileFormat)
	}
}

// DecodeReconciliation parses a bank response file into reconciliation
// records. The trailer's declared count and amount are validated against what
// was actually parsed; any mismatch rejects the whole file.
func DecodeReconciliation(data []byte, bank domain.BankConfiguration) ([]domain.ReconciliationRecord, error) {
	switch bank.FileFormat {
	case domain.FormatFixedWidth:
		return decodeFixedWidthReconciliation(data, bank.Encoding)
	case domain.FormatCSV:
		return decodeCSVReconciliation(data, bank.Encoding, bank.Delimiter())
	default:
		return nil, fmt.Errorf("%w: unknown file format %q", apperrors.ErrValidation, bank.FileFormat)
	}
}

// formatAmount renders a minor-unit amount zero-padded to width digits.
func formatAmount(amount int64, width int) (string, error) {
	if amount < 0 {
		return "", fmt.Errorf("%w: negative amount %d", apperrors.ErrValidation, amount)
	}
	s := strconv.FormatInt(amount, 10)
	if len(s) > width {
		return "", fmt.Errorf("%w: amount %d exceeds %d digits", apperrors.ErrValidation, amount, width)
	}
	return strings.Repeat("0", width-len(s)) + s, nil
}

func parseAmount(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad amount field %q", apperrors.ErrFormat, s)
	}
	return v, nil
}

// verifyTrailer enforces the trailer invariant shared by both formats.
func verifyTrailer(declaredCount int, declaredTotal int64, actualCount int, actualTotal int64) error {
	if declaredCount != actualCount {
		return fmt.Errorf("%w: trailer declares %d records, file contains %d",
			apperrors.ErrFormat, declaredCount, actualCount)
	}
	if declaredTotal != actualTotal {
		return fmt.Errorf("%w: trailer declares total %d, records sum to %d",
			apperrors.ErrFormat, declaredTotal, actualTotal)
	}
	return nil
}
