package codec

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
)

// CSV variant: same header/detail/trailer discipline as the fixed-width
// layout, with the record type in the first column and a column-name header
// row on top. The delimiter is per-bank configuration.

var csvBatchColumns = []string{
	"record_type", "seq_no", "transaction_id", "account_no", "payee_name", "amount", "scheduled_date",
}

var csvResponseColumns = []string{
	"record_type", "transaction_id", "response_code", "bank_reference", "amount", "date",
}

func encodeCSV(batch *domain.PaymentBatch, enc domain.TextEncoding, delim rune) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delim
	w.UseCRLF = true

	if err := w.Write(csvBatchColumns); err != nil {
		return nil, fmt.Errorf("write csv header row: %w", err)
	}
	header := []string{
		string(recHeader), batch.BatchID, batch.ProcessingDate.Format(dateLayout), batch.BankCode, layoutVersion,
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv batch header: %w", err)
	}

	var emitted int
	var total int64
	for _, txn := range batch.Transactions {
		row := []string{
			string(recDetail),
			strconv.Itoa(txn.SequenceNumber),
			txn.TransactionID,
			txn.AccountNumber,
			txn.PayeeName,
			strconv.FormatInt(txn.Amount, 10),
			txn.ScheduledDate.Format(dateLayout),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv detail: %w", err)
		}
		emitted++
		total += txn.Amount
	}

	trailer := []string{string(recTrailer), strconv.Itoa(emitted), strconv.FormatInt(total, 10)}
	if err := w.Write(trailer); err != nil {
		return nil, fmt.Errorf("write csv trailer: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	if err := verifyTrailer(emitted, total, len(batch.Transactions), batch.TotalAmount()); err != nil {
		return nil, err
	}

	// The whole file converts at once: the delimiter and digits are ASCII,
	// which Big5 leaves untouched, so field offsets survive conversion.
	return encodeText(buf.String(), enc)
}

func decodeCSVRows(data []byte, enc domain.TextEncoding, delim rune, wantColumns []string) ([][]string, error) {
	text, err := decodeText(data, enc)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader([]byte(text)))
	r.Comma = delim
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrFormat, err)
	}
	if len(rows) < 3 {
		return nil, fmt.Errorf("%w: csv file has %d rows, need column header, record header and trailer",
			apperrors.ErrFormat, len(rows))
	}
	if len(rows[0]) != len(wantColumns) || rows[0][0] != wantColumns[0] {
		return nil, fmt.Errorf("%w: unexpected csv column header", apperrors.ErrFormat)
	}
	return rows[1:], nil
}

func decodeCSVBatch(data []byte, enc domain.TextEncoding, delim rune) (*domain.PaymentBatch, error) {
	rows, err := decodeCSVRows(data, enc, delim, csvBatchColumns)
	if err != nil {
		return nil, err
	}
	if len(rows[0]) != 5 || rows[0][0] != string(recHeader) {
		return nil, fmt.Errorf("%w: malformed csv batch header row", apperrors.ErrFormat)
	}
	date, err := time.Parse(dateLayout, rows[0][2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad header date: %v", apperrors.ErrFormat, err)
	}
	batch := &domain.PaymentBatch{
		BatchID:        rows[0][1],
		ProcessingDate: date,
		BankCode:       rows[0][3],
	}

	var declaredCount int
	var declaredTotal int64
	var sawTrailer bool
	var total int64
	prevSeq := 0
	for _, row := range rows[1:] {
		switch row[0] {
		case string(recDetail):
			if sawTrailer {
				return nil, fmt.Errorf("%w: detail row after trailer", apperrors.ErrFormat)
			}
			if len(row) != 7 {
				return nil, fmt.Errorf("%w: detail row has %d fields, want 7", apperrors.ErrFormat, len(row))
			}
			seq, err := strconv.Atoi(row[1])
			if err != nil {
				return nil, fmt.Errorf("%w: bad sequence field: %v", apperrors.ErrFormat, err)
			}
			if seq != prevSeq+1 {
				return nil, fmt.Errorf("%w: sequence %d after %d, must be monotonic", apperrors.ErrFormat, seq, prevSeq)
			}
			prevSeq = seq
			amount, err := parseAmount(row[5])
			if err != nil {
				return nil, err
			}
			schedDate, err := time.Parse(dateLayout, row[6])
			if err != nil {
				return nil, fmt.Errorf("%w: bad detail date: %v", apperrors.ErrFormat, err)
			}
			total += amount
			batch.Transactions = append(batch.Transactions, domain.PaymentTransaction{
				SequenceNumber: seq,
				TransactionID:  row[2],
				AccountNumber:  row[3],
				PayeeName:      row[4],
				Amount:         amount,
				ScheduledDate:  schedDate,
			})
		case string(recTrailer):
			declaredCount, declaredTotal, err = decodeCSVTrailer(row)
			if err != nil {
				return nil, err
			}
			sawTrailer = true
		default:
			return nil, fmt.Errorf("%w: unknown record type %q", apperrors.ErrFormat, row[0])
		}
	}
	if !sawTrailer {
		return nil, fmt.Errorf("%w: missing trailer row", apperrors.ErrFormat)
	}
	if err := verifyTrailer(declaredCount, declaredTotal, len(batch.Transactions), total); err != nil {
		return nil, err
	}
	return batch, nil
}

func decodeCSVTrailer(row []string) (int, int64, error) {
	if len(row) != 3 {
		return 0, 0, fmt.Errorf("%w: trailer row has %d fields, want 3", apperrors.ErrFormat, len(row))
	}
	count, err := strconv.Atoi(row[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad trailer count: %v", apperrors.ErrFormat, err)
	}
	total, err := parseAmount(row[2])
	if err != nil {
		return 0, 0, err
	}
	return count, total, nil
}

func encodeCSVReconciliation(records []domain.ReconciliationRecord, date time.Time, bankCode string, enc domain.TextEncoding, delim rune) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delim
	w.UseCRLF = true

	if err := w.Write(csvResponseColumns); err != nil {
		return nil, fmt.Errorf("write csv header row: %w", err)
	}
	if err := w.Write([]string{string(recHeader), bankCode, date.Format(dateLayout)}); err != nil {
		return nil, fmt.Errorf("write csv response header: %w", err)
	}

	var total int64
	for _, r := range records {
		recType := recResponse
		if r.Returned {
			recType = recReturn
		}
		recDate := r.Date
		if recDate.IsZero() {
			recDate = date
		}
		row := []string{
			string(recType),
			r.TransactionID,
			r.ResponseCode,
			r.BankReference,
			strconv.FormatInt(r.Amount, 10),
			recDate.Format(dateLayout),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv response row: %w", err)
		}
		total += r.Amount
	}

	trailer := []string{string(recTrailer), strconv.Itoa(len(records)), strconv.FormatInt(total, 10)}
	if err := w.Write(trailer); err != nil {
		return nil, fmt.Errorf("write csv trailer: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return encodeText(buf.String(), enc)
}

func decodeCSVReconciliation(data []byte, enc domain.TextEncoding, delim rune) ([]domain.ReconciliationRecord, error) {
	rows, err := decodeCSVRows(data, enc, delim, csvResponseColumns)
	if err != nil {
		return nil, err
	}
	if len(rows[0]) < 2 || rows[0][0] != string(recHeader) {
		return nil, fmt.Errorf("%w: malformed csv response header row", apperrors.ErrFormat)
	}

	var out []domain.ReconciliationRecord
	var declaredCount int
	var declaredTotal int64
	var sawTrailer bool
	var total int64
	for _, row := range rows[1:] {
		switch row[0] {
		case string(recResponse), string(recReturn):
			if sawTrailer {
				return nil, fmt.Errorf("%w: response row after trailer", apperrors.ErrFormat)
			}
			if len(row) != 6 {
				return nil, fmt.Errorf("%w: response row has %d fields, want 6", apperrors.ErrFormat, len(row))
			}
			amount, err := parseAmount(row[4])
			if err != nil {
				return nil, err
			}
			date, err := time.Parse(dateLayout, row[5])
			if err != nil {
				return nil, fmt.Errorf("%w: bad response date: %v", apperrors.ErrFormat, err)
			}
			total += amount
			out = append(out, domain.ReconciliationRecord{
				TransactionID: row[1],
				ResponseCode:  row[2],
				BankReference: row[3],
				Amount:        amount,
				Date:          date,
				Returned:      row[0] == string(recReturn),
				State:         domain.RecordUnmatched,
			})
		case string(recTrailer):
			declaredCount, declaredTotal, err = decodeCSVTrailer(row)
			if err != nil {
				return nil, err
			}
			sawTrailer = true
		default:
			return nil, fmt.Errorf("%w: unknown record type %q", apperrors.ErrFormat, row[0])
		}
	}
	if !sawTrailer {
		return nil, fmt.Errorf("%w: missing trailer row", apperrors.ErrFormat)
	}
	if err := verifyTrailer(declaredCount, declaredTotal, len(out), total); err != nil {
		return nil, err
	}
	return out, nil
}
