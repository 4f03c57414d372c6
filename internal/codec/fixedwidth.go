package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
)

// Fixed-width record byte layouts. Widths are in encoded bytes, so a Big5
// payee name still occupies exactly its field width.
//
//	header  H | batch id 36 | date 8 | bank code 8 | version 4        = 57
//	detail  D | seq 6 | txn id 20 | account 16 | payee 30 | amount 12 | date 8 = 93
//	trailer T | count 8 | total 14                                    = 23
//
// Response files from the bank:
//
//	header   H | bank code 8 | date 8                                 = 17
//	response R/E | txn id 20 | code 4 | bank ref 16 | amount 12 | date 8 = 61
//	trailer  T | count 8 | total 14                                   = 23
const (
	fwBatchIDWidth = 36
	fwSeqWidth     = 6
	fwTxnIDWidth   = 20
	fwAccountWidth = 16
	fwPayeeWidth   = 30
	fwAmountWidth  = 12
	fwTotalWidth   = 14
	fwCountWidth   = 8
	fwBankWidth    = 8

	fwDetailLen   = 1 + fwSeqWidth + fwTxnIDWidth + fwAccountWidth + fwPayeeWidth + fwAmountWidth + 8
	fwHeaderLen   = 1 + fwBatchIDWidth + 8 + fwBankWidth + 4
	fwTrailerLen  = 1 + fwCountWidth + fwTotalWidth
	fwRespLen     = 1 + fwTxnIDWidth + 4 + fwAccountWidth + fwAmountWidth + 8
	fwRespHdrLen  = 1 + fwBankWidth + 8
	recordNewline = "\r\n"
)

func padRight(s string, width int) (string, error) {
	if len(s) > width {
		return "", fmt.Errorf("%w: field %q exceeds width %d", apperrors.ErrValidation, s, width)
	}
	return s + strings.Repeat(" ", width-len(s)), nil
}

func padBytesRight(b []byte, width int) ([]byte, error) {
	if len(b) > width {
		return nil, fmt.Errorf("%w: encoded field of %d bytes exceeds width %d", apperrors.ErrValidation, len(b), width)
	}
	return append(b, bytes.Repeat([]byte(" "), width-len(b))...), nil
}

func encodeFixedWidth(batch *domain.PaymentBatch, enc domain.TextEncoding) ([]byte, error) {
	var buf bytes.Buffer

	batchID, err := padRight(batch.BatchID, fwBatchIDWidth)
	if err != nil {
		return nil, err
	}
	bankCode, err := padRight(batch.BankCode, fwBankWidth)
	if err != nil {
		return nil, err
	}
	buf.WriteByte(recHeader)
	buf.WriteString(batchID)
	buf.WriteString(batch.ProcessingDate.Format(dateLayout))
	buf.WriteString(bankCode)
	buf.WriteString(layoutVersion)
	buf.WriteString(recordNewline)

	var emitted int
	var total int64
	for _, txn := range batch.Transactions {
		rec, err := encodeFixedWidthDetail(txn, enc)
		if err != nil {
			return nil, err
		}
		buf.Write(rec)
		buf.WriteString(recordNewline)
		emitted++
		total += txn.Amount
	}

	count := fmt.Sprintf("%0*d", fwCountWidth, emitted)
	amount, err := formatAmount(total, fwTotalWidth)
	if err != nil {
		return nil, err
	}
	buf.WriteByte(recTrailer)
	buf.WriteString(count)
	buf.WriteString(amount)
	buf.WriteString(recordNewline)

	// Trailer invariant is checked here, not left to the receiving bank.
	if err := verifyTrailer(emitted, total, len(batch.Transactions), batch.TotalAmount()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeFixedWidthDetail(txn domain.PaymentTransaction, enc domain.TextEncoding) ([]byte, error) {
	txnID, err := padRight(txn.TransactionID, fwTxnIDWidth)
	if err != nil {
		return nil, err
	}
	account, err := padRight(txn.AccountNumber, fwAccountWidth)
	if err != nil {
		return nil, err
	}
	payeeRaw, err := encodeText(txn.PayeeName, enc)
	if err != nil {
		return nil, err
	}
	payee, err := padBytesRight(payeeRaw, fwPayeeWidth)
	if err != nil {
		return nil, err
	}
	amount, err := formatAmount(txn.Amount, fwAmountWidth)
	if err != nil {
		return nil, err
	}

	rec := make([]byte, 0, fwDetailLen)
	rec = append(rec, recDetail)
	rec = append(rec, fmt.Sprintf("%0*d", fwSeqWidth, txn.SequenceNumber)...)
	rec = append(rec, txnID...)
	rec = append(rec, account...)
	rec = append(rec, payee...)
	rec = append(rec, amount...)
	rec = append(rec, txn.ScheduledDate.Format(dateLayout)...)
	return rec, nil
}

func splitRecords(data []byte) [][]byte {
	normalized := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	lines := bytes.Split(normalized, []byte("\n"))
	records := make([][]byte, 0, len(lines))
	for _, l := range lines {
		if len(l) > 0 {
			records = append(records, l)
		}
	}
	return records
}

func decodeFixedWidthBatch(data []byte, enc domain.TextEncoding) (*domain.PaymentBatch, error) {
	records := splitRecords(data)
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: file has %d records, need header and trailer", apperrors.ErrFormat, len(records))
	}

	header := records[0]
	if len(header) != fwHeaderLen || header[0] != recHeader {
		return nil, fmt.Errorf("%w: malformed header record", apperrors.ErrFormat)
	}
	date, err := time.Parse(dateLayout, string(header[1+fwBatchIDWidth:1+fwBatchIDWidth+8]))
	if err != nil {
		return nil, fmt.Errorf("%w: bad header date: %v", apperrors.ErrFormat, err)
	}
	batch := &domain.PaymentBatch{
		BatchID:        strings.TrimRight(string(header[1:1+fwBatchIDWidth]), " "),
		ProcessingDate: date,
		BankCode:       strings.TrimRight(string(header[1+fwBatchIDWidth+8:1+fwBatchIDWidth+8+fwBankWidth]), " "),
	}

	var declaredCount int
	var declaredTotal int64
	var sawTrailer bool
	var total int64
	prevSeq := 0
	for _, rec := range records[1:] {
		switch rec[0] {
		case recDetail:
			if sawTrailer {
				return nil, fmt.Errorf("%w: detail record after trailer", apperrors.ErrFormat)
			}
			txn, err := decodeFixedWidthDetail(rec, enc)
			if err != nil {
				return nil, err
			}
			if txn.SequenceNumber != prevSeq+1 {
				return nil, fmt.Errorf("%w: sequence %d after %d, must be monotonic",
					apperrors.ErrFormat, txn.SequenceNumber, prevSeq)
			}
			prevSeq = txn.SequenceNumber
			total += txn.Amount
			batch.Transactions = append(batch.Transactions, txn)
		case recTrailer:
			declaredCount, declaredTotal, err = decodeTrailer(rec)
			if err != nil {
				return nil, err
			}
			sawTrailer = true
		default:
			return nil, fmt.Errorf("%w: unknown record type %q", apperrors.ErrFormat, rec[0])
		}
	}
	if !sawTrailer {
		return nil, fmt.Errorf("%w: missing trailer record", apperrors.ErrFormat)
	}
	if err := verifyTrailer(declaredCount, declaredTotal, len(batch.Transactions), total); err != nil {
		return nil, err
	}
	return batch, nil
}

func decodeFixedWidthDetail(rec []byte, enc domain.TextEncoding) (domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	if len(rec) != fwDetailLen {
		return txn, fmt.Errorf("%w: detail record is %d bytes, want %d", apperrors.ErrFormat, len(rec), fwDetailLen)
	}
	off := 1
	seq, err := strconv.Atoi(string(rec[off : off+fwSeqWidth]))
	if err != nil {
		return txn, fmt.Errorf("%w: bad sequence field: %v", apperrors.ErrFormat, err)
	}
	off += fwSeqWidth
	txn.SequenceNumber = seq
	txn.TransactionID = strings.TrimRight(string(rec[off:off+fwTxnIDWidth]), " ")
	off += fwTxnIDWidth
	txn.AccountNumber = strings.TrimRight(string(rec[off:off+fwAccountWidth]), " ")
	off += fwAccountWidth
	payee, err := decodeText(bytes.TrimRight(rec[off:off+fwPayeeWidth], " "), enc)
	if err != nil {
		return txn, err
	}
	txn.PayeeName = payee
	off += fwPayeeWidth
	amount, err := parseAmount(string(rec[off : off+fwAmountWidth]))
	if err != nil {
		return txn, err
	}
	txn.Amount = amount
	off += fwAmountWidth
	date, err := time.Parse(dateLayout, string(rec[off:off+8]))
	if err != nil {
		return txn, fmt.Errorf("%w: bad detail date: %v", apperrors.ErrFormat, err)
	}
	txn.ScheduledDate = date
	return txn, nil
}

func decodeTrailer(rec []byte) (int, int64, error) {
	if len(rec) != fwTrailerLen || rec[0] != recTrailer {
		return 0, 0, fmt.Errorf("%w: malformed trailer record", apperrors.ErrFormat)
	}
	count, err := strconv.Atoi(string(rec[1 : 1+fwCountWidth]))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad trailer count: %v", apperrors.ErrFormat, err)
	}
	total, err := parseAmount(string(rec[1+fwCountWidth:]))
	if err != nil {
		return 0, 0, err
	}
	return count, total, nil
}

func encodeFixedWidthReconciliation(records []domain.ReconciliationRecord, date time.Time, bankCode string) ([]byte, error) {
	var buf bytes.Buffer

	bank, err := padRight(bankCode, fwBankWidth)
	if err != nil {
		return nil, err
	}
	buf.WriteByte(recHeader)
	buf.WriteString(bank)
	buf.WriteString(date.Format(dateLayout))
	buf.WriteString(recordNewline)

	var total int64
	for _, r := range records {
		rec, err := encodeFixedWidthResponse(r, date)
		if err != nil {
			return nil, err
		}
		buf.Write(rec)
		buf.WriteString(recordNewline)
		total += r.Amount
	}

	amount, err := formatAmount(total, fwTotalWidth)
	if err != nil {
		return nil, err
	}
	buf.WriteByte(recTrailer)
	buf.WriteString(fmt.Sprintf("%0*d", fwCountWidth, len(records)))
	buf.WriteString(amount)
	buf.WriteString(recordNewline)
	return buf.Bytes(), nil
}

func encodeFixedWidthResponse(r domain.ReconciliationRecord, fallbackDate time.Time) ([]byte, error) {
	txnID, err := padRight(r.TransactionID, fwTxnIDWidth)
	if err != nil {
		return nil, err
	}
	code, err := padRight(r.ResponseCode, 4)
	if err != nil {
		return nil, err
	}
	bankRef, err := padRight(r.BankReference, fwAccountWidth)
	if err != nil {
		return nil, err
	}
	amount, err := formatAmount(r.Amount, fwAmountWidth)
	if err != nil {
		return nil, err
	}
	date := r.Date
	if date.IsZero() {
		date = fallbackDate
	}

	recType := byte(recResponse)
	if r.Returned {
		recType = recReturn
	}
	rec := make([]byte, 0, fwRespLen)
	rec = append(rec, recType)
	rec = append(rec, txnID...)
	rec = append(rec, code...)
	rec = append(rec, bankRef...)
	rec = append(rec, amount...)
	rec = append(rec, date.Format(dateLayout)...)
	return rec, nil
}

func decodeFixedWidthReconciliation(data []byte, enc domain.TextEncoding) ([]domain.ReconciliationRecord, error) {
	records := splitRecords(data)
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: file has %d records, need header and trailer", apperrors.ErrFormat, len(records))
	}
	if len(records[0]) != fwRespHdrLen || records[0][0] != recHeader {
		return nil, fmt.Errorf("%w: malformed response header record", apperrors.ErrFormat)
	}

	var out []domain.ReconciliationRecord
	var declaredCount int
	var declaredTotal int64
	var sawTrailer bool
	var total int64
	for _, rec := range records[1:] {
		switch rec[0] {
		case recResponse, recReturn:
			if sawTrailer {
				return nil, fmt.Errorf("%w: response record after trailer", apperrors.ErrFormat)
			}
			r, err := decodeFixedWidthResponse(rec)
			if err != nil {
				return nil, err
			}
			total += r.Amount
			out = append(out, r)
		case recTrailer:
			var err error
			declaredCount, declaredTotal, err = decodeTrailer(rec)
			if err != nil {
				return nil, err
			}
			sawTrailer = true
		default:
			return nil, fmt.Errorf("%w: unknown record type %q", apperrors.ErrFormat, rec[0])
		}
	}
	if !sawTrailer {
		return nil, fmt.Errorf("%w: missing trailer record", apperrors.ErrFormat)
	}
	if err := verifyTrailer(declaredCount, declaredTotal, len(out), total); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeFixedWidthResponse(rec []byte) (domain.ReconciliationRecord, error) {
	var r domain.ReconciliationRecord
	if len(rec) != fwRespLen {
		return r, fmt.Errorf("%w: response record is %d bytes, want %d", apperrors.ErrFormat, len(rec), fwRespLen)
	}
	r.Returned = rec[0] == recReturn
	off := 1
	r.TransactionID = strings.TrimRight(string(rec[off:off+fwTxnIDWidth]), " ")
	off += fwTxnIDWidth
	r.ResponseCode = strings.TrimSpace(string(rec[off : off+4]))
	off += 4
	r.BankReference = strings.TrimRight(string(rec[off:off+fwAccountWidth]), " ")
	off += fwAccountWidth
	amount, err := parseAmount(string(rec[off : off+fwAmountWidth]))
	if err != nil {
		return r, err
	}
	r.Amount = amount
	off += fwAmountWidth
	date, err := time.Parse(dateLayout, string(rec[off:off+8]))
	if err != nil {
		return r, fmt.Errorf("%w: bad response date: %v", apperrors.ErrFormat, err)
	}
	r.Date = date
	r.State = domain.RecordUnmatched
	return r, nil
}
