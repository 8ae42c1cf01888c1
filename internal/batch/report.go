package batch

import (
	"bytes"
	"encoding/csv"

	"payment-orchestrator/internal/errors"
)

const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

var reportHeader = []string{"Retailer Id", "Amount", "Currency", "Transaction Type", "Status"}

// Report renders one line per row with its outcome. failed is keyed by RowNum.
func Report(rows []Row, failed map[int]bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(reportHeader); err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to write report", err)
	}
	for _, row := range rows {
		status := StatusSuccess
		if failed[row.RowNum] {
			status = StatusFailure
		}
		record := []string{row.Account, row.Amount.StringFixed(2), string(row.Money.Currency), string(row.TransactionType), status}
		if err := w.Write(record); err != nil {
			return nil, errors.Wrap(errors.InternalError, "failed to write report", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to write report", err)
	}
	return buf.Bytes(), nil
}
