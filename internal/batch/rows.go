// Package batch parses bulk wallet adjustment files and renders their reports.
package batch

import (
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

const columns = 5

// Row is one validated adjustment. RowNum counts data rows from 1, the header
// excluded.
type Row struct {
	RowNum          int                    `json:"rowNum"`
	Account         string                 `json:"account" validate:"required,numeric"`
	Amount          decimal.Decimal        `json:"amount"`
	Money           domain.Money           `json:"money"`
	TransactionType domain.TransactionType `json:"transactionType" validate:"required"`
	Comments        string                 `json:"comments,omitempty"`
	PaymentMethod   domain.PaymentMethod   `json:"paymentMethod"`
	Action          domain.Action          `json:"action"`
}

// RowError lists what is wrong with one input row.
type RowError struct {
	RowNum int      `json:"rowNum"`
	Row    string   `json:"row"`
	Errors []string `json:"errors"`
}

var validate = validator.New()

// Parse reads an adjustment file: a header line followed by
// account,amount,currency,transactionType,comments rows. Blank lines are
// ignored. Rows that fail validation are reported together; an error is
// returned only when the file itself cannot be read.
func Parse(r io.Reader) ([]Row, []RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, nil, errors.NewAppError(errors.ValidationFailure, "FILE_NOT_FOUND")
		}
		return nil, nil, errors.Wrap(errors.ValidationFailure, "failed to read file header", err)
	}

	var rows []Row
	var rowErrors []RowError
	for n := 1; ; n++ {
		record, err := reader.Read()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(errors.ValidationFailure, fmt.Sprintf("failed to read row %d", n), err)
		}

		row, problems := parseRow(n, record)
		if len(problems) > 0 {
			rowErrors = append(rowErrors, RowError{RowNum: n, Row: strings.Join(record, ","), Errors: problems})
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 && len(rowErrors) == 0 {
		return nil, nil, errors.NewAppError(errors.ValidationFailure, "file has no rows")
	}
	return rows, rowErrors, nil
}

func parseRow(n int, record []string) (Row, []string) {
	if len(record) < columns-1 {
		return Row{}, []string{fmt.Sprintf("expected %d columns, got %d", columns, len(record))}
	}
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}

	row := Row{
		RowNum:          n,
		Account:         record[0],
		TransactionType: domain.TransactionType(record[3]),
	}
	if len(record) >= columns {
		row.Comments = record[4]
	}

	var problems []string
	if err := validate.Struct(row); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				problems = append(problems, fmt.Sprintf("%s failed on %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}
	if row.TransactionType != "" && !row.TransactionType.Valid() {
		problems = append(problems, fmt.Sprintf("unknown transaction type %q", record[3]))
	}

	currency := domain.Currency(record[2])
	if !currency.Valid() {
		problems = append(problems, fmt.Sprintf("unsupported currency %q", record[2]))
	}

	amount, err := decimal.NewFromString(record[1])
	switch {
	case err != nil:
		problems = append(problems, fmt.Sprintf("invalid amount %q", record[1]))
	case !amount.IsPositive():
		problems = append(problems, "amount must be positive")
	case !amount.Equal(amount.Round(2)):
		problems = append(problems, "amount has more than two decimals")
	}

	if len(problems) > 0 {
		return Row{}, problems
	}

	row.Amount = amount
	row.Money = domain.Money{
		Amount:   amount.Mul(decimal.NewFromInt(currency.MinorUnits())).IntPart(),
		Currency: currency,
	}
	row.PaymentMethod, row.Action = routeFor(row.TransactionType)
	return row, nil
}

// routeFor decides how a row moves money. Reversals and order payments take
// funds out of the wallet; every other type credits it from a cash hold.
func routeFor(t domain.TransactionType) (domain.PaymentMethod, domain.Action) {
	method := domain.MethodCash
	if t == domain.TypeReversal {
		method = domain.MethodWallet
	}
	switch t {
	case domain.TypeReversal, domain.TypeOrderPayment:
		return method, domain.ActionCharge
	default:
		return method, domain.ActionRelease
	}
}
