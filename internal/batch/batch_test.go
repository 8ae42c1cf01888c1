package batch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

const adjustments = `account,amount,currency,transactionType,comments
10001,150.50,PKR,PROMOTIONAL_TOPUP,eid bonus

10002,20,PKR,REVERSAL,wrong credit
10003,75,PKR,ORDER_PAYMENT,
`

func TestParseRoutesRows(t *testing.T) {
	rows, rowErrors, err := Parse(strings.NewReader(adjustments))

	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.Len(t, rows, 3)

	assert.Equal(t, 1, rows[0].RowNum)
	assert.Equal(t, int64(15050), rows[0].Money.Amount)
	assert.Equal(t, domain.MethodCash, rows[0].PaymentMethod)
	assert.Equal(t, domain.ActionRelease, rows[0].Action)
	assert.Equal(t, "eid bonus", rows[0].Comments)

	assert.Equal(t, domain.MethodWallet, rows[1].PaymentMethod)
	assert.Equal(t, domain.ActionCharge, rows[1].Action)

	assert.Equal(t, domain.MethodCash, rows[2].PaymentMethod)
	assert.Equal(t, domain.ActionCharge, rows[2].Action)
}

func TestParseCollectsRowErrors(t *testing.T) {
	input := `account,amount,currency,transactionType,comments
abc,10,PKR,SELF_TOPUP,
10001,10.005,PKR,SELF_TOPUP,
10002,-5,PKR,SELF_TOPUP,
10003,10,USD,SELF_TOPUP,
10004,10,PKR,GIFT,
10005,10,PKR,SELF_TOPUP,ok
`
	rows, rowErrors, err := Parse(strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 6, rows[0].RowNum)

	require.Len(t, rowErrors, 5)
	nums := make([]int, 0, len(rowErrors))
	for _, re := range rowErrors {
		nums = append(nums, re.RowNum)
		assert.NotEmpty(t, re.Errors)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, nums)
	assert.Contains(t, rowErrors[1].Errors, "amount has more than two decimals")
}

func TestParseEmptyFile(t *testing.T) {
	_, _, err := Parse(strings.NewReader(""))
	assert.True(t, errors.Is(err, errors.ValidationFailure))

	_, _, err = Parse(strings.NewReader("account,amount,currency,transactionType,comments\n"))
	assert.True(t, errors.Is(err, errors.ValidationFailure))
}

func TestReport(t *testing.T) {
	rows, _, err := Parse(strings.NewReader(adjustments))
	require.NoError(t, err)

	out, err := Report(rows, map[int]bool{2: true})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Retailer Id,Amount,Currency,Transaction Type,Status", lines[0])
	assert.Equal(t, "10001,150.50,PKR,PROMOTIONAL_TOPUP,SUCCESS", lines[1])
	assert.Equal(t, "10002,20.00,PKR,REVERSAL,FAILURE", lines[2])
}
