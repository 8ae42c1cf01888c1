package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/batch"
	"payment-orchestrator/internal/domain"
)

type fakeReporter struct {
	mu        sync.Mutex
	recipient string
	report    []byte
	calls     int
}

func (r *fakeReporter) SendReport(ctx context.Context, recipient string, report []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipient = recipient
	r.report = report
	r.calls++
	return nil
}

func parseRows(t *testing.T, csv string) []batch.Row {
	t.Helper()
	rows, rowErrors, err := batch.Parse(strings.NewReader(csv))
	require.NoError(t, err)
	require.Empty(t, rowErrors)
	return rows
}

func newBatchService(f *fixture, reporter Reporter) *BatchService {
	return NewBatchService(f.payments, reporter, 4, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBatchPrevalidateReportsUnknownAccounts(t *testing.T) {
	f := newFixture()
	rows := parseRows(t, `account,amount,currency,transactionType,comments
10001,10,PKR,SELF_TOPUP,
99999,10,PKR,SELF_TOPUP,
10002,10,PKR,SELF_TOPUP,
`)

	failures, err := newBatchService(f, nil).Prevalidate(context.Background(), headers(""), rows)

	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].RowNum)
	assert.Equal(t, []Issue{{Message: "Customer Not Found", Code: "204"}}, failures[0].Error)
}

func TestBatchAdjustIsolatesFailingRows(t *testing.T) {
	f := newFixture()
	f.wallet.balance = 1500
	reporter := &fakeReporter{}
	rows := parseRows(t, `account,amount,currency,transactionType,comments
10001,100,PKR,PROMOTIONAL_TOPUP,bonus
10002,20,PKR,REVERSAL,too much
10001,10,PKR,REVERSAL,wrong credit
`)

	result := newBatchService(f, reporter).Adjust(context.Background(), headers(""), rows, "admin@example.com")

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors, 1)

	assert.Equal(t, 1, f.wallet.rechargeCount())
	assert.Equal(t, int64(10000), f.wallet.recharges[0].Movement.Money.Amount)
	assert.Equal(t, domain.TypePromotionalTopup, f.wallet.recharges[0].Movement.TransactionType)
	assert.Equal(t, 1, f.wallet.chargeCount())
	assert.Equal(t, int64(1000), f.wallet.charges[0].Movement.Money.Amount)

	for _, outcome := range result.Rows {
		tx, err := f.store.Transactions().GetTransactionByIdempotencyKey(context.Background(), domain.OutKey(outcome.IdempotencyKey))
		require.NoError(t, err)
		if outcome.Status == batch.StatusSuccess {
			assert.Equal(t, domain.StateCompleted, tx.State)
		} else {
			assert.Nil(t, tx)
		}
	}

	assert.Equal(t, 1, reporter.calls)
	assert.Equal(t, "admin@example.com", reporter.recipient)
	assert.Contains(t, string(reporter.report), "10002,20.00,PKR,REVERSAL,FAILURE")
	assert.Contains(t, string(reporter.report), "10001,100.00,PKR,PROMOTIONAL_TOPUP,SUCCESS")
}

func TestBatchStartRunsInBackground(t *testing.T) {
	f := newFixture()
	reporter := &fakeReporter{}
	svc := newBatchService(f, reporter)
	rows := parseRows(t, `account,amount,currency,transactionType,comments
10001,5,PKR,SELF_TOPUP,
`)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx, headers(""), rows, "admin@example.com")
	cancel()
	svc.Wait()

	assert.Equal(t, 1, f.wallet.rechargeCount())
	assert.Equal(t, 1, reporter.calls)
}
