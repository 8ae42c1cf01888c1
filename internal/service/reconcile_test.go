package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

func sadadIntent(t *testing.T, f *fixture, key string) *domain.Intent {
	t.Helper()
	result, err := f.payments.Hold(context.Background(), headers(key), HoldRequest{
		Account:       "10001",
		PaymentMethod: domain.MethodSadad,
		Money:         domain.Money{Amount: 12550, Currency: domain.CurrencySAR},
	})
	require.NoError(t, err)
	return result.Intent
}

func approved(ref string) SadadNotification {
	return SadadNotification{
		SadadNumber:    ref,
		SadadPaymentID: "pay-1",
		BillNumber:     "bill",
		PaymentAmount:  "125.50",
		PaymentStatus:  SadadApproved,
	}
}

func TestSadadNotificationCompletesIntentOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	in := sadadIntent(t, f, "sadad-1")

	ack, err := f.payments.HandleSadadNotification(ctx, approved(in.ProviderRef))
	require.NoError(t, err)
	assert.Equal(t, "Operation Done Successfully", ack.Message)

	stored, err := f.store.Intents().GetIntentByIdempotencyKey(ctx, "sadad-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentCompleted, stored.State)

	tx, err := f.store.Transactions().GetTransactionByIdempotencyKey(ctx, "sadad-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, tx.Action)
	assert.Equal(t, domain.ImpactIn, tx.Impact)
	assert.Equal(t, domain.StateCompleted, tx.State)
	assert.Equal(t, int64(12550), tx.Amount)

	detail, err := f.store.PaymentDetails().GetPaymentDetailByTransactionKey(ctx, "sadad-1")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", detail.ProviderTransactionID)
	assert.Contains(t, string(detail.Payload), `"sadadPaymentId":"pay-1"`)

	_, err = f.payments.HandleSadadNotification(ctx, approved(in.ProviderRef))
	require.NoError(t, err)

	assert.Equal(t, []string{"sadad-1", "sadad-1"}, f.notifier.owners)
	assert.Equal(t, 1, f.store.TransactionCount())
}

func TestSadadNotificationIgnoresUnapprovedPayments(t *testing.T) {
	f := newFixture()
	in := sadadIntent(t, f, "sadad-2")

	n := approved(in.ProviderRef)
	n.PaymentStatus = "REJECTED"
	_, err := f.payments.HandleSadadNotification(context.Background(), n)

	require.NoError(t, err)
	assert.Empty(t, f.notifier.owners)
	assert.Equal(t, 0, f.store.TransactionCount())
}

func TestSadadNotificationForUnknownOrCancelledIntent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.payments.HandleSadadNotification(ctx, approved("nope"))
	assert.True(t, errors.Is(err, errors.NotFound))

	in := sadadIntent(t, f, "sadad-3")
	_, err = f.payments.Cancel(ctx, headers("sadad-3"), OutRequest{})
	require.NoError(t, err)

	_, err = f.payments.HandleSadadNotification(ctx, approved(in.ProviderRef))
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.Equal(t, 0, f.store.TransactionCount())
}

func TestGetIntentStatusCompletesPaidBill(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sadadIntent(t, f, "sadad-4")

	f.sadad.status = &domain.BillStatus{BillNumber: "sadad-4", StatusCode: "UNPAID"}
	in, err := f.payments.GetIntentStatus(ctx, headers("sadad-4"))
	require.NoError(t, err)
	assert.Equal(t, domain.IntentPending, in.State)

	f.sadad.status = &domain.BillStatus{BillNumber: "sadad-4", StatusCode: domain.BillPaidStatus, ProviderRef: "900100200", Raw: []byte(`{"statusCode":"PAID_BY_SADAD"}`)}
	in, err = f.payments.GetIntentStatus(ctx, headers("sadad-4"))
	require.NoError(t, err)
	assert.Equal(t, domain.IntentCompleted, in.State)
	assert.Equal(t, 1, f.store.TransactionCount())
	assert.Empty(t, f.notifier.owners)

	// A late webhook for the same bill only re-notifies.
	_, err = f.payments.HandleSadadNotification(ctx, approved("900100200"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.TransactionCount())
	assert.Len(t, f.notifier.owners, 1)
}

func TestGetIntentStatusFallsBackOnBillerFailure(t *testing.T) {
	f := newFixture()
	sadadIntent(t, f, "sadad-5")
	f.sadad.fetchErr = errors.NewAppError(errors.ProviderTransient, "timeout")

	in, err := f.payments.GetIntentStatus(context.Background(), headers("sadad-5"))

	require.NoError(t, err)
	assert.Equal(t, domain.IntentPending, in.State)
}

func TestGetIntentStatusUnknownKey(t *testing.T) {
	_, err := newFixture().payments.GetIntentStatus(context.Background(), headers("missing"))
	assert.True(t, errors.Is(err, errors.NotFound))
}
