package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
	"payment-orchestrator/internal/retry"
)

func testOptions() Options {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return Options{
		Policy: retry.Policy{
			Timeout:    5 * time.Second,
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
			Logger:     logger,
		},
		BreakerMaxFailures: 100,
		Logger:             logger,
	}
}

func TestWalletChargeRetriesServerErrors(t *testing.T) {
	var calls int32
	var body walletBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/charge", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("idempotency-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wallet := NewWallet(srv.URL, testOptions())
	err := wallet.Charge(context.Background(),
		domain.Headers{Authorization: "Bearer token", IdempotencyKey: "key-1"},
		domain.WalletMovement{Account: "10001", Money: domain.Money{Amount: 4500, Currency: domain.CurrencyPKR}, TransactionType: domain.TypeOrderPayment},
	)

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "10001", body.RetailerID)
	assert.Equal(t, int64(4500), body.Money.Amount)
}

func TestWalletDoesNotRetryNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"message":"wallet not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	wallet := NewWallet(srv.URL, testOptions())
	_, err := wallet.Balance(context.Background(), domain.Headers{}, "404", domain.CurrencyPKR)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ProviderRejected))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWalletSurfacesTransientAfterExhaustion(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wallet := NewWallet(srv.URL, testOptions())
	err := wallet.Recharge(context.Background(), domain.Headers{}, domain.WalletMovement{Account: "1"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ProviderTransient))
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestWalletBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balance/10001", r.URL.Path)
		assert.Equal(t, "PKR", r.URL.Query().Get("currency"))
		w.Write([]byte(`{"data":{"amount":10000,"currency":"PKR"}}`))
	}))
	defer srv.Close()

	balance, err := NewWallet(srv.URL, testOptions()).Balance(context.Background(), domain.Headers{}, "10001", domain.CurrencyPKR)

	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance)
}

func TestSadadCreateBill(t *testing.T) {
	var upload sadadUpload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/upload", r.URL.Path)
		assert.Equal(t, "eefa", r.Header.Get("username"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&upload))
		w.Write([]byte(`{"data":{"sadadNumber":"900100200"}}`))
	}))
	defer srv.Close()

	sadad := NewSadad(srv.URL, SadadCredentials{Username: "eefa", Password: "secret", EntityActivityID: "77"}, testOptions())
	issued := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ref, err := sadad.CreateBill(context.Background(), domain.BillRequest{
		BillNumber: "0123456789abcdefghij",
		Customer:   domain.User{ID: "42", Name: "Store"},
		Money:      domain.Money{Amount: 12550, Currency: domain.CurrencySAR},
		IssueDate:  issued,
		ExpiryDate: issued.AddDate(0, 0, 2),
	})

	require.NoError(t, err)
	assert.Equal(t, "900100200", ref)
	assert.Equal(t, "2024-05-01", upload.IssueDate)
	assert.Equal(t, "2024-05-03", upload.ExpireDate)
	assert.Equal(t, "77", upload.EntityActivityID)
	require.Len(t, upload.BillItemList, 1)
	assert.InDelta(t, 125.50, upload.BillItemList[0].UnitPrice, 0.0001)
}

func TestSadadFetchBill(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bill-1", r.URL.Query().Get("billNumber"))
		w.Write([]byte(`{"data":{"billNumber":"bill-1","statusCode":"PAID_BY_SADAD","sadadNumber":"900"}}`))
	}))
	defer srv.Close()

	status, err := NewSadad(srv.URL, SadadCredentials{}, testOptions()).FetchBill(context.Background(), "bill-1")

	require.NoError(t, err)
	assert.True(t, status.Paid())
	assert.Equal(t, "900", status.ProviderRef)
}

func TestLendingRemainingLiability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("orderId") {
		case "555":
			w.Write([]byte(`{"retailerId":10001,"remaingLiabilityAmount":150000,"currency":"PKR"}`))
		default:
			w.Write([]byte(`{"validationFailures":[{"message":"order does not exist","code":"404"}]}`))
		}
	}))
	defer srv.Close()

	lending := NewLending(srv.URL, testOptions())

	liability, err := lending.RemainingLiability(context.Background(), domain.Headers{}, "555")
	require.NoError(t, err)
	assert.Equal(t, "10001", liability.Account)
	assert.Equal(t, int64(150000), liability.Amount)
	assert.Equal(t, domain.CurrencyPKR, liability.Currency)

	_, err = lending.RemainingLiability(context.Background(), domain.Headers{}, "999")
	require.Error(t, err)
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ProviderRejected, appErr.Code)
	assert.Equal(t, "order does not exist", appErr.Message)
}

func TestLendingRejectionCarriesValidationMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("orderId") {
		case "42":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"validationFailures":[{"message":"order 42 not found","code":"400"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	lending := NewLending(srv.URL, testOptions())

	_, err := lending.RemainingLiability(context.Background(), domain.Headers{}, "42")
	require.Error(t, err)
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ProviderRejected, appErr.Code)
	assert.Equal(t, "order 42 not found", appErr.Message)

	_, err = lending.RemainingLiability(context.Background(), domain.Headers{}, "43")
	require.Error(t, err)
	appErr, ok = errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ProviderRejected, appErr.Code)
	assert.Equal(t, unknownOrderMessage, appErr.Message)
}

func TestLendingTransientFailureIsNotRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewLending(srv.URL, testOptions()).RemainingLiability(context.Background(), domain.Headers{}, "42")

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ProviderTransient))
	assert.False(t, errors.Is(err, errors.ProviderRejected))
}

func TestLendingSettle(t *testing.T) {
	var body []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	ok, err := NewLending(srv.URL, testOptions()).Settle(context.Background(), domain.Headers{}, []domain.Repayment{{
		Account: "10001", Amount: 150000, Currency: domain.CurrencyPKR, OrderID: "555", Method: domain.MethodEasypaisa,
	}})

	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, body, 1)
	assert.Equal(t, "EASYPAISA", body[0]["loanRepaymentMethod"])
	assert.EqualValues(t, 10001, body[0]["retailerId"])
}

func TestNotifierNotifyOwner(t *testing.T) {
	var key, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		key = r.Header.Get("idempotency-key")
		auth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, srv.URL, "service-token", testOptions())
	require.NoError(t, n.NotifyOwner(context.Background(), "order-7"))

	assert.Equal(t, "order-7", key)
	assert.Equal(t, "service-token", auth)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "45.00", FormatAmount(domain.Money{Amount: 4500, Currency: domain.CurrencyPKR}))
	assert.Equal(t, "1,234,567.89", FormatAmount(domain.Money{Amount: 123456789, Currency: domain.CurrencyPKR}))
	assert.Equal(t, "0.05", FormatAmount(domain.Money{Amount: 5, Currency: domain.CurrencyPKR}))
}
