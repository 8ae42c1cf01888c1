package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Headers are the caller headers propagated to downstream services.
type Headers struct {
	Authorization  string
	IdempotencyKey string
	Language       string
}

// WithKey returns a copy of h carrying key as its idempotency key.
func (h Headers) WithKey(key string) Headers {
	h.IdempotencyKey = key
	return h
}

type Money struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

// WalletMovement is the body of a wallet charge or recharge.
type WalletMovement struct {
	Account         string
	Money           Money
	TransactionType TransactionType
	Comments        string
}

type WalletGateway interface {
	Balance(ctx context.Context, h Headers, account string, currency Currency) (int64, error)
	Charge(ctx context.Context, h Headers, m WalletMovement) error
	Recharge(ctx context.Context, h Headers, m WalletMovement) error
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type UserDirectory interface {
	FetchUser(ctx context.Context, h Headers, account string) (*User, error)
}

type BillRequest struct {
	BillNumber string
	Customer   User
	Money      Money
	IssueDate  time.Time
	ExpiryDate time.Time
}

// BillStatus is the biller's view of a bill.
type BillStatus struct {
	BillNumber  string
	StatusCode  string
	ProviderRef string
	Raw         json.RawMessage
}

// BillPaidStatus is the status code the SADAD biller reports for a settled bill.
const BillPaidStatus = "PAID_BY_SADAD"

func (s *BillStatus) Paid() bool {
	return s != nil && s.StatusCode == BillPaidStatus
}

type BillerGateway interface {
	CreateBill(ctx context.Context, req BillRequest) (providerRef string, err error)
	CancelBill(ctx context.Context, billNumber string) error
	FetchBill(ctx context.Context, billNumber string) (*BillStatus, error)
}

type Liability struct {
	Account  string
	Amount   int64
	Currency Currency
}

type Repayment struct {
	Account  string
	Amount   int64
	Currency Currency
	OrderID  string
	Method   PaymentMethod
}

type LendingGateway interface {
	RemainingLiability(ctx context.Context, h Headers, orderID string) (*Liability, error)
	Settle(ctx context.Context, h Headers, repayments []Repayment) (bool, error)
}

// PushMessage is a templated customer notification.
type PushMessage struct {
	Account  string
	Template string
	Money    Money
}

type Notifier interface {
	NotifyOwner(ctx context.Context, idempotencyKey string) error
	Push(ctx context.Context, msg PushMessage) error
}
