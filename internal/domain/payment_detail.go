package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentDetail is the biller's own record of a settled payment, linked 1:1 to a
// COMPLETED Transaction.
type PaymentDetail struct {
	ID                    uuid.UUID       `json:"id"`
	TransactionID         uuid.UUID       `json:"transaction_id"`
	Provider              PaymentMethod   `json:"provider"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
	TransactionDate       string          `json:"transaction_date,omitempty"`
	TransactionTime       string          `json:"transaction_time,omitempty"`
	Reference             string          `json:"reference,omitempty"`
	Payload               json.RawMessage `json:"payload,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

type PaymentDetailRepository interface {
	CreatePaymentDetail(ctx context.Context, d *PaymentDetail) error
	// FindPaymentDetail looks up a detail by the biller's duplicate-detection tuple.
	FindPaymentDetail(ctx context.Context, account, providerTransactionID, date, time string) (*PaymentDetail, error)
	GetPaymentDetailByTransactionKey(ctx context.Context, key string) (*PaymentDetail, error)
}
