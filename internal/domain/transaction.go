package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transaction is one ledger leg of a money movement.
type Transaction struct {
	ID             uuid.UUID        `json:"id"`
	IdempotencyKey string           `json:"idempotency_key"`
	Action         Action           `json:"action"`
	Impact         Impact           `json:"impact"`
	Amount         int64            `json:"amount"`
	Currency       Currency         `json:"currency"`
	PaymentMethod  PaymentMethod    `json:"payment_method"`
	Account        string           `json:"account"`
	State          TransactionState `json:"state"`
	Version        int              `json:"version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// StateOf returns tx's state, or StateAbsent for a nil row.
func StateOf(tx *Transaction) TransactionState {
	if tx == nil {
		return StateAbsent
	}
	return tx.State
}

type TransactionRepository interface {
	// CreateTransaction inserts tx and refreshes it from the stored row. A taken
	// idempotency key fails with errors.DuplicateKey.
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransactionByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	// GetTransactionByIdempotencyKey returns nil, nil when no row exists.
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	SetTransactionState(ctx context.Context, id uuid.UUID, state TransactionState) (*Transaction, error)
	UpdateTransaction(ctx context.Context, id uuid.UUID, state TransactionState, action Action, impact Impact) (*Transaction, error)
	SetTransactionsState(ctx context.Context, ids []uuid.UUID, state TransactionState) (int64, error)
}
