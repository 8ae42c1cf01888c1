package domain

import "context"

// Ledger is the storage port of the orchestrator. Every repository call is
// atomic on its own; WithTransaction groups several into one unit.
type Ledger interface {
	Transactions() TransactionRepository
	Intents() IntentRepository
	PaymentDetails() PaymentDetailRepository
	WithTransaction(ctx context.Context, fn func(Ledger) error) error
}
