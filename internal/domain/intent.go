package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Intent is a pending reference to a bill raised at a third-party biller.
type Intent struct {
	ID             uuid.UUID     `json:"id"`
	IdempotencyKey string        `json:"idempotency_key"`
	Amount         int64         `json:"amount"`
	Currency       Currency      `json:"currency"`
	PaymentMethod  PaymentMethod `json:"payment_method"`
	Account        string        `json:"account"`
	State          IntentState   `json:"state"`
	BillNumber     string        `json:"bill_number"`
	ProviderRef    string        `json:"provider_ref,omitempty"`
	Version        int           `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func IntentStateOf(in *Intent) IntentState {
	if in == nil {
		return IntentAbsent
	}
	return in.State
}

// ExpiresAt is the end of the intent's validity window for the given TTL.
func (in *Intent) ExpiresAt(ttl time.Duration) time.Time {
	return in.CreatedAt.Add(ttl)
}

type IntentRepository interface {
	CreateIntent(ctx context.Context, in *Intent) error
	GetIntentByIdempotencyKey(ctx context.Context, key string) (*Intent, error)
	GetIntentByProviderRef(ctx context.Context, ref string) (*Intent, error)
	// SetIntentState moves a PENDING intent to state. Asking for the state the
	// intent is already in is a no-op; any other terminal move fails with
	// errors.AlreadyFinalized.
	SetIntentState(ctx context.Context, id uuid.UUID, state IntentState) (*Intent, error)
	// CancelIntent cancels the intent for key if it is still PENDING and returns
	// the current row either way.
	CancelIntent(ctx context.Context, key string) (*Intent, error)
	ListIntentsByBillNumber(ctx context.Context, billNumber string, state IntentState) ([]*Intent, error)
	GetLatestIntentByAccount(ctx context.Context, account string, method PaymentMethod) (*Intent, error)
	// ListValidIntentsByAccount lists intents in state created after createdAfter.
	ListValidIntentsByAccount(ctx context.Context, account string, method PaymentMethod, state IntentState, createdAfter time.Time) ([]*Intent, error)
	CancelPendingIntentsByAccount(ctx context.Context, account string, method PaymentMethod) (int64, error)
}
