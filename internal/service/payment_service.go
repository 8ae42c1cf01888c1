package service

import (
	"context"
	"log/slog"
	"time"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

// Gateways groups the downstream collaborators of the orchestrator.
type Gateways struct {
	Wallet   domain.WalletGateway
	Users    domain.UserDirectory
	Sadad    domain.BillerGateway
	Lending  domain.LendingGateway
	Notifier domain.Notifier
}

type Settings struct {
	// SadadIntentExpiry is how long a SADAD bill stays payable.
	SadadIntentExpiry time.Duration
	// TopupIntentTTL is the validity window of an Easypaisa top-up intent.
	TopupIntentTTL time.Duration
	Now            func() time.Time
}

func (s Settings) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// PaymentService drives holds, out-legs, rollbacks and bill intents. Every
// procedure reads the persisted state for its idempotency key and resumes
// forward from there, so replays never repeat a completed side effect.
type PaymentService struct {
	ledger   domain.Ledger
	gateways Gateways
	settings Settings
	logger   *slog.Logger
}

func NewPaymentService(ledger domain.Ledger, gateways Gateways, settings Settings, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		ledger:   ledger,
		gateways: gateways,
		settings: settings,
		logger:   logger,
	}
}

type HoldRequest struct {
	Account         string                 `json:"account" validate:"required"`
	PaymentMethod   domain.PaymentMethod   `json:"paymentMethod" validate:"required"`
	Money           domain.Money           `json:"money"`
	TransactionType domain.TransactionType `json:"transactionType,omitempty"`
	Comments        string                 `json:"comments,omitempty"`
}

func (r HoldRequest) validate() error {
	if r.Account == "" {
		return errors.NewAppError(errors.ValidationFailure, "account is required")
	}
	if !r.PaymentMethod.Valid() {
		return errors.NewAppErrorf(errors.ValidationFailure, "unknown payment method %q", r.PaymentMethod)
	}
	if r.Money.Amount <= 0 {
		return errors.NewAppError(errors.ValidationFailure, "amount must be positive")
	}
	if !r.Money.Currency.Valid() {
		return errors.NewAppErrorf(errors.ValidationFailure, "unsupported currency %q", r.Money.Currency)
	}
	if r.TransactionType != "" && !r.TransactionType.Valid() {
		return errors.NewAppErrorf(errors.ValidationFailure, "unknown transaction type %q", r.TransactionType)
	}
	return nil
}

type OutRequest struct {
	TransactionType domain.TransactionType `json:"transactionType,omitempty"`
	Comments        string                 `json:"comments,omitempty"`
}

type RollbackRequest struct {
	OutRequest
	AdjustedMoney *domain.Money `json:"adjustedMoney,omitempty"`
}

// PaymentResult carries whichever record a procedure settled on: a ledger
// Transaction for local legs, an Intent for third-party bills.
type PaymentResult struct {
	Transaction *domain.Transaction `json:"transaction,omitempty"`
	Intent      *domain.Intent      `json:"intent,omitempty"`
}

type RollbackResult struct {
	RollbackTransaction *domain.Transaction `json:"rollbackTransaction"`
	IsReleased          bool                `json:"isReleased"`
}

func requireKey(h domain.Headers) error {
	if h.IdempotencyKey == "" {
		return errors.NewAppError(errors.InvalidInput, "idempotency-key is missing in headers")
	}
	return nil
}

// createTransaction inserts tx. When a concurrent request already won the key
// the winning row is returned instead.
func (s *PaymentService) createTransaction(ctx context.Context, repo domain.TransactionRepository, tx *domain.Transaction) (*domain.Transaction, error) {
	err := repo.CreateTransaction(ctx, tx)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, errors.DuplicateKey) {
		return nil, err
	}

	s.logger.Info("Idempotency key already taken, resuming from stored row", "idempotency_key", tx.IdempotencyKey)
	existing, getErr := repo.GetTransactionByIdempotencyKey(ctx, tx.IdempotencyKey)
	if getErr != nil {
		return nil, getErr
	}
	if existing == nil {
		return nil, err
	}
	return existing, nil
}

func (s *PaymentService) createIntent(ctx context.Context, repo domain.IntentRepository, in *domain.Intent) (*domain.Intent, error) {
	err := repo.CreateIntent(ctx, in)
	if err == nil {
		return in, nil
	}
	if !errors.Is(err, errors.DuplicateKey) {
		return nil, err
	}

	existing, getErr := repo.GetIntentByIdempotencyKey(ctx, in.IdempotencyKey)
	if getErr != nil {
		return nil, getErr
	}
	if existing == nil {
		return nil, err
	}
	return existing, nil
}

func unexpectedState(key string, state interface{}) error {
	return errors.NewAppErrorf(errors.InternalError, "row %s is in unexpected state %v", key, state)
}
