package service

import (
	"context"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/easypaisa"
	"payment-orchestrator/internal/errors"
)

type TopupIntentRequest struct {
	Account string       `json:"account" validate:"required"`
	Money   domain.Money `json:"money"`
}

// CreateTopupIntent opens an Easypaisa wallet top-up bill for the account.
// A still-valid intent under the same key is returned as is; any other pending
// top-up of the account is cancelled so the biller only ever sees one bill.
func (s *PaymentService) CreateTopupIntent(ctx context.Context, h domain.Headers, req TopupIntentRequest) (in *domain.Intent, err error) {
	defer observe("create_topup_intent", &err)

	if err := requireKey(h); err != nil {
		return nil, err
	}
	if req.Account == "" {
		return nil, errors.NewAppError(errors.ValidationFailure, "account is required")
	}
	if req.Money.Currency == "" {
		req.Money.Currency = domain.CurrencyPKR
	}
	if req.Money.Currency != domain.CurrencyPKR {
		return nil, errors.NewAppErrorf(errors.ValidationFailure, "unsupported currency %q", req.Money.Currency)
	}
	if req.Money.Amount <= 0 {
		return nil, errors.NewAppError(errors.ValidationFailure, "amount must be positive")
	}
	if hasMinorDenomination(req.Money) {
		return nil, errors.ErrMinorDenomination
	}

	repo := s.ledger.Intents()
	existing, err := repo.GetIntentByIdempotencyKey(ctx, h.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.State == domain.IntentPending && s.settings.now().Before(existing.ExpiresAt(s.settings.TopupIntentTTL)) {
			return existing, nil
		}
		return nil, errors.NewAppErrorf(errors.AlreadyFinalized, "top-up intent %s is %s", h.IdempotencyKey, existing.State).
			WithDetails(h.IdempotencyKey)
	}

	err = s.ledger.WithTransaction(ctx, func(l domain.Ledger) error {
		cancelled, err := l.Intents().CancelPendingIntentsByAccount(ctx, req.Account, domain.MethodEasypaisa)
		if err != nil {
			return err
		}
		if cancelled > 0 {
			s.logger.Info("Cancelled superseded top-up intents", "account", req.Account, "count", cancelled)
		}
		in, err = s.createIntent(ctx, l.Intents(), &domain.Intent{
			IdempotencyKey: h.IdempotencyKey,
			Amount:         req.Money.Amount,
			Currency:       req.Money.Currency,
			PaymentMethod:  domain.MethodEasypaisa,
			Account:        req.Account,
			State:          domain.IntentPending,
			BillNumber:     easypaisa.WalletTopupConsumerNumber(req.Account),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Top-up intent created", "idempotency_key", h.IdempotencyKey, "account", req.Account, "bill_number", in.BillNumber)
	return in, nil
}

// FetchTopupIntent returns the account's single valid pending top-up intent,
// or nil when there is none.
func (s *PaymentService) FetchTopupIntent(ctx context.Context, account string) (*domain.Intent, error) {
	if account == "" {
		return nil, errors.NewAppError(errors.ValidationFailure, "account is required")
	}

	valid, err := s.ledger.Intents().ListValidIntentsByAccount(ctx, account, domain.MethodEasypaisa,
		domain.IntentPending, s.settings.now().Add(-s.settings.TopupIntentTTL))
	if err != nil {
		return nil, err
	}
	switch len(valid) {
	case 0:
		return nil, nil
	case 1:
		return valid[0], nil
	default:
		return nil, errors.ErrMultipleIntents.WithDetails(account)
	}
}

// GetTransaction returns the ledger row stored under the caller's key.
func (s *PaymentService) GetTransaction(ctx context.Context, h domain.Headers) (*domain.Transaction, error) {
	if err := requireKey(h); err != nil {
		return nil, err
	}
	tx, err := s.ledger.Transactions().GetTransactionByIdempotencyKey(ctx, h.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, errors.ErrTransactionNotFound.WithDetails(h.IdempotencyKey)
	}
	return tx, nil
}

func hasMinorDenomination(m domain.Money) bool {
	return m.Amount%m.Currency.MinorUnits() != 0
}
