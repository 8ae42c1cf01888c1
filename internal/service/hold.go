package service

import (
	"context"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

// sadadBillNumberLength is the longest bill number the SADAD biller accepts.
const sadadBillNumberLength = 20

// Hold reserves funds for req under the caller's idempotency key.
func (s *PaymentService) Hold(ctx context.Context, h domain.Headers, req HoldRequest) (result *PaymentResult, err error) {
	defer observe("hold", &err)

	if err := requireKey(h); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	s.logger.Info("Processing hold",
		"idempotency_key", h.IdempotencyKey,
		"account", req.Account,
		"payment_method", req.PaymentMethod,
		"amount", req.Money.Amount,
		"currency", req.Money.Currency)

	switch req.PaymentMethod {
	case domain.MethodWallet:
		tx, err := s.holdWallet(ctx, h, req)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Transaction: tx}, nil
	case domain.MethodCash:
		tx, err := s.holdCash(ctx, h, req)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Transaction: tx}, nil
	case domain.MethodSadad:
		in, err := s.holdSadad(ctx, h, req)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Intent: in}, nil
	case domain.MethodEasypaisa:
		return nil, errors.NewAppError(errors.ValidationFailure, "EASYPAISA payments are collected through top-up intents")
	default:
		return nil, errors.ErrIncorrectPaymentMethod
	}
}

// holdWallet walks absent -> PENDING -> COMPLETED, charging the wallet once.
func (s *PaymentService) holdWallet(ctx context.Context, h domain.Headers, req HoldRequest) (*domain.Transaction, error) {
	repo := s.ledger.Transactions()
	tx, err := repo.GetTransactionByIdempotencyKey(ctx, h.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	for {
		switch domain.StateOf(tx) {
		case domain.StateAbsent:
			balance, err := s.gateways.Wallet.Balance(ctx, h, req.Account, req.Money.Currency)
			if err != nil {
				return nil, err
			}
			if balance < req.Money.Amount {
				s.logger.Warn("Insufficient balance for hold", "account", req.Account, "balance", balance, "amount", req.Money.Amount)
				return nil, errors.ErrInsufficientFunds
			}
			tx, err = s.createTransaction(ctx, repo, holdRow(h.IdempotencyKey, req))
			if err != nil {
				return nil, err
			}

		case domain.StatePending:
			if err := s.gateways.Wallet.Charge(ctx, h, domain.WalletMovement{
				Account:         tx.Account,
				Money:           domain.Money{Amount: tx.Amount, Currency: tx.Currency},
				TransactionType: req.TransactionType,
				Comments:        req.Comments,
			}); err != nil {
				return nil, err
			}
			tx, err = repo.SetTransactionState(ctx, tx.ID, domain.StateCompleted)
			if err != nil {
				return nil, err
			}
			s.push(ctx, tx.Account, domain.Money{Amount: tx.Amount, Currency: tx.Currency}, req.TransactionType)

		case domain.StateCompleted:
			return tx, nil

		default:
			return nil, unexpectedState(h.IdempotencyKey, tx.State)
		}
	}
}

// holdCash records externally collected funds. Nothing is called downstream.
// Callers route WALLET payments elsewhere.
func (s *PaymentService) holdCash(ctx context.Context, h domain.Headers, req HoldRequest) (*domain.Transaction, error) {
	repo := s.ledger.Transactions()
	tx, err := repo.GetTransactionByIdempotencyKey(ctx, h.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	for {
		switch domain.StateOf(tx) {
		case domain.StateAbsent:
			tx, err = s.createTransaction(ctx, repo, holdRow(h.IdempotencyKey, req))
		case domain.StatePending:
			tx, err = repo.SetTransactionState(ctx, tx.ID, domain.StateCompleted)
		case domain.StateCompleted:
			return tx, nil
		default:
			return nil, unexpectedState(h.IdempotencyKey, tx.State)
		}
		if err != nil {
			return nil, err
		}
	}
}

// holdSadad raises a bill at the SADAD biller and records the local intent.
// The intent completes later through the webhook or a status poll.
func (s *PaymentService) holdSadad(ctx context.Context, h domain.Headers, req HoldRequest) (*domain.Intent, error) {
	repo := s.ledger.Intents()
	in, err := repo.GetIntentByIdempotencyKey(ctx, h.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if in != nil {
		return in, nil
	}

	user, err := s.gateways.Users.FetchUser(ctx, h, req.Account)
	if err != nil {
		return nil, err
	}

	billNumber := sadadBillNumber(h.IdempotencyKey)
	issued := s.settings.now()
	ref, err := s.gateways.Sadad.CreateBill(ctx, domain.BillRequest{
		BillNumber: billNumber,
		Customer:   *user,
		Money:      req.Money,
		IssueDate:  issued,
		ExpiryDate: issued.Add(s.settings.SadadIntentExpiry),
	})
	if err != nil {
		return nil, err
	}

	in, err = s.createIntent(ctx, repo, &domain.Intent{
		IdempotencyKey: h.IdempotencyKey,
		Amount:         req.Money.Amount,
		Currency:       req.Money.Currency,
		PaymentMethod:  domain.MethodSadad,
		Account:        req.Account,
		State:          domain.IntentPending,
		BillNumber:     billNumber,
		ProviderRef:    ref,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("SADAD bill raised", "idempotency_key", h.IdempotencyKey, "bill_number", billNumber, "provider_ref", ref)
	return in, nil
}

func holdRow(key string, req HoldRequest) *domain.Transaction {
	return &domain.Transaction{
		IdempotencyKey: key,
		Action:         domain.ActionHold,
		Impact:         domain.ImpactIn,
		Amount:         req.Money.Amount,
		Currency:       req.Money.Currency,
		PaymentMethod:  req.PaymentMethod,
		Account:        req.Account,
		State:          domain.StatePending,
	}
}

func sadadBillNumber(key string) string {
	if len(key) > sadadBillNumberLength {
		return key[:sadadBillNumberLength]
	}
	return key
}
