package service

import (
	"context"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

func (s *PaymentService) Release(ctx context.Context, h domain.Headers, req OutRequest) (*domain.Transaction, error) {
	return s.OutProcedure(ctx, h, req, domain.ActionRelease)
}

func (s *PaymentService) Charge(ctx context.Context, h domain.Headers, req OutRequest) (*domain.Transaction, error) {
	return s.OutProcedure(ctx, h, req, domain.ActionCharge)
}

// OutProcedure settles a completed hold: RELEASE credits the funds back to the
// wallet, CHARGE recognises them as spent.
func (s *PaymentService) OutProcedure(ctx context.Context, h domain.Headers, req OutRequest, action domain.Action) (tx *domain.Transaction, err error) {
	defer observe("out_"+string(action), &err)

	if err := requireKey(h); err != nil {
		return nil, err
	}
	if !action.IsOut() {
		return nil, errors.NewAppErrorf(errors.ValidationFailure, "%s is not an out action", action)
	}

	repo := s.ledger.Transactions()
	hold, err := repo.GetTransactionByIdempotencyKey(ctx, h.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if domain.StateOf(hold) != domain.StateCompleted {
		return nil, errors.ErrHoldNotCompleted.WithDetails(h.IdempotencyKey)
	}

	rollback, err := repo.GetTransactionByIdempotencyKey(ctx, domain.RollbackKey(h.IdempotencyKey))
	if err != nil {
		return nil, err
	}
	if rollback != nil {
		return nil, errors.ErrRolledBack.WithDetails(h.IdempotencyKey)
	}

	outKey := domain.OutKey(h.IdempotencyKey)
	out, err := repo.GetTransactionByIdempotencyKey(ctx, outKey)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Processing out procedure", "idempotency_key", h.IdempotencyKey, "action", action, "state", domain.StateOf(out))

	for {
		switch domain.StateOf(out) {
		case domain.StateAbsent:
			out, err = s.createTransaction(ctx, repo, &domain.Transaction{
				IdempotencyKey: outKey,
				Action:         action,
				Impact:         domain.ImpactOut,
				Amount:         hold.Amount,
				Currency:       hold.Currency,
				PaymentMethod:  hold.PaymentMethod,
				Account:        hold.Account,
				State:          domain.StatePending,
			})

		case domain.StatePending:
			// The stored action wins over the requested one on resume.
			if out.Action == domain.ActionRelease {
				money := domain.Money{Amount: hold.Amount, Currency: hold.Currency}
				if err := s.gateways.Wallet.Recharge(ctx, h.WithKey(outKey), domain.WalletMovement{
					Account:         hold.Account,
					Money:           money,
					TransactionType: req.TransactionType,
					Comments:        req.Comments,
				}); err != nil {
					return nil, err
				}
				s.push(ctx, hold.Account, money, req.TransactionType)
			}
			out, err = repo.SetTransactionState(ctx, out.ID, domain.StateCompleted)

		case domain.StateCompleted:
			return out, nil

		default:
			return nil, unexpectedState(outKey, out.State)
		}
		if err != nil {
			return nil, err
		}
	}
}

// Rollback reverses a completed out-leg. Funds go back to the wallet only when
// the hold was not paid in cash and the out-leg did not already release them.
func (s *PaymentService) Rollback(ctx context.Context, h domain.Headers, req RollbackRequest) (result *RollbackResult, err error) {
	defer observe("rollback", &err)

	if err := requireKey(h); err != nil {
		return nil, err
	}

	repo := s.ledger.Transactions()
	out, err := repo.GetTransactionByIdempotencyKey(ctx, domain.OutKey(h.IdempotencyKey))
	if err != nil {
		return nil, err
	}
	if domain.StateOf(out) != domain.StateCompleted {
		return nil, errors.ErrOutNotCompleted.WithDetails(h.IdempotencyKey)
	}

	rollbackKey := domain.RollbackKey(h.IdempotencyKey)
	rb, err := repo.GetTransactionByIdempotencyKey(ctx, rollbackKey)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Processing rollback", "idempotency_key", h.IdempotencyKey, "out_action", out.Action, "state", domain.StateOf(rb))

	for {
		switch domain.StateOf(rb) {
		case domain.StateAbsent:
			rb, err = s.createTransaction(ctx, repo, &domain.Transaction{
				IdempotencyKey: rollbackKey,
				Action:         domain.ActionRollback,
				Impact:         domain.ImpactOut,
				Amount:         out.Amount,
				Currency:       out.Currency,
				PaymentMethod:  out.PaymentMethod,
				Account:        out.Account,
				State:          domain.StatePending,
			})

		case domain.StatePending:
			if refundable(out) {
				money := domain.Money{Amount: out.Amount, Currency: out.Currency}
				if req.AdjustedMoney != nil && req.AdjustedMoney.Amount > 0 {
					money.Amount = req.AdjustedMoney.Amount
				}
				if err := s.gateways.Wallet.Recharge(ctx, h.WithKey(rollbackKey), domain.WalletMovement{
					Account:         out.Account,
					Money:           money,
					TransactionType: domain.TypeOrderRefund,
					Comments:        req.Comments,
				}); err != nil {
					return nil, err
				}
				s.push(ctx, out.Account, money, domain.TypeOrderRefund)
			}
			rb, err = repo.SetTransactionState(ctx, rb.ID, domain.StateCompleted)

		case domain.StateCompleted:
			return &RollbackResult{
				RollbackTransaction: rb,
				IsReleased:          out.Action == domain.ActionRelease,
			}, nil

		default:
			return nil, unexpectedState(rollbackKey, rb.State)
		}
		if err != nil {
			return nil, err
		}
	}
}

// refundable holds the business rule for compensating recharges on rollback.
func refundable(out *domain.Transaction) bool {
	return out.PaymentMethod != domain.MethodCash && out.Action != domain.ActionRelease
}

// TopUp credits externally collected funds to a wallet: a CASH-style hold
// followed by a RELEASE.
func (s *PaymentService) TopUp(ctx context.Context, h domain.Headers, req HoldRequest) (tx *domain.Transaction, err error) {
	defer observe("topup", &err)

	if err := requireKey(h); err != nil {
		return nil, err
	}
	if req.PaymentMethod == domain.MethodWallet {
		return nil, errors.ErrIncorrectPaymentMethod
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	if _, err := s.gateways.Users.FetchUser(ctx, h, req.Account); err != nil {
		return nil, err
	}

	if _, err := s.holdCash(ctx, h, req); err != nil {
		return nil, err
	}
	return s.OutProcedure(ctx, h, OutRequest{TransactionType: req.TransactionType, Comments: req.Comments}, domain.ActionRelease)
}

// Cancel refunds a local hold, or cancels a still-pending third-party intent.
func (s *PaymentService) Cancel(ctx context.Context, h domain.Headers, req OutRequest) (result *PaymentResult, err error) {
	defer observe("cancel", &err)

	if err := requireKey(h); err != nil {
		return nil, err
	}

	hold, err := s.ledger.Transactions().GetTransactionByIdempotencyKey(ctx, h.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if hold != nil {
		tx, err := s.OutProcedure(ctx, h, req, domain.ActionRelease)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Transaction: tx}, nil
	}

	in, err := s.cancelIntent(ctx, h.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Intent: in}, nil
}

func (s *PaymentService) cancelIntent(ctx context.Context, key string) (*domain.Intent, error) {
	repo := s.ledger.Intents()
	in, err := repo.GetIntentByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}

	switch domain.IntentStateOf(in) {
	case domain.IntentAbsent:
		return nil, errors.ErrIntentNotFound.WithDetails(key)

	case domain.IntentPending:
		if in.PaymentMethod == domain.MethodSadad {
			// The bill must be dead at the biller before the intent is, or a
			// later payment would find nothing to settle against.
			if err := s.gateways.Sadad.CancelBill(ctx, in.BillNumber); err != nil {
				s.logger.Warn("Failed to cancel bill at biller", "idempotency_key", key, "bill_number", in.BillNumber, "error", err)
				return nil, err
			}
		}
		cancelled, err := repo.CancelIntent(ctx, key)
		if err != nil {
			return nil, err
		}
		if cancelled.State == domain.IntentCompleted {
			return nil, errors.ErrPaymentSettled.WithDetails(key)
		}
		s.logger.Info("Intent cancelled", "idempotency_key", key)
		return cancelled, nil

	case domain.IntentCancelled:
		return in, nil

	case domain.IntentCompleted:
		return nil, errors.ErrPaymentSettled.WithDetails(key)

	default:
		return nil, unexpectedState(key, in.State)
	}
}
