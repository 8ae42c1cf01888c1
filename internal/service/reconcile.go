package service

import (
	"context"
	"encoding/json"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

// SadadApproved is the only webhook payment status that settles a bill.
const SadadApproved = "APPROVED"

// SadadNotification is the webhook the SADAD biller posts for a bill payment.
type SadadNotification struct {
	DistrictCode   string      `json:"districtCode"`
	SadadPaymentID string      `json:"sadadPaymentId" validate:"required"`
	SadadNumber    string      `json:"sadadNumber" validate:"required"`
	PaymentAmount  json.Number `json:"paymentAmount"`
	BranchCode     string      `json:"branchCode"`
	BankID         string      `json:"bankId"`
	AccessChannel  string      `json:"accessChannel"`
	PaymentMethod  string      `json:"paymentMethod"`
	BillNumber     string      `json:"billNumber"`
	BankPaymentID  string      `json:"bankPaymentId"`
	PaymentDate    string      `json:"paymentDate"`
	PaymentStatus  string      `json:"paymentStatus" validate:"required"`
}

type NotificationAck struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

var notificationDone = NotificationAck{Status: 200, Message: "Operation Done Successfully"}

// HandleSadadNotification settles the intent referenced by an approved
// webhook. Replays re-notify the owner without touching the ledger again.
func (s *PaymentService) HandleSadadNotification(ctx context.Context, n SadadNotification) (ack *NotificationAck, err error) {
	defer observe("sadad_notification", &err)

	s.logger.Info("SADAD notification received",
		"sadad_number", n.SadadNumber,
		"sadad_payment_id", n.SadadPaymentID,
		"payment_status", n.PaymentStatus)

	if n.PaymentStatus != SadadApproved {
		return &notificationDone, nil
	}

	in, err := s.ledger.Intents().GetIntentByProviderRef(ctx, n.SadadNumber)
	if err != nil {
		return nil, err
	}

	switch domain.IntentStateOf(in) {
	case domain.IntentAbsent, domain.IntentCancelled:
		return nil, errors.ErrIntentNotFound.WithDetails(n.SadadNumber)

	case domain.IntentPending:
		payload, err := json.Marshal(n)
		if err != nil {
			return nil, errors.Wrap(errors.InternalError, "failed to encode notification", err)
		}
		if _, err := s.completeSadadIntent(ctx, in, n.SadadPaymentID, payload); err != nil {
			return nil, err
		}

	case domain.IntentCompleted:
		s.logger.Info("Intent already completed, re-notifying owner", "idempotency_key", in.IdempotencyKey)

	default:
		return nil, unexpectedState(in.IdempotencyKey, in.State)
	}

	if err := s.gateways.Notifier.NotifyOwner(ctx, in.IdempotencyKey); err != nil {
		return nil, err
	}
	return &notificationDone, nil
}

// GetIntentStatus polls the biller for a pending intent and settles it when
// paid. Biller failures fall back to the stored intent.
func (s *PaymentService) GetIntentStatus(ctx context.Context, h domain.Headers) (*domain.Intent, error) {
	if err := requireKey(h); err != nil {
		return nil, err
	}

	in, err := s.ledger.Intents().GetIntentByIdempotencyKey(ctx, h.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, errors.ErrIntentNotFound.WithDetails(h.IdempotencyKey)
	}
	if in.State != domain.IntentPending || in.PaymentMethod != domain.MethodSadad {
		return in, nil
	}

	status, err := s.gateways.Sadad.FetchBill(ctx, in.BillNumber)
	if err != nil {
		s.logger.Warn("Failed to fetch bill status, returning stored intent", "bill_number", in.BillNumber, "error", err)
		return in, nil
	}
	if !status.Paid() {
		return in, nil
	}

	completed, err := s.completeSadadIntent(ctx, in, status.ProviderRef, status.Raw)
	if err != nil {
		return nil, err
	}
	return completed, nil
}

// completeSadadIntent marks the intent COMPLETED, records the incoming HOLD and
// stores the biller payload, all in one unit of work. A concurrent completion
// that got there first is treated as success.
func (s *PaymentService) completeSadadIntent(ctx context.Context, in *domain.Intent, providerTxnID string, payload json.RawMessage) (*domain.Intent, error) {
	var completed *domain.Intent
	err := s.ledger.WithTransaction(ctx, func(l domain.Ledger) error {
		var err error
		completed, err = l.Intents().SetIntentState(ctx, in.ID, domain.IntentCompleted)
		if err != nil {
			return err
		}

		tx := &domain.Transaction{
			IdempotencyKey: in.IdempotencyKey,
			Action:         domain.ActionHold,
			Impact:         domain.ImpactIn,
			Amount:         in.Amount,
			Currency:       in.Currency,
			PaymentMethod:  in.PaymentMethod,
			Account:        in.Account,
			State:          domain.StateCompleted,
		}
		if err := l.Transactions().CreateTransaction(ctx, tx); err != nil {
			return err
		}

		return l.PaymentDetails().CreatePaymentDetail(ctx, &domain.PaymentDetail{
			TransactionID:         tx.ID,
			Provider:              domain.MethodSadad,
			ProviderTransactionID: providerTxnID,
			Payload:               payload,
		})
	})
	if err != nil {
		if errors.Is(err, errors.DuplicateKey) || errors.Is(err, errors.AlreadyFinalized) {
			current, getErr := s.ledger.Intents().GetIntentByIdempotencyKey(ctx, in.IdempotencyKey)
			if getErr != nil {
				return nil, getErr
			}
			if current != nil && current.State == domain.IntentCompleted {
				return current, nil
			}
		}
		return nil, err
	}

	s.logger.Info("SADAD intent completed", "idempotency_key", in.IdempotencyKey, "provider_transaction_id", providerTxnID)
	return completed, nil
}
