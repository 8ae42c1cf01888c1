package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/easypaisa"
	"payment-orchestrator/internal/errors"
)

const noLiabilityMessage = "no liability exists against this consumer number"

type EasypaisaCredentials struct {
	Username     string
	Password     string
	BankMnemonic string
}

// EasypaisaService answers the Easypaisa biller's inquiry and payment calls.
// Consumer numbers prefixed with WT top up a wallet, numeric ones repay a loan.
type EasypaisaService struct {
	payments *PaymentService
	creds    EasypaisaCredentials
	validate *validator.Validate
}

func NewEasypaisaService(payments *PaymentService, creds EasypaisaCredentials) *EasypaisaService {
	return &EasypaisaService{
		payments: payments,
		creds:    creds,
		validate: validator.New(),
	}
}

// BillInquiry reports the bill behind a consumer number. Failures are reduced
// to the few codes the biller understands.
func (s *EasypaisaService) BillInquiry(ctx context.Context, req easypaisa.InquiryRequest) (resp *easypaisa.InquiryResponse, err error) {
	defer observe("easypaisa_inquiry", &err)

	resp, err = s.inquire(ctx, req)
	if err != nil {
		return nil, s.collapse("inquiry", req.ConsumerNumber, err,
			errors.NotFound, errors.IntentExpired, errors.InvalidCredentials)
	}
	return resp, nil
}

// BillPayment confirms a payment the biller has collected.
func (s *EasypaisaService) BillPayment(ctx context.Context, req easypaisa.ConfirmationRequest) (resp *easypaisa.PaymentResponse, err error) {
	defer observe("easypaisa_payment", &err)

	resp, err = s.confirm(ctx, req)
	if err != nil {
		return nil, s.collapse("payment", req.ConsumerNumber, err,
			errors.NotFound, errors.DuplicateRequest, errors.InvalidCredentials)
	}
	return resp, nil
}

func (s *EasypaisaService) inquire(ctx context.Context, req easypaisa.InquiryRequest) (*easypaisa.InquiryResponse, error) {
	if err := s.authenticate(req.Username, req.Password, req.BankMnemonic); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Wrap(errors.ValidationFailure, "invalid inquiry request", err)
	}

	switch {
	case easypaisa.IsWalletTopup(req.ConsumerNumber):
		return s.walletInquiry(ctx, req.ConsumerNumber)
	case easypaisa.IsNumeric(req.ConsumerNumber):
		return s.loanInquiry(ctx, req.ConsumerNumber)
	default:
		return nil, errors.ErrIntentNotFound.WithDetails(req.ConsumerNumber)
	}
}

func (s *EasypaisaService) confirm(ctx context.Context, req easypaisa.ConfirmationRequest) (*easypaisa.PaymentResponse, error) {
	if err := s.authenticate(req.Username, req.Password, req.BankMnemonic); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Wrap(errors.ValidationFailure, "invalid payment request", err)
	}
	amount, err := easypaisa.ParseAmount(req.TransactionAmount)
	if err != nil {
		return nil, err
	}

	s.payments.logger.Info("Easypaisa payment received",
		"consumer_number", req.ConsumerNumber,
		"tran_auth_id", req.TransactionAuthID,
		"amount", amount)

	switch {
	case easypaisa.IsWalletTopup(req.ConsumerNumber):
		return s.walletPayment(ctx, req, amount)
	case easypaisa.IsNumeric(req.ConsumerNumber):
		return s.loanPayment(ctx, req, amount)
	default:
		return nil, errors.ErrIntentNotFound.WithDetails(req.ConsumerNumber)
	}
}

func (s *EasypaisaService) walletInquiry(ctx context.Context, consumerNumber string) (*easypaisa.InquiryResponse, error) {
	account := easypaisa.AccountFromConsumerNumber(consumerNumber)
	user, err := s.fetchUser(ctx, account)
	if err != nil {
		return nil, err
	}

	in, err := s.payments.ledger.Intents().GetLatestIntentByAccount(ctx, account, domain.MethodEasypaisa)
	if err != nil {
		return nil, err
	}
	ttl := s.payments.settings.TopupIntentTTL

	switch domain.IntentStateOf(in) {
	case domain.IntentAbsent:
		return nil, errors.ErrIntentNotFound.WithDetails(consumerNumber)

	case domain.IntentPending:
		if !s.payments.settings.now().Before(in.ExpiresAt(ttl)) {
			return nil, errors.ErrIntentExpired.WithDetails(in.IdempotencyKey)
		}
		return easypaisa.InquiryResponseFor(easypaisa.Bill{
			Consumer: user.Name,
			Amount:   in.Amount,
			Status:   easypaisa.StatusUnpaid,
			IssuedAt: in.CreatedAt,
			TTL:      ttl,
		}), nil

	case domain.IntentCompleted:
		bill, err := s.paidBill(ctx, in, user.Name)
		if err != nil {
			return nil, err
		}
		return easypaisa.InquiryResponseFor(*bill), nil

	default:
		return nil, errors.ErrBadTransaction.WithDetails(in.IdempotencyKey)
	}
}

func (s *EasypaisaService) loanInquiry(ctx context.Context, orderID string) (*easypaisa.InquiryResponse, error) {
	completed, err := s.payments.ledger.Intents().ListIntentsByBillNumber(ctx, orderID, domain.IntentCompleted)
	if err != nil {
		return nil, err
	}
	if len(completed) > 0 {
		in := completed[0]
		user, err := s.fetchUser(ctx, in.Account)
		if err != nil {
			return nil, err
		}
		bill, err := s.paidBill(ctx, in, user.Name)
		if err != nil {
			return nil, err
		}
		return easypaisa.InquiryResponseFor(*bill), nil
	}

	liability, err := s.payments.gateways.Lending.RemainingLiability(ctx, domain.Headers{}, orderID)
	if err != nil {
		if appErr, ok := errors.As(err); ok && appErr.Code == errors.ProviderRejected {
			return nil, errors.NewAppError(errors.NotFound, appErr.Message)
		}
		return nil, err
	}
	if liability.Currency != domain.CurrencyPKR || liability.Amount <= 0 {
		return nil, errors.NewAppError(errors.NotFound, noLiabilityMessage)
	}

	user, err := s.fetchUser(ctx, liability.Account)
	if err != nil {
		return nil, err
	}
	return easypaisa.InquiryResponseFor(easypaisa.Bill{
		Consumer: user.Name,
		Amount:   liability.Amount,
		Status:   easypaisa.StatusUnpaid,
		IssuedAt: s.payments.settings.now(),
		TTL:      s.payments.settings.TopupIntentTTL,
	}), nil
}

// paidBill rebuilds a settled bill from its ledger row and payment detail.
func (s *EasypaisaService) paidBill(ctx context.Context, in *domain.Intent, consumer string) (*easypaisa.Bill, error) {
	tx, err := s.payments.ledger.Transactions().GetTransactionByIdempotencyKey(ctx, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, errors.ErrTransactionNotFound.WithDetails(in.IdempotencyKey)
	}
	detail, err := s.payments.ledger.PaymentDetails().GetPaymentDetailByTransactionKey(ctx, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, errors.NewAppErrorf(errors.InternalError, "payment detail missing for %s", in.IdempotencyKey)
	}

	return &easypaisa.Bill{
		Consumer:          consumer,
		Amount:            in.Amount,
		Status:            easypaisa.StatusPaid,
		IssuedAt:          in.CreatedAt,
		TTL:               s.payments.settings.TopupIntentTTL,
		DatePaid:          detail.TransactionDate,
		AmountPaid:        tx.Amount,
		TransactionAuthID: detail.ProviderTransactionID,
		Reserved:          tx.ID.String(),
	}, nil
}

func (s *EasypaisaService) walletPayment(ctx context.Context, req easypaisa.ConfirmationRequest, amount int64) (*easypaisa.PaymentResponse, error) {
	account := easypaisa.AccountFromConsumerNumber(req.ConsumerNumber)
	if err := s.rejectDuplicate(ctx, account, req); err != nil {
		return nil, err
	}

	pending, err := s.payments.ledger.Intents().ListIntentsByBillNumber(ctx, req.ConsumerNumber, domain.IntentPending)
	if err != nil {
		return nil, err
	}
	switch len(pending) {
	case 0:
		return nil, errors.ErrIntentNotFound.WithDetails(req.ConsumerNumber)
	case 1:
	default:
		return nil, errors.ErrMultipleIntents.WithDetails(req.ConsumerNumber)
	}
	in := pending[0]

	paid := domain.Money{Amount: amount, Currency: domain.CurrencyPKR}
	if hasMinorDenomination(paid) || hasMinorDenomination(domain.Money{Amount: in.Amount, Currency: in.Currency}) {
		return nil, errors.ErrMinorDenomination
	}
	if amount != in.Amount {
		return nil, errors.NewAppErrorf(errors.BadTransaction, "paid amount %d does not match intent amount %d", amount, in.Amount)
	}

	tx, err := s.pendingHold(ctx, in)
	if err != nil {
		return nil, err
	}

	if tx.State == domain.StatePending {
		if err := s.payments.gateways.Wallet.Recharge(ctx, domain.Headers{IdempotencyKey: in.IdempotencyKey}, domain.WalletMovement{
			Account:         in.Account,
			Money:           paid,
			TransactionType: domain.TypeEasypaisaSelfTopup,
			Comments:        "Easypaisa top-up " + req.TransactionAuthID,
		}); err != nil {
			return nil, err
		}
	}

	if err := s.complete(ctx, in, tx, req); err != nil {
		return nil, err
	}
	s.payments.push(ctx, in.Account, paid, domain.TypeEasypaisaSelfTopup)
	return easypaisa.PaymentSuccess(req.ConsumerNumber), nil
}

func (s *EasypaisaService) loanPayment(ctx context.Context, req easypaisa.ConfirmationRequest, amount int64) (*easypaisa.PaymentResponse, error) {
	orderID := req.ConsumerNumber
	liability, err := s.payments.gateways.Lending.RemainingLiability(ctx, domain.Headers{}, orderID)
	if err != nil {
		return nil, err
	}
	if liability.Currency != domain.CurrencyPKR || liability.Amount != amount {
		return nil, errors.NewAppErrorf(errors.BadTransaction, "paid amount %d does not match liability %d", amount, liability.Amount)
	}
	if err := s.rejectDuplicate(ctx, liability.Account, req); err != nil {
		return nil, err
	}

	in, err := s.loanIntent(ctx, orderID, liability)
	if err != nil {
		return nil, err
	}
	tx, err := s.pendingHold(ctx, in)
	if err != nil {
		return nil, err
	}

	if tx.State == domain.StatePending {
		settled, err := s.payments.gateways.Lending.Settle(ctx, domain.Headers{IdempotencyKey: in.IdempotencyKey}, []domain.Repayment{{
			Account:  liability.Account,
			Amount:   amount,
			Currency: domain.CurrencyPKR,
			OrderID:  orderID,
			Method:   domain.MethodEasypaisa,
		}})
		if err != nil {
			return nil, err
		}
		if !settled {
			return nil, errors.NewAppErrorf(errors.BadTransaction, "lending refused repayment of order %s", orderID)
		}
	}

	if err := s.complete(ctx, in, tx, req); err != nil {
		return nil, err
	}
	return easypaisa.PaymentSuccess(req.ConsumerNumber), nil
}

// loanIntent reuses the order's pending intent or opens one under a fresh key.
func (s *EasypaisaService) loanIntent(ctx context.Context, orderID string, liability *domain.Liability) (*domain.Intent, error) {
	repo := s.payments.ledger.Intents()
	in, err := pendingLoanIntent(ctx, repo, orderID)
	if err != nil || in != nil {
		return in, err
	}

	in, err = s.payments.createIntent(ctx, repo, &domain.Intent{
		IdempotencyKey: uuid.NewString(),
		Amount:         liability.Amount,
		Currency:       domain.CurrencyPKR,
		PaymentMethod:  domain.MethodEasypaisa,
		Account:        liability.Account,
		State:          domain.IntentPending,
		BillNumber:     orderID,
	})
	if err == nil || !errors.Is(err, errors.DuplicateKey) {
		return in, err
	}

	// A concurrent confirmation opened the order's intent first.
	s.payments.logger.Info("Loan intent created concurrently, resuming on it", "order_id", orderID)
	winner, getErr := pendingLoanIntent(ctx, repo, orderID)
	if getErr != nil {
		return nil, getErr
	}
	if winner == nil {
		return nil, err
	}
	return winner, nil
}

// pendingLoanIntent returns the order's pending intent, or nil when there is none.
func pendingLoanIntent(ctx context.Context, repo domain.IntentRepository, orderID string) (*domain.Intent, error) {
	pending, err := repo.ListIntentsByBillNumber(ctx, orderID, domain.IntentPending)
	if err != nil {
		return nil, err
	}
	switch len(pending) {
	case 0:
		return nil, nil
	case 1:
		return pending[0], nil
	default:
		return nil, errors.ErrMultipleIntents.WithDetails(orderID)
	}
}

// pendingHold finds or creates the incoming ledger row for an intent.
func (s *EasypaisaService) pendingHold(ctx context.Context, in *domain.Intent) (*domain.Transaction, error) {
	repo := s.payments.ledger.Transactions()
	tx, err := repo.GetTransactionByIdempotencyKey(ctx, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx, nil
	}
	return s.payments.createTransaction(ctx, repo, &domain.Transaction{
		IdempotencyKey: in.IdempotencyKey,
		Action:         domain.ActionHold,
		Impact:         domain.ImpactIn,
		Amount:         in.Amount,
		Currency:       in.Currency,
		PaymentMethod:  domain.MethodEasypaisa,
		Account:        in.Account,
		State:          domain.StatePending,
	})
}

// complete settles the intent and its ledger row and records the biller's
// transaction tuple in one unit of work. Losing a race against an identical
// confirmation reports a duplicate.
func (s *EasypaisaService) complete(ctx context.Context, in *domain.Intent, tx *domain.Transaction, req easypaisa.ConfirmationRequest) error {
	req.Password = ""
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(errors.InternalError, "failed to encode confirmation", err)
	}

	err = s.payments.ledger.WithTransaction(ctx, func(l domain.Ledger) error {
		if _, err := l.Intents().SetIntentState(ctx, in.ID, domain.IntentCompleted); err != nil {
			return err
		}
		if _, err := l.Transactions().UpdateTransaction(ctx, tx.ID, domain.StateCompleted, domain.ActionCharge, domain.ImpactOut); err != nil {
			return err
		}
		return l.PaymentDetails().CreatePaymentDetail(ctx, &domain.PaymentDetail{
			TransactionID:         tx.ID,
			Provider:              domain.MethodEasypaisa,
			ProviderTransactionID: req.TransactionAuthID,
			TransactionDate:       req.TransactionDate,
			TransactionTime:       req.TransactionTime,
			Reference:             req.Reserved,
			Payload:               payload,
		})
	})
	if err != nil {
		if errors.Is(err, errors.DuplicateKey) || errors.Is(err, errors.AlreadyFinalized) {
			return errors.ErrDuplicateRequest.WithDetails(in.IdempotencyKey)
		}
		return err
	}

	s.payments.logger.Info("Easypaisa payment settled",
		"idempotency_key", in.IdempotencyKey,
		"consumer_number", req.ConsumerNumber,
		"tran_auth_id", req.TransactionAuthID)
	return nil
}

func (s *EasypaisaService) rejectDuplicate(ctx context.Context, account string, req easypaisa.ConfirmationRequest) error {
	existing, err := s.payments.ledger.PaymentDetails().FindPaymentDetail(ctx, account,
		req.TransactionAuthID, req.TransactionDate, req.TransactionTime)
	if err != nil {
		return err
	}
	if existing != nil {
		s.payments.logger.Warn("Duplicate Easypaisa payment", "account", account, "tran_auth_id", req.TransactionAuthID)
		return errors.ErrDuplicateRequest.WithDetails(req.TransactionAuthID)
	}
	return nil
}

func (s *EasypaisaService) fetchUser(ctx context.Context, account string) (*domain.User, error) {
	user, err := s.payments.gateways.Users.FetchUser(ctx, domain.Headers{}, account)
	if err != nil {
		if errors.Is(err, errors.ProviderRejected) || errors.Is(err, errors.NotFound) {
			return nil, errors.ErrIntentNotFound.WithDetails(account)
		}
		return nil, err
	}
	return user, nil
}

func (s *EasypaisaService) authenticate(username, password, mnemonic string) error {
	if !equal(username, s.creds.Username) || !equal(password, s.creds.Password) ||
		(s.creds.BankMnemonic != "" && !equal(mnemonic, s.creds.BankMnemonic)) {
		return errors.ErrInvalidCredentials
	}
	return nil
}

// collapse keeps the allowed codes and turns everything else into a bad
// transaction.
func (s *EasypaisaService) collapse(flow, consumerNumber string, err error, allowed ...errors.ErrorCode) error {
	code := errors.CodeOf(err)
	for _, c := range allowed {
		if code == c {
			return err
		}
	}
	s.payments.logger.Error("Easypaisa request failed", "flow", flow, "consumer_number", consumerNumber, "error", err)
	return errors.Wrap(errors.BadTransaction, errors.ErrBadTransaction.Message, err)
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
