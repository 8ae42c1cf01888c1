package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
	"payment-orchestrator/internal/repository"
)

type walletCall struct {
	Headers  domain.Headers
	Movement domain.WalletMovement
}

type fakeWallet struct {
	mu          sync.Mutex
	balance     int64
	balanceErr  error
	chargeErr   error
	rechargeErr error
	charges     []walletCall
	recharges   []walletCall
}

func (w *fakeWallet) Balance(ctx context.Context, h domain.Headers, account string, currency domain.Currency) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance, w.balanceErr
}

func (w *fakeWallet) Charge(ctx context.Context, h domain.Headers, m domain.WalletMovement) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.chargeErr != nil {
		return w.chargeErr
	}
	w.charges = append(w.charges, walletCall{h, m})
	return nil
}

func (w *fakeWallet) Recharge(ctx context.Context, h domain.Headers, m domain.WalletMovement) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rechargeErr != nil {
		return w.rechargeErr
	}
	w.recharges = append(w.recharges, walletCall{h, m})
	return nil
}

func (w *fakeWallet) chargeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.charges)
}

func (w *fakeWallet) rechargeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.recharges)
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func (u *fakeUsers) FetchUser(ctx context.Context, h domain.Headers, account string) (*domain.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[account]
	if !ok {
		return nil, errors.NewAppError(errors.ProviderRejected, "user not found")
	}
	return &user, nil
}

type fakeSadad struct {
	mu        sync.Mutex
	ref       string
	status    *domain.BillStatus
	fetchErr  error
	cancelErr error
	created   []domain.BillRequest
	cancelled []string
}

func (s *fakeSadad) CreateBill(ctx context.Context, req domain.BillRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, req)
	return s.ref, nil
}

func (s *fakeSadad) CancelBill(ctx context.Context, billNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, billNumber)
	return s.cancelErr
}

func (s *fakeSadad) FetchBill(ctx context.Context, billNumber string) (*domain.BillStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.fetchErr
}

type fakeLending struct {
	mu           sync.Mutex
	liability    *domain.Liability
	liabilityErr error
	settleOK     bool
	settleErr    error
	settlements  [][]domain.Repayment
}

func (l *fakeLending) RemainingLiability(ctx context.Context, h domain.Headers, orderID string) (*domain.Liability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.liabilityErr != nil {
		return nil, l.liabilityErr
	}
	return l.liability, nil
}

func (l *fakeLending) Settle(ctx context.Context, h domain.Headers, repayments []domain.Repayment) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.settleErr != nil {
		return false, l.settleErr
	}
	l.settlements = append(l.settlements, repayments)
	return l.settleOK, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	owners  []string
	pushes  []domain.PushMessage
	pushErr error
}

func (n *fakeNotifier) NotifyOwner(ctx context.Context, key string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.owners = append(n.owners, key)
	return nil
}

func (n *fakeNotifier) Push(ctx context.Context, msg domain.PushMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes = append(n.pushes, msg)
	return n.pushErr
}

// fixture wires a PaymentService over an in-memory ledger and fakes that
// share one adjustable clock.
type fixture struct {
	now      time.Time
	store    *repository.MemoryStore
	wallet   *fakeWallet
	users    *fakeUsers
	sadad    *fakeSadad
	lending  *fakeLending
	notifier *fakeNotifier
	payments *PaymentService
}

func newFixture() *fixture {
	f := &fixture{
		now:      time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
		wallet:   &fakeWallet{balance: 10000},
		users:    &fakeUsers{users: map[string]domain.User{"10001": {ID: "10001", Name: "Corner Store"}, "10002": {ID: "10002", Name: "Pharmacy"}}},
		sadad:    &fakeSadad{ref: "900100200"},
		lending:  &fakeLending{settleOK: true},
		notifier: &fakeNotifier{},
	}
	clock := func() time.Time { return f.now }
	f.store = repository.NewMemoryStore(repository.WithClock(clock))
	f.payments = NewPaymentService(f.store, Gateways{
		Wallet:   f.wallet,
		Users:    f.users,
		Sadad:    f.sadad,
		Lending:  f.lending,
		Notifier: f.notifier,
	}, Settings{
		SadadIntentExpiry: 48 * time.Hour,
		TopupIntentTTL:    48 * time.Hour,
		Now:               clock,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func headers(key string) domain.Headers {
	return domain.Headers{Authorization: "Bearer token", IdempotencyKey: key, Language: "en"}
}

func pkr(amount int64) domain.Money {
	return domain.Money{Amount: amount, Currency: domain.CurrencyPKR}
}
