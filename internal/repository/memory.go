package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/easypaisa"
	"payment-orchestrator/internal/errors"
)

// MemoryStore is an in-process domain.Ledger. It enforces the same key
// uniqueness and terminal-state rules as the Postgres store and is meant for
// local runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	txMu sync.Mutex
	now  func() time.Time

	transactions map[uuid.UUID]domain.Transaction
	txByKey      map[string]uuid.UUID
	intents      map[uuid.UUID]domain.Intent
	intentByKey  map[string]uuid.UUID
	details      map[uuid.UUID]domain.PaymentDetail
}

var _ domain.Ledger = (*MemoryStore)(nil)

type MemoryOption func(*MemoryStore)

// WithClock sets the clock used to stamp created_at and updated_at.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:          time.Now,
		transactions: make(map[uuid.UUID]domain.Transaction),
		txByKey:      make(map[string]uuid.UUID),
		intents:      make(map[uuid.UUID]domain.Intent),
		intentByKey:  make(map[string]uuid.UUID),
		details:      make(map[uuid.UUID]domain.PaymentDetail),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Transactions() domain.TransactionRepository { return memTransactions{s} }

func (s *MemoryStore) Intents() domain.IntentRepository { return memIntents{s} }

func (s *MemoryStore) PaymentDetails() domain.PaymentDetailRepository { return memDetails{s} }

// WithTransaction serialises units of work and restores a snapshot when fn fails.
func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(domain.Ledger) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(memoryTx{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// TransactionCount reports the number of ledger rows.
func (s *MemoryStore) TransactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transactions)
}

type memoryTx struct{ *MemoryStore }

func (t memoryTx) WithTransaction(ctx context.Context, fn func(domain.Ledger) error) error {
	return fn(t)
}

type memorySnapshot struct {
	transactions map[uuid.UUID]domain.Transaction
	txByKey      map[string]uuid.UUID
	intents      map[uuid.UUID]domain.Intent
	intentByKey  map[string]uuid.UUID
	details      map[uuid.UUID]domain.PaymentDetail
}

func (s *MemoryStore) snapshot() memorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memorySnapshot{
		transactions: copyMap(s.transactions),
		txByKey:      copyMap(s.txByKey),
		intents:      copyMap(s.intents),
		intentByKey:  copyMap(s.intentByKey),
		details:      copyMap(s.details),
	}
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = snap.transactions
	s.txByKey = snap.txByKey
	s.intents = snap.intents
	s.intentByKey = snap.intentByKey
	s.details = snap.details
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type memTransactions struct{ s *MemoryStore }

func (r memTransactions) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.txByKey[tx.IdempotencyKey]; ok {
		return errors.ErrDuplicateKey.WithDetails(tx.IdempotencyKey)
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.State == domain.StateAbsent {
		tx.State = domain.StatePending
	}
	now := r.s.now()
	tx.Version = 1
	tx.CreatedAt = now
	tx.UpdatedAt = now

	r.s.transactions[tx.ID] = *tx
	r.s.txByKey[tx.IdempotencyKey] = tx.ID
	return nil
}

func (r memTransactions) GetTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, ok := r.s.transactions[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (r memTransactions) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.txByKey[key]
	if !ok {
		return nil, nil
	}
	tx := r.s.transactions[id]
	return &tx, nil
}

func (r memTransactions) SetTransactionState(ctx context.Context, id uuid.UUID, state domain.TransactionState) (*domain.Transaction, error) {
	return r.update(id, state, func(tx *domain.Transaction) {})
}

func (r memTransactions) UpdateTransaction(ctx context.Context, id uuid.UUID, state domain.TransactionState, action domain.Action, impact domain.Impact) (*domain.Transaction, error) {
	return r.update(id, state, func(tx *domain.Transaction) {
		tx.Action = action
		tx.Impact = impact
	})
}

func (r memTransactions) SetTransactionsState(ctx context.Context, ids []uuid.UUID, state domain.TransactionState) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, id := range ids {
		tx, ok := r.s.transactions[id]
		if !ok || tx.State != domain.StatePending {
			continue
		}
		tx.State = state
		tx.Version++
		tx.UpdatedAt = r.s.now()
		r.s.transactions[id] = tx
		n++
	}
	return n, nil
}

func (r memTransactions) update(id uuid.UUID, state domain.TransactionState, mutate func(*domain.Transaction)) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, ok := r.s.transactions[id]
	if !ok {
		return nil, errors.ErrTransactionNotFound.WithDetails(id.String())
	}
	if tx.State != domain.StatePending {
		if tx.State != state {
			return nil, errors.NewAppErrorf(errors.AlreadyFinalized, "transaction is already %s", tx.State)
		}
		return &tx, nil
	}

	tx.State = state
	mutate(&tx)
	tx.Version++
	tx.UpdatedAt = r.s.now()
	r.s.transactions[id] = tx
	return &tx, nil
}

type memIntents struct{ s *MemoryStore }

func (r memIntents) CreateIntent(ctx context.Context, in *domain.Intent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.intentByKey[in.IdempotencyKey]; ok {
		return errors.ErrDuplicateKey.WithDetails(in.IdempotencyKey)
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.State == domain.IntentAbsent {
		in.State = domain.IntentPending
	}
	// Mirrors idx_intents_pending_bill.
	if in.State == domain.IntentPending && in.PaymentMethod == domain.MethodEasypaisa && !easypaisa.IsWalletTopup(in.BillNumber) {
		for _, other := range r.s.intents {
			if other.State == domain.IntentPending && other.PaymentMethod == domain.MethodEasypaisa && other.BillNumber == in.BillNumber {
				return errors.ErrDuplicateKey.WithDetails(in.BillNumber)
			}
		}
	}
	now := r.s.now()
	in.Version = 1
	in.CreatedAt = now
	in.UpdatedAt = now

	r.s.intents[in.ID] = *in
	r.s.intentByKey[in.IdempotencyKey] = in.ID
	return nil
}

func (r memIntents) GetIntentByIdempotencyKey(ctx context.Context, key string) (*domain.Intent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.intentByKey[key]
	if !ok {
		return nil, nil
	}
	in := r.s.intents[id]
	return &in, nil
}

func (r memIntents) GetIntentByProviderRef(ctx context.Context, ref string) (*domain.Intent, error) {
	matches := r.filter(func(in domain.Intent) bool { return ref != "" && in.ProviderRef == ref })
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

func (r memIntents) SetIntentState(ctx context.Context, id uuid.UUID, state domain.IntentState) (*domain.Intent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	in, ok := r.s.intents[id]
	if !ok {
		return nil, errors.ErrIntentNotFound.WithDetails(id.String())
	}
	if in.State != domain.IntentPending {
		if in.State != state {
			return nil, errors.NewAppErrorf(errors.AlreadyFinalized, "intent is already %s", in.State)
		}
		return &in, nil
	}

	in.State = state
	in.Version++
	in.UpdatedAt = r.s.now()
	r.s.intents[id] = in
	return &in, nil
}

func (r memIntents) CancelIntent(ctx context.Context, key string) (*domain.Intent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.intentByKey[key]
	if !ok {
		return nil, nil
	}
	in := r.s.intents[id]
	if in.State == domain.IntentPending {
		in.State = domain.IntentCancelled
		in.Version++
		in.UpdatedAt = r.s.now()
		r.s.intents[id] = in
	}
	return &in, nil
}

func (r memIntents) ListIntentsByBillNumber(ctx context.Context, billNumber string, state domain.IntentState) ([]*domain.Intent, error) {
	return r.filter(func(in domain.Intent) bool {
		return in.BillNumber == billNumber && in.State == state
	}), nil
}

func (r memIntents) GetLatestIntentByAccount(ctx context.Context, account string, method domain.PaymentMethod) (*domain.Intent, error) {
	matches := r.filter(func(in domain.Intent) bool {
		return in.Account == account && in.PaymentMethod == method
	})
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

func (r memIntents) ListValidIntentsByAccount(ctx context.Context, account string, method domain.PaymentMethod, state domain.IntentState, createdAfter time.Time) ([]*domain.Intent, error) {
	return r.filter(func(in domain.Intent) bool {
		return in.Account == account && in.PaymentMethod == method && in.State == state && in.CreatedAt.After(createdAfter)
	}), nil
}

func (r memIntents) CancelPendingIntentsByAccount(ctx context.Context, account string, method domain.PaymentMethod) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, in := range r.s.intents {
		if in.Account != account || in.PaymentMethod != method || in.State != domain.IntentPending {
			continue
		}
		in.State = domain.IntentCancelled
		in.Version++
		in.UpdatedAt = r.s.now()
		r.s.intents[id] = in
		n++
	}
	return n, nil
}

// filter returns copies of matching intents, newest first.
func (r memIntents) filter(match func(domain.Intent) bool) []*domain.Intent {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Intent
	for _, in := range r.s.intents {
		if match(in) {
			in := in
			out = append(out, &in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

type memDetails struct{ s *MemoryStore }

func (r memDetails) CreatePaymentDetail(ctx context.Context, d *domain.PaymentDetail) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.transactions[d.TransactionID]; !ok {
		return errors.ErrTransactionNotFound.WithDetails(d.TransactionID.String())
	}
	for _, existing := range r.s.details {
		if existing.TransactionID == d.TransactionID {
			return errors.ErrDuplicateKey.WithDetails("payment detail for transaction " + d.TransactionID.String())
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = r.s.now()
	r.s.details[d.ID] = *d
	return nil
}

func (r memDetails) FindPaymentDetail(ctx context.Context, account, providerTransactionID, date, txTime string) (*domain.PaymentDetail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, d := range r.s.details {
		tx := r.s.transactions[d.TransactionID]
		if tx.Account == account && d.ProviderTransactionID == providerTransactionID &&
			d.TransactionDate == date && d.TransactionTime == txTime {
			return &d, nil
		}
	}
	return nil, nil
}

func (r memDetails) GetPaymentDetailByTransactionKey(ctx context.Context, key string) (*domain.PaymentDetail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.txByKey[key]
	if !ok {
		return nil, nil
	}
	for _, d := range r.s.details {
		if d.TransactionID == id {
			return &d, nil
		}
	}
	return nil, nil
}
