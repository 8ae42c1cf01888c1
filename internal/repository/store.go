package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

// Store is the Postgres implementation of domain.Ledger.
type Store struct {
	executor SQLExecutor
	logger   *slog.Logger
}

var _ domain.Ledger = (*Store)(nil)

func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		executor: db,
		logger:   logger,
	}
}

func (s *Store) Transactions() domain.TransactionRepository {
	return NewTransactionRepository(s.executor, s.logger)
}

func (s *Store) Intents() domain.IntentRepository {
	return NewIntentRepository(s.executor, s.logger)
}

func (s *Store) PaymentDetails() domain.PaymentDetailRepository {
	return NewPaymentDetailRepository(s.executor, s.logger)
}

// WithTransaction runs fn against a store bound to one database transaction.
// Nested calls reuse the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(domain.Ledger) error) error {
	if _, ok := s.executor.(*sql.Tx); ok {
		return fn(s)
	}

	db, ok := s.executor.(DB)
	if !ok {
		return errors.ErrCannotBeginTransaction
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.InternalError, "failed to begin transaction", err)
	}

	txStore := &Store{
		executor: tx,
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.InternalError, "failed to commit transaction", err)
	}
	return nil
}
