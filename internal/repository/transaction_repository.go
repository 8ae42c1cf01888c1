package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

const uniqueViolation = "23505"

const transactionColumns = `id, idempotency_key, action, impact, amount, currency, payment_method, account, state, version, created_at, updated_at`

type transactionRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewTransactionRepository(db SQLExecutor, logger *slog.Logger) domain.TransactionRepository {
	return &transactionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *transactionRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, idempotency_key, action, impact, amount, currency, payment_method, account, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + transactionColumns

	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.State == domain.StateAbsent {
		tx.State = domain.StatePending
	}

	row := r.db.QueryRowContext(ctx, query,
		tx.ID,
		tx.IdempotencyKey,
		tx.Action,
		tx.Impact,
		tx.Amount,
		tx.Currency,
		tx.PaymentMethod,
		tx.Account,
		tx.State,
	)

	if err := scanTransaction(row, tx); err != nil {
		if isUniqueViolation(err, "idx_transactions_idempotency_key") {
			r.logger.Warn("Duplicate idempotency key", "idempotency_key", tx.IdempotencyKey)
			return errors.ErrDuplicateKey.WithDetails(tx.IdempotencyKey)
		}
		r.logger.Error("Failed to create transaction",
			"idempotency_key", tx.IdempotencyKey,
			"action", tx.Action,
			"amount", tx.Amount,
			"error", err)
		return errors.Wrap(errors.InternalError, "failed to create transaction", err)
	}

	r.logger.Info("Transaction created", "transaction_id", tx.ID, "idempotency_key", tx.IdempotencyKey, "action", tx.Action)
	return nil
}

func (r *transactionRepository) GetTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *transactionRepository) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`
	return r.getOne(ctx, query, key)
}

// SetTransactionState only ever moves a row out of PENDING. Replaying the move
// against a COMPLETED row returns the row unchanged.
func (r *transactionRepository) SetTransactionState(ctx context.Context, id uuid.UUID, state domain.TransactionState) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET state = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND state = 'PENDING'
		RETURNING ` + transactionColumns

	return r.updateOne(ctx, query, id, state, id, state)
}

func (r *transactionRepository) UpdateTransaction(ctx context.Context, id uuid.UUID, state domain.TransactionState, action domain.Action, impact domain.Impact) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET state = $2, action = $3, impact = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND state = 'PENDING'
		RETURNING ` + transactionColumns

	return r.updateOne(ctx, query, id, state, id, state, action, impact)
}

func (r *transactionRepository) SetTransactionsState(ctx context.Context, ids []uuid.UUID, state domain.TransactionState) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE transactions
		SET state = $2, version = version + 1, updated_at = NOW()
		WHERE id = ANY($1::uuid[]) AND state = 'PENDING'`

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	result, err := r.db.ExecContext(ctx, query, pq.Array(strIDs), state)
	if err != nil {
		r.logger.Error("Failed to update transaction states", "count", len(ids), "error", err)
		return 0, errors.Wrap(errors.InternalError, "failed to update transactions", err)
	}

	return result.RowsAffected()
}

func (r *transactionRepository) updateOne(ctx context.Context, query string, id uuid.UUID, state domain.TransactionState, args ...interface{}) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := scanTransaction(r.db.QueryRowContext(ctx, query, args...), &tx)
	if err == nil {
		r.logger.Info("Transaction state updated", "transaction_id", id, "state", state)
		return &tx, nil
	}
	if err != sql.ErrNoRows {
		r.logger.Error("Failed to update transaction", "transaction_id", id, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to update transaction", err)
	}

	// Nothing moved: the row is either missing or already terminal.
	current, getErr := r.GetTransactionByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current == nil {
		return nil, errors.ErrTransactionNotFound.WithDetails(id.String())
	}
	if current.State != state {
		return nil, errors.NewAppErrorf(errors.AlreadyFinalized, "transaction is already %s", current.State)
	}
	return current, nil
}

func (r *transactionRepository) getOne(ctx context.Context, query string, arg interface{}) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := scanTransaction(r.db.QueryRowContext(ctx, query, arg), &tx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.Error("Failed to get transaction", "arg", arg, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to get transaction", err)
	}
	return &tx, nil
}

func scanTransaction(row rowScanner, tx *domain.Transaction) error {
	return row.Scan(
		&tx.ID,
		&tx.IdempotencyKey,
		&tx.Action,
		&tx.Impact,
		&tx.Amount,
		&tx.Currency,
		&tx.PaymentMethod,
		&tx.Account,
		&tx.State,
		&tx.Version,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
}

func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}
	return pqErr.Code == uniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
}
