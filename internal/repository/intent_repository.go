package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

const intentColumns = `id, idempotency_key, amount, currency, payment_method, account, state, bill_number, provider_ref, version, created_at, updated_at`

type intentRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewIntentRepository(db SQLExecutor, logger *slog.Logger) domain.IntentRepository {
	return &intentRepository{
		db:     db,
		logger: logger,
	}
}

func (r *intentRepository) CreateIntent(ctx context.Context, in *domain.Intent) error {
	query := `
		INSERT INTO intents
		(id, idempotency_key, amount, currency, payment_method, account, state, bill_number, provider_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + intentColumns

	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.State == domain.IntentAbsent {
		in.State = domain.IntentPending
	}

	row := r.db.QueryRowContext(ctx, query,
		in.ID,
		in.IdempotencyKey,
		in.Amount,
		in.Currency,
		in.PaymentMethod,
		in.Account,
		in.State,
		in.BillNumber,
		in.ProviderRef,
	)

	if err := scanIntent(row, in); err != nil {
		if isUniqueViolation(err, "idx_intents_idempotency_key") {
			r.logger.Warn("Duplicate intent idempotency key", "idempotency_key", in.IdempotencyKey)
			return errors.ErrDuplicateKey.WithDetails(in.IdempotencyKey)
		}
		if isUniqueViolation(err, "idx_intents_pending_bill") {
			r.logger.Warn("Bill number already has a pending intent", "bill_number", in.BillNumber)
			return errors.ErrDuplicateKey.WithDetails(in.BillNumber)
		}
		r.logger.Error("Failed to create intent", "idempotency_key", in.IdempotencyKey, "error", err)
		return errors.Wrap(errors.InternalError, "failed to create intent", err)
	}

	r.logger.Info("Intent created", "intent_id", in.ID, "idempotency_key", in.IdempotencyKey, "bill_number", in.BillNumber)
	return nil
}

func (r *intentRepository) GetIntentByIdempotencyKey(ctx context.Context, key string) (*domain.Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM intents WHERE idempotency_key = $1`
	return r.getOne(ctx, query, key)
}

func (r *intentRepository) GetIntentByProviderRef(ctx context.Context, ref string) (*domain.Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM intents WHERE provider_ref = $1 ORDER BY created_at DESC LIMIT 1`
	return r.getOne(ctx, query, ref)
}

func (r *intentRepository) SetIntentState(ctx context.Context, id uuid.UUID, state domain.IntentState) (*domain.Intent, error) {
	query := `
		UPDATE intents
		SET state = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND state = 'PENDING'
		RETURNING ` + intentColumns

	var in domain.Intent
	err := scanIntent(r.db.QueryRowContext(ctx, query, id, state), &in)
	if err == nil {
		r.logger.Info("Intent state updated", "intent_id", id, "state", state)
		return &in, nil
	}
	if err != sql.ErrNoRows {
		r.logger.Error("Failed to update intent", "intent_id", id, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to update intent", err)
	}

	current, getErr := r.getOne(ctx, `SELECT `+intentColumns+` FROM intents WHERE id = $1`, id)
	if getErr != nil {
		return nil, getErr
	}
	if current == nil {
		return nil, errors.ErrIntentNotFound.WithDetails(id.String())
	}
	if current.State != state {
		return nil, errors.NewAppErrorf(errors.AlreadyFinalized, "intent is already %s", current.State)
	}
	return current, nil
}

func (r *intentRepository) CancelIntent(ctx context.Context, key string) (*domain.Intent, error) {
	query := `
		UPDATE intents
		SET state = 'CANCELLED', version = version + 1, updated_at = NOW()
		WHERE idempotency_key = $1 AND state = 'PENDING'`

	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		r.logger.Error("Failed to cancel intent", "idempotency_key", key, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to cancel intent", err)
	}
	return r.GetIntentByIdempotencyKey(ctx, key)
}

func (r *intentRepository) ListIntentsByBillNumber(ctx context.Context, billNumber string, state domain.IntentState) ([]*domain.Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM intents WHERE bill_number = $1 AND state = $2 ORDER BY created_at DESC`
	return r.list(ctx, query, billNumber, state)
}

func (r *intentRepository) GetLatestIntentByAccount(ctx context.Context, account string, method domain.PaymentMethod) (*domain.Intent, error) {
	query := `
		SELECT ` + intentColumns + ` FROM intents
		WHERE account = $1 AND payment_method = $2
		ORDER BY created_at DESC LIMIT 1`
	return r.getOne(ctx, query, account, method)
}

func (r *intentRepository) ListValidIntentsByAccount(ctx context.Context, account string, method domain.PaymentMethod, state domain.IntentState, createdAfter time.Time) ([]*domain.Intent, error) {
	query := `
		SELECT ` + intentColumns + ` FROM intents
		WHERE account = $1 AND payment_method = $2 AND state = $3 AND created_at > $4
		ORDER BY created_at DESC`
	return r.list(ctx, query, account, method, state, createdAfter)
}

func (r *intentRepository) CancelPendingIntentsByAccount(ctx context.Context, account string, method domain.PaymentMethod) (int64, error) {
	query := `
		UPDATE intents
		SET state = 'CANCELLED', version = version + 1, updated_at = NOW()
		WHERE account = $1 AND payment_method = $2 AND state = 'PENDING'`

	result, err := r.db.ExecContext(ctx, query, account, method)
	if err != nil {
		r.logger.Error("Failed to cancel pending intents", "account", account, "error", err)
		return 0, errors.Wrap(errors.InternalError, "failed to cancel pending intents", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(errors.InternalError, "failed to cancel pending intents", err)
	}
	if n > 0 {
		r.logger.Info("Cancelled pending intents", "account", account, "count", n)
	}
	return n, nil
}

func (r *intentRepository) getOne(ctx context.Context, query string, args ...interface{}) (*domain.Intent, error) {
	var in domain.Intent
	if err := scanIntent(r.db.QueryRowContext(ctx, query, args...), &in); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.Error("Failed to get intent", "args", args, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to get intent", err)
	}
	return &in, nil
}

func (r *intentRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Intent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list intents", "args", args, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to list intents", err)
	}
	defer rows.Close()

	var intents []*domain.Intent
	for rows.Next() {
		var in domain.Intent
		if err := scanIntent(rows, &in); err != nil {
			return nil, errors.Wrap(errors.InternalError, "failed to scan intent", err)
		}
		intents = append(intents, &in)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to list intents", err)
	}
	return intents, nil
}

func scanIntent(row rowScanner, in *domain.Intent) error {
	return row.Scan(
		&in.ID,
		&in.IdempotencyKey,
		&in.Amount,
		&in.Currency,
		&in.PaymentMethod,
		&in.Account,
		&in.State,
		&in.BillNumber,
		&in.ProviderRef,
		&in.Version,
		&in.CreatedAt,
		&in.UpdatedAt,
	)
}
