package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

const paymentDetailColumns = `d.id, d.transaction_id, d.provider, d.provider_transaction_id, d.transaction_date, d.transaction_time, d.reference, d.payload, d.created_at`

type paymentDetailRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewPaymentDetailRepository(db SQLExecutor, logger *slog.Logger) domain.PaymentDetailRepository {
	return &paymentDetailRepository{
		db:     db,
		logger: logger,
	}
}

func (r *paymentDetailRepository) CreatePaymentDetail(ctx context.Context, d *domain.PaymentDetail) error {
	query := `
		INSERT INTO payment_details
		(id, transaction_id, provider, provider_transaction_id, transaction_date, transaction_time, reference, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	var payload interface{}
	if len(d.Payload) > 0 {
		payload = []byte(d.Payload)
	}

	err := r.db.QueryRowContext(ctx, query,
		d.ID,
		d.TransactionID,
		d.Provider,
		d.ProviderTransactionID,
		d.TransactionDate,
		d.TransactionTime,
		d.Reference,
		payload,
	).Scan(&d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return errors.ErrDuplicateKey.WithDetails("payment detail for transaction " + d.TransactionID.String())
		}
		r.logger.Error("Failed to create payment detail", "transaction_id", d.TransactionID, "error", err)
		return errors.Wrap(errors.InternalError, "failed to create payment detail", err)
	}

	r.logger.Info("Payment detail created", "transaction_id", d.TransactionID, "provider", d.Provider)
	return nil
}

func (r *paymentDetailRepository) FindPaymentDetail(ctx context.Context, account, providerTransactionID, date, txTime string) (*domain.PaymentDetail, error) {
	query := `
		SELECT ` + paymentDetailColumns + `
		FROM payment_details d
		JOIN transactions t ON t.id = d.transaction_id
		WHERE t.account = $1 AND d.provider_transaction_id = $2
		AND d.transaction_date = $3 AND d.transaction_time = $4
		LIMIT 1`
	return r.getOne(ctx, query, account, providerTransactionID, date, txTime)
}

func (r *paymentDetailRepository) GetPaymentDetailByTransactionKey(ctx context.Context, key string) (*domain.PaymentDetail, error) {
	query := `
		SELECT ` + paymentDetailColumns + `
		FROM payment_details d
		JOIN transactions t ON t.id = d.transaction_id
		WHERE t.idempotency_key = $1`
	return r.getOne(ctx, query, key)
}

func (r *paymentDetailRepository) getOne(ctx context.Context, query string, args ...interface{}) (*domain.PaymentDetail, error) {
	var d domain.PaymentDetail
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&d.ID,
		&d.TransactionID,
		&d.Provider,
		&d.ProviderTransactionID,
		&d.TransactionDate,
		&d.TransactionTime,
		&d.Reference,
		&payload,
		&d.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.Error("Failed to get payment detail", "args", args, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to get payment detail", err)
	}
	d.Payload = payload
	return &d, nil
}
