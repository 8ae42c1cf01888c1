package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"payment-orchestrator/internal/batch"
	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/errors"
)

const (
	customerNotFoundMessage = "Customer Not Found"
	customerNotFoundCode    = "204"
)

// Reporter delivers a finished batch report.
type Reporter interface {
	SendReport(ctx context.Context, recipient string, report []byte) error
}

type Issue struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type RowFailure struct {
	RowNum int     `json:"rowNum"`
	Error  []Issue `json:"error"`
}

type RowOutcome struct {
	RowNum         int    `json:"rowNum"`
	IdempotencyKey string `json:"idempotencyKey"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// BatchResult summarises a batch. Errors is keyed by the row's position in
// the input.
type BatchResult struct {
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Rows      []RowOutcome   `json:"rows"`
	Errors    map[int]string `json:"errors"`
}

// BatchService drives bulk wallet adjustments one row at a time. A failing
// row is recorded and the batch moves on.
type BatchService struct {
	payments         *PaymentService
	reporter         Reporter
	prevalidateLimit int
	logger           *slog.Logger
	wg               sync.WaitGroup
}

func NewBatchService(payments *PaymentService, reporter Reporter, prevalidateLimit int, logger *slog.Logger) *BatchService {
	if prevalidateLimit <= 0 {
		prevalidateLimit = 10
	}
	return &BatchService{
		payments:         payments,
		reporter:         reporter,
		prevalidateLimit: prevalidateLimit,
		logger:           logger,
	}
}

// Prevalidate checks that every row's account exists in the user directory.
// Lookups run concurrently; failures are reported per row in input order.
func (b *BatchService) Prevalidate(ctx context.Context, h domain.Headers, rows []batch.Row) ([]RowFailure, error) {
	missing := make([]bool, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.prevalidateLimit)
	for i, row := range rows {
		g.Go(func() error {
			if _, err := b.payments.gateways.Users.FetchUser(gctx, h, row.Account); err != nil {
				b.logger.Warn("Batch row account lookup failed", "row_num", row.RowNum, "account", row.Account, "error", err)
				missing[i] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.InternalError, "prevalidation cancelled", err)
	}

	var failures []RowFailure
	for i, row := range rows {
		if missing[i] {
			failures = append(failures, RowFailure{
				RowNum: row.RowNum,
				Error:  []Issue{{Message: customerNotFoundMessage, Code: customerNotFoundCode}},
			})
		}
	}
	return failures, nil
}

// Adjust applies every row under a fresh idempotency key, then reports the
// outcome to recipient.
func (b *BatchService) Adjust(ctx context.Context, h domain.Headers, rows []batch.Row, recipient string) *BatchResult {
	result := &BatchResult{Rows: make([]RowOutcome, 0, len(rows)), Errors: make(map[int]string)}
	failed := make(map[int]bool)

	for i, row := range rows {
		key := uuid.NewString()
		outcome := RowOutcome{RowNum: row.RowNum, IdempotencyKey: key, Status: batch.StatusSuccess}

		if err := b.adjustRow(ctx, h.WithKey(key), row); err != nil {
			b.logger.Error("Batch row failed", "row_num", row.RowNum, "account", row.Account, "idempotency_key", key, "error", err)
			outcome.Status = batch.StatusFailure
			outcome.Error = err.Error()
			failed[row.RowNum] = true
			result.Errors[i] = err.Error()
			result.Failed++
		} else {
			result.Succeeded++
		}
		result.Rows = append(result.Rows, outcome)
	}

	b.logger.Info("Batch adjustment finished", "rows", len(rows), "succeeded", result.Succeeded, "failed", result.Failed)
	b.report(ctx, rows, failed, recipient)
	return result
}

// Start runs Adjust in the background. Wait blocks until all started batches
// are done.
func (b *BatchService) Start(ctx context.Context, h domain.Headers, rows []batch.Row, recipient string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Adjust(context.WithoutCancel(ctx), h, rows, recipient)
	}()
}

func (b *BatchService) Wait() {
	b.wg.Wait()
}

func (b *BatchService) adjustRow(ctx context.Context, h domain.Headers, row batch.Row) (err error) {
	defer observe("batch_row", &err)

	req := HoldRequest{
		Account:         row.Account,
		PaymentMethod:   row.PaymentMethod,
		Money:           row.Money,
		TransactionType: row.TransactionType,
		Comments:        row.Comments,
	}
	if err := req.validate(); err != nil {
		return err
	}

	if row.Action == domain.ActionCharge {
		_, err = b.payments.holdWallet(ctx, h, req)
	} else {
		_, err = b.payments.holdCash(ctx, h, req)
	}
	if err != nil {
		return err
	}

	_, err = b.payments.OutProcedure(ctx, h, OutRequest{TransactionType: row.TransactionType, Comments: row.Comments}, row.Action)
	return err
}

func (b *BatchService) report(ctx context.Context, rows []batch.Row, failed map[int]bool, recipient string) {
	if b.reporter == nil {
		return
	}
	data, err := batch.Report(rows, failed)
	if err != nil {
		b.logger.Error("Failed to render batch report", "error", err)
		return
	}
	if err := b.reporter.SendReport(ctx, recipient, data); err != nil {
		b.logger.Error("Failed to deliver batch report", "recipient", recipient, "error", err)
	}
}
