package retry

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"payment-orchestrator/internal/errors"
)

// Permanent is implemented by failures that retrying cannot change.
type Permanent interface {
	Permanent() bool
}

type Policy struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy gives 30s overall, three retries and a 1s base doubling up to 60s.
func DefaultPolicy(logger *slog.Logger) Policy {
	return Policy{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
		Logger:     logger,
	}
}

// Delay returns the wait before retry n, counting retries from 1.
func (p Policy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 62 {
		return p.MaxDelay
	}
	d := p.BaseDelay * time.Duration(int64(1)<<uint(n))
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		return p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails permanently, runs out of retries or the
// overall timeout elapses. Permanent failures surface as ProviderRejected, all
// others as ProviderTransient; both keep the last error as their cause.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	sleep := p.sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt)
			p.log().Warn("retrying downstream call", "operation", op, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return errors.Wrap(errors.ProviderTransient, op+" timed out", lastErr)
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return errors.Wrap(errors.ProviderRejected, op+" rejected", lastErr)
		}
		if ctx.Err() != nil {
			break
		}
	}

	return errors.Wrap(errors.ProviderTransient, op+" failed", lastErr)
}

// IsPermanent reports whether err, or anything it wraps, is a permanent failure.
func IsPermanent(err error) bool {
	var p Permanent
	return stderrors.As(err, &p) && p.Permanent()
}

func (p Policy) log() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
