package kvtxn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("github.com/tifs-fs/tifs/internal/kvtxn")
	meter  = otel.Meter("kvtxn")

	attemptsCounter, _ = meter.Int64Counter(
		"tifs.kvtxn.attempts",
		metric.WithDescription("transaction attempts made by WithTransaction, including retries"),
	)
	conflictsCounter, _ = meter.Int64Counter(
		"tifs.kvtxn.conflicts",
		metric.WithDescription("attempts that failed with a retryable conflict"),
	)
	exhaustedCounter, _ = meter.Int64Counter(
		"tifs.kvtxn.retries_exhausted",
		metric.WithDescription("bodies that never committed within MaxAttempts"),
	)
)

// RetryPolicy bounds how WithTransaction retries a Conflict. The zero
// value is not usable; use DefaultRetryPolicy.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     backoff.Backoff
}

// DefaultRetryPolicy matches spec.md §6's "exponential backoff up to a
// bound (e.g., 10 attempts)": attempts exhausted surfaces as EIO to the
// FS engine's caller.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		Backoff: backoff.Backoff{
			Min:    4 * time.Millisecond,
			Max:    500 * time.Millisecond,
			Factor: 2,
			Jitter: true,
		},
	}
}

// Body is the unit of work WithTransaction executes, possibly more than
// once. Per spec.md §4.4, Body MUST be deterministic in its visible
// side effects given the same reads, since a Conflict causes the whole
// body to be re-run from scratch against a fresh Txn.
type Body func(ctx context.Context, txn Txn) error

// WithTransaction begins a transaction in the given mode, runs body
// against it, and commits. A Commit or body failure classified as
// ErrConflict is retried with backoff up to policy.MaxAttempts; any
// other error (including ErrAborted) is returned immediately without
// retrying. Retry exhaustion returns ErrConflict wrapped with the
// attempt count.
func WithTransaction(ctx context.Context, client Client, mode Mode, policy RetryPolicy, body Body) error {
	ctx, span := tracer.Start(ctx, "kvtxn.WithTransaction", trace.WithAttributes(
		attribute.String("tifs.kvtxn.mode", modeLabel(mode)),
	))
	defer span.End()

	b := policy.Backoff
	b.Reset()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attemptsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tifs.kvtxn.mode", modeLabel(mode))))

		err := runOnce(ctx, client, mode, body)
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return nil
		}

		lastErr = err
		if !errors.Is(err, ErrConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		conflictsCounter.Add(ctx, 1)
		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			return ctx.Err()
		case <-afterDuration(b.Duration()):
		}
	}

	exhaustedCounter.Add(ctx, 1)
	err := fmt.Errorf("kvtxn: %w after %d attempts (last: %v)", ErrConflict, policy.MaxAttempts, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func runOnce(ctx context.Context, client Client, mode Mode, body Body) (err error) {
	txn, err := client.Begin(ctx, mode)
	if err != nil {
		return fmt.Errorf("kvtxn: begin: %w", err)
	}

	defer func() {
		if err != nil {
			_ = txn.Rollback(ctx)
		}
	}()

	if err = body(ctx, txn); err != nil {
		return err
	}

	if err = txn.Commit(ctx); err != nil {
		return err
	}

	return nil
}

func afterDuration(d time.Duration) <-chan time.Time {
	if d <= 0 {
		d = time.Millisecond
	}
	return time.After(d)
}

func modeLabel(mode Mode) string {
	if mode == Optimistic {
		return "optimistic"
	}
	return "pessimistic"
}
