package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes a caller may answer by running the transaction again.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

var (
	// ReadCommitted suits row-locking writers: a statement blocked on a lock
	// sees the committed row once the lock is released.
	ReadCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	// RepeatableRead gives one snapshot for the whole transaction.
	RepeatableRead = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}
)

// Beginner is satisfied by *pgxpool.Pool.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var _ Beginner = (*pgxpool.Pool)(nil)

// WithTx executes fn within a RepeatableRead transaction.
func WithTx(ctx context.Context, pool Beginner, fn func(pgx.Tx) error) error {
	return WithTxOptions(ctx, pool, RepeatableRead, fn)
}

// WithTxOptions executes fn within a transaction started with opts. The
// transaction commits when fn returns nil and rolls back otherwise.
func WithTxOptions(ctx context.Context, pool Beginner, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin %s tx: %w", isoName(opts), err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// RetryPolicy bounds how often a conflicting transaction is attempted.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetry is used by writers that lock rows and share counters.
var DefaultRetry = RetryPolicy{Attempts: 3, Backoff: 20 * time.Millisecond}

// Retry runs attempt until it succeeds, fails with a non-retryable error or
// the policy is exhausted. The wait grows linearly between attempts.
func Retry(ctx context.Context, policy RetryPolicy, attempt func() error) error {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	var err error
	for i := 1; i <= policy.Attempts; i++ {
		if err = attempt(); err == nil || !IsRetryable(err) {
			return err
		}
		if i == policy.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(i) * policy.Backoff):
		}
	}
	return fmt.Errorf("platform/db: gave up after %d attempts: %w", policy.Attempts, err)
}

// IsRetryable reports whether err is a serialization failure or a deadlock.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

func isoName(opts pgx.TxOptions) string {
	if opts.IsoLevel == "" {
		return "default"
	}
	return string(opts.IsoLevel)
}
