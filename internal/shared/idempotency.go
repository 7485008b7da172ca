package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdempotencyStore persists processed keys. Bound to a transaction, a claim
// disappears again when the transaction rolls back.
type IdempotencyStore struct {
	db  Querier
	now func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(db Querier) *IdempotencyStore {
	return &IdempotencyStore{db: db, now: time.Now}
}

var (
	// ErrIdempotencyConflict indicates a duplicate key for the same request.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
	// ErrIdempotencyKeyReused indicates a key first claimed by another module
	// or for another target record.
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different request")
)

// Claim records key for module, target and ref. Keys are unique across
// modules. On a repeated key for the same module and target it returns the
// reference stored by the first claim together with ErrIdempotencyConflict;
// that reference is uuid.Nil when the first claim is not visible yet. A
// repeated key naming another module or target yields ErrIdempotencyKeyReused.
func (s *IdempotencyStore) Claim(ctx context.Context, key, module string, target, ref uuid.UUID) (uuid.UUID, error) {
	if s == nil {
		return uuid.Nil, errors.New("idempotency store not initialised")
	}
	if key == "" {
		return uuid.Nil, errors.New("idempotency key required")
	}
	if module == "" {
		return uuid.Nil, errors.New("idempotency module required")
	}
	tag, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, target_id, reference_id, created_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key) DO NOTHING`, key, module, target, ref, s.now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return uuid.Nil, ErrIdempotencyConflict
		}
		return uuid.Nil, err
	}
	if tag.RowsAffected() == 1 {
		return ref, nil
	}
	var (
		prevModule string
		prevTarget *uuid.UUID
		existing   *uuid.UUID
	)
	err = s.db.QueryRow(ctx, `SELECT module, target_id, reference_id FROM idempotency_keys WHERE key=$1`, key).
		Scan(&prevModule, &prevTarget, &existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrIdempotencyConflict
	}
	if err != nil {
		return uuid.Nil, err
	}
	if prevModule != module || prevTarget == nil || *prevTarget != target {
		return uuid.Nil, ErrIdempotencyKeyReused
	}
	if existing == nil {
		return uuid.Nil, ErrIdempotencyConflict
	}
	return *existing, ErrIdempotencyConflict
}

// Cleanup removes entries older than retention and reports how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := s.now().Add(-olderThan)
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
