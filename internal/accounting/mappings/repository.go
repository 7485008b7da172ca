package mappings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retailops/backoffice/internal/accounting/shared"
)

// Repository reads and maintains mapping rows and legacy settings.
type Repository interface {
	ListActive(ctx context.Context, eventType string, side Side) ([]AccountMapping, error)
	List(ctx context.Context, eventType string) ([]AccountMapping, error)
	Upsert(ctx context.Context, m AccountMapping) (AccountMapping, error)
	GetSetting(ctx context.Context, key string) (uuid.UUID, bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const mappingColumns = `id, event_type, COALESCE(event_context, ''), side, account_id, COALESCE(product_type, ''),
COALESCE(marketplace_code, ''), is_active, priority, created_at, updated_at`

// ListActive returns every active row for the event and side. Ranking is left
// to the resolver so it stays independent of storage order.
func (r *repository) ListActive(ctx context.Context, eventType string, side Side) ([]AccountMapping, error) {
	rows, err := r.db.Query(ctx, `SELECT `+mappingColumns+` FROM account_mappings
WHERE event_type=$1 AND side=$2 AND is_active`, eventType, side)
	if err != nil {
		return nil, err
	}
	return collectMappings(rows)
}

// List returns all rows, optionally filtered by event type.
func (r *repository) List(ctx context.Context, eventType string) ([]AccountMapping, error) {
	rows, err := r.db.Query(ctx, `SELECT `+mappingColumns+` FROM account_mappings
WHERE ($1 = '' OR event_type=$1) ORDER BY event_type, side, priority DESC`, eventType)
	if err != nil {
		return nil, err
	}
	return collectMappings(rows)
}

// Upsert inserts a row or updates the one sharing the same id.
func (r *repository) Upsert(ctx context.Context, m AccountMapping) (AccountMapping, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `INSERT INTO account_mappings (id, event_type, event_context, side, account_id, product_type, marketplace_code, is_active, priority)
VALUES ($1,$2,NULLIF($3,''),$4,$5,NULLIF($6,''),NULLIF($7,''),$8,$9)
ON CONFLICT (id) DO UPDATE SET event_type=EXCLUDED.event_type, event_context=EXCLUDED.event_context, side=EXCLUDED.side,
 account_id=EXCLUDED.account_id, product_type=EXCLUDED.product_type, marketplace_code=EXCLUDED.marketplace_code,
 is_active=EXCLUDED.is_active, priority=EXCLUDED.priority, updated_at=NOW()
RETURNING created_at, updated_at`,
		m.ID, m.EventType, strings.ToLower(m.EventContext), m.Side, m.AccountID, m.ProductType, strings.ToLower(m.MarketplaceCode), m.IsActive, m.Priority).
		Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return AccountMapping{}, fmt.Errorf("accounting: upsert mapping: %w", err)
	}
	return m, nil
}

// GetSetting reads a legacy setting and parses its value as an account id.
func (r *repository) GetSetting(ctx context.Context, key string) (uuid.UUID, bool, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT setting_value FROM settings WHERE setting_key=$1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%w: setting %s holds %q", shared.ErrInvalidMapping, key, value)
	}
	return id, true, nil
}

func collectMappings(rows pgx.Rows) ([]AccountMapping, error) {
	defer rows.Close()
	var out []AccountMapping
	for rows.Next() {
		var m AccountMapping
		if err := rows.Scan(&m.ID, &m.EventType, &m.EventContext, &m.Side, &m.AccountID, &m.ProductType,
			&m.MarketplaceCode, &m.IsActive, &m.Priority, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
