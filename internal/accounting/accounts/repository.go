package accounts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retailops/backoffice/internal/accounting/shared"
)

// Repository reads the chart of accounts and bank sub-ledger links.
type Repository interface {
	FindByCode(ctx context.Context, code string) (Account, error)
	BankLedgerAccount(ctx context.Context, bankAccountID uuid.UUID) (uuid.UUID, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// FindByCode returns the active account carrying code.
func (r *repository) FindByCode(ctx context.Context, code string) (Account, error) {
	var a Account
	err := r.db.QueryRow(ctx, `SELECT id, code, name, type, is_active, created_at, updated_at
FROM chart_of_accounts WHERE code=$1 AND is_active`, code).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// BankLedgerAccount maps a bank account to its chart of accounts sub-ledger.
func (r *repository) BankLedgerAccount(ctx context.Context, bankAccountID uuid.UUID) (uuid.UUID, error) {
	var accountID *uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT account_id FROM bank_accounts WHERE id=$1`, bankAccountID).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, shared.ErrAccountNotFound
		}
		return uuid.Nil, err
	}
	if accountID == nil {
		return uuid.Nil, shared.ErrAccountNotFound
	}
	return *accountID, nil
}
