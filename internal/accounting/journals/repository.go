package journals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/retailops/backoffice/internal/accounting/shared"
)

const uniqueReferenceConstraint = "uq_journal_entries_reference"

// TxWriter writes journal entries inside a caller-owned transaction.
type TxWriter struct {
	tx pgx.Tx
}

// NewTxWriter binds a writer to tx.
func NewTxWriter(tx pgx.Tx) *TxWriter {
	return &TxWriter{tx: tx}
}

// FindByReference returns the entry already posted for the reference, if any.
func (w *TxWriter) FindByReference(ctx context.Context, referenceType string, referenceID uuid.UUID) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := w.tx.QueryRow(ctx, `SELECT id FROM journal_entries WHERE reference_type=$1 AND reference_id=$2`, referenceType, referenceID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// Insert persists the header and every line of a validated draft.
func (w *TxWriter) Insert(ctx context.Context, entryNo string, d Draft) (JournalEntry, error) {
	if err := d.Validate(); err != nil {
		return JournalEntry{}, err
	}
	debit, credit := d.Totals()
	entry := JournalEntry{
		ID:            uuid.New(),
		EntryNo:       entryNo,
		EntryDate:     d.EntryDate,
		Description:   d.Description,
		ReferenceType: d.ReferenceType,
		ReferenceID:   d.ReferenceID,
		TotalDebit:    debit,
		TotalCredit:   credit,
		Status:        JournalStatusPosted,
	}
	err := w.tx.QueryRow(ctx, `INSERT INTO journal_entries (id, entry_no, entry_date, description, reference_type, reference_id, total_debit, total_credit, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING created_at`,
		entry.ID, entry.EntryNo, entry.EntryDate, entry.Description, entry.ReferenceType, entry.ReferenceID,
		debit, credit, entry.Status).Scan(&entry.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == uniqueReferenceConstraint {
			return JournalEntry{}, shared.ErrAlreadyPosted
		}
		return JournalEntry{}, err
	}

	batch := &pgx.Batch{}
	for idx, line := range d.Lines {
		jl := JournalLine{
			ID:          uuid.New(),
			EntryID:     entry.ID,
			LineNo:      idx + 1,
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		}
		batch.Queue(`INSERT INTO journal_lines (id, entry_id, line_no, account_id, debit, credit, description)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, jl.ID, jl.EntryID, jl.LineNo, jl.AccountID, jl.Debit, jl.Credit, jl.Description)
		entry.Lines = append(entry.Lines, jl)
	}
	if err := w.tx.SendBatch(ctx, batch).Close(); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// Imbalance describes a posted entry whose lines disagree with its header.
type Imbalance struct {
	EntryID     uuid.UUID
	EntryNo     string
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	LineDebit   decimal.Decimal
	LineCredit  decimal.Decimal
}

// Repository reads posted journals outside of a posting transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindImbalanced lists entries created since the cutoff whose header totals
// and line sums are not all equal.
func (r *Repository) FindImbalanced(ctx context.Context, since time.Time) ([]Imbalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT e.id, e.entry_no, e.total_debit, e.total_credit,
 COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_entries e LEFT JOIN journal_lines l ON l.entry_id = e.id
WHERE e.created_at >= $1
GROUP BY e.id, e.entry_no, e.total_debit, e.total_credit
HAVING e.total_debit <> e.total_credit
 OR COALESCE(SUM(l.debit), 0) <> e.total_debit
 OR COALESCE(SUM(l.credit), 0) <> e.total_credit`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Imbalance
	for rows.Next() {
		var im Imbalance
		if err := rows.Scan(&im.EntryID, &im.EntryNo, &im.TotalDebit, &im.TotalCredit, &im.LineDebit, &im.LineCredit); err != nil {
			return nil, err
		}
		out = append(out, im)
	}
	return out, rows.Err()
}
