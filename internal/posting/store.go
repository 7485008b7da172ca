package posting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailops/backoffice/internal/accounting/journals"
	"github.com/retailops/backoffice/internal/accounting/mappings"
)

// Store opens the single transaction a posting runs in.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// TxStore exposes the transactional operations used by the engine. Lock*
// methods take a row lock on the source record and return ErrSourceNotFound
// when it does not exist.
type TxStore interface {
	LockPurchase(ctx context.Context, id uuid.UUID) (Purchase, error)
	InsertReceipt(ctx context.Context, receipt Receipt) error
	AddReceivedQty(ctx context.Context, purchaseLineID uuid.UUID, qty decimal.Decimal) error
	InsertPayment(ctx context.Context, payment Payment) error
	UpdatePurchase(ctx context.Context, id uuid.UUID, status string, paid decimal.Decimal) error

	LockPurchaseReturn(ctx context.Context, id uuid.UUID) (PurchaseReturn, error)
	LockSalesOrder(ctx context.Context, id uuid.UUID) (SalesOrder, error)
	LockSalesReturn(ctx context.Context, id uuid.UUID) (SalesReturn, error)
	InsertStockAdjustment(ctx context.Context, adj StockAdjustment) error
	LockOpname(ctx context.Context, id uuid.UUID) (Opname, error)
	LockPayout(ctx context.Context, id uuid.UUID) (Payout, error)
	LockCustomerPayment(ctx context.Context, id uuid.UUID) (CustomerPayment, error)
	CustomerBankAccount(ctx context.Context, customerID uuid.UUID) (*uuid.UUID, error)

	// MarkCompleted flips the source status and links the journal, which is
	// nil when nothing had to be posted.
	MarkCompleted(ctx context.Context, source Source, id uuid.UUID, journalID *uuid.UUID) error
	// ClaimKey records an idempotency key for ref posted against target.
	// When the same module and target claimed the key before it returns the
	// earlier reference and claimed=false. A key claimed for another module
	// or target is ErrInvalidInput.
	ClaimKey(ctx context.Context, key, module string, target, ref uuid.UUID) (existing uuid.UUID, claimed bool, err error)

	NextNumber(ctx context.Context, prefix string, at time.Time) (string, error)
	FindJournal(ctx context.Context, referenceType string, referenceID uuid.UUID) (uuid.UUID, bool, error)
	InsertJournal(ctx context.Context, entryNo string, draft journals.Draft) (journals.JournalEntry, error)
}

// AccountResolver resolves one ledger account for a lookup.
type AccountResolver interface {
	Resolve(ctx context.Context, lookup mappings.Lookup) (uuid.UUID, error)
}

// BankLedger maps bank accounts to their chart of accounts sub-ledger.
type BankLedger interface {
	BankLedgerAccount(ctx context.Context, bankAccountID uuid.UUID) (uuid.UUID, error)
}

// PeriodGuard blocks postings outside an open period. Ensure returns the
// date it checked, which becomes the entry date.
type PeriodGuard interface {
	Ensure(ctx context.Context) (time.Time, error)
}

// Publisher emits integration events after commit.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// Recorder counts posting outcomes.
type Recorder interface {
	ObservePosting(event, outcome string)
}
