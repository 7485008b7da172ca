package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/retailops/backoffice/internal/accounting/journals"
	"github.com/retailops/backoffice/internal/accounting/numbering"
	"github.com/retailops/backoffice/internal/platform/db"
	"github.com/retailops/backoffice/internal/shared"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside one read-committed transaction. Source rows are
// locked FOR UPDATE, so a waiting posting re-reads the committed source and
// the shared document_sequences counter. Deadlocks and serialization failures
// rerun fn in a fresh transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.Retry(ctx, db.DefaultRetry, func() error {
		return db.WithTxOptions(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
			return fn(ctx, newTxStore(tx))
		})
	})
}

type txStore struct {
	tx       pgx.Tx
	journals *journals.TxWriter
	numbers  *numbering.TxSequencer
	keys     *shared.IdempotencyStore
}

func newTxStore(tx pgx.Tx) *txStore {
	return &txStore{
		tx:       tx,
		journals: journals.NewTxWriter(tx),
		numbers:  numbering.NewTxSequencer(tx),
		keys:     shared.NewIdempotencyStore(tx),
	}
}

var completable = map[Source]string{
	SourcePurchaseReturn:  "purchase_returns",
	SourceSalesOrder:      "sales_orders",
	SourceSalesReturn:     "sales_returns",
	SourceStockOpname:     "stock_opname",
	SourcePayout:          "marketplace_payouts",
	SourceCustomerPayment: "customer_payments",
}

func notFound(err error, what string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrSourceNotFound, what, id)
	}
	return err
}

func (s *txStore) LockPurchase(ctx context.Context, id uuid.UUID) (Purchase, error) {
	var p Purchase
	err := s.tx.QueryRow(ctx, `SELECT id, purchase_no, supplier_id, status, total_amount, paid_amount
FROM purchases WHERE id=$1 FOR UPDATE`, id).
		Scan(&p.ID, &p.PurchaseNo, &p.SupplierID, &p.Status, &p.TotalAmount, &p.PaidAmount)
	if err != nil {
		return Purchase{}, notFound(err, "purchase", id)
	}
	rows, err := s.tx.Query(ctx, `SELECT id, purchase_id, variant_id, qty, received_qty, unit_cost
FROM purchase_lines WHERE purchase_id=$1 ORDER BY id`, id)
	if err != nil {
		return Purchase{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l PurchaseLine
		if err := rows.Scan(&l.ID, &l.PurchaseID, &l.VariantID, &l.Qty, &l.ReceivedQty, &l.UnitCost); err != nil {
			return Purchase{}, err
		}
		p.Lines = append(p.Lines, l)
	}
	return p, rows.Err()
}

func (s *txStore) InsertReceipt(ctx context.Context, receipt Receipt) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO purchase_receipts (id, receipt_no, purchase_id, received_at, total_amount, journal_entry_id)
VALUES ($1,$2,$3,$4,$5,$6)`, receipt.ID, receipt.ReceiptNo, receipt.PurchaseID, receipt.ReceivedAt, receipt.TotalAmount, receipt.JournalEntryID)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, line := range receipt.Lines {
		batch.Queue(`INSERT INTO purchase_receipt_lines (id, receipt_id, purchase_line_id, qty, unit_cost) VALUES ($1,$2,$3,$4,$5)`,
			line.ID, receipt.ID, line.PurchaseLineID, line.Qty, line.UnitCost)
	}
	return s.tx.SendBatch(ctx, batch).Close()
}

func (s *txStore) AddReceivedQty(ctx context.Context, purchaseLineID uuid.UUID, qty decimal.Decimal) error {
	_, err := s.tx.Exec(ctx, `UPDATE purchase_lines SET received_qty = received_qty + $2 WHERE id=$1`, purchaseLineID, qty)
	return err
}

func (s *txStore) InsertPayment(ctx context.Context, p Payment) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO purchase_payments (id, payment_no, purchase_id, amount, payment_method, bank_account_id, paid_at, journal_entry_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, p.ID, p.PaymentNo, p.PurchaseID, p.Amount, p.Method, p.BankAccountID, p.PaidAt, p.JournalEntryID)
	return err
}

func (s *txStore) UpdatePurchase(ctx context.Context, id uuid.UUID, status string, paid decimal.Decimal) error {
	_, err := s.tx.Exec(ctx, `UPDATE purchases SET status=$2, paid_amount=$3 WHERE id=$1`, id, status, paid)
	return err
}

func (s *txStore) LockPurchaseReturn(ctx context.Context, id uuid.UUID) (PurchaseReturn, error) {
	var r PurchaseReturn
	err := s.tx.QueryRow(ctx, `SELECT id, return_no, purchase_id, status, journal_entry_id
FROM purchase_returns WHERE id=$1 FOR UPDATE`, id).
		Scan(&r.ID, &r.ReturnNo, &r.PurchaseID, &r.Status, &r.JournalEntryID)
	if err != nil {
		return PurchaseReturn{}, notFound(err, "purchase return", id)
	}
	rows, err := s.tx.Query(ctx, `SELECT rl.purchase_line_id, rl.qty, pl.unit_cost
FROM purchase_return_lines rl JOIN purchase_lines pl ON pl.id = rl.purchase_line_id
WHERE rl.purchase_return_id=$1 ORDER BY rl.id`, id)
	if err != nil {
		return PurchaseReturn{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l PurchaseReturnLine
		if err := rows.Scan(&l.PurchaseLineID, &l.Qty, &l.UnitCost); err != nil {
			return PurchaseReturn{}, err
		}
		r.Lines = append(r.Lines, l)
	}
	return r, rows.Err()
}

func (s *txStore) LockSalesOrder(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	var o SalesOrder
	err := s.tx.QueryRow(ctx, `SELECT id, order_no, COALESCE(marketplace_code, ''), payment_method, gross_amount, fee_amount, status, order_date, journal_entry_id
FROM sales_orders WHERE id=$1 FOR UPDATE`, id).
		Scan(&o.ID, &o.OrderNo, &o.MarketplaceCode, &o.PaymentMethod, &o.GrossAmount, &o.FeeAmount, &o.Status, &o.OrderDate, &o.JournalEntryID)
	if err != nil {
		return SalesOrder{}, notFound(err, "sales order", id)
	}
	rows, err := s.tx.Query(ctx, `SELECT id, variant_id, qty, unit_price, unit_cost
FROM sales_order_lines WHERE sales_order_id=$1 ORDER BY id`, id)
	if err != nil {
		return SalesOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l SalesOrderLine
		if err := rows.Scan(&l.ID, &l.VariantID, &l.Qty, &l.UnitPrice, &l.UnitCost); err != nil {
			return SalesOrder{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (s *txStore) LockSalesReturn(ctx context.Context, id uuid.UUID) (SalesReturn, error) {
	var r SalesReturn
	err := s.tx.QueryRow(ctx, `SELECT r.id, r.return_no, r.sales_order_id, COALESCE(o.marketplace_code, ''), r.refund_amount,
 r.refund_method, r.is_credit_note, r.status, r.journal_entry_id
FROM sales_returns r JOIN sales_orders o ON o.id = r.sales_order_id
WHERE r.id=$1 FOR UPDATE OF r, o`, id).
		Scan(&r.ID, &r.ReturnNo, &r.SalesOrderID, &r.MarketplaceCode, &r.RefundAmount, &r.RefundMethod, &r.IsCreditNote, &r.Status, &r.JournalEntryID)
	if err != nil {
		return SalesReturn{}, notFound(err, "sales return", id)
	}
	// The order row lock above serialises returns against the same order, so
	// the returned quantity cannot move underneath us.
	rows, err := s.tx.Query(ctx, `SELECT rl.sales_order_line_id, rl.qty, ol.qty,
 COALESCE((SELECT SUM(prev.qty) FROM sales_return_lines prev
   JOIN sales_returns pr ON pr.id = prev.sales_return_id
   WHERE prev.sales_order_line_id = rl.sales_order_line_id AND pr.id <> rl.sales_return_id
     AND pr.status = 'completed' AND NOT pr.is_credit_note), 0),
 ol.unit_cost
FROM sales_return_lines rl JOIN sales_order_lines ol ON ol.id = rl.sales_order_line_id
WHERE rl.sales_return_id=$1 ORDER BY rl.id`, id)
	if err != nil {
		return SalesReturn{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l SalesReturnLine
		if err := rows.Scan(&l.SalesOrderLineID, &l.Qty, &l.OrderedQty, &l.ReturnedQty, &l.UnitCost); err != nil {
			return SalesReturn{}, err
		}
		r.Lines = append(r.Lines, l)
	}
	return r, rows.Err()
}

func (s *txStore) InsertStockAdjustment(ctx context.Context, adj StockAdjustment) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_adjustments (id, adjustment_no, variant_id, adjustment_qty, unit_cost, amount, reason, journal_entry_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, adj.ID, adj.AdjustmentNo, adj.VariantID, adj.Qty, adj.UnitCost, adj.Amount, adj.Reason, adj.JournalEntryID)
	return err
}

func (s *txStore) LockOpname(ctx context.Context, id uuid.UUID) (Opname, error) {
	var o Opname
	err := s.tx.QueryRow(ctx, `SELECT id, opname_no, status, journal_entry_id FROM stock_opname WHERE id=$1 FOR UPDATE`, id).
		Scan(&o.ID, &o.OpnameNo, &o.Status, &o.JournalEntryID)
	if err != nil {
		return Opname{}, notFound(err, "stock opname", id)
	}
	rows, err := s.tx.Query(ctx, `SELECT variant_id, system_qty, counted_qty, unit_cost
FROM stock_opname_lines WHERE opname_id=$1 ORDER BY id`, id)
	if err != nil {
		return Opname{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l OpnameLine
		if err := rows.Scan(&l.VariantID, &l.SystemQty, &l.CountedQty, &l.UnitCost); err != nil {
			return Opname{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (s *txStore) LockPayout(ctx context.Context, id uuid.UUID) (Payout, error) {
	var p Payout
	err := s.tx.QueryRow(ctx, `SELECT id, payout_no, marketplace_code, gross_amount, fee_amount, status, journal_entry_id
FROM marketplace_payouts WHERE id=$1 FOR UPDATE`, id).
		Scan(&p.ID, &p.PayoutNo, &p.MarketplaceCode, &p.GrossAmount, &p.FeeAmount, &p.Status, &p.JournalEntryID)
	if err != nil {
		return Payout{}, notFound(err, "marketplace payout", id)
	}
	return p, nil
}

func (s *txStore) LockCustomerPayment(ctx context.Context, id uuid.UUID) (CustomerPayment, error) {
	var p CustomerPayment
	err := s.tx.QueryRow(ctx, `SELECT id, payment_no, customer_id, amount, payment_method, status, journal_entry_id
FROM customer_payments WHERE id=$1 FOR UPDATE`, id).
		Scan(&p.ID, &p.PaymentNo, &p.CustomerID, &p.Amount, &p.Method, &p.Status, &p.JournalEntryID)
	if err != nil {
		return CustomerPayment{}, notFound(err, "customer payment", id)
	}
	return p, nil
}

func (s *txStore) CustomerBankAccount(ctx context.Context, customerID uuid.UUID) (*uuid.UUID, error) {
	var bank *uuid.UUID
	err := s.tx.QueryRow(ctx, `SELECT bank_account_id FROM customers WHERE id=$1`, customerID).Scan(&bank)
	if err != nil {
		return nil, notFound(err, "customer", customerID)
	}
	return bank, nil
}

func (s *txStore) MarkCompleted(ctx context.Context, source Source, id uuid.UUID, journalID *uuid.UUID) error {
	table, ok := completable[source]
	if !ok {
		return fmt.Errorf("posting: %s has no posting status", source)
	}
	tag, err := s.tx.Exec(ctx, `UPDATE `+table+` SET status=$2, journal_entry_id=$3 WHERE id=$1`, id, StatusCompleted, journalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s %s", ErrSourceNotFound, table, id)
	}
	return nil
}

func (s *txStore) ClaimKey(ctx context.Context, key, module string, target, ref uuid.UUID) (uuid.UUID, bool, error) {
	existing, err := s.keys.Claim(ctx, key, module, target, ref)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			return existing, false, nil
		case errors.Is(err, shared.ErrIdempotencyKeyReused):
			return uuid.Nil, false, fmt.Errorf("%w: key %q: %w", ErrInvalidInput, key, err)
		}
		return uuid.Nil, false, err
	}
	return existing, true, nil
}

func (s *txStore) NextNumber(ctx context.Context, prefix string, at time.Time) (string, error) {
	return s.numbers.Next(ctx, prefix, at)
}

func (s *txStore) FindJournal(ctx context.Context, referenceType string, referenceID uuid.UUID) (uuid.UUID, bool, error) {
	return s.journals.FindByReference(ctx, referenceType, referenceID)
}

func (s *txStore) InsertJournal(ctx context.Context, entryNo string, draft journals.Draft) (journals.JournalEntry, error) {
	return s.journals.Insert(ctx, entryNo, draft)
}
