package posting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailops/backoffice/internal/accounting/journals"
)

// StatusCompleted is the terminal status the engine writes on a posted source.
const StatusCompleted = "completed"

// Purchase statuses written by receipts.
const (
	PurchaseStatusPartial  = "partial"
	PurchaseStatusReceived = StatusCompleted
)

// Source names a table whose rows carry the posting status and journal link.
type Source string

const (
	SourcePurchaseReturn  Source = "purchase_returns"
	SourceSalesOrder      Source = "sales_orders"
	SourceSalesReturn     Source = "sales_returns"
	SourceStockOpname     Source = "stock_opname"
	SourcePayout          Source = "marketplace_payouts"
	SourceCustomerPayment Source = "customer_payments"
)

// Purchase is the header of a purchase order.
type Purchase struct {
	ID          uuid.UUID
	PurchaseNo  string
	SupplierID  uuid.UUID
	Status      string
	TotalAmount decimal.Decimal
	PaidAmount  decimal.Decimal
	Lines       []PurchaseLine
}

// Outstanding returns the unpaid balance.
func (p Purchase) Outstanding() decimal.Decimal {
	return p.TotalAmount.Sub(p.PaidAmount)
}

// PurchaseLine is one ordered variant.
type PurchaseLine struct {
	ID          uuid.UUID
	PurchaseID  uuid.UUID
	VariantID   uuid.UUID
	Qty         decimal.Decimal
	ReceivedQty decimal.Decimal
	UnitCost    decimal.Decimal
}

// Remaining returns the quantity still expected from the supplier.
func (l PurchaseLine) Remaining() decimal.Decimal {
	return l.Qty.Sub(l.ReceivedQty)
}

// Receipt is the goods receipt sub-record created by a receive posting.
type Receipt struct {
	ID             uuid.UUID
	ReceiptNo      string
	PurchaseID     uuid.UUID
	ReceivedAt     time.Time
	TotalAmount    decimal.Decimal
	Lines          []ReceiptLine
	JournalEntryID uuid.UUID
}

// ReceiptLine records a received quantity against a purchase line.
type ReceiptLine struct {
	ID             uuid.UUID
	PurchaseLineID uuid.UUID
	Qty            decimal.Decimal
	UnitCost       decimal.Decimal
}

// Payment is the supplier payment sub-record.
type Payment struct {
	ID             uuid.UUID
	PaymentNo      string
	PurchaseID     uuid.UUID
	Amount         decimal.Decimal
	Method         string
	BankAccountID  *uuid.UUID
	PaidAt         time.Time
	JournalEntryID uuid.UUID
}

// PurchaseReturn sends goods back to the supplier.
type PurchaseReturn struct {
	ID             uuid.UUID
	ReturnNo       string
	PurchaseID     uuid.UUID
	Status         string
	JournalEntryID *uuid.UUID
	Lines          []PurchaseReturnLine
}

// PurchaseReturnLine carries the original unit cost of the returned line.
type PurchaseReturnLine struct {
	PurchaseLineID uuid.UUID
	Qty            decimal.Decimal
	UnitCost       decimal.Decimal
}

// SalesOrder is a sale from the shop or an external marketplace.
type SalesOrder struct {
	ID              uuid.UUID
	OrderNo         string
	MarketplaceCode string
	PaymentMethod   string
	GrossAmount     decimal.Decimal
	FeeAmount       decimal.Decimal
	Status          string
	OrderDate       time.Time
	JournalEntryID  *uuid.UUID
	Lines           []SalesOrderLine
}

// SalesOrderLine is one sold variant with its cost at sale time.
type SalesOrderLine struct {
	ID        uuid.UUID
	VariantID uuid.UUID
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
	UnitCost  decimal.Decimal
}

// SalesReturn is a customer return or, with IsCreditNote, a pure
// revenue adjustment without stock movement.
type SalesReturn struct {
	ID              uuid.UUID
	ReturnNo        string
	SalesOrderID    uuid.UUID
	MarketplaceCode string
	RefundAmount    decimal.Decimal
	RefundMethod    string
	IsCreditNote    bool
	Status          string
	JournalEntryID  *uuid.UUID
	Lines           []SalesReturnLine
}

// SalesReturnLine carries the original sales line cost.
type SalesReturnLine struct {
	SalesOrderLineID uuid.UUID
	Qty              decimal.Decimal
	OrderedQty       decimal.Decimal
	// ReturnedQty sums earlier completed goods returns on the same order line.
	ReturnedQty decimal.Decimal
	UnitCost    decimal.Decimal
}

// Returnable is the quantity still open for return on the order line.
func (l SalesReturnLine) Returnable() decimal.Decimal {
	return l.OrderedQty.Sub(l.ReturnedQty)
}

// StockAdjustment is the manual adjustment sub-record.
type StockAdjustment struct {
	ID             uuid.UUID
	AdjustmentNo   string
	VariantID      uuid.UUID
	Qty            decimal.Decimal
	UnitCost       decimal.Decimal
	Amount         decimal.Decimal
	Reason         string
	JournalEntryID uuid.UUID
}

// Opname is a stock count session.
type Opname struct {
	ID             uuid.UUID
	OpnameNo       string
	Status         string
	JournalEntryID *uuid.UUID
	Lines          []OpnameLine
}

// OpnameLine is one counted variant.
type OpnameLine struct {
	VariantID  uuid.UUID
	SystemQty  decimal.Decimal
	CountedQty decimal.Decimal
	UnitCost   decimal.Decimal
}

// Difference is counted minus system quantity.
func (l OpnameLine) Difference() decimal.Decimal {
	return l.CountedQty.Sub(l.SystemQty)
}

// Payout is a marketplace settlement to the shop's bank account.
type Payout struct {
	ID              uuid.UUID
	PayoutNo        string
	MarketplaceCode string
	GrossAmount     decimal.Decimal
	FeeAmount       decimal.Decimal
	Status          string
	JournalEntryID  *uuid.UUID
}

// CustomerPayment settles a customer's receivable.
type CustomerPayment struct {
	ID             uuid.UUID
	PaymentNo      string
	CustomerID     uuid.UUID
	Amount         decimal.Decimal
	Method         string
	Status         string
	JournalEntryID *uuid.UUID
}

// ReceiptLineInput selects a purchase line and the quantity received.
// UnitCost overrides the ordered cost when set.
type ReceiptLineInput struct {
	PurchaseLineID uuid.UUID
	Qty            decimal.Decimal
	UnitCost       *decimal.Decimal
}

// ReceiveInput posts a goods receipt. No lines means receive everything
// still outstanding.
type ReceiveInput struct {
	PurchaseID     uuid.UUID
	Lines          []ReceiptLineInput
	IdempotencyKey string
}

// PaymentInput posts a supplier payment.
type PaymentInput struct {
	PurchaseID     uuid.UUID
	Amount         decimal.Decimal
	Method         string
	BankAccountID  *uuid.UUID
	IdempotencyKey string
}

// StockAdjustmentInput posts a manual stock adjustment.
type StockAdjustmentInput struct {
	VariantID      uuid.UUID
	Qty            decimal.Decimal
	UnitCost       decimal.Decimal
	Reason         string
	IdempotencyKey string
}

// Result is returned by every posting operation.
type Result struct {
	Event          string
	JournalEntryID *uuid.UUID
	EntryNo        string
	AlreadyPosted  bool
	DocumentNo     string
	Amount         decimal.Decimal
	Entry          *journals.JournalEntry
}

func posted(event string, entry journals.JournalEntry, amount decimal.Decimal) Result {
	id := entry.ID
	return Result{
		Event:          event,
		JournalEntryID: &id,
		EntryNo:        entry.EntryNo,
		Amount:         amount,
		Entry:          &entry,
	}
}

func alreadyPosted(event string, journalID *uuid.UUID) Result {
	return Result{Event: event, JournalEntryID: journalID, AlreadyPosted: true}
}

// JournalPosted is published after a posting transaction commits.
type JournalPosted struct {
	EntryID       uuid.UUID       `json:"entry_id"`
	EntryNo       string          `json:"entry_no"`
	Event         string          `json:"event"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   uuid.UUID       `json:"reference_id"`
	EntryDate     time.Time       `json:"entry_date"`
	TotalDebit    decimal.Decimal `json:"total_debit"`
	TotalCredit   decimal.Decimal `json:"total_credit"`
	Lines         int             `json:"lines"`
}
