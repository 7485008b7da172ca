package posting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailops/backoffice/internal/accounting/accounts"
	"github.com/retailops/backoffice/internal/accounting/journals"
	"github.com/retailops/backoffice/internal/accounting/mappings"
	"github.com/retailops/backoffice/internal/accounting/numbering"
	"github.com/retailops/backoffice/internal/accounting/periods"
	"github.com/retailops/backoffice/internal/accounting/shared"
)

// memoryStore keeps committed state; memoryTx stages writes and applies them
// only when the callback succeeds, mirroring a rolled back transaction.
type memoryStore struct {
	purchases        map[uuid.UUID]Purchase
	purchaseReturns  map[uuid.UUID]PurchaseReturn
	orders           map[uuid.UUID]SalesOrder
	salesReturns     map[uuid.UUID]SalesReturn
	opnames          map[uuid.UUID]Opname
	payouts          map[uuid.UUID]Payout
	customerPayments map[uuid.UUID]CustomerPayment
	customerBanks    map[uuid.UUID]uuid.UUID

	entries     []journals.JournalEntry
	receipts    []Receipt
	payments    []Payment
	adjustments []StockAdjustment
	keys        map[string]claimedKey
	sequences   map[string]int64
	txCount     int
}

type claimedKey struct {
	module string
	target uuid.UUID
	ref    uuid.UUID
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		purchases:        make(map[uuid.UUID]Purchase),
		purchaseReturns:  make(map[uuid.UUID]PurchaseReturn),
		orders:           make(map[uuid.UUID]SalesOrder),
		salesReturns:     make(map[uuid.UUID]SalesReturn),
		opnames:          make(map[uuid.UUID]Opname),
		payouts:          make(map[uuid.UUID]Payout),
		customerPayments: make(map[uuid.UUID]CustomerPayment),
		customerBanks:    make(map[uuid.UUID]uuid.UUID),
		keys:             make(map[string]claimedKey),
		sequences:        make(map[string]int64),
	}
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	s.txCount++
	tx := &memoryTx{
		store:     s,
		received:  make(map[uuid.UUID]decimal.Decimal),
		purchases: make(map[uuid.UUID]Purchase),
		keys:      make(map[string]claimedKey),
		sequences: make(map[string]int64),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type completion struct {
	source  Source
	id      uuid.UUID
	journal *uuid.UUID
}

type memoryTx struct {
	store       *memoryStore
	entries     []journals.JournalEntry
	receipts    []Receipt
	payments    []Payment
	adjustments []StockAdjustment
	received    map[uuid.UUID]decimal.Decimal
	purchases   map[uuid.UUID]Purchase
	completions []completion
	keys        map[string]claimedKey
	sequences   map[string]int64
}

func (tx *memoryTx) commit() {
	s := tx.store
	s.entries = append(s.entries, tx.entries...)
	s.receipts = append(s.receipts, tx.receipts...)
	s.payments = append(s.payments, tx.payments...)
	s.adjustments = append(s.adjustments, tx.adjustments...)
	for k, v := range tx.keys {
		s.keys[k] = v
	}
	for k, v := range tx.sequences {
		s.sequences[k] = v
	}
	for id, p := range tx.purchases {
		stored := s.purchases[id]
		stored.Status = p.Status
		stored.PaidAmount = p.PaidAmount
		s.purchases[id] = stored
	}
	for lineID, qty := range tx.received {
		for pid, p := range s.purchases {
			for i, l := range p.Lines {
				if l.ID == lineID {
					p.Lines[i].ReceivedQty = l.ReceivedQty.Add(qty)
				}
			}
			s.purchases[pid] = p
		}
	}
	for _, c := range tx.completions {
		switch c.source {
		case SourcePurchaseReturn:
			r := s.purchaseReturns[c.id]
			r.Status, r.JournalEntryID = StatusCompleted, c.journal
			s.purchaseReturns[c.id] = r
		case SourceSalesOrder:
			o := s.orders[c.id]
			o.Status, o.JournalEntryID = StatusCompleted, c.journal
			s.orders[c.id] = o
		case SourceSalesReturn:
			r := s.salesReturns[c.id]
			r.Status, r.JournalEntryID = StatusCompleted, c.journal
			s.salesReturns[c.id] = r
		case SourceStockOpname:
			o := s.opnames[c.id]
			o.Status, o.JournalEntryID = StatusCompleted, c.journal
			s.opnames[c.id] = o
		case SourcePayout:
			p := s.payouts[c.id]
			p.Status, p.JournalEntryID = StatusCompleted, c.journal
			s.payouts[c.id] = p
		case SourceCustomerPayment:
			p := s.customerPayments[c.id]
			p.Status, p.JournalEntryID = StatusCompleted, c.journal
			s.customerPayments[c.id] = p
		}
	}
}

func missing(what string, id uuid.UUID) error {
	return fmt.Errorf("%w: %s %s", ErrSourceNotFound, what, id)
}

func (tx *memoryTx) LockPurchase(ctx context.Context, id uuid.UUID) (Purchase, error) {
	p, ok := tx.store.purchases[id]
	if !ok {
		return Purchase{}, missing("purchase", id)
	}
	p.Lines = append([]PurchaseLine(nil), p.Lines...)
	return p, nil
}

func (tx *memoryTx) InsertReceipt(ctx context.Context, receipt Receipt) error {
	tx.receipts = append(tx.receipts, receipt)
	return nil
}

func (tx *memoryTx) AddReceivedQty(ctx context.Context, purchaseLineID uuid.UUID, qty decimal.Decimal) error {
	tx.received[purchaseLineID] = tx.received[purchaseLineID].Add(qty)
	return nil
}

func (tx *memoryTx) InsertPayment(ctx context.Context, payment Payment) error {
	tx.payments = append(tx.payments, payment)
	return nil
}

func (tx *memoryTx) UpdatePurchase(ctx context.Context, id uuid.UUID, status string, paid decimal.Decimal) error {
	tx.purchases[id] = Purchase{ID: id, Status: status, PaidAmount: paid}
	return nil
}

func (tx *memoryTx) LockPurchaseReturn(ctx context.Context, id uuid.UUID) (PurchaseReturn, error) {
	r, ok := tx.store.purchaseReturns[id]
	if !ok {
		return PurchaseReturn{}, missing("purchase return", id)
	}
	return r, nil
}

func (tx *memoryTx) LockSalesOrder(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	o, ok := tx.store.orders[id]
	if !ok {
		return SalesOrder{}, missing("sales order", id)
	}
	return o, nil
}

func (tx *memoryTx) LockSalesReturn(ctx context.Context, id uuid.UUID) (SalesReturn, error) {
	r, ok := tx.store.salesReturns[id]
	if !ok {
		return SalesReturn{}, missing("sales return", id)
	}
	r.Lines = append([]SalesReturnLine(nil), r.Lines...)
	for i, line := range r.Lines {
		returned := decimal.Zero
		for _, prev := range tx.store.salesReturns {
			if prev.ID == r.ID || prev.Status != StatusCompleted || prev.IsCreditNote {
				continue
			}
			for _, pl := range prev.Lines {
				if pl.SalesOrderLineID == line.SalesOrderLineID {
					returned = returned.Add(pl.Qty)
				}
			}
		}
		r.Lines[i].ReturnedQty = returned
	}
	return r, nil
}

func (tx *memoryTx) InsertStockAdjustment(ctx context.Context, adj StockAdjustment) error {
	tx.adjustments = append(tx.adjustments, adj)
	return nil
}

func (tx *memoryTx) LockOpname(ctx context.Context, id uuid.UUID) (Opname, error) {
	o, ok := tx.store.opnames[id]
	if !ok {
		return Opname{}, missing("stock opname", id)
	}
	return o, nil
}

func (tx *memoryTx) LockPayout(ctx context.Context, id uuid.UUID) (Payout, error) {
	p, ok := tx.store.payouts[id]
	if !ok {
		return Payout{}, missing("marketplace payout", id)
	}
	return p, nil
}

func (tx *memoryTx) LockCustomerPayment(ctx context.Context, id uuid.UUID) (CustomerPayment, error) {
	p, ok := tx.store.customerPayments[id]
	if !ok {
		return CustomerPayment{}, missing("customer payment", id)
	}
	return p, nil
}

func (tx *memoryTx) CustomerBankAccount(ctx context.Context, customerID uuid.UUID) (*uuid.UUID, error) {
	bank, ok := tx.store.customerBanks[customerID]
	if !ok {
		return nil, nil
	}
	return &bank, nil
}

func (tx *memoryTx) MarkCompleted(ctx context.Context, source Source, id uuid.UUID, journalID *uuid.UUID) error {
	tx.completions = append(tx.completions, completion{source: source, id: id, journal: journalID})
	return nil
}

func (tx *memoryTx) ClaimKey(ctx context.Context, key, module string, target, ref uuid.UUID) (uuid.UUID, bool, error) {
	if prev, ok := tx.store.keys[key]; ok {
		if prev.module != module || prev.target != target {
			return uuid.Nil, false, fmt.Errorf("%w: key %q used by %s", ErrInvalidInput, key, prev.module)
		}
		return prev.ref, false, nil
	}
	tx.keys[key] = claimedKey{module: module, target: target, ref: ref}
	return ref, true, nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, prefix string, at time.Time) (string, error) {
	k := prefix + ":" + numbering.Period(at)
	next := tx.store.sequences[k] + 1
	if staged, ok := tx.sequences[k]; ok {
		next = staged + 1
	}
	tx.sequences[k] = next
	return numbering.Format(prefix, at, next), nil
}

func (tx *memoryTx) FindJournal(ctx context.Context, referenceType string, referenceID uuid.UUID) (uuid.UUID, bool, error) {
	for _, e := range tx.store.entries {
		if e.ReferenceType == referenceType && e.ReferenceID == referenceID {
			return e.ID, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (tx *memoryTx) InsertJournal(ctx context.Context, entryNo string, d journals.Draft) (journals.JournalEntry, error) {
	if err := d.Validate(); err != nil {
		return journals.JournalEntry{}, err
	}
	for _, e := range append(append([]journals.JournalEntry(nil), tx.store.entries...), tx.entries...) {
		if e.ReferenceType == d.ReferenceType && e.ReferenceID == d.ReferenceID {
			return journals.JournalEntry{}, shared.ErrAlreadyPosted
		}
	}
	debit, credit := d.Totals()
	entry := journals.JournalEntry{
		ID:            uuid.New(),
		EntryNo:       entryNo,
		EntryDate:     d.EntryDate,
		Description:   d.Description,
		ReferenceType: d.ReferenceType,
		ReferenceID:   d.ReferenceID,
		TotalDebit:    debit,
		TotalCredit:   credit,
		Status:        journals.JournalStatusPosted,
	}
	for idx, line := range d.Lines {
		entry.Lines = append(entry.Lines, journals.JournalLine{
			ID:          uuid.New(),
			EntryID:     entry.ID,
			LineNo:      idx + 1,
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		})
	}
	tx.entries = append(tx.entries, entry)
	return entry, nil
}

type memoryRules []mappings.AccountMapping

func (m *memoryRules) ListActive(ctx context.Context, eventType string, side mappings.Side) ([]mappings.AccountMapping, error) {
	var out []mappings.AccountMapping
	for _, row := range *m {
		if row.EventType == eventType && row.Side == side && row.IsActive {
			out = append(out, row)
		}
	}
	return out, nil
}

type memorySettings map[string]uuid.UUID

func (m memorySettings) GetSetting(ctx context.Context, key string) (uuid.UUID, bool, error) {
	id, ok := m[key]
	return id, ok, nil
}

type memoryCodes map[string]uuid.UUID

func (m memoryCodes) FindByCode(ctx context.Context, code string) (accounts.Account, error) {
	id, ok := m[code]
	if !ok {
		return accounts.Account{}, shared.ErrAccountNotFound
	}
	return accounts.Account{ID: id, Code: code}, nil
}

type memoryBanks map[uuid.UUID]uuid.UUID

func (m memoryBanks) BankLedgerAccount(ctx context.Context, bankAccountID uuid.UUID) (uuid.UUID, error) {
	id, ok := m[bankAccountID]
	if !ok {
		return uuid.Nil, shared.ErrAccountNotFound
	}
	return id, nil
}

type stubPeriods struct {
	period periods.Period
	err    error
}

func (s stubPeriods) FindByDate(ctx context.Context, date time.Time) (periods.Period, error) {
	if s.err != nil {
		return periods.Period{}, s.err
	}
	if !s.period.Contains(date) {
		return periods.Period{}, periods.ErrNoPeriod
	}
	return s.period, nil
}

type capturePublisher struct {
	events []JournalPosted
}

func (p *capturePublisher) Publish(ctx context.Context, key string, value any) error {
	if evt, ok := value.(JournalPosted); ok {
		p.events = append(p.events, evt)
	}
	return nil
}

type countingRecorder map[string]int

func (r countingRecorder) ObservePosting(event, outcome string) {
	r[event+"/"+outcome]++
}
