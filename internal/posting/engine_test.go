package posting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/retailops/backoffice/internal/accounting/journals"
	"github.com/retailops/backoffice/internal/accounting/mappings"
	"github.com/retailops/backoffice/internal/accounting/periods"
	"github.com/retailops/backoffice/internal/accounting/shared"
)

var today = time.Date(2026, 10, 18, 10, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type chart struct {
	inventory, payable, cash, bank, receivable, marketplaceAR uuid.UUID
	revenue, salesReturn, fee, cogs, gain, loss               uuid.UUID
}

func newChart() chart {
	return chart{
		inventory: uuid.New(), payable: uuid.New(), cash: uuid.New(), bank: uuid.New(),
		receivable: uuid.New(), marketplaceAR: uuid.New(), revenue: uuid.New(),
		salesReturn: uuid.New(), fee: uuid.New(), cogs: uuid.New(), gain: uuid.New(), loss: uuid.New(),
	}
}

func (c chart) settings() memorySettings {
	return memorySettings{
		SettingInventory:             c.inventory,
		SettingPayable:               c.payable,
		SettingCash:                  c.cash,
		SettingBank:                  c.bank,
		SettingReceivable:            c.receivable,
		SettingMarketplaceReceivable: c.marketplaceAR,
		SettingRevenue:               c.revenue,
		SettingSalesReturn:           c.salesReturn,
		SettingMarketplaceFee:        c.fee,
		SettingCOGS:                  c.cogs,
		SettingStockGain:             c.gain,
		SettingStockLoss:             c.loss,
	}
}

type fixture struct {
	engine    *Engine
	store     *memoryStore
	chart     chart
	rules     *memoryRules
	settings  memorySettings
	codes     memoryCodes
	banks     memoryBanks
	publisher *capturePublisher
	metrics   countingRecorder
}

func openPeriod() periods.Period {
	return periods.Period{
		ID:        uuid.New(),
		Name:      "2026-10",
		StartDate: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC),
		IsOpen:    true,
	}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithPeriod(t, openPeriod())
}

func newFixtureWithPeriod(t *testing.T, period periods.Period) *fixture {
	t.Helper()
	return newFixtureWithClock(t, period, func() time.Time { return today })
}

func newFixtureWithClock(t *testing.T, period periods.Period, now func() time.Time) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemoryStore(),
		chart:     newChart(),
		rules:     &memoryRules{},
		codes:     memoryCodes{},
		banks:     memoryBanks{},
		publisher: &capturePublisher{},
		metrics:   countingRecorder{},
	}
	f.settings = f.chart.settings()
	guard := periods.NewGuard(stubPeriods{period: period})
	guard.WithNow(now)
	resolver := mappings.NewDefaultResolver(f.rules, f.settings, f.codes)
	f.engine = NewEngine(f.store, resolver, f.banks, guard, f.publisher, f.metrics, nil, Config{
		DefaultCashCode: "1-1001",
		DefaultBankCode: "1-1002",
	})
	return f
}

type expectedLine struct {
	account uuid.UUID
	debit   string
	credit  string
}

func dr(account uuid.UUID, amount string) expectedLine {
	return expectedLine{account: account, debit: amount}
}

func cr(account uuid.UUID, amount string) expectedLine {
	return expectedLine{account: account, credit: amount}
}

func requireBalanced(t *testing.T, entry journals.JournalEntry) {
	t.Helper()
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range entry.Lines {
		require.NotEqual(t, line.Debit.IsZero(), line.Credit.IsZero(), "line %d must be one-sided", line.LineNo)
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	require.True(t, debit.Equal(credit), "debit %s credit %s", debit, credit)
	require.True(t, entry.TotalDebit.Equal(debit))
	require.True(t, entry.TotalCredit.Equal(credit))
}

func requireLines(t *testing.T, entry journals.JournalEntry, want ...expectedLine) {
	t.Helper()
	requireBalanced(t, entry)
	require.Len(t, entry.Lines, len(want))
	for i, w := range want {
		line := entry.Lines[i]
		require.Equal(t, w.account, line.AccountID, "line %d account", i+1)
		if w.debit != "" {
			require.True(t, line.Debit.Equal(d(w.debit)), "line %d debit %s, want %s", i+1, line.Debit, w.debit)
		} else {
			require.True(t, line.Credit.Equal(d(w.credit)), "line %d credit %s, want %s", i+1, line.Credit, w.credit)
		}
	}
}

func (f *fixture) onlyEntry(t *testing.T) journals.JournalEntry {
	t.Helper()
	require.Len(t, f.store.entries, 1)
	return f.store.entries[0]
}

func (f *fixture) addPurchase(lines ...PurchaseLine) Purchase {
	p := Purchase{ID: uuid.New(), PurchaseNo: "PO-0001", SupplierID: uuid.New(), Status: "ordered"}
	for _, l := range lines {
		l.PurchaseID = p.ID
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		p.Lines = append(p.Lines, l)
		p.TotalAmount = p.TotalAmount.Add(journals.Monetary(l.Qty, l.UnitCost))
	}
	f.store.purchases[p.ID] = p
	return p
}

func (f *fixture) addSalesOrder(method, marketplace, gross, fee string, lines ...SalesOrderLine) SalesOrder {
	o := SalesOrder{
		ID:              uuid.New(),
		OrderNo:         "SO-0001",
		MarketplaceCode: marketplace,
		PaymentMethod:   method,
		GrossAmount:     d(gross),
		FeeAmount:       d(fee),
		Status:          "pending",
		OrderDate:       today,
		Lines:           lines,
	}
	f.store.orders[o.ID] = o
	return o
}

func TestPurchaseReceiptScenario(t *testing.T) {
	f := newFixture(t)
	p := f.addPurchase(
		PurchaseLine{Qty: d("5"), UnitCost: d("100")},
		PurchaseLine{Qty: d("2"), UnitCost: d("250")},
	)

	res, err := f.engine.ReceivePurchase(context.Background(), ReceiveInput{PurchaseID: p.ID})
	require.NoError(t, err)
	require.NotNil(t, res.JournalEntryID)
	require.True(t, res.Amount.Equal(d("1000")))
	require.Equal(t, "RCV-202610-0001", res.DocumentNo)

	entry := f.onlyEntry(t)
	requireLines(t, entry, dr(f.chart.inventory, "1000"), cr(f.chart.payable, "1000"))
	require.Equal(t, EventPurchaseReceipt, entry.ReferenceType)
	require.Equal(t, "JE-202610-0001", entry.EntryNo)

	require.Len(t, f.store.receipts, 1)
	receipt := f.store.receipts[0]
	require.Equal(t, entry.ReferenceID, receipt.ID)
	require.Equal(t, entry.ID, receipt.JournalEntryID)
	require.Equal(t, PurchaseStatusReceived, f.store.purchases[p.ID].Status)
	for _, l := range f.store.purchases[p.ID].Lines {
		require.True(t, l.Remaining().IsZero())
	}
	require.Len(t, f.publisher.events, 1)
	require.Equal(t, entry.ID, f.publisher.events[0].EntryID)
	require.Equal(t, 1, f.metrics[EventPurchaseReceipt+"/"+OutcomePosted])
}

func TestPurchaseReceiptPartialThenOverReceipt(t *testing.T) {
	f := newFixture(t)
	p := f.addPurchase(PurchaseLine{Qty: d("5"), UnitCost: d("100")})
	line := p.Lines[0].ID
	cost := d("110")

	res, err := f.engine.ReceivePurchase(context.Background(), ReceiveInput{
		PurchaseID: p.ID,
		Lines:      []ReceiptLineInput{{PurchaseLineID: line, Qty: d("2"), UnitCost: &cost}},
	})
	require.NoError(t, err)
	require.True(t, res.Amount.Equal(d("220")))
	require.Equal(t, PurchaseStatusPartial, f.store.purchases[p.ID].Status)

	_, err = f.engine.ReceivePurchase(context.Background(), ReceiveInput{
		PurchaseID: p.ID,
		Lines:      []ReceiptLineInput{{PurchaseLineID: line, Qty: d("4")}},
	})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Len(t, f.store.entries, 1)
}

func TestPurchaseReceiptRepeatedKeyReplays(t *testing.T) {
	f := newFixture(t)
	p := f.addPurchase(PurchaseLine{Qty: d("10"), UnitCost: d("50")})
	in := ReceiveInput{
		PurchaseID:     p.ID,
		Lines:          []ReceiptLineInput{{PurchaseLineID: p.Lines[0].ID, Qty: d("1")}},
		IdempotencyKey: "grn-42",
	}

	first, err := f.engine.ReceivePurchase(context.Background(), in)
	require.NoError(t, err)
	second, err := f.engine.ReceivePurchase(context.Background(), in)
	require.NoError(t, err)
	require.True(t, second.AlreadyPosted)
	require.Equal(t, *first.JournalEntryID, *second.JournalEntryID)
	require.Len(t, f.store.entries, 1)
	require.Len(t, f.store.receipts, 1)
}

func TestPurchaseReceiptKeyFromAnotherPurchaseIsRejected(t *testing.T) {
	f := newFixture(t)
	a := f.addPurchase(PurchaseLine{Qty: d("2"), UnitCost: d("50")})
	b := f.addPurchase(PurchaseLine{Qty: d("3"), UnitCost: d("70")})

	_, err := f.engine.ReceivePurchase(context.Background(), ReceiveInput{PurchaseID: a.ID, IdempotencyKey: "grn-7"})
	require.NoError(t, err)

	res, err := f.engine.ReceivePurchase(context.Background(), ReceiveInput{PurchaseID: b.ID, IdempotencyKey: "grn-7"})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.False(t, res.AlreadyPosted)
	require.Len(t, f.store.entries, 1)
	require.Len(t, f.store.receipts, 1)
	require.NotEqual(t, StatusCompleted, f.store.purchases[b.ID].Status)
	require.True(t, f.store.purchases[b.ID].Lines[0].ReceivedQty.IsZero())
}

func TestIdempotencyKeyFromAnotherModuleIsRejected(t *testing.T) {
	f := newFixture(t)
	p := f.addPurchase(PurchaseLine{Qty: d("1"), UnitCost: d("10")})

	_, err := f.engine.AdjustStock(context.Background(), StockAdjustmentInput{
		VariantID: uuid.New(), Qty: d("2"), UnitCost: d("5"), Reason: "recount", IdempotencyKey: "shared-1",
	})
	require.NoError(t, err)

	_, err = f.engine.PayPurchase(context.Background(), PaymentInput{
		PurchaseID: p.ID, Amount: d("10"), Method: MethodCash, IdempotencyKey: "shared-1",
	})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Empty(t, f.store.payments)
	require.Len(t, f.store.entries, 1)
}

func TestPurchaseReceiptOnCompletedPurchaseIsNoop(t *testing.T) {
	f := newFixture(t)
	p := f.addPurchase(PurchaseLine{Qty: d("1"), UnitCost: d("10")})
	p.Status = StatusCompleted
	f.store.purchases[p.ID] = p

	res, err := f.engine.ReceivePurchase(context.Background(), ReceiveInput{PurchaseID: p.ID})
	require.NoError(t, err)
	require.True(t, res.AlreadyPosted)
	require.Empty(t, f.store.entries)
}

func TestPurchaseReceiptUnresolvedAccountWritesNothing(t *testing.T) {
	f := newFixture(t)
	delete(f.settings, SettingPayable)
	p := f.addPurchase(PurchaseLine{Qty: d("1"), UnitCost: d("10")})

	_, err := f.engine.ReceivePurchase(context.Background(), ReceiveInput{PurchaseID: p.ID})
	require.ErrorIs(t, err, shared.ErrAccountNotResolved)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.Contains(t, err.Error(), SettingPayable)
	require.Empty(t, f.store.entries)
	require.Empty(t, f.store.receipts)
	require.Empty(t, f.store.sequences)
	require.Equal(t, "ordered", f.store.purchases[p.ID].Status)
	require.Equal(t, 1, f.metrics[EventPurchaseReceipt+"/"+OutcomeRejected])
}

func TestMappingRowTakesPrecedenceOverSetting(t *testing.T) {
	f := newFixture(t)
	mapped := uuid.New()
	*f.rules = append(*f.rules, mappings.AccountMapping{
		ID: uuid.New(), EventType: EventPurchaseReceipt, Side: mappings.SideDebit,
		AccountID: mapped, IsActive: true, Priority: 10,
	})
	p := f.addPurchase(PurchaseLine{Qty: d("5"), UnitCost: d("100")})

	_, err := f.engine.ReceivePurchase(context.Background(), ReceiveInput{PurchaseID: p.ID})
	require.NoError(t, err)
	requireLines(t, f.onlyEntry(t), dr(mapped, "500"), cr(f.chart.payable, "500"))
}

func TestSupplierPaymentCreditsLinkedBankLedger(t *testing.T) {
	f := newFixture(t)
	bankAccount, ledger := uuid.New(), uuid.New()
	f.banks[bankAccount] = ledger
	p := f.addPurchase(PurchaseLine{Qty: d("10"), UnitCost: d("100")})

	res, err := f.engine.PayPurchase(context.Background(), PaymentInput{
		PurchaseID:    p.ID,
		Amount:        d("400"),
		Method:        "bank",
		BankAccountID: &bankAccount,
	})
	require.NoError(t, err)
	require.Equal(t, "PAY-202610-0001", res.DocumentNo)
	requireLines(t, f.onlyEntry(t), dr(f.chart.payable, "400"), cr(ledger, "400"))
	require.True(t, f.store.purchases[p.ID].PaidAmount.Equal(d("400")))
	require.Len(t, f.store.payments, 1)
	require.Equal(t, MethodBank, f.store.payments[0].Method)
}

func TestSupplierPaymentFallsBackToDefaultCashCode(t *testing.T) {
	f := newFixture(t)
	delete(f.settings, SettingCash)
	cashByCode := uuid.New()
	f.codes["1-1001"] = cashByCode
	p := f.addPurchase(PurchaseLine{Qty: d("1"), UnitCost: d("300")})

	_, err := f.engine.PayPurchase(context.Background(), PaymentInput{PurchaseID: p.ID, Amount: d("300")})
	require.NoError(t, err)
	requireLines(t, f.onlyEntry(t), dr(f.chart.payable, "300"), cr(cashByCode, "300"))
}

func TestSupplierPaymentRejectsUnlinkedBankAndOverpayment(t *testing.T) {
	f := newFixture(t)
	p := f.addPurchase(PurchaseLine{Qty: d("1"), UnitCost: d("300")})
	bankAccount := uuid.New()

	_, err := f.engine.PayPurchase(context.Background(), PaymentInput{PurchaseID: p.ID, Amount: d("100"), BankAccountID: &bankAccount})
	require.ErrorIs(t, err, ErrBankLedgerUnresolved)

	_, err = f.engine.PayPurchase(context.Background(), PaymentInput{PurchaseID: p.ID, Amount: d("301")})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Empty(t, f.store.entries)
	require.Empty(t, f.store.payments)
}

func TestPurchaseReturnUsesOriginalCost(t *testing.T) {
	f := newFixture(t)
	ret := PurchaseReturn{
		ID: uuid.New(), ReturnNo: "PR-0001", PurchaseID: uuid.New(), Status: "pending",
		Lines: []PurchaseReturnLine{
			{PurchaseLineID: uuid.New(), Qty: d("2"), UnitCost: d("125")},
			{PurchaseLineID: uuid.New(), Qty: d("1"), UnitCost: d("50")},
		},
	}
	f.store.purchaseReturns[ret.ID] = ret

	res, err := f.engine.ReturnPurchase(context.Background(), ret.ID)
	require.NoError(t, err)
	entry := f.onlyEntry(t)
	requireLines(t, entry, dr(f.chart.payable, "300"), cr(f.chart.inventory, "300"))
	require.Equal(t, StatusCompleted, f.store.purchaseReturns[ret.ID].Status)
	require.Equal(t, entry.ID, *f.store.purchaseReturns[ret.ID].JournalEntryID)
	require.Equal(t, entry.ID, *res.JournalEntryID)
}

func TestSalesOrderMarketplaceWithFeeAndCost(t *testing.T) {
	f := newFixture(t)
	shopeeRevenue := uuid.New()
	*f.rules = append(*f.rules, mappings.AccountMapping{
		ID: uuid.New(), EventType: EventSalesRevenue, EventContext: "shopee", Side: mappings.SideCredit,
		AccountID: shopeeRevenue, IsActive: true, Priority: 1,
	})
	order := f.addSalesOrder("marketplace", "shopee", "100000", "5000",
		SalesOrderLine{ID: uuid.New(), Qty: d("2"), UnitPrice: d("50000"), UnitCost: d("30000")})

	res, err := f.engine.PostSalesOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.True(t, res.Amount.Equal(d("100000")))
	requireLines(t, f.onlyEntry(t),
		dr(f.chart.marketplaceAR, "95000"),
		dr(f.chart.fee, "5000"),
		cr(shopeeRevenue, "100000"),
		dr(f.chart.cogs, "60000"),
		cr(f.chart.inventory, "60000"),
	)
	require.Equal(t, StatusCompleted, f.store.orders[order.ID].Status)
}

func TestSalesOrderUsesGenericRevenueForUnmappedMarketplace(t *testing.T) {
	f := newFixture(t)
	*f.rules = append(*f.rules, mappings.AccountMapping{
		ID: uuid.New(), EventType: EventSalesRevenue, EventContext: "shopee", Side: mappings.SideCredit,
		AccountID: uuid.New(), IsActive: true,
	})
	order := f.addSalesOrder("cash", "tokopedia", "250", "0")

	_, err := f.engine.PostSalesOrder(context.Background(), order.ID)
	require.NoError(t, err)
	requireLines(t, f.onlyEntry(t), dr(f.chart.cash, "250"), cr(f.chart.revenue, "250"))
}

func TestSalesOrderFeeWithoutAccountFails(t *testing.T) {
	f := newFixture(t)
	delete(f.settings, SettingMarketplaceFee)
	order := f.addSalesOrder("bank", "lazada", "1000", "50")

	_, err := f.engine.PostSalesOrder(context.Background(), order.ID)
	require.ErrorIs(t, err, ErrFeeAccountMissing)
	require.ErrorIs(t, err, shared.ErrAccountNotResolved)
	require.Empty(t, f.store.entries)
	require.Equal(t, "pending", f.store.orders[order.ID].Status)
}

func TestSalesOrderWithoutFeeNeedsNoFeeAccount(t *testing.T) {
	f := newFixture(t)
	delete(f.settings, SettingMarketplaceFee)
	order := f.addSalesOrder("credit", "", "1000", "0")

	_, err := f.engine.PostSalesOrder(context.Background(), order.ID)
	require.NoError(t, err)
	requireLines(t, f.onlyEntry(t), dr(f.chart.receivable, "1000"), cr(f.chart.revenue, "1000"))
}

func TestSalesOrderPostedOnceOnly(t *testing.T) {
	f := newFixture(t)
	order := f.addSalesOrder("cash", "", "500", "0")

	first, err := f.engine.PostSalesOrder(context.Background(), order.ID)
	require.NoError(t, err)
	second, err := f.engine.PostSalesOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.True(t, second.AlreadyPosted)
	require.Equal(t, *first.JournalEntryID, *second.JournalEntryID)
	require.Len(t, f.store.entries, 1)
	require.Len(t, f.publisher.events, 1)
	require.Equal(t, 1, f.metrics[EventSalesOrder+"/"+OutcomeAlreadyPosted])
}

func TestSalesOrderMissingSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.PostSalesOrder(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrSourceNotFound)
}

func salesReturn(creditNote bool) SalesReturn {
	return SalesReturn{
		ID: uuid.New(), ReturnNo: "SR-0001", SalesOrderID: uuid.New(),
		RefundAmount: d("150"), RefundMethod: "credit", IsCreditNote: creditNote, Status: "approved",
		Lines: []SalesReturnLine{{SalesOrderLineID: uuid.New(), Qty: d("1"), OrderedQty: d("2"), UnitCost: d("90")}},
	}
}

func TestCreditNoteProducesTwoLines(t *testing.T) {
	f := newFixture(t)
	ret := salesReturn(true)
	f.store.salesReturns[ret.ID] = ret

	_, err := f.engine.PostSalesReturn(context.Background(), ret.ID)
	require.NoError(t, err)
	requireLines(t, f.onlyEntry(t), dr(f.chart.salesReturn, "150"), cr(f.chart.receivable, "150"))
}

func TestSalesReturnRestoresInventory(t *testing.T) {
	f := newFixture(t)
	ret := salesReturn(false)
	f.store.salesReturns[ret.ID] = ret

	_, err := f.engine.PostSalesReturn(context.Background(), ret.ID)
	require.NoError(t, err)
	requireLines(t, f.onlyEntry(t),
		dr(f.chart.salesReturn, "150"),
		cr(f.chart.receivable, "150"),
		dr(f.chart.inventory, "90"),
		cr(f.chart.cogs, "90"),
	)
	require.Equal(t, StatusCompleted, f.store.salesReturns[ret.ID].Status)
}

func TestSalesReturnRejectsMoreThanSold(t *testing.T) {
	f := newFixture(t)
	ret := salesReturn(false)
	ret.Lines[0].Qty = d("3")
	f.store.salesReturns[ret.ID] = ret

	_, err := f.engine.PostSalesReturn(context.Background(), ret.ID)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Empty(t, f.store.entries)
}

func TestSalesReturnCountsEarlierReturns(t *testing.T) {
	f := newFixture(t)
	first := salesReturn(false)
	first.Lines[0].Qty = d("2")
	first.Lines[0].OrderedQty = d("3")
	f.store.salesReturns[first.ID] = first

	second := salesReturn(false)
	second.ID, second.ReturnNo, second.SalesOrderID = uuid.New(), "SR-0002", first.SalesOrderID
	second.Lines = []SalesReturnLine{{
		SalesOrderLineID: first.Lines[0].SalesOrderLineID, Qty: d("2"), OrderedQty: d("3"), UnitCost: d("90"),
	}}
	f.store.salesReturns[second.ID] = second

	_, err := f.engine.PostSalesReturn(context.Background(), first.ID)
	require.NoError(t, err)

	_, err = f.engine.PostSalesReturn(context.Background(), second.ID)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.ErrorContains(t, err, "already returned")
	require.Len(t, f.store.entries, 1)
	require.NotEqual(t, StatusCompleted, f.store.salesReturns[second.ID].Status)

	// The single unit left can still go back.
	second.Lines[0].Qty = d("1")
	f.store.salesReturns[second.ID] = second
	_, err = f.engine.PostSalesReturn(context.Background(), second.ID)
	require.NoError(t, err)
	require.Len(t, f.store.entries, 2)
}

func TestStockAdjustmentIncrease(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.AdjustStock(context.Background(), StockAdjustmentInput{
		VariantID: uuid.New(), Qty: d("10"), UnitCost: d("1000"), Reason: "found in backroom",
	})
	require.NoError(t, err)
	require.Equal(t, "ADJ-202610-0001", res.DocumentNo)
	require.True(t, res.Amount.Equal(d("10000")))
	requireLines(t, f.onlyEntry(t), dr(f.chart.inventory, "10000"), cr(f.chart.gain, "10000"))
	require.Len(t, f.store.adjustments, 1)
}

func TestStockAdjustmentDecrease(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.AdjustStock(context.Background(), StockAdjustmentInput{
		VariantID: uuid.New(), Qty: d("-3"), UnitCost: d("500"), Reason: "damaged",
	})
	require.NoError(t, err)
	requireLines(t, f.onlyEntry(t), dr(f.chart.loss, "1500"), cr(f.chart.inventory, "1500"))
}

func TestStockAdjustmentContextMapping(t *testing.T) {
	f := newFixture(t)
	shrinkage := uuid.New()
	*f.rules = append(*f.rules, mappings.AccountMapping{
		ID: uuid.New(), EventType: EventStockAdjustment, EventContext: ContextDecrease, Side: mappings.SideDebit,
		AccountID: shrinkage, IsActive: true, Priority: 10,
	})

	_, err := f.engine.AdjustStock(context.Background(), StockAdjustmentInput{
		VariantID: uuid.New(), Qty: d("-1"), UnitCost: d("20"), Reason: "theft",
	})
	require.NoError(t, err)
	_, err = f.engine.AdjustStock(context.Background(), StockAdjustmentInput{
		VariantID: uuid.New(), Qty: d("1"), UnitCost: d("20"), Reason: "recount",
	})
	require.NoError(t, err)
	require.Len(t, f.store.entries, 2)
	requireLines(t, f.store.entries[0], dr(shrinkage, "20"), cr(f.chart.inventory, "20"))
	requireLines(t, f.store.entries[1], dr(f.chart.inventory, "20"), cr(f.chart.gain, "20"))
}

func TestStockAdjustmentValidation(t *testing.T) {
	f := newFixture(t)
	cases := []StockAdjustmentInput{
		{VariantID: uuid.New(), Qty: d("0"), UnitCost: d("10"), Reason: "x"},
		{VariantID: uuid.New(), Qty: d("1"), UnitCost: d("-10"), Reason: "x"},
		{VariantID: uuid.New(), Qty: d("1"), UnitCost: d("10"), Reason: " "},
		{Qty: d("1"), UnitCost: d("10"), Reason: "x"},
		{VariantID: uuid.New(), Qty: d("1"), UnitCost: d("0"), Reason: "x"},
	}
	for _, in := range cases {
		_, err := f.engine.AdjustStock(context.Background(), in)
		require.ErrorIs(t, err, ErrInvalidInput)
	}
	require.Zero(t, f.store.txCount)
}

func TestStockOpnameWithoutDifferencesSkipsJournal(t *testing.T) {
	f := newFixture(t)
	op := Opname{ID: uuid.New(), OpnameNo: "SO-2026-10", Status: "counted", Lines: []OpnameLine{
		{VariantID: uuid.New(), SystemQty: d("4"), CountedQty: d("4"), UnitCost: d("10")},
	}}
	f.store.opnames[op.ID] = op

	res, err := f.engine.PostOpname(context.Background(), op.ID)
	require.NoError(t, err)
	require.Nil(t, res.JournalEntryID)
	require.False(t, res.AlreadyPosted)
	require.Empty(t, f.store.entries)
	require.Equal(t, StatusCompleted, f.store.opnames[op.ID].Status)
	require.Empty(t, f.publisher.events)
}

func TestStockOpnameSumsSurplusAndShortage(t *testing.T) {
	f := newFixture(t)
	op := Opname{ID: uuid.New(), OpnameNo: "SO-2026-10", Status: "counted", Lines: []OpnameLine{
		{VariantID: uuid.New(), SystemQty: d("4"), CountedQty: d("6"), UnitCost: d("10")},
		{VariantID: uuid.New(), SystemQty: d("1"), CountedQty: d("2"), UnitCost: d("5")},
		{VariantID: uuid.New(), SystemQty: d("9"), CountedQty: d("7"), UnitCost: d("30")},
		{VariantID: uuid.New(), SystemQty: d("3"), CountedQty: d("3"), UnitCost: d("99")},
	}}
	f.store.opnames[op.ID] = op

	res, err := f.engine.PostOpname(context.Background(), op.ID)
	require.NoError(t, err)
	require.NotNil(t, res.JournalEntryID)
	requireLines(t, f.onlyEntry(t),
		dr(f.chart.inventory, "25"),
		cr(f.chart.gain, "25"),
		dr(f.chart.loss, "60"),
		cr(f.chart.inventory, "60"),
	)
}

func TestMarketplacePayout(t *testing.T) {
	f := newFixture(t)
	payout := Payout{ID: uuid.New(), PayoutNo: "PO-SHP-01", MarketplaceCode: "shopee", GrossAmount: d("1000000"), FeeAmount: d("45000"), Status: "pending"}
	f.store.payouts[payout.ID] = payout

	_, err := f.engine.PostPayout(context.Background(), payout.ID)
	require.NoError(t, err)
	requireLines(t, f.onlyEntry(t),
		dr(f.chart.bank, "955000"),
		dr(f.chart.fee, "45000"),
		cr(f.chart.marketplaceAR, "1000000"),
	)
	require.Equal(t, StatusCompleted, f.store.payouts[payout.ID].Status)
}

func TestCustomerPaymentUsesLinkedBankLedger(t *testing.T) {
	f := newFixture(t)
	customer, bankAccount, ledger := uuid.New(), uuid.New(), uuid.New()
	f.store.customerBanks[customer] = bankAccount
	f.banks[bankAccount] = ledger
	payment := CustomerPayment{ID: uuid.New(), PaymentNo: "CP-1", CustomerID: customer, Amount: d("700"), Method: "transfer", Status: "pending"}
	f.store.customerPayments[payment.ID] = payment

	_, err := f.engine.PostCustomerPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	requireLines(t, f.onlyEntry(t), dr(ledger, "700"), cr(f.chart.receivable, "700"))
}

func TestCustomerPaymentCash(t *testing.T) {
	f := newFixture(t)
	payment := CustomerPayment{ID: uuid.New(), PaymentNo: "CP-2", CustomerID: uuid.New(), Amount: d("80"), Method: "cash", Status: "pending"}
	f.store.customerPayments[payment.ID] = payment

	_, err := f.engine.PostCustomerPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	requireLines(t, f.onlyEntry(t), dr(f.chart.cash, "80"), cr(f.chart.receivable, "80"))
}

func TestCustomerPaymentBankWithoutLedgerOrDefault(t *testing.T) {
	f := newFixture(t)
	delete(f.settings, SettingBank)
	payment := CustomerPayment{ID: uuid.New(), PaymentNo: "CP-3", CustomerID: uuid.New(), Amount: d("80"), Method: "bank", Status: "pending"}
	f.store.customerPayments[payment.ID] = payment

	_, err := f.engine.PostCustomerPayment(context.Background(), payment.ID)
	require.ErrorIs(t, err, ErrBankLedgerUnresolved)
	require.Empty(t, f.store.entries)
	require.Equal(t, "pending", f.store.customerPayments[payment.ID].Status)
}

func TestClosedPeriodBlocksEveryPosting(t *testing.T) {
	closed := openPeriod()
	closed.IsOpen = false
	f := newFixtureWithPeriod(t, closed)
	p := f.addPurchase(PurchaseLine{Qty: d("1"), UnitCost: d("10")})
	order := f.addSalesOrder("cash", "", "10", "0")
	ctx := context.Background()

	calls := map[string]func() (Result, error){
		EventPurchaseReceipt: func() (Result, error) { return f.engine.ReceivePurchase(ctx, ReceiveInput{PurchaseID: p.ID}) },
		EventPurchasePayment: func() (Result, error) {
			return f.engine.PayPurchase(ctx, PaymentInput{PurchaseID: p.ID, Amount: d("1")})
		},
		EventPurchaseReturn: func() (Result, error) { return f.engine.ReturnPurchase(ctx, uuid.New()) },
		EventSalesOrder:     func() (Result, error) { return f.engine.PostSalesOrder(ctx, order.ID) },
		EventSalesReturn:    func() (Result, error) { return f.engine.PostSalesReturn(ctx, uuid.New()) },
		EventStockAdjustment: func() (Result, error) {
			return f.engine.AdjustStock(ctx, StockAdjustmentInput{VariantID: uuid.New(), Qty: d("1"), UnitCost: d("1"), Reason: "x"})
		},
		EventStockOpname:       func() (Result, error) { return f.engine.PostOpname(ctx, uuid.New()) },
		EventMarketplacePayout: func() (Result, error) { return f.engine.PostPayout(ctx, uuid.New()) },
		EventCustomerPayment:   func() (Result, error) { return f.engine.PostCustomerPayment(ctx, uuid.New()) },
	}
	for event, call := range calls {
		_, err := call()
		require.ErrorIs(t, err, shared.ErrPeriodClosed, event)
		var closedErr *periods.ClosedError
		require.True(t, errors.As(err, &closedErr), event)
		require.True(t, strings.Contains(closedErr.Message, "2026-10"), event)
		require.Equal(t, 1, f.metrics[event+"/"+OutcomeBlocked], event)
	}
	require.Zero(t, f.store.txCount)
	require.Empty(t, f.store.entries)
	require.Equal(t, "pending", f.store.orders[order.ID].Status)
}

func TestPostingAtMidnightUsesCheckedDate(t *testing.T) {
	readings := []time.Time{
		time.Date(2026, 10, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2026, 11, 1, 0, 0, 1, 0, time.UTC),
	}
	calls := 0
	f := newFixtureWithClock(t, openPeriod(), func() time.Time {
		now := readings[min(calls, len(readings)-1)]
		calls++
		return now
	})
	p := f.addPurchase(PurchaseLine{Qty: d("1"), UnitCost: d("40")})

	res, err := f.engine.ReceivePurchase(context.Background(), ReceiveInput{PurchaseID: p.ID})
	require.NoError(t, err)
	require.Equal(t, "RCV-202610-0001", res.DocumentNo)
	entry := f.onlyEntry(t)
	require.Equal(t, "JE-202610-0001", entry.EntryNo)
	require.Equal(t, "2026-10-31", entry.EntryDate.Format(time.DateOnly))
	require.Equal(t, 1, calls)
}

func TestMissingPeriodBlocksPosting(t *testing.T) {
	november := openPeriod()
	november.StartDate = time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	november.EndDate = time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC)
	f := newFixtureWithPeriod(t, november)
	order := f.addSalesOrder("cash", "", "10", "0")

	_, err := f.engine.PostSalesOrder(context.Background(), order.ID)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	require.Contains(t, err.Error(), "no accounting period defined for 2026-10-18")
	require.Empty(t, f.store.entries)
}
