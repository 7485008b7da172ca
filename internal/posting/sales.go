package posting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailops/backoffice/internal/accounting/journals"
	"github.com/retailops/backoffice/internal/accounting/mappings"
)

// PostSalesOrder posts a completed sale. The settlement account receives the
// amount net of marketplace fees, revenue is recognised gross and the cost of
// the sold lines moves from inventory to COGS.
func (e *Engine) PostSalesOrder(ctx context.Context, orderID uuid.UUID) (Result, error) {
	if orderID == uuid.Nil {
		return Result{}, invalidf("sales order id required")
	}
	return e.run(ctx, EventSalesOrder, func(ctx context.Context, tx TxStore, today time.Time) (Result, error) {
		order, err := tx.LockSalesOrder(ctx, orderID)
		if err != nil {
			return Result{}, err
		}
		if order.Status == StatusCompleted {
			return alreadyPosted(EventSalesOrder, order.JournalEntryID), nil
		}
		gross := journals.Round(order.GrossAmount)
		fee := journals.Round(order.FeeAmount)
		if !gross.IsPositive() {
			return Result{}, invalidf("sales order %s has no value", order.OrderNo)
		}
		if fee.IsNegative() || fee.GreaterThan(gross) {
			return Result{}, invalidf("sales order %s: fee %s outside 0..%s", order.OrderNo, fee.StringFixed(2), gross.StringFixed(2))
		}
		marketplace := order.MarketplaceCode

		settle, err := e.settlement(ctx, EventSalesOrder, mappings.SideDebit, normalizeMethod(order.PaymentMethod), marketplace)
		if err != nil {
			return Result{}, err
		}
		revenue, err := e.account(ctx, mappings.Lookup{
			EventType:       EventSalesRevenue,
			Context:         marketplace,
			Side:            mappings.SideCredit,
			MarketplaceCode: marketplace,
			FallbackKey:     SettingRevenue,
		})
		if err != nil {
			return Result{}, err
		}
		var feeAccount uuid.UUID
		if fee.IsPositive() {
			if feeAccount, err = e.feeAccount(ctx, marketplace); err != nil {
				return Result{}, err
			}
		}

		b := journals.NewBuilder(EventSalesOrder, order.ID, today, fmt.Sprintf("Sales order %s", order.OrderNo)).
			Debit(settle, gross.Sub(fee), "Sales settlement").
			Debit(feeAccount, fee, "Marketplace fee").
			Credit(revenue, gross, "Sales revenue")
		cost := decimal.Zero
		for _, line := range order.Lines {
			cost = cost.Add(journals.Monetary(line.Qty, line.UnitCost))
		}
		if cost.IsPositive() {
			cogs, inventory, err := e.costAccounts(ctx)
			if err != nil {
				return Result{}, err
			}
			b.Debit(cogs, cost, "Cost of goods sold").Credit(inventory, cost, "Inventory sold")
		}
		draft, err := b.Build()
		if err != nil {
			return Result{}, err
		}
		entry, err := e.persist(ctx, tx, draft)
		if err != nil {
			return Result{}, err
		}
		if err := tx.MarkCompleted(ctx, SourceSalesOrder, order.ID, &entry.ID); err != nil {
			return Result{}, err
		}
		return posted(EventSalesOrder, entry, gross), nil
	})
}

// PostSalesReturn posts a customer return. Credit notes only adjust revenue
// and the receivable; real returns also bring the goods back into inventory
// at their original sale cost.
func (e *Engine) PostSalesReturn(ctx context.Context, returnID uuid.UUID) (Result, error) {
	if returnID == uuid.Nil {
		return Result{}, invalidf("sales return id required")
	}
	return e.run(ctx, EventSalesReturn, func(ctx context.Context, tx TxStore, today time.Time) (Result, error) {
		ret, err := tx.LockSalesReturn(ctx, returnID)
		if err != nil {
			return Result{}, err
		}
		if ret.Status == StatusCompleted {
			return alreadyPosted(EventSalesReturn, ret.JournalEntryID), nil
		}
		refund := journals.Round(ret.RefundAmount)
		if !refund.IsPositive() {
			return Result{}, invalidf("sales return %s: refund must be positive", ret.ReturnNo)
		}
		method := normalizeMethod(ret.RefundMethod)
		if method == "" {
			method = MethodCredit
		}
		contra, err := e.account(ctx, mappings.Lookup{
			EventType:       EventSalesReturn,
			Context:         ret.MarketplaceCode,
			Side:            mappings.SideDebit,
			MarketplaceCode: ret.MarketplaceCode,
			FallbackKey:     SettingSalesReturn,
		})
		if err != nil {
			return Result{}, err
		}
		settle, err := e.settlement(ctx, EventSalesReturn, mappings.SideCredit, method, ret.MarketplaceCode)
		if err != nil {
			return Result{}, err
		}

		b := journals.NewBuilder(EventSalesReturn, ret.ID, today, fmt.Sprintf("Sales return %s", ret.ReturnNo)).
			Debit(contra, refund, "Sales return").
			Credit(settle, refund, "Refund to customer")
		if !ret.IsCreditNote {
			cost := decimal.Zero
			for _, line := range ret.Lines {
				if line.Qty.GreaterThan(line.Returnable()) {
					return Result{}, invalidf("sales return %s: returning %s of %s sold, %s already returned",
						ret.ReturnNo, line.Qty, line.OrderedQty, line.ReturnedQty)
				}
				cost = cost.Add(journals.Monetary(line.Qty, line.UnitCost))
			}
			if cost.IsPositive() {
				cogs, inventory, err := e.costAccounts(ctx)
				if err != nil {
					return Result{}, err
				}
				b.Debit(inventory, cost, "Inventory returned").Credit(cogs, cost, "Reverse cost of goods sold")
			}
		}
		draft, err := b.Build()
		if err != nil {
			return Result{}, err
		}
		entry, err := e.persist(ctx, tx, draft)
		if err != nil {
			return Result{}, err
		}
		if err := tx.MarkCompleted(ctx, SourceSalesReturn, ret.ID, &entry.ID); err != nil {
			return Result{}, err
		}
		return posted(EventSalesReturn, entry, refund), nil
	})
}

// costAccounts resolves the COGS and inventory pair shared by sales and
// sales returns.
func (e *Engine) costAccounts(ctx context.Context) (cogs, inventory uuid.UUID, err error) {
	if cogs, err = e.account(ctx, leg(EventSalesCOGS, "", mappings.SideDebit, SettingCOGS)); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if inventory, err = e.account(ctx, leg(EventSalesCOGS, "", mappings.SideCredit, SettingInventory)); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return cogs, inventory, nil
}
