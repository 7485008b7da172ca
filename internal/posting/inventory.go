package posting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailops/backoffice/internal/accounting/journals"
	"github.com/retailops/backoffice/internal/accounting/mappings"
	"github.com/retailops/backoffice/internal/accounting/numbering"
)

// stockLegs returns the debit and credit lookups for a stock gain or loss.
// Gains debit inventory against the gain account, losses debit the loss
// account against inventory.
func stockLegs(event, tag string) (debit, credit mappings.Lookup) {
	switch tag {
	case ContextIncrease, ContextSurplus:
		return leg(event, tag, mappings.SideDebit, SettingInventory),
			leg(event, tag, mappings.SideCredit, SettingStockGain)
	default:
		return leg(event, tag, mappings.SideDebit, SettingStockLoss),
			leg(event, tag, mappings.SideCredit, SettingInventory)
	}
}

func (e *Engine) stockAccounts(ctx context.Context, event, tag string) (debit, credit uuid.UUID, err error) {
	dl, cl := stockLegs(event, tag)
	if debit, err = e.account(ctx, dl); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if credit, err = e.account(ctx, cl); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return debit, credit, nil
}

// AdjustStock records a manual stock adjustment valued at |qty| x unit cost.
func (e *Engine) AdjustStock(ctx context.Context, in StockAdjustmentInput) (Result, error) {
	if in.VariantID == uuid.Nil {
		return Result{}, invalidf("variant id required")
	}
	if in.Qty.IsZero() {
		return Result{}, invalidf("adjustment quantity must not be zero")
	}
	if in.UnitCost.IsNegative() {
		return Result{}, invalidf("unit cost must not be negative")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return Result{}, invalidf("adjustment reason required")
	}
	amount := journals.Monetary(in.Qty.Abs(), in.UnitCost)
	if !amount.IsPositive() {
		return Result{}, invalidf("adjustment has no value")
	}
	direction := ContextDecrease
	if in.Qty.IsPositive() {
		direction = ContextIncrease
	}
	return e.run(ctx, EventStockAdjustment, func(ctx context.Context, tx TxStore, today time.Time) (Result, error) {
		adjustmentID := uuid.New()
		existing, claimed, err := e.claim(ctx, tx, in.IdempotencyKey, moduleStockAdjustment, in.VariantID, adjustmentID)
		if err != nil {
			return Result{}, err
		}
		if !claimed {
			return e.replay(ctx, tx, EventStockAdjustment, existing)
		}
		debit, credit, err := e.stockAccounts(ctx, EventStockAdjustment, direction)
		if err != nil {
			return Result{}, err
		}
		draft, err := journals.NewBuilder(EventStockAdjustment, adjustmentID, today, "").
			Debit(debit, amount, reason).
			Credit(credit, amount, reason).
			Build()
		if err != nil {
			return Result{}, err
		}

		adjustmentNo, err := tx.NextNumber(ctx, numbering.PrefixAdjustment, today)
		if err != nil {
			return Result{}, err
		}
		draft.Description = fmt.Sprintf("Stock adjustment %s (%s)", adjustmentNo, direction)
		entry, err := e.persist(ctx, tx, draft)
		if err != nil {
			return Result{}, err
		}
		adj := StockAdjustment{
			ID:             adjustmentID,
			AdjustmentNo:   adjustmentNo,
			VariantID:      in.VariantID,
			Qty:            in.Qty,
			UnitCost:       in.UnitCost,
			Amount:         amount,
			Reason:         reason,
			JournalEntryID: entry.ID,
		}
		if err := tx.InsertStockAdjustment(ctx, adj); err != nil {
			return Result{}, err
		}
		res := posted(EventStockAdjustment, entry, amount)
		res.DocumentNo = adjustmentNo
		return res, nil
	})
}

// PostOpname reconciles a stock count. Surpluses and shortages across all
// lines are summed into one entry; a count without differences completes
// the opname without posting anything.
func (e *Engine) PostOpname(ctx context.Context, opnameID uuid.UUID) (Result, error) {
	if opnameID == uuid.Nil {
		return Result{}, invalidf("opname id required")
	}
	return e.run(ctx, EventStockOpname, func(ctx context.Context, tx TxStore, today time.Time) (Result, error) {
		opname, err := tx.LockOpname(ctx, opnameID)
		if err != nil {
			return Result{}, err
		}
		if opname.Status == StatusCompleted {
			return alreadyPosted(EventStockOpname, opname.JournalEntryID), nil
		}
		surplus, shortage := decimal.Zero, decimal.Zero
		for _, line := range opname.Lines {
			diff := line.Difference()
			switch {
			case diff.IsPositive():
				surplus = surplus.Add(journals.Monetary(diff, line.UnitCost))
			case diff.IsNegative():
				shortage = shortage.Add(journals.Monetary(diff.Neg(), line.UnitCost))
			}
		}
		if surplus.IsZero() && shortage.IsZero() {
			if err := tx.MarkCompleted(ctx, SourceStockOpname, opname.ID, nil); err != nil {
				return Result{}, err
			}
			return Result{Event: EventStockOpname}, nil
		}

		b := journals.NewBuilder(EventStockOpname, opname.ID, today, fmt.Sprintf("Stock opname %s", opname.OpnameNo))
		if surplus.IsPositive() {
			debit, credit, err := e.stockAccounts(ctx, EventStockOpname, ContextSurplus)
			if err != nil {
				return Result{}, err
			}
			b.Debit(debit, surplus, "Stock count surplus").Credit(credit, surplus, "Stock count surplus")
		}
		if shortage.IsPositive() {
			debit, credit, err := e.stockAccounts(ctx, EventStockOpname, ContextShortage)
			if err != nil {
				return Result{}, err
			}
			b.Debit(debit, shortage, "Stock count shortage").Credit(credit, shortage, "Stock count shortage")
		}
		draft, err := b.Build()
		if err != nil {
			return Result{}, err
		}
		entry, err := e.persist(ctx, tx, draft)
		if err != nil {
			return Result{}, err
		}
		if err := tx.MarkCompleted(ctx, SourceStockOpname, opname.ID, &entry.ID); err != nil {
			return Result{}, err
		}
		return posted(EventStockOpname, entry, surplus.Add(shortage)), nil
	})
}
