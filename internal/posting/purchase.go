package posting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailops/backoffice/internal/accounting/journals"
	"github.com/retailops/backoffice/internal/accounting/mappings"
	"github.com/retailops/backoffice/internal/accounting/numbering"
)

// ReceivePurchase records a goods receipt against a purchase and posts
// inventory against accounts payable.
func (e *Engine) ReceivePurchase(ctx context.Context, in ReceiveInput) (Result, error) {
	if in.PurchaseID == uuid.Nil {
		return Result{}, invalidf("purchase id required")
	}
	for idx, line := range in.Lines {
		if line.PurchaseLineID == uuid.Nil {
			return Result{}, invalidf("receipt line %d: purchase line id required", idx)
		}
		if !line.Qty.IsPositive() {
			return Result{}, invalidf("receipt line %d: quantity must be positive", idx)
		}
		if line.UnitCost != nil && line.UnitCost.IsNegative() {
			return Result{}, invalidf("receipt line %d: unit cost must not be negative", idx)
		}
	}
	return e.run(ctx, EventPurchaseReceipt, func(ctx context.Context, tx TxStore, today time.Time) (Result, error) {
		purchase, err := tx.LockPurchase(ctx, in.PurchaseID)
		if err != nil {
			return Result{}, err
		}
		receiptID := uuid.New()
		existing, claimed, err := e.claim(ctx, tx, in.IdempotencyKey, modulePurchaseReceipt, purchase.ID, receiptID)
		if err != nil {
			return Result{}, err
		}
		if !claimed {
			return e.replay(ctx, tx, EventPurchaseReceipt, existing)
		}
		if purchase.Status == StatusCompleted {
			return alreadyPosted(EventPurchaseReceipt, nil), nil
		}

		lines, total, complete, err := planReceipt(purchase, in.Lines)
		if err != nil {
			return Result{}, err
		}
		inventory, err := e.account(ctx, leg(EventPurchaseReceipt, "", mappings.SideDebit, SettingInventory))
		if err != nil {
			return Result{}, err
		}
		payable, err := e.account(ctx, leg(EventPurchaseReceipt, "", mappings.SideCredit, SettingPayable))
		if err != nil {
			return Result{}, err
		}
		draft, err := journals.NewBuilder(EventPurchaseReceipt, receiptID, today, "").
			Debit(inventory, total, "Inventory received").
			Credit(payable, total, "Payable to supplier").
			Build()
		if err != nil {
			return Result{}, err
		}

		receiptNo, err := tx.NextNumber(ctx, numbering.PrefixReceipt, today)
		if err != nil {
			return Result{}, err
		}
		draft.Description = fmt.Sprintf("Goods receipt %s for %s", receiptNo, purchase.PurchaseNo)
		entry, err := e.persist(ctx, tx, draft)
		if err != nil {
			return Result{}, err
		}
		receipt := Receipt{
			ID:             receiptID,
			ReceiptNo:      receiptNo,
			PurchaseID:     purchase.ID,
			ReceivedAt:     today,
			TotalAmount:    total,
			Lines:          lines,
			JournalEntryID: entry.ID,
		}
		if err := tx.InsertReceipt(ctx, receipt); err != nil {
			return Result{}, err
		}
		for _, line := range lines {
			if err := tx.AddReceivedQty(ctx, line.PurchaseLineID, line.Qty); err != nil {
				return Result{}, err
			}
		}
		status := PurchaseStatusPartial
		if complete {
			status = PurchaseStatusReceived
		}
		if err := tx.UpdatePurchase(ctx, purchase.ID, status, purchase.PaidAmount); err != nil {
			return Result{}, err
		}
		res := posted(EventPurchaseReceipt, entry, total)
		res.DocumentNo = receiptNo
		return res, nil
	})
}

// planReceipt turns the requested lines into receipt lines, rejecting
// quantities above what is still outstanding. complete reports whether the
// purchase is fully received afterwards.
func planReceipt(purchase Purchase, requested []ReceiptLineInput) (lines []ReceiptLine, total decimal.Decimal, complete bool, err error) {
	byID := make(map[uuid.UUID]PurchaseLine, len(purchase.Lines))
	for _, pl := range purchase.Lines {
		byID[pl.ID] = pl
	}
	if len(requested) == 0 {
		for _, pl := range purchase.Lines {
			if pl.Remaining().IsPositive() {
				requested = append(requested, ReceiptLineInput{PurchaseLineID: pl.ID, Qty: pl.Remaining()})
			}
		}
		if len(requested) == 0 {
			return nil, decimal.Zero, false, invalidf("purchase %s has nothing left to receive", purchase.PurchaseNo)
		}
	}

	receiving := make(map[uuid.UUID]decimal.Decimal, len(requested))
	for _, req := range requested {
		pl, ok := byID[req.PurchaseLineID]
		if !ok {
			return nil, decimal.Zero, false, invalidf("line %s does not belong to purchase %s", req.PurchaseLineID, purchase.PurchaseNo)
		}
		receiving[pl.ID] = receiving[pl.ID].Add(req.Qty)
		if receiving[pl.ID].GreaterThan(pl.Remaining()) {
			return nil, decimal.Zero, false, invalidf("line %s: receiving %s exceeds outstanding %s", pl.ID, receiving[pl.ID], pl.Remaining())
		}
		cost := pl.UnitCost
		if req.UnitCost != nil {
			cost = *req.UnitCost
		}
		lines = append(lines, ReceiptLine{ID: uuid.New(), PurchaseLineID: pl.ID, Qty: req.Qty, UnitCost: cost})
		total = total.Add(journals.Monetary(req.Qty, cost))
	}
	if !total.IsPositive() {
		return nil, decimal.Zero, false, invalidf("receipt for %s has no value", purchase.PurchaseNo)
	}

	complete = true
	for _, pl := range purchase.Lines {
		if pl.Remaining().Sub(receiving[pl.ID]).IsPositive() {
			complete = false
			break
		}
	}
	return lines, total, complete, nil
}

// PayPurchase records a supplier payment and posts accounts payable against
// cash or the ledger account of the selected bank account.
func (e *Engine) PayPurchase(ctx context.Context, in PaymentInput) (Result, error) {
	if in.PurchaseID == uuid.Nil {
		return Result{}, invalidf("purchase id required")
	}
	if !in.Amount.IsPositive() {
		return Result{}, invalidf("payment amount must be positive")
	}
	method := normalizeMethod(in.Method)
	if method == "" {
		method = MethodCash
		if in.BankAccountID != nil {
			method = MethodBank
		}
	}
	if method != MethodCash && method != MethodBank {
		return Result{}, invalidf("unsupported supplier payment method %q", in.Method)
	}
	amount := journals.Round(in.Amount)
	return e.run(ctx, EventPurchasePayment, func(ctx context.Context, tx TxStore, today time.Time) (Result, error) {
		purchase, err := tx.LockPurchase(ctx, in.PurchaseID)
		if err != nil {
			return Result{}, err
		}
		paymentID := uuid.New()
		existing, claimed, err := e.claim(ctx, tx, in.IdempotencyKey, modulePurchasePayment, purchase.ID, paymentID)
		if err != nil {
			return Result{}, err
		}
		if !claimed {
			return e.replay(ctx, tx, EventPurchasePayment, existing)
		}
		if purchase.TotalAmount.IsPositive() && amount.GreaterThan(purchase.Outstanding()) {
			return Result{}, invalidf("payment %s exceeds outstanding %s on %s", amount.StringFixed(2), purchase.Outstanding().StringFixed(2), purchase.PurchaseNo)
		}

		payable, err := e.account(ctx, leg(EventPurchasePayment, method, mappings.SideDebit, SettingPayable))
		if err != nil {
			return Result{}, err
		}
		var funding uuid.UUID
		if in.BankAccountID != nil {
			funding, err = e.bankAccount(ctx, EventPurchasePayment, *in.BankAccountID)
		} else {
			funding, err = e.settlement(ctx, EventPurchasePayment, mappings.SideCredit, method, "")
		}
		if err != nil {
			return Result{}, err
		}
		draft, err := journals.NewBuilder(EventPurchasePayment, paymentID, today, "").
			Debit(payable, amount, "Settle supplier payable").
			Credit(funding, amount, "Supplier payment").
			Build()
		if err != nil {
			return Result{}, err
		}

		paymentNo, err := tx.NextNumber(ctx, numbering.PrefixPayment, today)
		if err != nil {
			return Result{}, err
		}
		draft.Description = fmt.Sprintf("Supplier payment %s for %s", paymentNo, purchase.PurchaseNo)
		entry, err := e.persist(ctx, tx, draft)
		if err != nil {
			return Result{}, err
		}
		payment := Payment{
			ID:             paymentID,
			PaymentNo:      paymentNo,
			PurchaseID:     purchase.ID,
			Amount:         amount,
			Method:         method,
			BankAccountID:  in.BankAccountID,
			PaidAt:         today,
			JournalEntryID: entry.ID,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return Result{}, err
		}
		if err := tx.UpdatePurchase(ctx, purchase.ID, purchase.Status, purchase.PaidAmount.Add(amount)); err != nil {
			return Result{}, err
		}
		res := posted(EventPurchasePayment, entry, amount)
		res.DocumentNo = paymentNo
		return res, nil
	})
}

// ReturnPurchase posts goods returned to the supplier at their original cost.
func (e *Engine) ReturnPurchase(ctx context.Context, returnID uuid.UUID) (Result, error) {
	if returnID == uuid.Nil {
		return Result{}, invalidf("purchase return id required")
	}
	return e.run(ctx, EventPurchaseReturn, func(ctx context.Context, tx TxStore, today time.Time) (Result, error) {
		ret, err := tx.LockPurchaseReturn(ctx, returnID)
		if err != nil {
			return Result{}, err
		}
		if ret.Status == StatusCompleted {
			return alreadyPosted(EventPurchaseReturn, ret.JournalEntryID), nil
		}
		total := decimal.Zero
		for _, line := range ret.Lines {
			total = total.Add(journals.Monetary(line.Qty, line.UnitCost))
		}
		if !total.IsPositive() {
			return Result{}, invalidf("purchase return %s has no value", ret.ReturnNo)
		}
		payable, err := e.account(ctx, leg(EventPurchaseReturn, "", mappings.SideDebit, SettingPayable))
		if err != nil {
			return Result{}, err
		}
		inventory, err := e.account(ctx, leg(EventPurchaseReturn, "", mappings.SideCredit, SettingInventory))
		if err != nil {
			return Result{}, err
		}
		draft, err := journals.NewBuilder(EventPurchaseReturn, ret.ID, today, fmt.Sprintf("Purchase return %s", ret.ReturnNo)).
			Debit(payable, total, "Reduce supplier payable").
			Credit(inventory, total, "Inventory returned").
			Build()
		if err != nil {
			return Result{}, err
		}
		entry, err := e.persist(ctx, tx, draft)
		if err != nil {
			return Result{}, err
		}
		if err := tx.MarkCompleted(ctx, SourcePurchaseReturn, ret.ID, &entry.ID); err != nil {
			return Result{}, err
		}
		return posted(EventPurchaseReturn, entry, total), nil
	})
}
