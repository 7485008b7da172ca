package posting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/retailops/backoffice/internal/accounting/journals"
	"github.com/retailops/backoffice/internal/accounting/mappings"
)

// PostPayout settles a marketplace receivable: the bank receives the net
// amount, the withheld fee is expensed and the receivable is cleared gross.
func (e *Engine) PostPayout(ctx context.Context, payoutID uuid.UUID) (Result, error) {
	if payoutID == uuid.Nil {
		return Result{}, invalidf("payout id required")
	}
	return e.run(ctx, EventMarketplacePayout, func(ctx context.Context, tx TxStore, today time.Time) (Result, error) {
		payout, err := tx.LockPayout(ctx, payoutID)
		if err != nil {
			return Result{}, err
		}
		if payout.Status == StatusCompleted {
			return alreadyPosted(EventMarketplacePayout, payout.JournalEntryID), nil
		}
		gross := journals.Round(payout.GrossAmount)
		fee := journals.Round(payout.FeeAmount)
		if !gross.IsPositive() {
			return Result{}, invalidf("payout %s has no value", payout.PayoutNo)
		}
		if fee.IsNegative() || fee.GreaterThan(gross) {
			return Result{}, invalidf("payout %s: fee %s outside 0..%s", payout.PayoutNo, fee.StringFixed(2), gross.StringFixed(2))
		}
		marketplace := payout.MarketplaceCode

		bank, err := e.account(ctx, mappings.Lookup{
			EventType:       EventMarketplacePayout,
			Context:         marketplace,
			Side:            mappings.SideDebit,
			MarketplaceCode: marketplace,
			FallbackKey:     SettingBank,
			FallbackCode:    e.cfg.DefaultBankCode,
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
		receivable, err := e.account(ctx, mappings.Lookup{
			EventType:       EventMarketplacePayout,
			Context:         marketplace,
			Side:            mappings.SideCredit,
			MarketplaceCode: marketplace,
			FallbackKey:     SettingMarketplaceReceivable,
		})
		if err != nil {
			return Result{}, err
		}

		draft, err := journals.NewBuilder(EventMarketplacePayout, payout.ID, today, fmt.Sprintf("Marketplace payout %s (%s)", payout.PayoutNo, marketplace)).
			Debit(bank, gross.Sub(fee), "Payout received").
			Debit(feeAccount, fee, "Marketplace fee").
			Credit(receivable, gross, "Clear marketplace receivable").
			Build()
		if err != nil {
			return Result{}, err
		}
		entry, err := e.persist(ctx, tx, draft)
		if err != nil {
			return Result{}, err
		}
		if err := tx.MarkCompleted(ctx, SourcePayout, payout.ID, &entry.ID); err != nil {
			return Result{}, err
		}
		return posted(EventMarketplacePayout, entry, gross), nil
	})
}
