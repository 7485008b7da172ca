package journals

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailops/backoffice/internal/accounting/shared"
)

// LineInput describes one journal line of a draft.
type LineInput struct {
	AccountID   uuid.UUID
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// Draft is a fully built, not yet persisted journal entry.
type Draft struct {
	EntryDate     time.Time
	Description   string
	ReferenceType string
	ReferenceID   uuid.UUID
	Lines         []LineInput
}

// Totals sums both sides of the draft.
func (d Draft) Totals() (debit, credit decimal.Decimal) {
	for _, line := range d.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// Validate ensures the draft is postable: every line one-sided and positive,
// both sides equal.
func (d Draft) Validate() error {
	if d.ReferenceType == "" {
		return errors.New("accounting: reference type required")
	}
	if d.ReferenceID == uuid.Nil {
		return errors.New("accounting: reference id required")
	}
	if len(d.Lines) < 2 {
		return shared.ErrTooFewLines
	}
	for idx, line := range d.Lines {
		if line.AccountID == uuid.Nil {
			return fmt.Errorf("accounting: line %d missing account", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("accounting: line %d negative amount", idx)
		}
		if line.Debit.IsZero() == line.Credit.IsZero() {
			return fmt.Errorf("accounting: line %d must carry exactly one of debit or credit", idx)
		}
	}
	debit, credit := d.Totals()
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s credit %s", shared.ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	return nil
}
