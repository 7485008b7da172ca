package journals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Builder accumulates lines in memory. Nothing is persisted until the
// resulting draft validates.
type Builder struct {
	draft Draft
}

// NewBuilder starts a draft for the referenced source record.
func NewBuilder(referenceType string, referenceID uuid.UUID, date time.Time, description string) *Builder {
	return &Builder{draft: Draft{
		EntryDate:     date,
		Description:   description,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
	}}
}

// Debit appends a debit line. Zero amounts are skipped.
func (b *Builder) Debit(account uuid.UUID, amount decimal.Decimal, description string) *Builder {
	return b.add(LineInput{AccountID: account, Debit: Round(amount), Description: description})
}

// Credit appends a credit line. Zero amounts are skipped.
func (b *Builder) Credit(account uuid.UUID, amount decimal.Decimal, description string) *Builder {
	return b.add(LineInput{AccountID: account, Credit: Round(amount), Description: description})
}

func (b *Builder) add(line LineInput) *Builder {
	if line.Debit.IsZero() && line.Credit.IsZero() {
		return b
	}
	b.draft.Lines = append(b.draft.Lines, line)
	return b
}

// Len returns the number of non-zero lines collected so far.
func (b *Builder) Len() int {
	return len(b.draft.Lines)
}

// Build validates and returns the draft.
func (b *Builder) Build() (Draft, error) {
	d := b.draft
	d.Lines = append([]LineInput(nil), b.draft.Lines...)
	if err := d.Validate(); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// Round rounds a monetary amount to two decimal places.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// Monetary returns qty*unitCost rounded to two decimals.
func Monetary(qty, unitCost decimal.Decimal) decimal.Decimal {
	return Round(qty.Mul(unitCost))
}
