package journals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusPosted JournalStatus = "posted"
)

// JournalEntry captures posting metadata. Entries are immutable once
// written; corrections are new entries.
type JournalEntry struct {
	ID            uuid.UUID
	EntryNo       string
	EntryDate     time.Time
	Description   string
	ReferenceType string
	ReferenceID   uuid.UUID
	TotalDebit    decimal.Decimal
	TotalCredit   decimal.Decimal
	Status        JournalStatus
	CreatedAt     time.Time
	Lines         []JournalLine
}

// JournalLine stores a debit or a credit amount for an account, never both.
type JournalLine struct {
	ID          uuid.UUID
	EntryID     uuid.UUID
	LineNo      int
	AccountID   uuid.UUID
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}
