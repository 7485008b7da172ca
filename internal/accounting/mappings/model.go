package mappings

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Side selects the debit or credit leg of a posting.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

// DefaultContext is the lookup key used for rows stored without a context.
const DefaultContext = "default"

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideDebit || s == SideCredit
}

// AccountMapping is an administrator-maintained rule selecting the ledger
// account for an event, context and side.
type AccountMapping struct {
	ID              uuid.UUID `json:"id"`
	EventType       string    `json:"event_type"`
	EventContext    string    `json:"event_context,omitempty"`
	Side            Side      `json:"side"`
	AccountID       uuid.UUID `json:"account_id"`
	ProductType     string    `json:"product_type,omitempty"`
	MarketplaceCode string    `json:"marketplace_code,omitempty"`
	IsActive        bool      `json:"is_active"`
	Priority        int       `json:"priority"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Context returns the two-level lookup key of the row.
func (m AccountMapping) Context() string {
	return normalizeContext(m.EventContext)
}

func (m AccountMapping) specificity() int {
	n := 0
	if m.MarketplaceCode != "" {
		n++
	}
	if m.ProductType != "" {
		n++
	}
	return n
}

// LegacySetting is a flat setting_key -> account id pair.
type LegacySetting struct {
	Key   string
	Value string
}

// Lookup describes one account resolution request.
type Lookup struct {
	EventType       string
	Context         string
	Side            Side
	MarketplaceCode string
	ProductType     string
	// FallbackKey is the legacy setting consulted when no rule matches.
	FallbackKey string
	// FallbackCode is a chart of accounts code used as the last resort.
	FallbackCode string
}

func normalizeContext(ctx string) string {
	ctx = strings.TrimSpace(strings.ToLower(ctx))
	if ctx == "" {
		return DefaultContext
	}
	return ctx
}
