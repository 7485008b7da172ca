package mappings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/retailops/backoffice/internal/accounting/accounts"
	"github.com/retailops/backoffice/internal/accounting/shared"
)

// Strategy is one resolution tier. ok=false means the tier has no answer and
// the next tier should be consulted.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, lookup Lookup) (accountID uuid.UUID, ok bool, err error)
}

// NotResolvedError names the lookup that every tier failed to answer.
type NotResolvedError struct {
	Lookup Lookup
}

func (e *NotResolvedError) Error() string {
	l := e.Lookup
	msg := fmt.Sprintf("no %s account mapped for %s/%s", l.Side, l.EventType, normalizeContext(l.Context))
	if l.MarketplaceCode != "" {
		msg += " (marketplace " + l.MarketplaceCode + ")"
	}
	if l.FallbackKey != "" {
		msg += "; legacy setting " + l.FallbackKey + " is empty"
	}
	return msg
}

func (e *NotResolvedError) Unwrap() error {
	return shared.ErrAccountNotResolved
}

// Resolver consults its strategies in order and returns the first answer.
type Resolver struct {
	strategies []Strategy
}

// NewResolver builds a resolver over ordered strategies.
func NewResolver(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// NewDefaultResolver wires rule, legacy setting and legacy code tiers.
func NewDefaultResolver(rules RuleSource, settings SettingSource, codes CodeSource) *Resolver {
	return NewResolver(RuleStrategy{Source: rules}, SettingStrategy{Source: settings}, CodeStrategy{Source: codes})
}

// Resolve returns the account for lookup or a *NotResolvedError.
func (r *Resolver) Resolve(ctx context.Context, lookup Lookup) (uuid.UUID, error) {
	if lookup.EventType == "" || !lookup.Side.Valid() {
		return uuid.Nil, fmt.Errorf("accounting: invalid lookup %q/%q", lookup.EventType, lookup.Side)
	}
	for _, s := range r.strategies {
		id, ok, err := s.Resolve(ctx, lookup)
		if err != nil {
			return uuid.Nil, fmt.Errorf("accounting: resolve via %s: %w", s.Name(), err)
		}
		if ok && id != uuid.Nil {
			return id, nil
		}
	}
	return uuid.Nil, &NotResolvedError{Lookup: lookup}
}

// RuleSource lists active mapping rows for an event and side.
type RuleSource interface {
	ListActive(ctx context.Context, eventType string, side Side) ([]AccountMapping, error)
}

// RuleStrategy resolves through the account mapping table.
type RuleStrategy struct {
	Source RuleSource
}

func (RuleStrategy) Name() string { return "mapping" }

func (s RuleStrategy) Resolve(ctx context.Context, lookup Lookup) (uuid.UUID, bool, error) {
	if s.Source == nil {
		return uuid.Nil, false, nil
	}
	rows, err := s.Source.ListActive(ctx, lookup.EventType, lookup.Side)
	if err != nil {
		return uuid.Nil, false, err
	}
	m, ok := SelectMapping(rows, lookup)
	if !ok {
		return uuid.Nil, false, nil
	}
	return m.AccountID, true, nil
}

// SelectMapping picks the winning row. Rows for the requested context are
// considered first; the default context is used only when none match.
// Within a tier: priority desc, qualifier specificity desc, updated_at desc,
// id desc.
func SelectMapping(rows []AccountMapping, lookup Lookup) (AccountMapping, bool) {
	want := normalizeContext(lookup.Context)
	var specific, fallback []AccountMapping
	for _, row := range rows {
		if !row.IsActive || row.EventType != lookup.EventType || row.Side != lookup.Side {
			continue
		}
		if !qualifierMatches(row.MarketplaceCode, lookup.MarketplaceCode) || !qualifierMatches(row.ProductType, lookup.ProductType) {
			continue
		}
		switch row.Context() {
		case want:
			specific = append(specific, row)
		case DefaultContext:
			fallback = append(fallback, row)
		}
	}
	if m, ok := best(specific); ok {
		return m, true
	}
	return best(fallback)
}

func best(rows []AccountMapping) (AccountMapping, bool) {
	if len(rows) == 0 {
		return AccountMapping{}, false
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.specificity() != b.specificity() {
			return a.specificity() > b.specificity()
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID.String() > b.ID.String()
	})
	return rows[0], true
}

func qualifierMatches(row, want string) bool {
	return row == "" || strings.EqualFold(row, want)
}

// SettingSource reads legacy key-value settings.
type SettingSource interface {
	GetSetting(ctx context.Context, key string) (uuid.UUID, bool, error)
}

// SettingStrategy resolves through the legacy settings store.
type SettingStrategy struct {
	Source SettingSource
}

func (SettingStrategy) Name() string { return "setting" }

func (s SettingStrategy) Resolve(ctx context.Context, lookup Lookup) (uuid.UUID, bool, error) {
	if s.Source == nil || lookup.FallbackKey == "" {
		return uuid.Nil, false, nil
	}
	return s.Source.GetSetting(ctx, lookup.FallbackKey)
}

// CodeSource looks accounts up by chart of accounts code.
type CodeSource interface {
	FindByCode(ctx context.Context, code string) (accounts.Account, error)
}

// CodeStrategy resolves through a hard-wired chart of accounts code.
type CodeStrategy struct {
	Source CodeSource
}

func (CodeStrategy) Name() string { return "account_code" }

func (s CodeStrategy) Resolve(ctx context.Context, lookup Lookup) (uuid.UUID, bool, error) {
	if s.Source == nil || lookup.FallbackCode == "" {
		return uuid.Nil, false, nil
	}
	acct, err := s.Source.FindByCode(ctx, lookup.FallbackCode)
	if err != nil {
		if errors.Is(err, shared.ErrAccountNotFound) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return acct.ID, true, nil
}
