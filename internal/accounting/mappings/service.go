package mappings

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/retailops/backoffice/internal/accounting/shared"
)

// Invalidator drops cached resolver state.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Service exposes the administrative side of the mapping table.
type Service struct {
	repo  Repository
	cache Invalidator
}

// NewService constructs the mapping admin service. cache may be nil.
func NewService(repo Repository, cache Invalidator) *Service {
	return &Service{repo: repo, cache: cache}
}

// List returns mapping rows, optionally for a single event type.
func (s *Service) List(ctx context.Context, eventType string) ([]AccountMapping, error) {
	return s.repo.List(ctx, strings.TrimSpace(eventType))
}

// Save validates and stores a row, then invalidates cached lookups.
func (s *Service) Save(ctx context.Context, m AccountMapping) (AccountMapping, error) {
	m.EventType = strings.TrimSpace(m.EventType)
	if m.EventType == "" {
		return AccountMapping{}, fmt.Errorf("%w: event type required", shared.ErrInvalidMapping)
	}
	if !m.Side.Valid() {
		return AccountMapping{}, fmt.Errorf("%w: side must be debit or credit", shared.ErrInvalidMapping)
	}
	if m.AccountID == uuid.Nil {
		return AccountMapping{}, fmt.Errorf("%w: account required", shared.ErrInvalidMapping)
	}
	if normalizeContext(m.EventContext) == DefaultContext {
		m.EventContext = ""
	}
	saved, err := s.repo.Upsert(ctx, m)
	if err != nil {
		return AccountMapping{}, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			return saved, fmt.Errorf("accounting: invalidate mapping cache: %w", err)
		}
	}
	return saved, nil
}
