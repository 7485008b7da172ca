package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/retailops/backoffice/internal/accounting/shared"
)

// ClosedError carries the guard message shown to the end user.
type ClosedError struct {
	Message string
}

func (e *ClosedError) Error() string { return e.Message }

func (e *ClosedError) Unwrap() error { return shared.ErrPeriodClosed }

// Guard blocks postings outside an open accounting period.
type Guard struct {
	repo Repository
	now  func() time.Time
}

// NewGuard constructs a Guard.
func NewGuard(repo Repository) *Guard {
	return &Guard{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (g *Guard) WithNow(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// CheckOpen reports the state of the period covering today. A missing
// period is a closed state, never an open one.
func (g *Guard) CheckOpen(ctx context.Context) (Status, error) {
	return g.statusAt(ctx, g.now())
}

func (g *Guard) statusAt(ctx context.Context, today time.Time) (Status, error) {
	period, err := g.repo.FindByDate(ctx, today)
	if err != nil {
		if errors.Is(err, ErrNoPeriod) {
			return Status{
				Message: fmt.Sprintf("no accounting period defined for %s", today.Format("2006-01-02")),
			}, nil
		}
		return Status{}, err
	}
	start, end := period.StartDate, period.EndDate
	st := Status{
		HasPeriod:  true,
		IsOpen:     period.IsOpen,
		PeriodName: period.Name,
		StartDate:  &start,
		EndDate:    &end,
	}
	if period.IsOpen {
		st.Message = fmt.Sprintf("accounting period %s is open", period.Name)
	} else {
		st.Message = fmt.Sprintf("accounting period %s is closed; postings are blocked", period.Name)
	}
	return st, nil
}

// Ensure reads the clock once and returns that date when its period is
// open, otherwise a *ClosedError. Postings date their entries with the
// returned value so the checked period and the entry date cannot diverge.
func (g *Guard) Ensure(ctx context.Context) (time.Time, error) {
	today := g.now()
	st, err := g.statusAt(ctx, today)
	if err != nil {
		return time.Time{}, err
	}
	if !st.HasPeriod || !st.IsOpen {
		return time.Time{}, &ClosedError{Message: st.Message}
	}
	return today, nil
}
