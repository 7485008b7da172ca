package periods

import (
	"time"

	"github.com/google/uuid"
)

// Period represents an accounting period window.
type Period struct {
	ID        uuid.UUID
	Name      string
	StartDate time.Time
	EndDate   time.Time
	IsOpen    bool
}

// Contains reports whether day falls inside the period, inclusive.
func (p Period) Contains(day time.Time) bool {
	d := truncateDay(day)
	return !d.Before(truncateDay(p.StartDate)) && !d.After(truncateDay(p.EndDate))
}

// Status is the answer to "can we post today".
type Status struct {
	HasPeriod  bool       `json:"has_period"`
	IsOpen     bool       `json:"is_open"`
	PeriodName string     `json:"period_name,omitempty"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	Message    string     `json:"message"`
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
