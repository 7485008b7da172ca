package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoPeriod indicates no period covers the date.
var ErrNoPeriod = errors.New("accounting: no accounting period covers date")

type Repository interface {
	FindByDate(ctx context.Context, date time.Time) (Period, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// FindByDate returns the period covering date, preferring an open one when
// ranges overlap.
func (r *repository) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	var p Period
	err := r.db.QueryRow(ctx, `SELECT id, period_name, start_date, end_date, is_open
FROM accounting_periods WHERE $1::date BETWEEN start_date AND end_date
ORDER BY is_open DESC, start_date DESC LIMIT 1`, date).
		Scan(&p.ID, &p.Name, &p.StartDate, &p.EndDate, &p.IsOpen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrNoPeriod
		}
		return Period{}, err
	}
	return p, nil
}
