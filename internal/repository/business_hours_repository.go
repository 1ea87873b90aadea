package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pardis-ai/be-cpq-approvals/internal/database"
	"github.com/pardis-ai/be-cpq-approvals/internal/errors"
)

// BusinessHoursRepository stores the weekly open/closed calendar template.
type BusinessHoursRepository struct {
	db *database.DB
}

// NewBusinessHoursRepository creates a new BusinessHoursRepository.
func NewBusinessHoursRepository(db *database.DB) *BusinessHoursRepository {
	return &BusinessHoursRepository{db: db}
}

// List returns all configured weekday rows ordered Sunday first.
func (r *BusinessHoursRepository) List(ctx context.Context) ([]BusinessHour, error) {
	query := `
		SELECT day_of_week, start_time, end_time, is_open
		FROM business_hours
		ORDER BY day_of_week ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list business hours")
	}
	defer rows.Close()

	var hours []BusinessHour
	for rows.Next() {
		var bh BusinessHour
		if err := rows.Scan(&bh.DayOfWeek, &bh.StartTime, &bh.EndTime, &bh.IsOpen); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan business hour")
		}
		hours = append(hours, bh)
	}
	return hours, nil
}

// Replace swaps the whole weekly template in one transaction.
func (r *BusinessHoursRepository) Replace(ctx context.Context, hours []BusinessHour) error {
	for _, bh := range hours {
		if bh.DayOfWeek < 0 || bh.DayOfWeek > 6 {
			return errors.InvalidInput("day_of_week", "must be between 0 and 6")
		}
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM business_hours`); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear business hours")
		}

		query := `
			INSERT INTO business_hours (day_of_week, start_time, end_time, is_open)
			VALUES ($1, $2, $3, $4)
		`
		for _, bh := range hours {
			if _, err := tx.Exec(ctx, query, bh.DayOfWeek, bh.StartTime, bh.EndTime, bh.IsOpen); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert business hour")
			}
		}
		return nil
	})
}
