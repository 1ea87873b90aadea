package repository

import (
	"context"
	"time"

	"github.com/pardis-ai/be-cpq-approvals/internal/database"
	"github.com/pardis-ai/be-cpq-approvals/internal/errors"
)

// UserAbsenceRepository stores absence intervals used for approver redirection.
type UserAbsenceRepository struct {
	db *database.DB
}

// NewUserAbsenceRepository creates a new UserAbsenceRepository.
func NewUserAbsenceRepository(db *database.DB) *UserAbsenceRepository {
	return &UserAbsenceRepository{db: db}
}

// IsAbsentAt reports whether the user has an active absence covering t.
func (r *UserAbsenceRepository) IsAbsentAt(ctx context.Context, userID string, t time.Time) (bool, error) {
	var absent bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_absences
			WHERE user_id = $1
			  AND is_active = TRUE
			  AND start_date <= $2
			  AND end_date >= $2
		)
	`, userID, t).Scan(&absent)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check absence")
	}
	return absent, nil
}

// ListByUser returns a user's absence rows, newest first.
func (r *UserAbsenceRepository) ListByUser(ctx context.Context, userID string) ([]*UserAbsence, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, start_date, end_date, is_active, created_at
		FROM user_absences
		WHERE user_id = $1
		ORDER BY start_date DESC
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list absences")
	}
	defer rows.Close()

	var absences []*UserAbsence
	for rows.Next() {
		a := &UserAbsence{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.StartDate, &a.EndDate, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan absence")
		}
		absences = append(absences, a)
	}
	return absences, nil
}

// Create inserts an absence interval.
func (r *UserAbsenceRepository) Create(ctx context.Context, a *UserAbsence) error {
	if a.EndDate.Before(a.StartDate) {
		return errors.InvalidInput("end_date", "must not precede start_date")
	}

	return r.db.QueryRow(ctx, `
		INSERT INTO user_absences (user_id, start_date, end_date, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, a.UserID, a.StartDate, a.EndDate, a.IsActive).Scan(&a.ID, &a.CreatedAt)
}

// Delete removes an absence interval.
func (r *UserAbsenceRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_absences WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete absence")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("user_absence", id)
	}
	return nil
}
