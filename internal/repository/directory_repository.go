package repository

import (
	"context"

	"github.com/pardis-ai/be-cpq-approvals/internal/database"
	"github.com/pardis-ai/be-cpq-approvals/internal/errors"
)

// DirectoryRepository answers role-membership and e-mail lookups against
// the shared user_roles/profiles tables. Authentication itself is handled
// upstream; this is a read-only directory.
type DirectoryRepository struct {
	db *database.DB
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// UsersWithRole returns the IDs of all users holding a role.
func (r *DirectoryRepository) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id FROM user_roles WHERE role = $1
	`, role)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list role members")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan role member")
		}
		users = append(users, id)
	}
	return users, nil
}

// UserRoles returns the role names a user holds.
func (r *DirectoryRepository) UserRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT role FROM user_roles WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list user roles")
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user role")
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// EmailsForUsers resolves notification addresses for a set of user IDs.
// Users without a profile row are silently skipped.
func (r *DirectoryRepository) EmailsForUsers(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT email FROM profiles WHERE user_id = ANY($1) AND email IS NOT NULL
	`, userIDs)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve user emails")
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user email")
		}
		emails = append(emails, email)
	}
	return emails, nil
}
