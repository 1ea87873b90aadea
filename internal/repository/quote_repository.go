package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pardis-ai/be-cpq-approvals/internal/database"
	"github.com/pardis-ai/be-cpq-approvals/internal/errors"
)

// QuoteStatusProjection is the slice of the quote record the engine owns.
// Pricing, items and the rest of the quote live in the quote service.
type QuoteStatusProjection struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	RequiresApproval bool      `json:"requires_approval"`
	IsAuthorized     bool      `json:"is_authorized"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// QuoteRepository reads and writes the approval-driven quote status fields.
type QuoteRepository struct {
	db *database.DB
}

// NewQuoteRepository creates a new QuoteRepository.
func NewQuoteRepository(db *database.DB) *QuoteRepository {
	return &QuoteRepository{db: db}
}

// GetStatus returns the quote's status projection.
func (r *QuoteRepository) GetStatus(ctx context.Context, quoteID string) (*QuoteStatusProjection, error) {
	query := `
		SELECT id, status, requires_approval, is_authorized, updated_at
		FROM quotes
		WHERE id = $1
	`

	q := &QuoteStatusProjection{}
	err := r.db.QueryRow(ctx, query, quoteID).Scan(
		&q.ID, &q.Status, &q.RequiresApproval, &q.IsAuthorized, &q.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("quote", quoteID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get quote status")
	}
	return q, nil
}

// SetStatus updates the quote status; nil flags leave the stored value as is.
func (r *QuoteRepository) SetStatus(ctx context.Context, quoteID, status string, requiresApproval, isAuthorized *bool) error {
	query := `
		UPDATE quotes
		SET status            = $2,
		    requires_approval = COALESCE($3, requires_approval),
		    is_authorized     = COALESCE($4, is_authorized),
		    updated_at        = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, quoteID, status, requiresApproval, isAuthorized).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("quote", quoteID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update quote status")
	}
	return nil
}
