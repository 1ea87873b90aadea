package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pardis-ai/be-cpq-approvals/internal/database"
	"github.com/pardis-ai/be-cpq-approvals/internal/errors"
)

// ApprovalAuditRepository appends and reads immutable audit log entries.
type ApprovalAuditRepository struct {
	db *database.DB
}

// NewApprovalAuditRepository creates a new ApprovalAuditRepository.
func NewApprovalAuditRepository(db *database.DB) *ApprovalAuditRepository {
	return &ApprovalAuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger
// so this is the only mutation operation exposed.
func (r *ApprovalAuditRepository) Append(ctx context.Context, entry *ApprovalAuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (quote_id, request_id, action, performed_by,
		     quote_status_before, quote_status_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.QuoteID,
		entry.RequestID,
		entry.Action,
		entry.PerformedBy,
		entry.QuoteStatusBefore,
		entry.QuoteStatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// ListByQuote returns the full audit trail for a quote, oldest first.
func (r *ApprovalAuditRepository) ListByQuote(ctx context.Context, quoteID string) ([]*ApprovalAuditEntry, error) {
	query := `
		SELECT id, quote_id, request_id, action, performed_by, performed_at,
		       quote_status_before, quote_status_after, metadata
		FROM approval_audit_log
		WHERE quote_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, quoteID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func scanAuditRows(rows pgx.Rows) ([]*ApprovalAuditEntry, error) {
	var entries []*ApprovalAuditEntry
	for rows.Next() {
		entry := &ApprovalAuditEntry{}
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.QuoteID,
			&entry.RequestID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.PerformedAt,
			&entry.QuoteStatusBefore,
			&entry.QuoteStatusAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
