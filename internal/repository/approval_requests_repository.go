package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pardis-ai/be-cpq-approvals/internal/database"
	"github.com/pardis-ai/be-cpq-approvals/internal/errors"
)

// ApprovalRequestsRepository stores the append-only escalation chain.
// Requests are created pending, mutated exactly once by a decision, and
// never deleted.
type ApprovalRequestsRepository struct {
	db *database.DB
}

// NewApprovalRequestsRepository creates a new ApprovalRequestsRepository.
func NewApprovalRequestsRepository(db *database.DB) *ApprovalRequestsRepository {
	return &ApprovalRequestsRepository{db: db}
}

const requestColumns = `
	id, quote_id, rule_id, step_order, total_steps, status,
	reason, quote_total, quote_margin_percent,
	requested_by, approver_role, assigned_to_user_id,
	is_redirected, redirected_from_user_id, parent_request_id,
	expires_at, sla_warning_sent, last_notification_sent_at,
	decided_by, decided_at, comments,
	created_at, updated_at
`

// Create inserts a pending request, enforcing at most one pending request
// per quote inside the same transaction.
func (r *ApprovalRequestsRepository) Create(ctx context.Context, req *ApprovalRequest) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM approval_requests
				WHERE quote_id = $1 AND status = 'pending'
			)
		`, req.QuoteID).Scan(&exists)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to check pending requests")
		}
		if exists {
			return errors.New(errors.ErrCodeConflict,
				"quote already has a pending approval request")
		}

		query := `
			INSERT INTO approval_requests
			    (quote_id, rule_id, step_order, total_steps, status,
			     reason, quote_total, quote_margin_percent,
			     requested_by, approver_role, assigned_to_user_id,
			     is_redirected, redirected_from_user_id, parent_request_id,
			     expires_at)
			VALUES ($1, $2, $3, $4, $5,
			        $6, $7, $8,
			        $9, $10, $11,
			        $12, $13, $14,
			        $15)
			RETURNING id, created_at, updated_at
		`

		err = tx.QueryRow(ctx, query,
			req.QuoteID,
			req.RuleID,
			req.StepOrder,
			req.TotalSteps,
			req.Status,
			req.Reason,
			req.QuoteTotal,
			req.QuoteMarginPercent,
			req.RequestedBy,
			req.ApproverRole,
			req.AssignedToUserID,
			req.IsRedirected,
			req.RedirectedFromUserID,
			req.ParentRequestID,
			req.ExpiresAt,
		).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval request")
		}
		return nil
	})
}

// GetByID retrieves a request by primary key.
func (r *ApprovalRequestsRepository) GetByID(ctx context.Context, id string) (*ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_request", id)
	}
	return req, err
}

// Decide records a decision with a compare-and-set on status: only a still
// pending request transitions. Concurrent deciders lose with a conflict.
func (r *ApprovalRequestsRepository) Decide(ctx context.Context, id, status, decidedBy string, comments *string) (*ApprovalRequest, error) {
	query := `
		UPDATE approval_requests
		SET status     = $2,
		    decided_by = $3,
		    decided_at = NOW(),
		    comments   = $4,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING ` + requestColumns

	req, err := scanRequest(r.db.QueryRow(ctx, query, id, status, decidedBy, comments))
	if err == pgx.ErrNoRows {
		return nil, errors.New(errors.ErrCodeConflict,
			"approval request already decided")
	}
	return req, err
}

// ChainByQuote returns the full escalation chain for a quote, oldest step first.
func (r *ApprovalRequestsRepository) ChainByQuote(ctx context.Context, quoteID string) ([]*ApprovalRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE quote_id = $1
		ORDER BY step_order ASC, created_at ASC
	`

	rows, err := r.db.Query(ctx, query, quoteID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get escalation chain")
	}
	defer rows.Close()

	return scanRequestRows(rows)
}

// ListPendingForUser returns pending requests the user can act on: assigned
// to them, or unassigned with a role the user holds. Soonest deadline first.
func (r *ApprovalRequestsRepository) ListPendingForUser(ctx context.Context, userID string, roles []string) ([]*ApprovalRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE status = 'pending'
		  AND (assigned_to_user_id = $1
		       OR (assigned_to_user_id IS NULL AND approver_role = ANY($2)))
		ORDER BY expires_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID, roles)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	return scanRequestRows(rows)
}

// ListNearExpiry returns pending requests expiring within the window that
// have not been warned yet.
func (r *ApprovalRequestsRepository) ListNearExpiry(ctx context.Context, now time.Time, window time.Duration) ([]*ApprovalRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE status = 'pending'
		  AND sla_warning_sent = FALSE
		  AND expires_at > $1
		  AND expires_at <= $2
		ORDER BY expires_at ASC
	`

	rows, err := r.db.Query(ctx, query, now, now.Add(window))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list near-expiry requests")
	}
	defer rows.Close()

	return scanRequestRows(rows)
}

// ListBreached returns pending requests whose deadline has passed.
func (r *ApprovalRequestsRepository) ListBreached(ctx context.Context, now time.Time) ([]*ApprovalRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE status = 'pending'
		  AND expires_at < $1
		ORDER BY expires_at ASC
	`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list breached requests")
	}
	defer rows.Close()

	return scanRequestRows(rows)
}

// MarkWarningSent flips the warn-once flag.
func (r *ApprovalRequestsRepository) MarkWarningSent(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE approval_requests
		SET sla_warning_sent = TRUE, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark warning sent")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_request", id)
	}
	return nil
}

// TouchLastNotification stamps the breach-alert throttle timestamp.
func (r *ApprovalRequestsRepository) TouchLastNotification(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE approval_requests
		SET last_notification_sent_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to stamp last notification")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_request", id)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row requestScanner) (*ApprovalRequest, error) {
	req := &ApprovalRequest{}
	err := row.Scan(
		&req.ID,
		&req.QuoteID,
		&req.RuleID,
		&req.StepOrder,
		&req.TotalSteps,
		&req.Status,
		&req.Reason,
		&req.QuoteTotal,
		&req.QuoteMarginPercent,
		&req.RequestedBy,
		&req.ApproverRole,
		&req.AssignedToUserID,
		&req.IsRedirected,
		&req.RedirectedFromUserID,
		&req.ParentRequestID,
		&req.ExpiresAt,
		&req.SLAWarningSent,
		&req.LastNotificationSentAt,
		&req.DecidedBy,
		&req.DecidedAt,
		&req.Comments,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func scanRequestRows(rows pgx.Rows) ([]*ApprovalRequest, error) {
	var reqs []*ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval request")
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
