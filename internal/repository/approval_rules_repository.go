package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pardis-ai/be-cpq-approvals/internal/database"
	"github.com/pardis-ai/be-cpq-approvals/internal/errors"
)

// ApprovalRulesRepository handles CRUD for approval_rules. Rules are
// administrator-maintained; the engine only reads them.
type ApprovalRulesRepository struct {
	db *database.DB
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db *database.DB) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

// Create inserts a new approval rule.
func (r *ApprovalRulesRepository) Create(ctx context.Context, rule *ApprovalRule) error {
	query := `
		INSERT INTO approval_rules
		    (rule_name, margin_min, margin_max, approver_role,
		     priority, default_sla_hours, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		rule.RuleName,
		rule.MarginMin,
		rule.MarginMax,
		rule.ApproverRole,
		rule.Priority,
		rule.DefaultSLAHours,
		rule.IsActive,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
}

// GetByID retrieves a rule by primary key.
func (r *ApprovalRulesRepository) GetByID(ctx context.Context, id string) (*ApprovalRule, error) {
	query := `
		SELECT id, rule_name, margin_min, margin_max, approver_role,
		       priority, default_sla_hours, is_active, created_at, updated_at
		FROM approval_rules
		WHERE id = $1
	`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_rule", id)
	}
	return rule, err
}

// List returns all rules, optionally filtered to active only, in the stable
// evaluation order: priority ascending, then rule name.
func (r *ApprovalRulesRepository) List(ctx context.Context, activeOnly bool) ([]*ApprovalRule, error) {
	query := `
		SELECT id, rule_name, margin_min, margin_max, approver_role,
		       priority, default_sla_hours, is_active, created_at, updated_at
		FROM approval_rules
	`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY priority ASC, rule_name ASC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ListActive returns active rules in evaluation order.
func (r *ApprovalRulesRepository) ListActive(ctx context.Context) ([]*ApprovalRule, error) {
	return r.List(ctx, true)
}

// Update persists changes to an existing rule.
func (r *ApprovalRulesRepository) Update(ctx context.Context, rule *ApprovalRule) error {
	query := `
		UPDATE approval_rules
		SET rule_name         = $2,
		    margin_min        = $3,
		    margin_max        = $4,
		    approver_role     = $5,
		    priority          = $6,
		    default_sla_hours = $7,
		    is_active         = $8,
		    updated_at        = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		rule.ID,
		rule.RuleName,
		rule.MarginMin,
		rule.MarginMax,
		rule.ApproverRole,
		rule.Priority,
		rule.DefaultSLAHours,
		rule.IsActive,
	).Scan(&rule.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_rule", rule.ID)
	}
	return err
}

// Delete removes an approval rule and its configured steps.
func (r *ApprovalRulesRepository) Delete(ctx context.Context, id string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM approval_steps WHERE rule_id = $1`, id); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete rule steps")
		}

		tag, err := tx.Exec(ctx, `DELETE FROM approval_rules WHERE id = $1`, id)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete approval rule")
		}
		if tag.RowsAffected() == 0 {
			return errors.NotFound("approval_rule", id)
		}
		return nil
	})
}

// ── scan helper ──────────────────────────────────────────────────────────────

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(row ruleScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	err := row.Scan(
		&rule.ID,
		&rule.RuleName,
		&rule.MarginMin,
		&rule.MarginMax,
		&rule.ApproverRole,
		&rule.Priority,
		&rule.DefaultSLAHours,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rule, nil
}
