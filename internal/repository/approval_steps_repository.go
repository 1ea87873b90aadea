package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pardis-ai/be-cpq-approvals/internal/database"
	"github.com/pardis-ai/be-cpq-approvals/internal/errors"
)

// ApprovalStepsRepository manages the configured steps of each rule.
// Steps are configuration data; escalation instances live in
// ApprovalRequestsRepository.
type ApprovalStepsRepository struct {
	db *database.DB
}

// NewApprovalStepsRepository creates a new ApprovalStepsRepository.
func NewApprovalStepsRepository(db *database.DB) *ApprovalStepsRepository {
	return &ApprovalStepsRepository{db: db}
}

// ListByRule returns a rule's steps ordered by step_order.
func (r *ApprovalStepsRepository) ListByRule(ctx context.Context, ruleID string) ([]*ApprovalStep, error) {
	query := `
		SELECT id, rule_id, step_order, approver_role, sla_hours,
		       primary_approver_id, substitute_approver_id,
		       created_at, updated_at
		FROM approval_steps
		WHERE rule_id = $1
		ORDER BY step_order ASC
	`

	rows, err := r.db.Query(ctx, query, ruleID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval steps")
	}
	defer rows.Close()

	var steps []*ApprovalStep
	for rows.Next() {
		step := &ApprovalStep{}
		err := rows.Scan(
			&step.ID,
			&step.RuleID,
			&step.StepOrder,
			&step.ApproverRole,
			&step.SLAHours,
			&step.PrimaryApproverID,
			&step.SubstituteApproverID,
			&step.CreatedAt,
			&step.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// ReplaceForRule swaps a rule's configured steps in one transaction.
// step_order must be unique per rule; the table constraint enforces it.
func (r *ApprovalStepsRepository) ReplaceForRule(ctx context.Context, ruleID string, steps []*ApprovalStep) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM approval_steps WHERE rule_id = $1`, ruleID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear approval steps")
		}

		query := `
			INSERT INTO approval_steps
			    (rule_id, step_order, approver_role, sla_hours,
			     primary_approver_id, substitute_approver_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at
		`

		for _, step := range steps {
			step.RuleID = ruleID
			err := tx.QueryRow(ctx, query,
				step.RuleID,
				step.StepOrder,
				step.ApproverRole,
				step.SLAHours,
				step.PrimaryApproverID,
				step.SubstituteApproverID,
			).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert approval step")
			}
		}
		return nil
	})
}
