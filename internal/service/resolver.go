package service

import (
	"context"
	"time"

	"github.com/pardis-ai/be-cpq-approvals/internal/repository"
)

// AbsenceChecker answers "is user U absent at time T".
type AbsenceChecker interface {
	IsAbsentAt(ctx context.Context, userID string, t time.Time) (bool, error)
}

// ApproverResolution is the outcome of resolving a step's effective approver.
// A nil UserID means the step is addressed to the role at large.
type ApproverResolution struct {
	UserID         *string
	IsRedirected   bool
	RedirectedFrom *string
}

// ResolveApprover determines who a step's request is assigned to:
//
//   - no configured primary → role-wide (nil user, no redirection)
//   - primary present and not absent → primary
//   - primary absent, substitute configured → substitute, redirected
//   - primary absent, no substitute → primary anyway; the step will sit with
//     an absent approver until acted on or flagged by the SLA monitor
//
// Absence is evaluated once, at the moment the step's request is created;
// an absence that starts later during the pending window is not re-checked.
func ResolveApprover(ctx context.Context, absences AbsenceChecker, step *repository.ApprovalStep, at time.Time) (ApproverResolution, error) {
	if step.PrimaryApproverID == nil || *step.PrimaryApproverID == "" {
		return ApproverResolution{}, nil
	}

	primary := *step.PrimaryApproverID
	absent, err := absences.IsAbsentAt(ctx, primary, at)
	if err != nil {
		return ApproverResolution{}, err
	}

	if !absent {
		return ApproverResolution{UserID: &primary}, nil
	}

	if step.SubstituteApproverID != nil && *step.SubstituteApproverID != "" {
		substitute := *step.SubstituteApproverID
		return ApproverResolution{
			UserID:         &substitute,
			IsRedirected:   true,
			RedirectedFrom: &primary,
		}, nil
	}

	return ApproverResolution{UserID: &primary}, nil
}
