package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pardis-ai/be-cpq-approvals/internal/errors"
	"github.com/pardis-ai/be-cpq-approvals/internal/logger"
	"github.com/pardis-ai/be-cpq-approvals/internal/metrics"
	"github.com/pardis-ai/be-cpq-approvals/internal/repository"
)

// ── Store and collaborator contracts ─────────────────────────────────────────

// RulesStore reads approval rules.
type RulesStore interface {
	ListActive(ctx context.Context) ([]*repository.ApprovalRule, error)
	GetByID(ctx context.Context, id string) (*repository.ApprovalRule, error)
}

// StepsStore reads a rule's configured steps.
type StepsStore interface {
	ListByRule(ctx context.Context, ruleID string) ([]*repository.ApprovalStep, error)
}

// RequestsStore persists the escalation chain.
type RequestsStore interface {
	Create(ctx context.Context, req *repository.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalRequest, error)
	Decide(ctx context.Context, id, status, decidedBy string, comments *string) (*repository.ApprovalRequest, error)
	ChainByQuote(ctx context.Context, quoteID string) ([]*repository.ApprovalRequest, error)
	ListPendingForUser(ctx context.Context, userID string, roles []string) ([]*repository.ApprovalRequest, error)
}

// QuoteStore drives the approval-owned quote status transitions.
type QuoteStore interface {
	GetStatus(ctx context.Context, quoteID string) (*repository.QuoteStatusProjection, error)
	SetStatus(ctx context.Context, quoteID, status string, requiresApproval, isAuthorized *bool) error
}

// CalendarStore reads the weekly business calendar.
type CalendarStore interface {
	List(ctx context.Context) ([]repository.BusinessHour, error)
}

// Directory answers role membership and notification-address lookups.
type Directory interface {
	UsersWithRole(ctx context.Context, role string) ([]string, error)
	UserRoles(ctx context.Context, userID string) ([]string, error)
	EmailsForUsers(ctx context.Context, userIDs []string) ([]string, error)
}

// Notifier delivers templated events. Fire-and-forget: implementations log
// failures and never return them.
type Notifier interface {
	PublishApprovalEvent(ctx context.Context, eventType, quoteID, actorID string, recipients []string, payload map[string]interface{})
}

// AuditStore appends immutable audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.ApprovalAuditEntry) error
}

// ── Service ──────────────────────────────────────────────────────────────────

// EscalationService is the approval state machine: it creates the first
// pending request for a quote and, on each decision, either terminates the
// chain, escalates to the next step, or finalizes the quote.
type EscalationService struct {
	rules     RulesStore
	steps     StepsStore
	requests  RequestsStore
	quotes    QuoteStore
	calendar  CalendarStore
	absences  AbsenceChecker
	directory Directory
	notifier  Notifier
	audit     AuditStore
	log       *logger.Logger

	now func() time.Time
}

// NewEscalationService creates a new EscalationService.
func NewEscalationService(
	rules RulesStore,
	steps StepsStore,
	requests RequestsStore,
	quotes QuoteStore,
	calendar CalendarStore,
	absences AbsenceChecker,
	directory Directory,
	notifier Notifier,
	audit AuditStore,
	log *logger.Logger,
) *EscalationService {
	return &EscalationService{
		rules:     rules,
		steps:     steps,
		requests:  requests,
		quotes:    quotes,
		calendar:  calendar,
		absences:  absences,
		directory: directory,
		notifier:  notifier,
		audit:     audit,
		log:       log,
		now:       time.Now,
	}
}

// ── Flow selection ───────────────────────────────────────────────────────────

// SelectFlow picks the active rule whose margin band contains marginPercent
// and resolves its ordered step list. Rules are evaluated in the stable
// order (priority ASC, rule_name ASC); overlapping bands are a configuration
// precondition and the first match wins. Returns nil rule when nothing
// matches.
func (s *EscalationService) SelectFlow(ctx context.Context, marginPercent float64) (*repository.ApprovalRule, []*repository.ApprovalStep, error) {
	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, nil, err
	}

	var rule *repository.ApprovalRule
	for _, candidate := range rules {
		if bandContains(candidate, marginPercent) {
			rule = candidate
			break
		}
	}
	if rule == nil {
		return nil, nil, nil
	}

	steps, err := s.flowSteps(ctx, rule)
	if err != nil {
		return nil, nil, err
	}
	return rule, steps, nil
}

// bandContains checks marginPercent against the rule's inclusive band,
// treating a nil bound as unbounded on that side.
func bandContains(rule *repository.ApprovalRule, marginPercent float64) bool {
	if rule.MarginMin != nil && marginPercent < *rule.MarginMin {
		return false
	}
	if rule.MarginMax != nil && marginPercent > *rule.MarginMax {
		return false
	}
	return true
}

// flowSteps returns the rule's configured steps, or a single synthesized
// step from the rule's own role and default SLA so every flow is non-empty.
func (s *EscalationService) flowSteps(ctx context.Context, rule *repository.ApprovalRule) ([]*repository.ApprovalStep, error) {
	steps, err := s.steps.ListByRule(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if len(steps) > 0 {
		return steps, nil
	}
	return []*repository.ApprovalStep{{
		RuleID:       rule.ID,
		StepOrder:    1,
		ApproverRole: rule.ApproverRole,
		SLAHours:     rule.DefaultSLAHours,
	}}, nil
}

// ── Create ───────────────────────────────────────────────────────────────────

// CreateApprovalInput carries the quote-side collaborator's request.
type CreateApprovalInput struct {
	QuoteID       string
	MarginPercent float64
	TotalValue    float64
	Reason        string
	RequestedBy   string
}

// CreateApprovalResult reports the created first-step request.
type CreateApprovalResult struct {
	Request      *repository.ApprovalRequest
	RequiredRole string
	Redirected   bool
}

// CreateApproval starts the escalation chain for a quote: selects the flow,
// resolves step 1's approver, computes the SLA deadline and persists the
// pending request, then moves the quote to pending_approval and notifies.
//
// A margin outside every configured band blocks creation with a
// configuration error; it is never silently approved.
func (s *EscalationService) CreateApproval(ctx context.Context, in CreateApprovalInput) (*CreateApprovalResult, error) {
	if in.QuoteID == "" {
		return nil, errors.InvalidInput("quote_id", "required")
	}
	if in.RequestedBy == "" {
		return nil, errors.InvalidInput("requested_by", "required")
	}

	if _, err := s.quotes.GetStatus(ctx, in.QuoteID); err != nil {
		return nil, err
	}

	rule, steps, err := s.SelectFlow(ctx, in.MarginPercent)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, errors.Configuration(
			fmt.Sprintf("no active approval rule matches margin %.2f%%", in.MarginPercent))
	}

	now := s.now()
	first := steps[0]

	resolution, err := ResolveApprover(ctx, s.absences, first, now)
	if err != nil {
		return nil, err
	}

	calendar, err := s.calendar.List(ctx)
	if err != nil {
		return nil, err
	}
	expiresAt, err := ComputeExpiry(now, first.SLAHours, calendar)
	if err != nil {
		return nil, err
	}

	reason := in.Reason
	if reason == "" {
		reason = fmt.Sprintf("margin of %.2f%% requires approval", in.MarginPercent)
	}

	req := &repository.ApprovalRequest{
		QuoteID:              in.QuoteID,
		RuleID:               rule.ID,
		StepOrder:            first.StepOrder,
		TotalSteps:           len(steps),
		Status:               repository.RequestStatusPending,
		Reason:               reason,
		QuoteTotal:           in.TotalValue,
		QuoteMarginPercent:   in.MarginPercent,
		RequestedBy:          in.RequestedBy,
		ApproverRole:         first.ApproverRole,
		AssignedToUserID:     resolution.UserID,
		IsRedirected:         resolution.IsRedirected,
		RedirectedFromUserID: resolution.RedirectedFrom,
		ExpiresAt:            expiresAt,
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	requiresApproval := true
	if err := s.quotes.SetStatus(ctx, in.QuoteID, repository.QuoteStatusPendingApproval, &requiresApproval, nil); err != nil {
		return nil, err
	}

	metrics.RequestsCreated.WithLabelValues("1").Inc()

	s.log.Info().
		Str("quote_id", in.QuoteID).
		Str("request_id", req.ID).
		Str("rule_id", rule.ID).
		Str("approver_role", first.ApproverRole).
		Int("total_steps", len(steps)).
		Bool("redirected", resolution.IsRedirected).
		Time("expires_at", expiresAt).
		Msg("Approval chain started")

	statusAfter := repository.QuoteStatusPendingApproval
	s.appendAudit(ctx, &repository.ApprovalAuditEntry{
		QuoteID:          in.QuoteID,
		RequestID:        &req.ID,
		Action:           "created",
		PerformedBy:      in.RequestedBy,
		QuoteStatusAfter: &statusAfter,
		Metadata: map[string]interface{}{
			"margin_percent": in.MarginPercent,
			"total_value":    in.TotalValue,
			"approver_role":  first.ApproverRole,
			"total_steps":    len(steps),
		},
	})

	s.notifyStep(ctx, "approval_required", req, in.RequestedBy)

	return &CreateApprovalResult{
		Request:      req,
		RequiredRole: first.ApproverRole,
		Redirected:   resolution.IsRedirected,
	}, nil
}

// ── Decide ───────────────────────────────────────────────────────────────────

// Decision outcomes reported to the caller.
const (
	OutcomeEscalated = "escalated"
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"
)

// DecideApprovalInput carries one approve/reject decision.
type DecideApprovalInput struct {
	RequestID    string
	ActingUserID string
	Action       string // approve | reject
	Comments     string
}

// DecideApprovalResult reports what the decision led to.
type DecideApprovalResult struct {
	Outcome     string
	QuoteID     string
	NextRole    *string
	NextRequest *repository.ApprovalRequest
}

// DecideApproval records an approve/reject decision on a pending request.
// Reject terminates the chain and rejects the quote. Approve escalates to
// the next configured step, or finalizes the quote after the last one.
func (s *EscalationService) DecideApproval(ctx context.Context, in DecideApprovalInput) (*DecideApprovalResult, error) {
	if in.Action != "approve" && in.Action != "reject" {
		return nil, errors.InvalidInput("action", "must be approve or reject")
	}
	if in.ActingUserID == "" {
		return nil, errors.InvalidInput("acting_user_id", "required")
	}

	req, err := s.requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status != repository.RequestStatusPending {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("approval request is not pending (status: %s)", req.Status))
	}

	if err := s.authorizeDecision(ctx, req, in.ActingUserID); err != nil {
		return nil, err
	}

	if in.Action == "reject" {
		return s.reject(ctx, req, in)
	}
	return s.approve(ctx, req, in)
}

// authorizeDecision checks the actor is the assigned approver or holds the
// step's required role.
func (s *EscalationService) authorizeDecision(ctx context.Context, req *repository.ApprovalRequest, actor string) error {
	if req.AssignedToUserID != nil && *req.AssignedToUserID == actor {
		return nil
	}

	roles, err := s.directory.UserRoles(ctx, actor)
	if err != nil {
		return err
	}
	for _, role := range roles {
		if role == req.ApproverRole {
			return nil
		}
	}
	return errors.Unauthorized(
		fmt.Sprintf("only role %q can process this approval step", req.ApproverRole))
}

func (s *EscalationService) reject(ctx context.Context, req *repository.ApprovalRequest, in DecideApprovalInput) (*DecideApprovalResult, error) {
	if in.Comments == "" {
		return nil, errors.InvalidInput("comments", "required when rejecting")
	}

	decided, err := s.requests.Decide(ctx, req.ID, repository.RequestStatusRejected, in.ActingUserID, &in.Comments)
	if err != nil {
		return nil, err
	}

	isAuthorized := false
	if err := s.quotes.SetStatus(ctx, req.QuoteID, repository.QuoteStatusRejected, nil, &isAuthorized); err != nil {
		return nil, err
	}

	metrics.Decisions.WithLabelValues("reject").Inc()

	s.log.Info().
		Str("quote_id", req.QuoteID).
		Str("request_id", req.ID).
		Int("step_order", req.StepOrder).
		Str("decided_by", in.ActingUserID).
		Msg("Approval rejected")

	before := repository.QuoteStatusPendingApproval
	after := repository.QuoteStatusRejected
	s.appendAudit(ctx, &repository.ApprovalAuditEntry{
		QuoteID:           req.QuoteID,
		RequestID:         &req.ID,
		Action:            "rejected",
		PerformedBy:       in.ActingUserID,
		QuoteStatusBefore: &before,
		QuoteStatusAfter:  &after,
		Metadata: map[string]interface{}{
			"step_order": req.StepOrder,
			"comments":   in.Comments,
		},
	})

	s.notifier.PublishApprovalEvent(ctx, "approval_rejected", req.QuoteID, in.ActingUserID,
		s.requesterRecipients(ctx, decided), map[string]interface{}{
			"request_id": decided.ID,
			"step_order": decided.StepOrder,
			"comments":   in.Comments,
		})

	return &DecideApprovalResult{Outcome: OutcomeRejected, QuoteID: req.QuoteID}, nil
}

func (s *EscalationService) approve(ctx context.Context, req *repository.ApprovalRequest, in DecideApprovalInput) (*DecideApprovalResult, error) {
	var comments *string
	if in.Comments != "" {
		comments = &in.Comments
	}

	decided, err := s.requests.Decide(ctx, req.ID, repository.RequestStatusApproved, in.ActingUserID, comments)
	if err != nil {
		return nil, err
	}

	metrics.Decisions.WithLabelValues("approve").Inc()

	if req.StepOrder >= req.TotalSteps {
		return s.finalize(ctx, decided, in)
	}
	return s.escalate(ctx, decided, in)
}

// finalize completes the chain after the last step's approval.
func (s *EscalationService) finalize(ctx context.Context, req *repository.ApprovalRequest, in DecideApprovalInput) (*DecideApprovalResult, error) {
	isAuthorized := true
	if err := s.quotes.SetStatus(ctx, req.QuoteID, repository.QuoteStatusApproved, nil, &isAuthorized); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("quote_id", req.QuoteID).
		Str("request_id", req.ID).
		Int("step_order", req.StepOrder).
		Str("decided_by", in.ActingUserID).
		Msg("Approval chain completed")

	before := repository.QuoteStatusPendingApproval
	after := repository.QuoteStatusApproved
	s.appendAudit(ctx, &repository.ApprovalAuditEntry{
		QuoteID:           req.QuoteID,
		RequestID:         &req.ID,
		Action:            "approved",
		PerformedBy:       in.ActingUserID,
		QuoteStatusBefore: &before,
		QuoteStatusAfter:  &after,
		Metadata:          map[string]interface{}{"step_order": req.StepOrder},
	})

	s.notifier.PublishApprovalEvent(ctx, "approval_approved", req.QuoteID, in.ActingUserID,
		s.requesterRecipients(ctx, req), map[string]interface{}{
			"request_id": req.ID,
			"step_order": req.StepOrder,
		})

	return &DecideApprovalResult{Outcome: OutcomeApproved, QuoteID: req.QuoteID}, nil
}

// escalate creates the next step's pending request, linked to the approved one.
func (s *EscalationService) escalate(ctx context.Context, req *repository.ApprovalRequest, in DecideApprovalInput) (*DecideApprovalResult, error) {
	rule, err := s.rules.GetByID(ctx, req.RuleID)
	if err != nil {
		return nil, err
	}
	steps, err := s.flowSteps(ctx, rule)
	if err != nil {
		return nil, err
	}

	nextOrder := req.StepOrder + 1
	var next *repository.ApprovalStep
	for _, step := range steps {
		if step.StepOrder == nextOrder {
			next = step
			break
		}
	}
	if next == nil {
		return nil, errors.Configuration(
			fmt.Sprintf("rule %s has no step %d; flow configuration changed mid-chain", rule.ID, nextOrder))
	}

	now := s.now()
	resolution, err := ResolveApprover(ctx, s.absences, next, now)
	if err != nil {
		return nil, err
	}

	calendar, err := s.calendar.List(ctx)
	if err != nil {
		return nil, err
	}
	expiresAt, err := ComputeExpiry(now, next.SLAHours, calendar)
	if err != nil {
		return nil, err
	}

	child := &repository.ApprovalRequest{
		QuoteID:              req.QuoteID,
		RuleID:               req.RuleID,
		StepOrder:            nextOrder,
		TotalSteps:           req.TotalSteps,
		Status:               repository.RequestStatusPending,
		Reason:               req.Reason,
		QuoteTotal:           req.QuoteTotal,
		QuoteMarginPercent:   req.QuoteMarginPercent,
		RequestedBy:          req.RequestedBy,
		ApproverRole:         next.ApproverRole,
		AssignedToUserID:     resolution.UserID,
		IsRedirected:         resolution.IsRedirected,
		RedirectedFromUserID: resolution.RedirectedFrom,
		ParentRequestID:      &req.ID,
		ExpiresAt:            expiresAt,
	}

	if err := s.requests.Create(ctx, child); err != nil {
		return nil, err
	}

	metrics.RequestsCreated.WithLabelValues(fmt.Sprintf("%d", nextOrder)).Inc()

	s.log.Info().
		Str("quote_id", req.QuoteID).
		Str("request_id", child.ID).
		Str("parent_request_id", req.ID).
		Int("step_order", nextOrder).
		Int("total_steps", req.TotalSteps).
		Str("approver_role", next.ApproverRole).
		Msg("Approval escalated to next step")

	s.appendAudit(ctx, &repository.ApprovalAuditEntry{
		QuoteID:     req.QuoteID,
		RequestID:   &child.ID,
		Action:      "escalated",
		PerformedBy: in.ActingUserID,
		Metadata: map[string]interface{}{
			"parent_request_id": req.ID,
			"step_order":        nextOrder,
			"approver_role":     next.ApproverRole,
		},
	})

	s.notifyStep(ctx, "approval_escalated", child, in.ActingUserID)

	return &DecideApprovalResult{
		Outcome:     OutcomeEscalated,
		QuoteID:     req.QuoteID,
		NextRole:    &next.ApproverRole,
		NextRequest: child,
	}, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// PendingForUser returns the requests awaiting action from a user: assigned
// directly or addressed to one of the user's roles.
func (s *EscalationService) PendingForUser(ctx context.Context, userID string) ([]*repository.ApprovalRequest, error) {
	roles, err := s.directory.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.requests.ListPendingForUser(ctx, userID, roles)
}

// Chain returns a quote's full escalation history, step 1 first.
func (s *EscalationService) Chain(ctx context.Context, quoteID string) ([]*repository.ApprovalRequest, error) {
	return s.requests.ChainByQuote(ctx, quoteID)
}

// ── Internal helpers ─────────────────────────────────────────────────────────

// notifyStep addresses a step notification: the resolved approver when one
// exists, otherwise everyone holding the step's role.
func (s *EscalationService) notifyStep(ctx context.Context, eventType string, req *repository.ApprovalRequest, actorID string) {
	recipients, err := resolveRecipients(ctx, s.directory, req.AssignedToUserID, req.ApproverRole)
	if err != nil {
		s.log.Warn().Err(err).
			Str("request_id", req.ID).
			Str("approver_role", req.ApproverRole).
			Msg("Could not resolve notification recipients")
		return
	}

	payload := map[string]interface{}{
		"request_id":     req.ID,
		"step_order":     req.StepOrder,
		"total_steps":    req.TotalSteps,
		"approver_role":  req.ApproverRole,
		"margin_percent": req.QuoteMarginPercent,
		"quote_total":    req.QuoteTotal,
		"expires_at":     req.ExpiresAt,
	}
	if req.IsRedirected && req.RedirectedFromUserID != nil {
		payload["redirected_from"] = *req.RedirectedFromUserID
	}

	s.notifier.PublishApprovalEvent(ctx, eventType, req.QuoteID, actorID, recipients, payload)
}

// requesterRecipients resolves the original requester's address for
// terminal-outcome notifications.
func (s *EscalationService) requesterRecipients(ctx context.Context, req *repository.ApprovalRequest) []string {
	emails, err := s.directory.EmailsForUsers(ctx, []string{req.RequestedBy})
	if err != nil {
		s.log.Warn().Err(err).
			Str("requested_by", req.RequestedBy).
			Msg("Could not resolve requester email")
		return nil
	}
	return emails
}

// resolveRecipients maps an assignment to e-mail addresses: the assigned
// user when set, otherwise all holders of the role.
func resolveRecipients(ctx context.Context, dir Directory, assigned *string, role string) ([]string, error) {
	if assigned != nil && *assigned != "" {
		return dir.EmailsForUsers(ctx, []string{*assigned})
	}

	users, err := dir.UsersWithRole(ctx, role)
	if err != nil {
		return nil, err
	}
	return dir.EmailsForUsers(ctx, users)
}

// appendAudit writes an audit entry and logs a warning on failure (never
// returns error).
func (s *EscalationService) appendAudit(ctx context.Context, entry *repository.ApprovalAuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("quote_id", entry.QuoteID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
