package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pardis-ai/be-cpq-approvals/internal/errors"
	"github.com/pardis-ai/be-cpq-approvals/internal/logger"
	"github.com/pardis-ai/be-cpq-approvals/internal/repository"
)

// ── in-memory stores mirroring the repository semantics ──────────────────────

type fakeRules struct {
	rules []*repository.ApprovalRule
}

func (f *fakeRules) ListActive(_ context.Context) ([]*repository.ApprovalRule, error) {
	var active []*repository.ApprovalRule
	for _, r := range f.rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority < active[j].Priority
		}
		return active[i].RuleName < active[j].RuleName
	})
	return active, nil
}

func (f *fakeRules) GetByID(_ context.Context, id string) (*repository.ApprovalRule, error) {
	for _, r := range f.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, errors.NotFound("approval_rule", id)
}

type fakeSteps struct {
	byRule map[string][]*repository.ApprovalStep
}

func (f *fakeSteps) ListByRule(_ context.Context, ruleID string) ([]*repository.ApprovalStep, error) {
	steps := append([]*repository.ApprovalStep(nil), f.byRule[ruleID]...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps, nil
}

type fakeRequests struct {
	byID map[string]*repository.ApprovalRequest
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{byID: make(map[string]*repository.ApprovalRequest)}
}

func (f *fakeRequests) Create(_ context.Context, req *repository.ApprovalRequest) error {
	for _, existing := range f.byID {
		if existing.QuoteID == req.QuoteID && existing.Status == repository.RequestStatusPending {
			return errors.New(errors.ErrCodeConflict, "quote already has a pending approval request")
		}
	}
	req.ID = uuid.NewString()
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	f.byID[req.ID] = req
	return nil
}

func (f *fakeRequests) GetByID(_ context.Context, id string) (*repository.ApprovalRequest, error) {
	req, ok := f.byID[id]
	if !ok {
		return nil, errors.NotFound("approval_request", id)
	}
	copied := *req
	return &copied, nil
}

func (f *fakeRequests) Decide(_ context.Context, id, status, decidedBy string, comments *string) (*repository.ApprovalRequest, error) {
	req, ok := f.byID[id]
	if !ok {
		return nil, errors.NotFound("approval_request", id)
	}
	if req.Status != repository.RequestStatusPending {
		return nil, errors.New(errors.ErrCodeConflict, "approval request already decided")
	}
	now := time.Now()
	req.Status = status
	req.DecidedBy = &decidedBy
	req.DecidedAt = &now
	req.Comments = comments
	req.UpdatedAt = now

	copied := *req
	return &copied, nil
}

func (f *fakeRequests) ChainByQuote(_ context.Context, quoteID string) ([]*repository.ApprovalRequest, error) {
	var chain []*repository.ApprovalRequest
	for _, req := range f.byID {
		if req.QuoteID == quoteID {
			chain = append(chain, req)
		}
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].StepOrder < chain[j].StepOrder })
	return chain, nil
}

func (f *fakeRequests) ListPendingForUser(_ context.Context, userID string, roles []string) ([]*repository.ApprovalRequest, error) {
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	var pending []*repository.ApprovalRequest
	for _, req := range f.byID {
		if req.Status != repository.RequestStatusPending {
			continue
		}
		if req.AssignedToUserID != nil && *req.AssignedToUserID == userID {
			pending = append(pending, req)
			continue
		}
		if req.AssignedToUserID == nil {
			if _, ok := roleSet[req.ApproverRole]; ok {
				pending = append(pending, req)
			}
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ExpiresAt.Before(pending[j].ExpiresAt) })
	return pending, nil
}

func (f *fakeRequests) ListNearExpiry(_ context.Context, now time.Time, window time.Duration) ([]*repository.ApprovalRequest, error) {
	var nears []*repository.ApprovalRequest
	for _, req := range f.byID {
		if req.Status != repository.RequestStatusPending || req.SLAWarningSent {
			continue
		}
		if req.ExpiresAt.After(now) && !req.ExpiresAt.After(now.Add(window)) {
			nears = append(nears, req)
		}
	}
	return nears, nil
}

func (f *fakeRequests) ListBreached(_ context.Context, now time.Time) ([]*repository.ApprovalRequest, error) {
	var breached []*repository.ApprovalRequest
	for _, req := range f.byID {
		if req.Status == repository.RequestStatusPending && req.ExpiresAt.Before(now) {
			breached = append(breached, req)
		}
	}
	return breached, nil
}

func (f *fakeRequests) MarkWarningSent(_ context.Context, id string) error {
	req, ok := f.byID[id]
	if !ok {
		return errors.NotFound("approval_request", id)
	}
	req.SLAWarningSent = true
	return nil
}

func (f *fakeRequests) TouchLastNotification(_ context.Context, id string, at time.Time) error {
	req, ok := f.byID[id]
	if !ok {
		return errors.NotFound("approval_request", id)
	}
	req.LastNotificationSentAt = &at
	return nil
}

func (f *fakeRequests) pendingForQuote(quoteID string) []*repository.ApprovalRequest {
	var pending []*repository.ApprovalRequest
	for _, req := range f.byID {
		if req.QuoteID == quoteID && req.Status == repository.RequestStatusPending {
			pending = append(pending, req)
		}
	}
	return pending
}

type fakeQuotes struct {
	byID map[string]*repository.QuoteStatusProjection
}

func (f *fakeQuotes) GetStatus(_ context.Context, quoteID string) (*repository.QuoteStatusProjection, error) {
	q, ok := f.byID[quoteID]
	if !ok {
		return nil, errors.NotFound("quote", quoteID)
	}
	return q, nil
}

func (f *fakeQuotes) SetStatus(_ context.Context, quoteID, status string, requiresApproval, isAuthorized *bool) error {
	q, ok := f.byID[quoteID]
	if !ok {
		return errors.NotFound("quote", quoteID)
	}
	q.Status = status
	if requiresApproval != nil {
		q.RequiresApproval = *requiresApproval
	}
	if isAuthorized != nil {
		q.IsAuthorized = *isAuthorized
	}
	return nil
}

type fakeCalendar struct {
	hours []repository.BusinessHour
}

func (f *fakeCalendar) List(_ context.Context) ([]repository.BusinessHour, error) {
	return f.hours, nil
}

type fakeDirectory struct {
	rolesByUser map[string][]string
	usersByRole map[string][]string
	emails      map[string]string
	failRoles   map[string]bool
}

func (f *fakeDirectory) UsersWithRole(_ context.Context, role string) ([]string, error) {
	if f.failRoles[role] {
		return nil, errors.New(errors.ErrCodeInternal, "directory unavailable")
	}
	return f.usersByRole[role], nil
}

func (f *fakeDirectory) UserRoles(_ context.Context, userID string) ([]string, error) {
	return f.rolesByUser[userID], nil
}

func (f *fakeDirectory) EmailsForUsers(_ context.Context, userIDs []string) ([]string, error) {
	var emails []string
	for _, id := range userIDs {
		if email, ok := f.emails[id]; ok {
			emails = append(emails, email)
		}
	}
	return emails, nil
}

type notifiedEvent struct {
	EventType  string
	QuoteID    string
	ActorID    string
	Recipients []string
	Payload    map[string]interface{}
}

type fakeNotifier struct {
	events []notifiedEvent
}

func (f *fakeNotifier) PublishApprovalEvent(_ context.Context, eventType, quoteID, actorID string, recipients []string, payload map[string]interface{}) {
	f.events = append(f.events, notifiedEvent{
		EventType:  eventType,
		QuoteID:    quoteID,
		ActorID:    actorID,
		Recipients: recipients,
		Payload:    payload,
	})
}

func (f *fakeNotifier) byType(eventType string) []notifiedEvent {
	var matched []notifiedEvent
	for _, ev := range f.events {
		if ev.EventType == eventType {
			matched = append(matched, ev)
		}
	}
	return matched
}

type fakeAudit struct {
	entries []*repository.ApprovalAuditEntry
}

func (f *fakeAudit) Append(_ context.Context, entry *repository.ApprovalAuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", ServiceName: "test"})
}
