package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pardis-ai/be-cpq-approvals/internal/errors"
	"github.com/pardis-ai/be-cpq-approvals/internal/repository"
)

func floatPtr(f float64) *float64 { return &f }

// escalationEnv wires an EscalationService over in-memory fakes with a
// two-rule fixture:
//
//	rule-two    margin [10,20], gerente -> diretor, two configured steps
//	rule-single margin (-inf,9], gerente only, no configured steps
type escalationEnv struct {
	rules     *fakeRules
	steps     *fakeSteps
	requests  *fakeRequests
	quotes    *fakeQuotes
	absences  absenceMap
	directory *fakeDirectory
	notifier  *fakeNotifier
	audit     *fakeAudit
	svc       *EscalationService
}

func newEscalationEnv() *escalationEnv {
	env := &escalationEnv{
		rules: &fakeRules{rules: []*repository.ApprovalRule{
			{
				ID:              "rule-two",
				RuleName:        "low margin",
				MarginMin:       floatPtr(10),
				MarginMax:       floatPtr(20),
				ApproverRole:    "gerente",
				Priority:        1,
				DefaultSLAHours: 24,
				IsActive:        true,
			},
			{
				ID:              "rule-single",
				RuleName:        "critical margin",
				MarginMax:       floatPtr(9),
				ApproverRole:    "gerente",
				Priority:        2,
				DefaultSLAHours: 24,
				IsActive:        true,
			},
		}},
		steps: &fakeSteps{byRule: map[string][]*repository.ApprovalStep{
			"rule-two": {
				{
					ID: "step-1", RuleID: "rule-two", StepOrder: 1,
					ApproverRole: "gerente", SLAHours: 24,
					PrimaryApproverID:    strPtr("ana"),
					SubstituteApproverID: strPtr("bruno"),
				},
				{
					ID: "step-2", RuleID: "rule-two", StepOrder: 2,
					ApproverRole: "diretor", SLAHours: 48,
				},
			},
		}},
		requests: newFakeRequests(),
		quotes: &fakeQuotes{byID: map[string]*repository.QuoteStatusProjection{
			"quote-1": {ID: "quote-1", Status: "draft"},
		}},
		absences: absenceMap{},
		directory: &fakeDirectory{
			rolesByUser: map[string][]string{
				"ana":   {"gerente"},
				"bruno": {"gerente"},
				"carla": {"diretor"},
				"dave":  {"vendedor"},
			},
			usersByRole: map[string][]string{
				"gerente": {"ana", "bruno"},
				"diretor": {"carla"},
			},
			emails: map[string]string{
				"ana":   "ana@example.com",
				"bruno": "bruno@example.com",
				"carla": "carla@example.com",
				"dave":  "dave@example.com",
			},
			failRoles: map[string]bool{},
		},
		notifier: &fakeNotifier{},
		audit:    &fakeAudit{},
	}

	env.svc = NewEscalationService(
		env.rules, env.steps, env.requests, env.quotes,
		&fakeCalendar{hours: weekdayCalendar()}, env.absences,
		env.directory, env.notifier, env.audit, testLogger(),
	)
	env.svc.now = func() time.Time { return at(monday, 9, 0) }
	return env
}

func (env *escalationEnv) create(t *testing.T, margin float64) *CreateApprovalResult {
	t.Helper()
	res, err := env.svc.CreateApproval(context.Background(), CreateApprovalInput{
		QuoteID:       "quote-1",
		MarginPercent: margin,
		TotalValue:    12500,
		RequestedBy:   "dave",
	})
	require.NoError(t, err)
	return res
}

func TestCreateApprovalStartsChain(t *testing.T) {
	env := newEscalationEnv()

	res := env.create(t, 15)

	req := res.Request
	assert.Equal(t, repository.RequestStatusPending, req.Status)
	assert.Equal(t, "rule-two", req.RuleID)
	assert.Equal(t, 1, req.StepOrder)
	assert.Equal(t, 2, req.TotalSteps)
	assert.Equal(t, "gerente", req.ApproverRole)
	require.NotNil(t, req.AssignedToUserID)
	assert.Equal(t, "ana", *req.AssignedToUserID)
	assert.Nil(t, req.ParentRequestID)

	// Mon 09:00 + 24 working hours on a Mon-Fri 08:00-18:00 calendar.
	wednesday := monday.AddDate(0, 0, 2)
	assert.Equal(t, at(wednesday, 13, 0), req.ExpiresAt)

	quote := env.quotes.byID["quote-1"]
	assert.Equal(t, repository.QuoteStatusPendingApproval, quote.Status)
	assert.True(t, quote.RequiresApproval)
	assert.False(t, quote.IsAuthorized)

	events := env.notifier.byType("approval_required")
	require.Len(t, events, 1)
	assert.Equal(t, []string{"ana@example.com"}, events[0].Recipients)

	require.Len(t, env.audit.entries, 1)
	assert.Equal(t, "created", env.audit.entries[0].Action)
}

func TestCreateApprovalDefaultsReason(t *testing.T) {
	env := newEscalationEnv()
	res := env.create(t, 15)
	assert.Equal(t, "margin of 15.00% requires approval", res.Request.Reason)
}

func TestCreateApprovalNoMatchingRule(t *testing.T) {
	env := newEscalationEnv()

	_, err := env.svc.CreateApproval(context.Background(), CreateApprovalInput{
		QuoteID:       "quote-1",
		MarginPercent: 50,
		RequestedBy:   "dave",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfiguration, errors.CodeOf(err))

	// The quote must be left untouched.
	assert.Equal(t, "draft", env.quotes.byID["quote-1"].Status)
	assert.Empty(t, env.requests.byID)
}

func TestCreateApprovalUnknownQuote(t *testing.T) {
	env := newEscalationEnv()

	_, err := env.svc.CreateApproval(context.Background(), CreateApprovalInput{
		QuoteID:       "no-such-quote",
		MarginPercent: 15,
		RequestedBy:   "dave",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestCreateApprovalRejectsSecondPendingRequest(t *testing.T) {
	env := newEscalationEnv()
	env.create(t, 15)

	_, err := env.svc.CreateApproval(context.Background(), CreateApprovalInput{
		QuoteID:       "quote-1",
		MarginPercent: 15,
		RequestedBy:   "dave",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.Len(t, env.requests.pendingForQuote("quote-1"), 1)
}

func TestCreateApprovalRedirectsWhenPrimaryAbsent(t *testing.T) {
	env := newEscalationEnv()
	env.absences["ana"] = true

	res := env.create(t, 15)

	require.NotNil(t, res.Request.AssignedToUserID)
	assert.Equal(t, "bruno", *res.Request.AssignedToUserID)
	assert.True(t, res.Request.IsRedirected)
	require.NotNil(t, res.Request.RedirectedFromUserID)
	assert.Equal(t, "ana", *res.Request.RedirectedFromUserID)
	assert.True(t, res.Redirected)

	events := env.notifier.byType("approval_required")
	require.Len(t, events, 1)
	assert.Equal(t, []string{"bruno@example.com"}, events[0].Recipients)
}

func TestCreateApprovalSynthesizesStepFromRule(t *testing.T) {
	env := newEscalationEnv()

	res := env.create(t, 5)

	assert.Equal(t, "rule-single", res.Request.RuleID)
	assert.Equal(t, 1, res.Request.TotalSteps)
	assert.Equal(t, "gerente", res.Request.ApproverRole)
	assert.Nil(t, res.Request.AssignedToUserID)

	// Unassigned step notifies every holder of the role.
	events := env.notifier.byType("approval_required")
	require.Len(t, events, 1)
	assert.ElementsMatch(t, []string{"ana@example.com", "bruno@example.com"}, events[0].Recipients)
}

func TestRejectRequiresComments(t *testing.T) {
	env := newEscalationEnv()
	res := env.create(t, 15)

	_, err := env.svc.DecideApproval(context.Background(), DecideApprovalInput{
		RequestID:    res.Request.ID,
		ActingUserID: "ana",
		Action:       "reject",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
	assert.Equal(t, repository.RequestStatusPending, env.requests.byID[res.Request.ID].Status)
}

func TestRejectTerminatesChain(t *testing.T) {
	env := newEscalationEnv()
	res := env.create(t, 15)

	out, err := env.svc.DecideApproval(context.Background(), DecideApprovalInput{
		RequestID:    res.Request.ID,
		ActingUserID: "ana",
		Action:       "reject",
		Comments:     "discount too deep",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out.Outcome)

	stored := env.requests.byID[res.Request.ID]
	assert.Equal(t, repository.RequestStatusRejected, stored.Status)
	require.NotNil(t, stored.Comments)
	assert.Equal(t, "discount too deep", *stored.Comments)

	quote := env.quotes.byID["quote-1"]
	assert.Equal(t, repository.QuoteStatusRejected, quote.Status)
	assert.False(t, quote.IsAuthorized)
	assert.Empty(t, env.requests.pendingForQuote("quote-1"))

	events := env.notifier.byType("approval_rejected")
	require.Len(t, events, 1)
	assert.Equal(t, []string{"dave@example.com"}, events[0].Recipients)
}

func TestApproveEscalatesToNextStep(t *testing.T) {
	env := newEscalationEnv()
	res := env.create(t, 15)

	out, err := env.svc.DecideApproval(context.Background(), DecideApprovalInput{
		RequestID:    res.Request.ID,
		ActingUserID: "ana",
		Action:       "approve",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, out.Outcome)
	require.NotNil(t, out.NextRole)
	assert.Equal(t, "diretor", *out.NextRole)

	child := out.NextRequest
	require.NotNil(t, child)
	assert.Equal(t, repository.RequestStatusPending, child.Status)
	assert.Equal(t, 2, child.StepOrder)
	assert.Equal(t, "diretor", child.ApproverRole)
	require.NotNil(t, child.ParentRequestID)
	assert.Equal(t, res.Request.ID, *child.ParentRequestID)
	assert.Equal(t, res.Request.Reason, child.Reason)

	// Quote stays pending while the chain is open.
	assert.Equal(t, repository.QuoteStatusPendingApproval, env.quotes.byID["quote-1"].Status)
	assert.Len(t, env.requests.pendingForQuote("quote-1"), 1)

	events := env.notifier.byType("approval_escalated")
	require.Len(t, events, 1)
	assert.Equal(t, []string{"carla@example.com"}, events[0].Recipients)
}

func TestApproveFinalStepFinalizesQuote(t *testing.T) {
	env := newEscalationEnv()
	res := env.create(t, 15)

	out, err := env.svc.DecideApproval(context.Background(), DecideApprovalInput{
		RequestID:    res.Request.ID,
		ActingUserID: "ana",
		Action:       "approve",
	})
	require.NoError(t, err)

	final, err := env.svc.DecideApproval(context.Background(), DecideApprovalInput{
		RequestID:    out.NextRequest.ID,
		ActingUserID: "carla",
		Action:       "approve",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, final.Outcome)

	quote := env.quotes.byID["quote-1"]
	assert.Equal(t, repository.QuoteStatusApproved, quote.Status)
	assert.True(t, quote.IsAuthorized)
	assert.Empty(t, env.requests.pendingForQuote("quote-1"))

	// Chain: approved step 1 -> approved step 2, linked by parent id.
	chain, err := env.svc.Chain(context.Background(), "quote-1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, repository.RequestStatusApproved, chain[0].Status)
	assert.Equal(t, repository.RequestStatusApproved, chain[1].Status)
}

func TestDecideTwiceConflicts(t *testing.T) {
	env := newEscalationEnv()
	res := env.create(t, 15)

	_, err := env.svc.DecideApproval(context.Background(), DecideApprovalInput{
		RequestID:    res.Request.ID,
		ActingUserID: "ana",
		Action:       "approve",
	})
	require.NoError(t, err)

	decidedAt := env.requests.byID[res.Request.ID].DecidedAt

	_, err = env.svc.DecideApproval(context.Background(), DecideApprovalInput{
		RequestID:    res.Request.ID,
		ActingUserID: "ana",
		Action:       "reject",
		Comments:     "too late",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	// Terminal fields stay frozen.
	stored := env.requests.byID[res.Request.ID]
	assert.Equal(t, repository.RequestStatusApproved, stored.Status)
	assert.Equal(t, decidedAt, stored.DecidedAt)
}

func TestDecideRejectsUnauthorizedActor(t *testing.T) {
	env := newEscalationEnv()
	res := env.create(t, 15)

	_, err := env.svc.DecideApproval(context.Background(), DecideApprovalInput{
		RequestID:    res.Request.ID,
		ActingUserID: "dave",
		Action:       "approve",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
	assert.Equal(t, repository.RequestStatusPending, env.requests.byID[res.Request.ID].Status)
}

func TestDecideAllowsRoleHolderOnUnassignedStep(t *testing.T) {
	env := newEscalationEnv()
	res := env.create(t, 5) // rule-single, no assigned approver

	out, err := env.svc.DecideApproval(context.Background(), DecideApprovalInput{
		RequestID:    res.Request.ID,
		ActingUserID: "bruno",
		Action:       "approve",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, out.Outcome)
}

func TestDecideRejectsUnknownAction(t *testing.T) {
	env := newEscalationEnv()
	res := env.create(t, 15)

	_, err := env.svc.DecideApproval(context.Background(), DecideApprovalInput{
		RequestID:    res.Request.ID,
		ActingUserID: "ana",
		Action:       "defer",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestPendingForUser(t *testing.T) {
	env := newEscalationEnv()
	res := env.create(t, 15) // assigned to ana

	assigned, err := env.svc.PendingForUser(context.Background(), "ana")
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, res.Request.ID, assigned[0].ID)

	// bruno holds gerente but the step is assigned to ana.
	unrelated, err := env.svc.PendingForUser(context.Background(), "bruno")
	require.NoError(t, err)
	assert.Empty(t, unrelated)

	// After escalation the unassigned diretor step shows up for carla.
	_, err = env.svc.DecideApproval(context.Background(), DecideApprovalInput{
		RequestID:    res.Request.ID,
		ActingUserID: "ana",
		Action:       "approve",
	})
	require.NoError(t, err)

	forCarla, err := env.svc.PendingForUser(context.Background(), "carla")
	require.NoError(t, err)
	require.Len(t, forCarla, 1)
	assert.Equal(t, 2, forCarla[0].StepOrder)
}

func TestSelectFlowFirstMatchWins(t *testing.T) {
	env := newEscalationEnv()
	// Overlap rule-single's band with a higher-priority rule.
	env.rules.rules = append(env.rules.rules, &repository.ApprovalRule{
		ID:              "rule-zero",
		RuleName:        "override",
		MarginMax:       floatPtr(9),
		ApproverRole:    "diretor",
		Priority:        0,
		DefaultSLAHours: 8,
		IsActive:        true,
	})

	rule, steps, err := env.svc.SelectFlow(context.Background(), 5)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "rule-zero", rule.ID)
	require.Len(t, steps, 1)
	assert.Equal(t, "diretor", steps[0].ApproverRole)
}

func TestSelectFlowIgnoresInactiveRules(t *testing.T) {
	env := newEscalationEnv()
	for _, r := range env.rules.rules {
		r.IsActive = false
	}

	rule, _, err := env.svc.SelectFlow(context.Background(), 15)
	require.NoError(t, err)
	assert.Nil(t, rule)
}
