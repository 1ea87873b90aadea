package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pardis-ai/be-cpq-approvals/internal/repository"
)

type monitorEnv struct {
	requests  *fakeRequests
	directory *fakeDirectory
	notifier  *fakeNotifier
	svc       *SLAMonitorService
}

func newMonitorEnv() *monitorEnv {
	env := &monitorEnv{
		requests: newFakeRequests(),
		directory: &fakeDirectory{
			usersByRole: map[string][]string{
				"gerente": {"ana"},
				"diretor": {"carla"},
			},
			emails: map[string]string{
				"ana":   "ana@example.com",
				"carla": "carla@example.com",
			},
			failRoles: map[string]bool{},
		},
		notifier: &fakeNotifier{},
	}
	env.svc = NewSLAMonitorService(
		env.requests, env.directory, env.notifier, testLogger(),
		4*time.Hour, 12*time.Hour,
	)
	return env
}

func (env *monitorEnv) seed(id, role string, expiresAt time.Time) *repository.ApprovalRequest {
	req := &repository.ApprovalRequest{
		ID:           id,
		QuoteID:      "quote-" + id,
		Status:       repository.RequestStatusPending,
		StepOrder:    1,
		TotalSteps:   1,
		ApproverRole: role,
		ExpiresAt:    expiresAt,
	}
	env.requests.byID[id] = req
	return req
}

func (env *monitorEnv) runAt(t *testing.T, now time.Time) MonitorReport {
	t.Helper()
	env.svc.now = func() time.Time { return now }
	report, err := env.svc.Run(context.Background())
	require.NoError(t, err)
	return report
}

func TestMonitorWarnsOnceNearExpiry(t *testing.T) {
	env := newMonitorEnv()
	now := at(monday, 9, 0)
	req := env.seed("r1", "gerente", now.Add(2*time.Hour))

	report := env.runAt(t, now)
	assert.Equal(t, 1, report.Warned)
	assert.True(t, req.SLAWarningSent)

	events := env.notifier.byType("sla_warning")
	require.Len(t, events, 1)
	assert.Equal(t, []string{"ana@example.com"}, events[0].Recipients)

	// A later run inside the window must not warn again.
	report = env.runAt(t, now.Add(time.Hour))
	assert.Equal(t, 0, report.Warned)
	assert.Len(t, env.notifier.byType("sla_warning"), 1)
}

func TestMonitorIgnoresDistantDeadlines(t *testing.T) {
	env := newMonitorEnv()
	now := at(monday, 9, 0)
	env.seed("r1", "gerente", now.Add(10*time.Hour))

	report := env.runAt(t, now)
	assert.Equal(t, 0, report.Warned)
	assert.Equal(t, 0, report.Alerted)
	assert.Empty(t, env.notifier.events)
}

func TestMonitorAlertsOnBreachWithThrottle(t *testing.T) {
	env := newMonitorEnv()
	now := at(monday, 9, 0)
	req := env.seed("r1", "gerente", now.Add(-time.Hour))

	report := env.runAt(t, now)
	assert.Equal(t, 1, report.Alerted)
	require.NotNil(t, req.LastNotificationSentAt)

	events := env.notifier.byType("sla_breach")
	require.Len(t, events, 1)
	assert.InDelta(t, 1.0, events[0].Payload["overdue_hours"], 0.01)

	// 2h later: inside the 12h re-notify interval, stay quiet.
	report = env.runAt(t, now.Add(2*time.Hour))
	assert.Equal(t, 0, report.Alerted)
	assert.Len(t, env.notifier.byType("sla_breach"), 1)

	// 13h later: interval elapsed, alert again.
	report = env.runAt(t, now.Add(13*time.Hour))
	assert.Equal(t, 1, report.Alerted)
	assert.Len(t, env.notifier.byType("sla_breach"), 2)
}

func TestMonitorNeverMutatesStatus(t *testing.T) {
	env := newMonitorEnv()
	now := at(monday, 9, 0)
	req := env.seed("r1", "gerente", now.Add(-48*time.Hour))

	env.runAt(t, now)
	assert.Equal(t, repository.RequestStatusPending, req.Status)
}

func TestMonitorSkipsWarningWithoutRecipients(t *testing.T) {
	env := newMonitorEnv()
	now := at(monday, 9, 0)
	req := env.seed("r1", "sem-titular", now.Add(2*time.Hour))

	report := env.runAt(t, now)
	assert.Equal(t, 0, report.Warned)
	assert.False(t, req.SLAWarningSent, "warn-once flag must not be set when nothing was sent")

	// Once the role gains a holder, the warning still goes out.
	env.directory.usersByRole["sem-titular"] = []string{"carla"}
	report = env.runAt(t, now.Add(time.Hour))
	assert.Equal(t, 1, report.Warned)
	assert.True(t, req.SLAWarningSent)
}

func TestMonitorIsolatesPerRequestFailures(t *testing.T) {
	env := newMonitorEnv()
	now := at(monday, 9, 0)
	env.seed("r1", "diretor", now.Add(-time.Hour))
	env.seed("r2", "gerente", now.Add(-time.Hour))
	env.directory.failRoles["diretor"] = true

	report := env.runAt(t, now)
	assert.Equal(t, 1, report.Alerted)

	events := env.notifier.byType("sla_breach")
	require.Len(t, events, 1)
	assert.Equal(t, []string{"ana@example.com"}, events[0].Recipients)
}

func TestMonitorWarnsAssignedUserDirectly(t *testing.T) {
	env := newMonitorEnv()
	now := at(monday, 9, 0)
	req := env.seed("r1", "gerente", now.Add(3*time.Hour))
	req.AssignedToUserID = strPtr("carla")

	env.runAt(t, now)

	events := env.notifier.byType("sla_warning")
	require.Len(t, events, 1)
	assert.Equal(t, []string{"carla@example.com"}, events[0].Recipients)
}
