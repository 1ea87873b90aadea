package service

import (
	"context"
	"time"

	"github.com/pardis-ai/be-cpq-approvals/internal/logger"
	"github.com/pardis-ai/be-cpq-approvals/internal/metrics"
	"github.com/pardis-ai/be-cpq-approvals/internal/repository"
)

// MonitorStore is the request-store surface the SLA monitor needs.
type MonitorStore interface {
	ListNearExpiry(ctx context.Context, now time.Time, window time.Duration) ([]*repository.ApprovalRequest, error)
	ListBreached(ctx context.Context, now time.Time) ([]*repository.ApprovalRequest, error)
	MarkWarningSent(ctx context.Context, id string) error
	TouchLastNotification(ctx context.Context, id string, at time.Time) error
}

// MonitorReport summarizes one monitor run.
type MonitorReport struct {
	Warned  int `json:"warned"`
	Alerted int `json:"alerted"`
}

// SLAMonitorService periodically scans pending requests and alerts on
// deadlines. It never mutates request status: expiry is informational and a
// human decision still ends every request.
type SLAMonitorService struct {
	requests  MonitorStore
	directory Directory
	notifier  Notifier
	log       *logger.Logger

	warningWindow    time.Duration
	renotifyInterval time.Duration

	now func() time.Time
}

// NewSLAMonitorService creates a new SLAMonitorService.
func NewSLAMonitorService(
	requests MonitorStore,
	directory Directory,
	notifier Notifier,
	log *logger.Logger,
	warningWindow, renotifyInterval time.Duration,
) *SLAMonitorService {
	return &SLAMonitorService{
		requests:         requests,
		directory:        directory,
		notifier:         notifier,
		log:              log,
		warningWindow:    warningWindow,
		renotifyInterval: renotifyInterval,
		now:              time.Now,
	}
}

// Run executes both scans once. A single request's failure never aborts the
// rest of the scan.
func (s *SLAMonitorService) Run(ctx context.Context) (MonitorReport, error) {
	metrics.MonitorRuns.Inc()
	now := s.now()
	report := MonitorReport{}

	nears, err := s.requests.ListNearExpiry(ctx, now, s.warningWindow)
	if err != nil {
		return report, err
	}
	for _, req := range nears {
		if s.warn(ctx, req) {
			report.Warned++
		}
	}

	breached, err := s.requests.ListBreached(ctx, now)
	if err != nil {
		return report, err
	}
	for _, req := range breached {
		if s.alert(ctx, req, now) {
			report.Alerted++
		}
	}

	s.log.Info().
		Int("near_expiry", len(nears)).
		Int("breached", len(breached)).
		Int("warned", report.Warned).
		Int("alerted", report.Alerted).
		Msg("SLA monitor run finished")

	return report, nil
}

// warn sends the at-most-once near-expiry warning for a request.
func (s *SLAMonitorService) warn(ctx context.Context, req *repository.ApprovalRequest) bool {
	recipients, err := resolveRecipients(ctx, s.directory, req.AssignedToUserID, req.ApproverRole)
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", req.ID).Msg("SLA warning: recipient lookup failed")
		return false
	}
	if len(recipients) == 0 {
		s.log.Warn().Str("request_id", req.ID).Str("approver_role", req.ApproverRole).
			Msg("SLA warning: no recipients for role")
		return false
	}

	s.notifier.PublishApprovalEvent(ctx, "sla_warning", req.QuoteID, "", recipients, map[string]interface{}{
		"request_id":    req.ID,
		"step_order":    req.StepOrder,
		"approver_role": req.ApproverRole,
		"expires_at":    req.ExpiresAt,
	})

	if err := s.requests.MarkWarningSent(ctx, req.ID); err != nil {
		s.log.Warn().Err(err).Str("request_id", req.ID).Msg("SLA warning: could not mark warning sent")
		return false
	}

	metrics.SLAWarnings.Inc()
	return true
}

// alert sends a breach notification, throttled per request by
// renotifyInterval so a long-breached request does not alert on every run.
func (s *SLAMonitorService) alert(ctx context.Context, req *repository.ApprovalRequest, now time.Time) bool {
	if req.LastNotificationSentAt != nil && now.Sub(*req.LastNotificationSentAt) < s.renotifyInterval {
		return false
	}

	recipients, err := resolveRecipients(ctx, s.directory, req.AssignedToUserID, req.ApproverRole)
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", req.ID).Msg("SLA breach: recipient lookup failed")
		return false
	}
	if len(recipients) == 0 {
		s.log.Warn().Str("request_id", req.ID).Str("approver_role", req.ApproverRole).
			Msg("SLA breach: no recipients for role")
		return false
	}

	s.notifier.PublishApprovalEvent(ctx, "sla_breach", req.QuoteID, "", recipients, map[string]interface{}{
		"request_id":    req.ID,
		"step_order":    req.StepOrder,
		"approver_role": req.ApproverRole,
		"expires_at":    req.ExpiresAt,
		"overdue_hours": now.Sub(req.ExpiresAt).Hours(),
	})

	if err := s.requests.TouchLastNotification(ctx, req.ID, now); err != nil {
		s.log.Warn().Err(err).Str("request_id", req.ID).Msg("SLA breach: could not stamp notification time")
		return false
	}

	metrics.SLABreaches.Inc()
	return true
}
