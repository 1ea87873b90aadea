// Package metrics exposes Prometheus counters for the approval engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsCreated counts approval requests created, by step order.
	RequestsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpq_approval_requests_created_total",
		Help: "Approval requests created.",
	}, []string{"step"})

	// Decisions counts approve/reject decisions.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpq_approval_decisions_total",
		Help: "Approval decisions recorded.",
	}, []string{"action"})

	// SLAWarnings counts near-expiry warnings sent by the monitor.
	SLAWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cpq_sla_warnings_sent_total",
		Help: "Near-expiry SLA warnings sent.",
	})

	// SLABreaches counts breach alerts sent by the monitor.
	SLABreaches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cpq_sla_breach_alerts_sent_total",
		Help: "Breached SLA alerts sent.",
	})

	// MonitorRuns counts monitor executions.
	MonitorRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cpq_sla_monitor_runs_total",
		Help: "SLA monitor executions.",
	})
)
