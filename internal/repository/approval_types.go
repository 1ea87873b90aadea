package repository

import "time"

// ── Domain types for the approval escalation engine ──────────────────────────

// Approval request statuses.
const (
	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusRejected = "rejected"
	RequestStatusExpired  = "expired"
)

// Quote statuses driven by approval outcomes. The full quote lifecycle
// (draft, calculated, sent, converted, ...) is owned by the quote service.
const (
	QuoteStatusPendingApproval = "pending_approval"
	QuoteStatusApproved        = "approved"
	QuoteStatusRejected        = "rejected"
)

// ApprovalRule is a margin-band routing policy. Bands are inclusive on both
// ends; a nil bound is unbounded on that side. Rules are maintained by
// administrators and read-only to the engine.
type ApprovalRule struct {
	ID              string   `json:"id"`
	RuleName        string   `json:"rule_name"`
	MarginMin       *float64 `json:"margin_min"` // percent; nil = no lower bound
	MarginMax       *float64 `json:"margin_max"` // percent; nil = no upper bound
	ApproverRole    string   `json:"approver_role"`
	Priority        int      `json:"priority"` // lower = evaluated first
	DefaultSLAHours float64  `json:"default_sla_hours"`
	IsActive        bool     `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ApprovalStep is one configured stage of a rule's escalation chain.
// step_order is 1-based and unique within a rule.
type ApprovalStep struct {
	ID                   string    `json:"id"`
	RuleID               string    `json:"rule_id"`
	StepOrder            int       `json:"step_order"`
	ApproverRole         string    `json:"approver_role"`
	SLAHours             float64   `json:"sla_hours"`
	PrimaryApproverID    *string   `json:"primary_approver_id"`
	SubstituteApproverID *string   `json:"substitute_approver_id"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// UserAbsence is a closed absence interval. A user is absent at instant t
// iff an active row exists with start_date <= t <= end_date.
type UserAbsence struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// BusinessHour is one row of the weekly calendar template. A weekday with
// no row, or is_open=false, is fully closed.
type BusinessHour struct {
	DayOfWeek int    `json:"day_of_week"` // 0=Sunday .. 6=Saturday
	StartTime string `json:"start_time"`  // "HH:MM"
	EndTime   string `json:"end_time"`    // "HH:MM"
	IsOpen    bool   `json:"is_open"`
}

// ApprovalRequest is the unit of work for one escalation step. Immutable
// once decided; the chain for a quote is linked through ParentRequestID.
type ApprovalRequest struct {
	ID                     string     `json:"id"`
	QuoteID                string     `json:"quote_id"`
	RuleID                 string     `json:"rule_id"`
	StepOrder              int        `json:"step_order"`
	TotalSteps             int        `json:"total_steps"`
	Status                 string     `json:"status"`
	Reason                 string     `json:"reason"`
	QuoteTotal             float64    `json:"quote_total"`
	QuoteMarginPercent     float64    `json:"quote_margin_percent"`
	RequestedBy            string     `json:"requested_by"`
	ApproverRole           string     `json:"approver_role"`
	AssignedToUserID       *string    `json:"assigned_to_user_id"`
	IsRedirected           bool       `json:"is_redirected"`
	RedirectedFromUserID   *string    `json:"redirected_from_user_id"`
	ParentRequestID        *string    `json:"parent_request_id"`
	ExpiresAt              time.Time  `json:"expires_at"`
	SLAWarningSent         bool       `json:"sla_warning_sent"`
	LastNotificationSentAt *time.Time `json:"last_notification_sent_at"`
	DecidedBy              *string    `json:"decided_by"`
	DecidedAt              *time.Time `json:"decided_at"`
	Comments               *string    `json:"comments"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// ApprovalAuditEntry is one immutable record in the audit log.
type ApprovalAuditEntry struct {
	ID                string                 `json:"id"`
	QuoteID           string                 `json:"quote_id"`
	RequestID         *string                `json:"request_id"`
	Action            string                 `json:"action"` // created | approved | rejected | escalated | sla_warning | sla_breach
	PerformedBy       string                 `json:"performed_by"`
	PerformedAt       time.Time              `json:"performed_at"`
	QuoteStatusBefore *string                `json:"quote_status_before"`
	QuoteStatusAfter  *string                `json:"quote_status_after"`
	Metadata          map[string]interface{} `json:"metadata"`
}
