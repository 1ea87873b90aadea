package handler

import (
	"context"
	"encoding/json"
	"net/http"

	apperrors "github.com/pardis-ai/be-cpq-approvals/internal/errors"
	"github.com/pardis-ai/be-cpq-approvals/internal/logger"
	"github.com/pardis-ai/be-cpq-approvals/internal/repository"
	"github.com/pardis-ai/be-cpq-approvals/internal/service"
)

// AuditReader reads the approval audit trail for a quote.
type AuditReader interface {
	ListByQuote(ctx context.Context, quoteID string) ([]*repository.ApprovalAuditEntry, error)
}

// HTTPHandler handles the approval engine's HTTP surface.
type HTTPHandler struct {
	escalation *service.EscalationService
	monitor    *service.SLAMonitorService
	audit      AuditReader
	log        *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(escalation *service.EscalationService, monitor *service.SLAMonitorService, audit AuditReader, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		escalation: escalation,
		monitor:    monitor,
		audit:      audit,
		log:        log,
	}
}

// CreateApproval handles POST /api/v1/approvals.
func (h *HTTPHandler) CreateApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		QuoteID       string  `json:"quote_id"`
		MarginPercent float64 `json:"margin_percent"`
		TotalValue    float64 `json:"total_value"`
		Reason        string  `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.escalation.CreateApproval(r.Context(), service.CreateApprovalInput{
		QuoteID:       req.QuoteID,
		MarginPercent: req.MarginPercent,
		TotalValue:    req.TotalValue,
		Reason:        req.Reason,
		RequestedBy:   actingUser(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"request_id":    result.Request.ID,
		"assigned_role": result.RequiredRole,
		"redirected":    result.Redirected,
		"expires_at":    result.Request.ExpiresAt,
		"total_steps":   result.Request.TotalSteps,
	})
}

// DecideApproval handles POST /api/v1/approvals/decide.
func (h *HTTPHandler) DecideApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RequestID string `json:"request_id"`
		Action    string `json:"action"`
		Comments  string `json:"comments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.escalation.DecideApproval(r.Context(), service.DecideApprovalInput{
		RequestID:    req.RequestID,
		ActingUserID: actingUser(r),
		Action:       req.Action,
		Comments:     req.Comments,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{
		"status":   result.Outcome,
		"quote_id": result.QuoteID,
	}
	if result.NextRole != nil {
		resp["next_role"] = *result.NextRole
	}
	if result.NextRequest != nil {
		resp["next_request_id"] = result.NextRequest.ID
		resp["next_expires_at"] = result.NextRequest.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// RunMonitor handles POST /api/v1/approvals/monitor/run.
func (h *HTTPHandler) RunMonitor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report, err := h.monitor.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListPending handles GET /api/v1/approvals/pending.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = actingUser(r)
	}
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	pending, err := h.escalation.PendingForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": pending})
}

// GetChain handles GET /api/v1/approvals/chain.
func (h *HTTPHandler) GetChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	quoteID := r.URL.Query().Get("quote_id")
	if quoteID == "" {
		http.Error(w, "quote_id is required", http.StatusBadRequest)
		return
	}

	chain, err := h.escalation.Chain(r.Context(), quoteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chain": chain})
}

// GetAuditTrail handles GET /api/v1/approvals/audit.
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	quoteID := r.URL.Query().Get("quote_id")
	if quoteID == "" {
		http.Error(w, "quote_id is required", http.StatusBadRequest)
		return
	}

	entries, err := h.audit.ListByQuote(r.Context(), quoteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ── shared helpers ───────────────────────────────────────────────────────────

// actingUser identifies the caller. Authentication happens upstream; the
// gateway forwards the verified user in X-User-ID.
func actingUser(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatus(err), map[string]interface{}{
		"error": err.Error(),
		"code":  apperrors.CodeOf(err),
	})
}
