package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pardis-ai/be-cpq-approvals/internal/logger"
	"github.com/pardis-ai/be-cpq-approvals/internal/repository"
)

// AdminHandler serves the configuration surface: approval rules and steps,
// the weekly business calendar, and user absences. These are administrator
// screens in the CPQ frontend; the engine itself only reads this data.
type AdminHandler struct {
	rules    *repository.ApprovalRulesRepository
	steps    *repository.ApprovalStepsRepository
	hours    *repository.BusinessHoursRepository
	absences *repository.UserAbsenceRepository
	log      *logger.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	rules *repository.ApprovalRulesRepository,
	steps *repository.ApprovalStepsRepository,
	hours *repository.BusinessHoursRepository,
	absences *repository.UserAbsenceRepository,
	log *logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		rules:    rules,
		steps:    steps,
		hours:    hours,
		absences: absences,
		log:      log,
	}
}

// ruleRequest is the rule payload with its configured steps inline.
type ruleRequest struct {
	repository.ApprovalRule
	Steps []*repository.ApprovalStep `json:"steps"`
}

// Rules handles GET (list) and POST (create) on /api/v1/approval-rules.
func (h *AdminHandler) Rules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rules, err := h.rules.List(r.Context(), r.URL.Query().Get("active") == "true")
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})

	case http.MethodPost:
		var req ruleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := h.rules.Create(r.Context(), &req.ApprovalRule); err != nil {
			writeError(w, err)
			return
		}
		if len(req.Steps) > 0 {
			if err := h.steps.ReplaceForRule(r.Context(), req.ApprovalRule.ID, req.Steps); err != nil {
				writeError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"rule":  req.ApprovalRule,
			"steps": req.Steps,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// UpdateRule handles PUT /api/v1/approval-rules/update.
func (h *AdminHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	if err := h.rules.Update(r.Context(), &req.ApprovalRule); err != nil {
		writeError(w, err)
		return
	}
	if req.Steps != nil {
		if err := h.steps.ReplaceForRule(r.Context(), req.ID, req.Steps); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rule":  req.ApprovalRule,
		"steps": req.Steps,
	})
}

// DeleteRule handles DELETE /api/v1/approval-rules/delete.
func (h *AdminHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	if err := h.rules.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RuleSteps handles GET /api/v1/approval-rules/steps.
func (h *AdminHandler) RuleSteps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ruleID := r.URL.Query().Get("rule_id")
	if ruleID == "" {
		http.Error(w, "rule_id is required", http.StatusBadRequest)
		return
	}

	steps, err := h.steps.ListByRule(r.Context(), ruleID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

// BusinessHours handles GET (read) and PUT (replace) on /api/v1/business-hours.
func (h *AdminHandler) BusinessHours(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		hours, err := h.hours.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"business_hours": hours})

	case http.MethodPut:
		var req struct {
			BusinessHours []repository.BusinessHour `json:"business_hours"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := h.hours.Replace(r.Context(), req.BusinessHours); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"business_hours": req.BusinessHours})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Absences handles GET (list by user), POST (create) and DELETE on
// /api/v1/absences.
func (h *AdminHandler) Absences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		absences, err := h.absences.ListByUser(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"absences": absences})

	case http.MethodPost:
		var absence repository.UserAbsence
		if err := json.NewDecoder(r.Body).Decode(&absence); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := h.absences.Create(r.Context(), &absence); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, absence)

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		if err := h.absences.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
