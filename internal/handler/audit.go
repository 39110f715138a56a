package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/carelog/authcore/internal/middleware"
	"github.com/carelog/authcore/internal/model"
	"github.com/carelog/authcore/internal/repository"
	"github.com/carelog/authcore/internal/service"
)

type recordAuditRequest struct {
	Action       string          `json:"action"`
	EntityType   string          `json:"entityType"`
	EntityID     int64           `json:"entityId"`
	Description  string          `json:"description"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	Outcome      string          `json:"outcome,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// RecordAudit appends an audit record on behalf of the authenticated actor
func (h *Handler) RecordAudit(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req recordAuditRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	scopeID, err := h.sessionSvc.ScopeOf(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusForbidden, "account_not_active", "Account not found")
			return
		}
		h.log.Error().Err(err).Int64("user_id", claims.UserID).Msg("failed to resolve caller scope")
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}

	entry := service.AuditEntry{
		ActorID:      claims.UserID,
		ScopeID:      scopeID,
		Action:       model.ActionKind(req.Action),
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		Description:  req.Description,
		Origin:       originOf(r),
		Outcome:      model.Outcome(req.Outcome),
		ErrorMessage: req.ErrorMessage,
	}
	// A nil json.RawMessage stored in an interface is not a nil interface.
	if len(req.Before) > 0 {
		entry.Before = req.Before
	}
	if len(req.After) > 0 {
		entry.After = req.After
	}

	rec, err := h.auditSvc.Record(r.Context(), entry)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAuditEntry):
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		default:
			h.log.Error().Err(err).Msg("failed to record audit entry")
			writeError(w, http.StatusInternalServerError, "audit_unavailable", "Audit record could not be persisted")
		}
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

type verifiedRecord struct {
	*model.AuditRecord
	Valid bool `json:"valid"`
}

// GetAuditRecord returns one record with its verification result
func (h *Handler) GetAuditRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.auditSvc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Audit record not found")
			return
		}
		h.log.Error().Err(err).Msg("failed to get audit record")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get audit record")
		return
	}

	writeJSON(w, http.StatusOK, verifiedRecord{AuditRecord: rec, Valid: h.auditSvc.Verify(rec)})
}

// EntityHistory lists the newest records for an entity
func (h *Handler) EntityHistory(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")
	entityID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "Entity ID must be an integer")
		return
	}

	records, err := h.auditSvc.History(r.Context(), entityType, entityID, queryLimit(r))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to load entity history")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": nonNil(records)})
}

// ActorHistory lists the newest records written by an actor
func (h *Handler) ActorHistory(w http.ResponseWriter, r *http.Request) {
	actorID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "Actor ID must be an integer")
		return
	}

	records, err := h.auditSvc.HistoryForActor(r.Context(), actorID, queryLimit(r))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to load actor history")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": nonNil(records)})
}

// VerifyEntityHistory checks the signatures of an entity's history window
func (h *Handler) VerifyEntityHistory(w http.ResponseWriter, r *http.Request) {
	entityID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "Entity ID must be an integer")
		return
	}

	report, err := h.auditSvc.VerifyHistory(r.Context(), r.PathValue("type"), entityID, queryLimit(r))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to verify entity history")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to verify history")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// VerifyActorHistory checks the signatures of an actor's history window
func (h *Handler) VerifyActorHistory(w http.ResponseWriter, r *http.Request) {
	actorID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "Actor ID must be an integer")
		return
	}

	report, err := h.auditSvc.VerifyActorHistory(r.Context(), actorID, queryLimit(r))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to verify actor history")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to verify history")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func nonNil(records []*model.AuditRecord) []*model.AuditRecord {
	if records == nil {
		return []*model.AuditRecord{}
	}
	return records
}
