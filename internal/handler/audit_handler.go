package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go-audit-trail/internal/model"
	"go-audit-trail/internal/service"
	"go-audit-trail/pkg/apierror"
)

const (
	listTypeDeleted = "deleted"
	listTypeHistory = "history"
	listTypeAll     = "all"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// List serves the recycle bin, one entity's history, or (admins only) the
// whole log, selected by the type query parameter.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	listType := strings.ToLower(strings.TrimSpace(query.Get("type")))
	if listType == "" {
		listType = listTypeDeleted
	}

	switch listType {
	case listTypeDeleted:
		page := h.service.ListDeleted(r.Context(), model.DeletedQuery{
			EntityType: strings.TrimSpace(query.Get("entity")),
			Page:       parseIntOrDefault(query.Get("page"), 1),
			Limit:      parseIntOrDefault(query.Get("limit"), 0),
		})
		writeJSON(w, http.StatusOK, page)

	case listTypeHistory:
		entityType := strings.TrimSpace(query.Get("entity"))
		entityID, err := strconv.ParseInt(strings.TrimSpace(query.Get("entityId")), 10, 64)
		if entityType == "" || err != nil || entityID <= 0 {
			writeError(w, apierror.New("BAD_REQUEST", "entity and a positive entityId are required", "", http.StatusBadRequest))
			return
		}
		writeJSON(w, http.StatusOK, h.service.History(r.Context(), entityType, entityID))

	case listTypeAll:
		if !hasRole(r, "admin") {
			writeError(w, model.ErrForbidden)
			return
		}

		var actorID int64
		if raw := strings.TrimSpace(query.Get("actorId")); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed <= 0 {
				writeError(w, apierror.New("BAD_REQUEST", "invalid 'actorId' filter", raw, http.StatusBadRequest))
				return
			}
			actorID = parsed
		}

		page, err := h.service.Query(r.Context(), model.AuditQuery{
			Action:     strings.TrimSpace(query.Get("action")),
			ActorID:    actorID,
			EntityType: strings.TrimSpace(query.Get("entity")),
			From:       strings.TrimSpace(query.Get("from")),
			To:         strings.TrimSpace(query.Get("to")),
			Page:       parseIntOrDefault(query.Get("page"), 1),
			Limit:      parseIntOrDefault(query.Get("limit"), 0),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)

	default:
		writeError(w, apierror.New("BAD_REQUEST", "type must be one of deleted, history, all", listType, http.StatusBadRequest))
	}
}

func (h *AuditHandler) DeletedIDs(w http.ResponseWriter, r *http.Request) {
	entityType := strings.TrimSpace(r.URL.Query().Get("entity"))
	if entityType == "" {
		writeError(w, apierror.New("BAD_REQUEST", "entity is required", "", http.StatusBadRequest))
		return
	}

	ids := h.service.DeletedIDs(r.Context(), entityType)
	writeSuccess(w, http.StatusOK, model.DeletedIDsResponse{EntityType: entityType, IDs: ids.Sorted()})
}

func (h *AuditHandler) Recover(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	actorID, ok := actorIDFromRequest(r)
	if !ok {
		writeError(w, model.ErrUnauthorized)
		return
	}

	var payload model.RecoverRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, model.RecoverResult{
			Success: false,
			Message: "invalid JSON body",
			Code:    model.RecoverCodeInvalidInput,
		})
		return
	}

	result := h.service.Recover(r.Context(), payload.LogID, actorID)
	if !result.Success {
		slog.Warn("recover rejected",
			"log_id", payload.LogID,
			"actor_id", actorID,
			"code", result.Code,
			"ip", clientIP(r),
		)
	}

	writeJSON(w, recoverStatus(result), result)
}

func recoverStatus(result model.RecoverResult) int {
	if result.Success {
		return http.StatusOK
	}

	switch result.Code {
	case model.RecoverCodeNotFound:
		return http.StatusNotFound
	case model.RecoverCodeNotRecoverable, model.RecoverCodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseIntOrDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}
