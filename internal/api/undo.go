package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vkoval/lendops/internal/identity"
)

// UndoLast compensates the requesting admin's most recent operation in scope.
func (h *Handler) UndoLast(w http.ResponseWriter, r *http.Request) {
	actorID := identity.ActorIDFromContext(r.Context())
	scopeID := identity.ScopeIDFromContext(r.Context())

	outcome, err := h.single.UndoLast(r.Context(), actorID, scopeID)
	if err != nil {
		slog.Warn("Undo last failed", "actor_id", actorID, "scope_id", scopeID, "error", err)
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, outcome)
}

// RestorePreview returns how many records a restore of the date would touch.
func (h *Handler) RestorePreview(w http.ResponseWriter, r *http.Request) {
	day, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		Error(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	count, err := h.batch.Preview(r.Context(), day)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"date":           day.Format("2006-01-02"),
		"eligible_count": count,
	})
}

type restoreExecuteRequest struct {
	Date string `json:"date"`
}

// RestoreExecute rolls an entire day back. Irreversible; clients are expected
// to have shown the preview count and collected explicit confirmation.
func (h *Handler) RestoreExecute(w http.ResponseWriter, r *http.Request) {
	var req restoreExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	day, err := parseDate(req.Date)
	if err != nil {
		Error(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	actorID := identity.ActorIDFromContext(r.Context())
	slog.Info("Batch restore requested", "date", req.Date, "actor_id", actorID)

	result, err := h.batch.Execute(r.Context(), day)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}
