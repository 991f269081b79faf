// Package api provides HTTP handlers for the lendops admin API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vkoval/lendops/internal/ledger"
	"github.com/vkoval/lendops/internal/shared"
	"github.com/vkoval/lendops/internal/store"
	"github.com/vkoval/lendops/internal/undo"
)

// Handler provides common handler utilities and dependencies.
type Handler struct {
	repo    store.Repository
	mutator *ledger.Service
	single  *undo.SingleCoordinator
	batch   *undo.BatchCoordinator
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, mutator *ledger.Service, single *undo.SingleCoordinator, batch *undo.BatchCoordinator) *Handler {
	return &Handler{
		repo:    repo,
		mutator: mutator,
		single:  single,
		batch:   batch,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// WriteDomainError maps an engine error onto an HTTP response.
func WriteDomainError(w http.ResponseWriter, err error) {
	var validationErr *undo.ValidationError
	var undoErr *undo.UndoError

	switch {
	case errors.Is(err, undo.ErrLimitExceeded):
		Error(w, http.StatusTooManyRequests, "undo limit reached, perform a new operation first")
	case errors.Is(err, undo.ErrNothingToUndo):
		Error(w, http.StatusNotFound, "nothing to undo")
	case errors.Is(err, store.ErrAlreadyUndone):
		Error(w, http.StatusConflict, "operation already undone")
	case errors.As(err, &validationErr):
		Error(w, http.StatusBadRequest, validationErr.Msg)
	case errors.As(err, &undoErr):
		Error(w, http.StatusUnprocessableEntity, undoErr.Error())
	case shared.IsSQLiteConflictError(err):
		Error(w, http.StatusServiceUnavailable, "storage busy, retry shortly")
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

// parseDate parses the YYYY-MM-DD date parameter used by the restore and
// audit endpoints.
func parseDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", raw)
}

// Health reports service and database health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
