package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/vkoval/lendops/internal/domain"
)

// operationView is the audit-display shape of a record; the payload is
// emitted as raw JSON so unknown kinds render unmodified.
type operationView struct {
	ID        string          `json:"id"`
	ActorID   int64           `json:"actor_id"`
	ScopeID   int64           `json:"scope_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
	IsUndone  bool            `json:"is_undone"`
}

func viewOf(rec *domain.OperationRecord) (operationView, error) {
	payload, err := domain.EncodePayload(rec.Payload)
	if err != nil {
		return operationView{}, err
	}
	return operationView{
		ID:        rec.ID,
		ActorID:   rec.ActorID,
		ScopeID:   rec.ScopeID,
		Kind:      string(rec.Kind),
		Payload:   payload,
		CreatedAt: rec.CreatedAt.Format("2006-01-02T15:04:05.000000Z07:00"),
		IsUndone:  rec.IsUndone,
	}, nil
}

// ListOperations returns the records of a date for audit display, optionally
// filtered by kind and actor.
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	day, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		Error(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	kindFilter := r.URL.Query().Get("kind")
	var actorFilter int64
	if raw := r.URL.Query().Get("actor"); raw != "" {
		actorFilter, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			Error(w, http.StatusBadRequest, "actor must be an id")
			return
		}
	}

	recs, err := h.repo.ListOperationsByDate(r.Context(), day)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	views := make([]operationView, 0, len(recs))
	for _, rec := range recs {
		if kindFilter != "" && string(rec.Kind) != kindFilter {
			continue
		}
		if actorFilter != 0 && rec.ActorID != actorFilter {
			continue
		}
		view, err := viewOf(rec)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		views = append(views, view)
	}
	JSON(w, http.StatusOK, views)
}

// DeleteOperation removes a record. This is the separate admin correction
// path; the undo engine simply never sees the record again.
func (h *Handler) DeleteOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.DeleteOperation(r.Context(), id); err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// ModifyOperation replaces a record's payload, keeping its kind. Also part of
// the admin correction path.
func (h *Handler) ModifyOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.repo.GetOperation(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if rec == nil {
		Error(w, http.StatusNotFound, "operation not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	payload, err := domain.DecodePayload(rec.Kind, body)
	if err != nil {
		Error(w, http.StatusBadRequest, "payload does not match the record's kind")
		return
	}

	if err := h.repo.UpdateOperationPayload(r.Context(), id, payload); err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"modified": id})
}
