package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vkoval/lendops/internal/domain"
	"github.com/vkoval/lendops/internal/identity"
)

type interestRequest struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
}

// PostInterest records interest received on an order.
func (h *Handler) PostInterest(w http.ResponseWriter, r *http.Request) {
	var req interestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.mutator.PostInterest(r.Context(),
		identity.ActorIDFromContext(r.Context()), identity.ScopeIDFromContext(r.Context()),
		req.OrderID, req.Amount)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"record_id": rec.ID})
}

type expenseRequest struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

// AddExpense records a ledger deduction.
func (h *Handler) AddExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.mutator.AddExpense(r.Context(),
		identity.ActorIDFromContext(r.Context()), identity.ScopeIDFromContext(r.Context()),
		req.Amount, req.Description)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"record_id": rec.ID})
}

type createOrderRequest struct {
	Amount float64 `json:"amount"`
}

// CreateOrder opens a new lending order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, rec, err := h.mutator.CreateOrder(r.Context(),
		identity.ActorIDFromContext(r.Context()), identity.ScopeIDFromContext(r.Context()),
		req.Amount)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{
		"order":     order,
		"record_id": rec.ID,
	})
}

type stateChangeRequest struct {
	State string `json:"state"`
}

// ChangeOrderState moves an order between states.
func (h *Handler) ChangeOrderState(w http.ResponseWriter, r *http.Request) {
	var req stateChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.mutator.ChangeOrderState(r.Context(),
		identity.ActorIDFromContext(r.Context()), identity.ScopeIDFromContext(r.Context()),
		chi.URLParam(r, "id"), domain.OrderState(req.State))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"record_id": rec.ID})
}

type closeOrderRequest struct {
	Income float64 `json:"income"`
}

// CompleteOrder closes an order normally.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	var req closeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.mutator.CompleteOrder(r.Context(),
		identity.ActorIDFromContext(r.Context()), identity.ScopeIDFromContext(r.Context()),
		chi.URLParam(r, "id"), req.Income)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"record_id": rec.ID})
}

// EndBreach settles a breached order.
func (h *Handler) EndBreach(w http.ResponseWriter, r *http.Request) {
	var req closeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.mutator.EndBreach(r.Context(),
		identity.ActorIDFromContext(r.Context()), identity.ScopeIDFromContext(r.Context()),
		chi.URLParam(r, "id"), req.Income)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"record_id": rec.ID})
}

type principalRequest struct {
	NewAmount float64 `json:"new_amount"`
}

// ReducePrincipal records a partial repayment of an order's body.
func (h *Handler) ReducePrincipal(w http.ResponseWriter, r *http.Request) {
	var req principalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.mutator.ReducePrincipal(r.Context(),
		identity.ActorIDFromContext(r.Context()), identity.ScopeIDFromContext(r.Context()),
		chi.URLParam(r, "id"), req.NewAmount)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"record_id": rec.ID})
}
