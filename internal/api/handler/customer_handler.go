package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ricirt/queue-system/internal/service"
)

// CustomerHandler answers "where is this customer?" across every queue.
type CustomerHandler struct {
	svc *service.Dispatcher
}

func NewCustomerHandler(svc *service.Dispatcher) *CustomerHandler {
	return &CustomerHandler{svc: svc}
}

// Lookup handles GET /api/v1/customers/{ref}
//
// @Summary  Latest ticket of a customer in each queue
// @Tags     customers
// @Produce  json
// @Param    ref  path      string  true  "Customer reference"
// @Success  200  {object}  map[string]any
// @Failure  422  {object}  errorBody
// @Router   /api/v1/customers/{ref} [get]
func (h *CustomerHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.FindCustomer(chi.URLParam(r, "ref"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": entries, "total": len(entries)})
}
