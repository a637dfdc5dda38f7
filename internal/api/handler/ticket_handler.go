package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/ricirt/queue-system/internal/api/middleware"
	"github.com/ricirt/queue-system/internal/domain"
	"github.com/ricirt/queue-system/internal/service"
)

// TicketHandler serves admission and the ticket lifecycle endpoints.
type TicketHandler struct {
	svc    *service.Dispatcher
	logger *zap.Logger
}

func NewTicketHandler(svc *service.Dispatcher, logger *zap.Logger) *TicketHandler {
	return &TicketHandler{svc: svc, logger: logger}
}

// Admit handles POST /api/v1/queues/{id}/tickets
//
// @Summary     Take a ticket
// @Tags        tickets
// @Accept      json
// @Produce     json
// @Param       id    path      string               true   "Queue ID"
// @Param       body  body      domain.AdmitRequest  false  "Priority and label"
// @Success     201   {object}  domain.Ticket
// @Failure     404   {object}  errorBody
// @Failure     409   {object}  errorBody
// @Failure     429   {object}  errorBody
// @Failure     503   {object}  errorBody
// @Router      /api/v1/queues/{id}/tickets [post]
func (h *TicketHandler) Admit(w http.ResponseWriter, r *http.Request) {
	var req domain.AdmitRequest
	// An empty body admits with default priority.
	if !decodeJSONOrEmpty(w, r, &req) {
		return
	}

	t, err := h.svc.Admit(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.logger.Warn("admission failed",
			apimw.CorrelationField(r.Context()),
			zap.String("queue_id", chi.URLParam(r, "id")),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// CallNext handles POST /api/v1/queues/{id}/call-next
//
// @Summary  Call the ticket at position 1
// @Tags     tickets
// @Produce  json
// @Param    id   path      string  true  "Queue ID"
// @Success  200  {object}  domain.Ticket
// @Failure  404  {object}  errorBody
// @Failure  409  {object}  errorBody  "queue_empty"
// @Router   /api/v1/queues/{id}/call-next [post]
func (h *TicketHandler) CallNext(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.CallNext(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// Get handles GET /api/v1/tickets/{id}
func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTicket(chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// Begin handles POST /api/v1/tickets/{id}/begin
func (h *TicketHandler) Begin(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.BeginService)
}

// Requeue handles POST /api/v1/tickets/{id}/requeue
func (h *TicketHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Requeue)
}

// Complete handles POST /api/v1/tickets/{id}/complete
func (h *TicketHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Complete)
}

// Cancel handles POST /api/v1/tickets/{id}/cancel
func (h *TicketHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

// Remove handles DELETE /api/v1/tickets/{id}
//
// @Summary  Delete a completed or cancelled ticket
// @Tags     tickets
// @Param    id   path      string  true  "Ticket ID"
// @Success  204
// @Failure  404  {object}  errorBody
// @Failure  409  {object}  errorBody  "ticket is not terminal"
// @Router   /api/v1/tickets/{id} [delete]
func (h *TicketHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/v1/tickets/{id}/history
func (h *TicketHandler) History(w http.ResponseWriter, r *http.Request) {
	f := domain.HistoryFilter{TicketID: chi.URLParam(r, "id"), Limit: parseLimit(r)}
	entries, err := h.svc.History(r.Context(), f)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (h *TicketHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, string) (domain.Ticket, error),
) {
	t, err := op(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// decodeJSONOrEmpty is decodeJSON that also accepts an empty body.
func decodeJSONOrEmpty(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	respondError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
	return false
}
