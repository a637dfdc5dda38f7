package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/ricirt/queue-system/internal/api/middleware"
	"github.com/ricirt/queue-system/internal/domain"
	"github.com/ricirt/queue-system/internal/service"
)

// QueueHandler serves queue administration and read-only queue views.
type QueueHandler struct {
	svc    *service.Dispatcher
	logger *zap.Logger
}

func NewQueueHandler(svc *service.Dispatcher, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, logger: logger}
}

// Create handles POST /api/v1/queues
//
// @Summary     Create a queue
// @Tags        queues
// @Accept      json
// @Produce     json
// @Param       body  body      domain.CreateQueueRequest  true  "Queue payload"
// @Success     201   {object}  domain.Queue
// @Failure     409   {object}  errorBody
// @Failure     422   {object}  errorBody
// @Router      /api/v1/queues [post]
func (h *QueueHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateQueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	q, err := h.svc.CreateQueue(r.Context(), req)
	if err != nil {
		h.logger.Warn("create queue failed",
			apimw.CorrelationField(r.Context()),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, q)
}

// List handles GET /api/v1/queues
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"data": h.svc.ListQueues()})
}

// Get handles GET /api/v1/queues/{id}
func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.GetQueue(chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

// Update handles PATCH /api/v1/queues/{id}
//
// @Summary  Change capacity or open/close a queue
// @Tags     queues
// @Accept   json
// @Produce  json
// @Param    id    path      string              true  "Queue ID"
// @Param    body  body      domain.QueueUpdate  true  "Fields to change"
// @Success  200   {object}  domain.Queue
// @Failure  404   {object}  errorBody
// @Failure  422   {object}  errorBody
// @Router   /api/v1/queues/{id} [patch]
func (h *QueueHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd domain.QueueUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}
	q, err := h.svc.UpdateQueue(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

// Waiting handles GET /api/v1/queues/{id}/waiting
//
// Returns the waiting tickets ordered by position.
func (h *QueueHandler) Waiting(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.svc.ListWaiting(chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": tickets, "total": len(tickets)})
}

// Tickets handles GET /api/v1/queues/{id}/tickets?status=
func (h *QueueHandler) Tickets(w http.ResponseWriter, r *http.Request) {
	var status domain.Status
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, err := domain.ParseStatus(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}
		status = parsed
	}

	tickets, err := h.svc.ListTickets(chi.URLParam(r, "id"), status)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": tickets, "total": len(tickets)})
}

// ByNumber handles GET /api/v1/queues/{id}/numbers/{number}
func (h *QueueHandler) ByNumber(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil || number < 1 {
		respondError(w, http.StatusBadRequest, "invalid_number", "ticket number must be a positive integer")
		return
	}
	t, err := h.svc.FindByNumber(chi.URLParam(r, "id"), number)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// Stats handles GET /api/v1/queues/{id}/stats
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// History handles GET /api/v1/queues/{id}/history?limit=
func (h *QueueHandler) History(w http.ResponseWriter, r *http.Request) {
	f := domain.HistoryFilter{QueueID: chi.URLParam(r, "id"), Limit: parseLimit(r)}
	entries, err := h.svc.History(r.Context(), f)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": entries})
}

func parseLimit(r *http.Request) int {
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		return l
	}
	return 0
}
