package handler

import (
	"net/http"
	"time"

	"github.com/ricirt/queue-system/internal/service"
)

// HealthHandler serves the liveness endpoint. The queue store lives in
// memory, so a process that answers is a process that can serve queues.
type HealthHandler struct {
	svc     *service.Dispatcher
	started time.Time
}

func NewHealthHandler(svc *service.Dispatcher) *HealthHandler {
	return &HealthHandler{svc: svc, started: time.Now()}
}

// Health handles GET /health
//
// @Summary  Liveness check
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"queues":         len(h.svc.ListQueues()),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}
