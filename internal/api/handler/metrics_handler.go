package handler

import (
	"net/http"

	"github.com/ricirt/queue-system/internal/domain"
	"github.com/ricirt/queue-system/internal/hub"
	"github.com/ricirt/queue-system/internal/service"
)

// MetricsHandler serves a human-readable JSON snapshot of every queue.
// Raw Prometheus metrics (counters, histograms) are available at /metrics
// via promhttp.Handler and are separate from this endpoint.
type MetricsHandler struct {
	svc *service.Dispatcher
	hub *hub.Hub
}

func NewMetricsHandler(svc *service.Dispatcher, h *hub.Hub) *MetricsHandler {
	return &MetricsHandler{svc: svc, hub: h}
}

type queueSnapshot struct {
	Queue domain.Queue `json:"queue"`
	Stats domain.Stats `json:"stats"`
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Real-time queue snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/metrics [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	queues := h.svc.ListQueues()
	snapshots := make([]queueSnapshot, 0, len(queues))
	totalWaiting := 0
	for _, q := range queues {
		st, err := h.svc.Stats(q.ID)
		if err != nil {
			// Queue vanished between list and stats.
			continue
		}
		totalWaiting += st.Waiting
		snapshots = append(snapshots, queueSnapshot{Queue: q, Stats: st})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"queues":        snapshots,
		"total_waiting": totalWaiting,
		"subscribers":   h.hub.Len(),
	})
}
