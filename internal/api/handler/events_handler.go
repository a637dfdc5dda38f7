package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/ricirt/queue-system/internal/api/middleware"
	"github.com/ricirt/queue-system/internal/domain"
	"github.com/ricirt/queue-system/internal/hub"
	"github.com/ricirt/queue-system/internal/service"
)

// EventsHandler streams hub events to clients as server-sent events.
//
// Each event is written as
//
//	id: <queue_id>:<seq>
//	event: <event type>
//	data: <event JSON>
//
// A client that falls behind receives a final "error" event with code
// subscriber_overflow and is disconnected; it should reload the waiting list
// and reconnect.
type EventsHandler struct {
	svc       *service.Dispatcher
	hub       *hub.Hub
	keepAlive time.Duration
	logger    *zap.Logger
}

func NewEventsHandler(svc *service.Dispatcher, h *hub.Hub, keepAlive time.Duration, logger *zap.Logger) *EventsHandler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &EventsHandler{svc: svc, hub: h, keepAlive: keepAlive, logger: logger}
}

// Queue handles GET /api/v1/queues/{id}/events
func (h *EventsHandler) Queue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.GetQueue(id); err != nil {
		mapError(w, err)
		return
	}
	h.stream(w, r, id)
}

// All handles GET /api/v1/events
func (h *EventsHandler) All(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, "")
}

func (h *EventsHandler) stream(w http.ResponseWriter, r *http.Request, queueID string) {
	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	sub := h.hub.Subscribe(queueID)
	defer h.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		h.logger.Error("event stream cannot flush", zap.Error(err))
		return
	}

	log := h.logger.With(
		zap.String("queue_id", queueID),
		apimw.CorrelationField(r.Context()),
	)
	log.Debug("event stream opened")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("event stream closed by client")
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); errors.Is(err, domain.ErrSubscriberOverflow) {
					log.Warn("event stream dropped: client too slow")
					body, _ := json.Marshal(errorBody{Code: "subscriber_overflow", Error: err.Error()})
					fmt.Fprintf(w, "event: error\ndata: %s\n\n", body)
					_ = rc.Flush()
				}
				return
			}
			body, err := json.Marshal(ev)
			if err != nil {
				log.Error("marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "id: %s:%d\nevent: %s\ndata: %s\n\n", ev.QueueID, ev.Seq, ev.Type, body)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
