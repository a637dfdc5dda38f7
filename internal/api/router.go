package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ricirt/queue-system/internal/api/handler"
	apimw "github.com/ricirt/queue-system/internal/api/middleware"
	"github.com/ricirt/queue-system/internal/hub"
	"github.com/ricirt/queue-system/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.Dispatcher,
	h *hub.Hub,
	reg prometheus.Gatherer,
	keepAlive time.Duration,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	qh := handler.NewQueueHandler(svc, logger)
	th := handler.NewTicketHandler(svc, logger)
	eh := handler.NewEventsHandler(svc, h, keepAlive, logger)
	ch := handler.NewCustomerHandler(svc)
	mh := handler.NewMetricsHandler(svc, h)
	hh := handler.NewHealthHandler(svc)

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Queues
		r.Post("/queues", qh.Create)
		r.Get("/queues", qh.List)
		r.Route("/queues/{id}", func(r chi.Router) {
			r.Get("/", qh.Get)
			r.Patch("/", qh.Update)
			r.Get("/waiting", qh.Waiting)
			r.Get("/tickets", qh.Tickets)
			r.Post("/tickets", th.Admit)
			r.Get("/numbers/{number}", qh.ByNumber)
			r.Post("/call-next", th.CallNext)
			r.Get("/stats", qh.Stats)
			r.Get("/history", qh.History)
			r.Get("/events", eh.Queue)
		})

		// Tickets
		r.Route("/tickets/{id}", func(r chi.Router) {
			r.Get("/", th.Get)
			r.Delete("/", th.Remove)
			r.Post("/begin", th.Begin)
			r.Post("/requeue", th.Requeue)
			r.Post("/complete", th.Complete)
			r.Post("/cancel", th.Cancel)
			r.Get("/history", th.History)
		})

		// Customer lookup across queues
		r.Get("/customers/{ref}", ch.Lookup)

		// Every queue's events on one stream
		r.Get("/events", eh.All)

		// JSON metrics snapshot
		r.Get("/metrics", mh.GetMetrics)
	})

	return r
}
