package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ricirt/queue-system/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	TicketsAdmitted    *prometheus.CounterVec
	TicketsRejected    *prometheus.CounterVec
	TicketTransitions  *prometheus.CounterVec
	TicketsRequeued    *prometheus.CounterVec
	TicketsReaped      *prometheus.CounterVec
	WaitSeconds        *prometheus.HistogramVec
	QueueWaiting       *prometheus.GaugeVec
	SubscribersDropped *prometheus.CounterVec
	EventsForwarded    *prometheus.CounterVec
	ForwardFailures    *prometheus.CounterVec
	ForwardLatency     *prometheus.HistogramVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicketsAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_tickets_admitted_total",
			Help: "Total number of tickets admitted.",
		}, []string{"queue"}),

		TicketsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_admissions_rejected_total",
			Help: "Admissions refused, by reason (full, inactive, already_queued, rate_limited).",
		}, []string{"queue", "reason"}),

		TicketTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_ticket_transitions_total",
			Help: "Ticket status changes by target status.",
		}, []string{"queue", "status"}),

		TicketsRequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_tickets_requeued_total",
			Help: "Called tickets returned to waiting after the call timeout.",
		}, []string{"queue"}),

		TicketsReaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_tickets_reaped_total",
			Help: "Terminal tickets removed after the retention period.",
		}, []string{"queue"}),

		WaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queue_wait_seconds",
			Help:    "Time from admission to being called.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"queue"}),

		QueueWaiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_waiting_tickets",
			Help: "Current number of waiting tickets.",
		}, []string{"queue"}),

		SubscribersDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_subscribers_dropped_total",
			Help: "Event subscribers disconnected because they fell behind.",
		}, []string{"queue"}),

		EventsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_events_forwarded_total",
			Help: "Events delivered to an external sink.",
		}, []string{"sink"}),

		ForwardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_events_forward_failed_total",
			Help: "Events abandoned after all delivery attempts failed.",
		}, []string{"sink"}),

		ForwardLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queue_event_forward_seconds",
			Help:    "Time spent delivering one event to a sink, retries included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.TicketsAdmitted,
		m.TicketsRejected,
		m.TicketTransitions,
		m.TicketsRequeued,
		m.TicketsReaped,
		m.WaitSeconds,
		m.QueueWaiting,
		m.SubscribersDropped,
		m.EventsForwarded,
		m.ForwardFailures,
		m.ForwardLatency,
	)

	return m
}

// DispatcherHooks mirrors service.Hooks field for field so main can convert
// between them.
type DispatcherHooks struct {
	OnAdmitted   func(queueName string)
	OnWaiting    func(queueName string, waiting int)
	OnRejected   func(queueName, reason string)
	OnTransition func(queueName string, t domain.Ticket)
	OnRequeued   func(queueName string, n int)
	OnReaped     func(queueName string, n int)
}

// ServiceHooks returns the metric callbacks for the dispatcher. Centralises
// the prometheus calls so the service package stays import-free.
func (m *Metrics) ServiceHooks() DispatcherHooks {
	return DispatcherHooks{
		OnAdmitted: func(queue string) {
			m.TicketsAdmitted.WithLabelValues(queue).Inc()
		},
		OnWaiting: m.SetWaiting,
		OnRejected: func(queue, reason string) {
			m.TicketsRejected.WithLabelValues(queue, reason).Inc()
		},
		OnTransition: func(queue string, t domain.Ticket) {
			m.TicketTransitions.WithLabelValues(queue, t.Status.String()).Inc()
			if t.Status == domain.StatusCalled && t.CalledAt != nil {
				m.WaitSeconds.WithLabelValues(queue).Observe(t.CalledAt.Sub(t.CreatedAt).Seconds())
			}
		},
		OnRequeued: func(queue string, n int) {
			m.TicketsRequeued.WithLabelValues(queue).Add(float64(n))
		},
		OnReaped: func(queue string, n int) {
			m.TicketsReaped.WithLabelValues(queue).Add(float64(n))
		},
	}
}

// HubDropHook returns the callback passed to hub.New.
func (m *Metrics) HubDropHook() func(queueID string) {
	return func(queueID string) {
		if queueID == "" {
			queueID = "*"
		}
		m.SubscribersDropped.WithLabelValues(queueID).Inc()
	}
}

// ForwarderHooks returns the callbacks expected by worker.MetricHooks.
func (m *Metrics) ForwarderHooks() (
	onForwarded func(sink string, latency time.Duration),
	onFailed func(sink string),
) {
	onForwarded = func(sink string, latency time.Duration) {
		m.EventsForwarded.WithLabelValues(sink).Inc()
		m.ForwardLatency.WithLabelValues(sink).Observe(latency.Seconds())
	}
	onFailed = func(sink string) {
		m.ForwardFailures.WithLabelValues(sink).Inc()
	}
	return
}

// SetWaiting records the current waiting count of a queue.
func (m *Metrics) SetWaiting(queueName string, waiting int) {
	m.QueueWaiting.WithLabelValues(queueName).Set(float64(waiting))
}
