package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ricirt/queue-system/internal/domain"
	"github.com/ricirt/queue-system/internal/metrics"
)

func TestServiceHooks(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := m.ServiceHooks()

	h.OnAdmitted("clinic")
	h.OnAdmitted("clinic")
	h.OnWaiting("clinic", 2)
	h.OnRejected("clinic", "full")
	h.OnRequeued("clinic", 3)
	h.OnReaped("clinic", 4)

	created := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	called := created.Add(30 * time.Second)
	h.OnTransition("clinic", domain.Ticket{Status: domain.StatusCalled, CreatedAt: created, CalledAt: &called})
	h.OnTransition("clinic", domain.Ticket{Status: domain.StatusServing})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TicketsAdmitted.WithLabelValues("clinic")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueWaiting.WithLabelValues("clinic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicketsRejected.WithLabelValues("clinic", "full")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TicketsRequeued.WithLabelValues("clinic")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TicketsReaped.WithLabelValues("clinic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicketTransitions.WithLabelValues("clinic", "called")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicketTransitions.WithLabelValues("clinic", "serving")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.WaitSeconds), "only called tickets observe wait time")
}

func TestHubDropHook(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	drop := m.HubDropHook()

	drop("q1")
	drop("")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscribersDropped.WithLabelValues("q1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscribersDropped.WithLabelValues("*")))
}

func TestForwarderHooks(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	onForwarded, onFailed := m.ForwarderHooks()

	onForwarded("redis", 20*time.Millisecond)
	onForwarded("redis", 10*time.Millisecond)
	onFailed("webhook")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsForwarded.WithLabelValues("redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForwardFailures.WithLabelValues("webhook")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ForwardLatency))
}
