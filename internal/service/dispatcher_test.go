package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ricirt/queue-system/internal/clock"
	"github.com/ricirt/queue-system/internal/config"
	"github.com/ricirt/queue-system/internal/domain"
	"github.com/ricirt/queue-system/internal/ratelimiter"
	"github.com/ricirt/queue-system/internal/repository"
	"github.com/ricirt/queue-system/internal/service"
	"github.com/ricirt/queue-system/internal/store"
)

type recorder struct {
	admitted    int
	rejected    map[string]int
	transitions []domain.Status
	requeued    int
	reaped      int
	waiting     map[string]int
}

func (r *recorder) hooks() service.Hooks {
	r.rejected = map[string]int{}
	r.waiting = map[string]int{}
	return service.Hooks{
		OnAdmitted:   func(string) { r.admitted++ },
		OnWaiting:    func(q string, n int) { r.waiting[q] = n },
		OnRejected:   func(_, reason string) { r.rejected[reason]++ },
		OnTransition: func(_ string, t domain.Ticket) { r.transitions = append(r.transitions, t.Status) },
		OnRequeued:   func(_ string, n int) { r.requeued += n },
		OnReaped:     func(_ string, n int) { r.reaped += n },
	}
}

type env struct {
	svc     *service.Dispatcher
	journal *repository.MemoryJournal
	clock   *clock.Fake
	rec     *recorder
}

func newEnv(t *testing.T, admissionRate int) *env {
	t.Helper()
	e := &env{
		journal: repository.NewMemoryJournal(),
		clock:   clock.NewFake(time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)),
		rec:     &recorder{},
	}
	st := store.New(store.Options{Journal: e.journal, Clock: e.clock})
	e.svc = service.NewDispatcher(st, e.journal, ratelimiter.New(admissionRate), e.clock, zap.NewNop(), e.rec.hooks())
	return e
}

func (e *env) queue(t *testing.T, name string, capacity int) domain.Queue {
	t.Helper()
	q, err := e.svc.CreateQueue(context.Background(), domain.CreateQueueRequest{Name: name, Capacity: capacity})
	require.NoError(t, err)
	return q
}

func (e *env) admit(t *testing.T, queueID string, req domain.AdmitRequest) domain.Ticket {
	t.Helper()
	tk, err := e.svc.Admit(context.Background(), queueID, req)
	require.NoError(t, err)
	return tk
}

func TestDispatcher_CreateQueue_Validation(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	cases := []struct {
		req  domain.CreateQueueRequest
		want error
	}{
		{domain.CreateQueueRequest{Name: "  "}, domain.ErrInvalidName},
		{domain.CreateQueueRequest{Name: strings.Repeat("x", 65)}, domain.ErrInvalidName},
		{domain.CreateQueueRequest{Name: "ok", Capacity: -1}, domain.ErrInvalidCapacity},
	}
	for _, tc := range cases {
		_, err := e.svc.CreateQueue(ctx, tc.req)
		assert.ErrorIs(t, err, tc.want, "%+v", tc.req)
	}
	assert.Empty(t, e.svc.ListQueues(), "invalid requests must not create queues")

	q, err := e.svc.CreateQueue(ctx, domain.CreateQueueRequest{Name: "  clinic "})
	require.NoError(t, err)
	assert.Equal(t, "clinic", q.Name)
	assert.True(t, q.Active)
}

func TestDispatcher_Admit_InvalidInput(t *testing.T) {
	e := newEnv(t, 0)
	q := e.queue(t, "q", 0)

	_, err := e.svc.Admit(context.Background(), q.ID, domain.AdmitRequest{Label: strings.Repeat("a", 129)})
	assert.ErrorIs(t, err, domain.ErrInvalidLabel)

	_, err = e.svc.Admit(context.Background(), q.ID, domain.AdmitRequest{CustomerRef: "no spaces please"})
	assert.ErrorIs(t, err, domain.ErrInvalidCustomer)
}

func TestDispatcher_Admit_RejectionsAreCounted(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	q := e.queue(t, "q", 1)

	e.admit(t, q.ID, domain.AdmitRequest{CustomerRef: "1042"})

	_, err := e.svc.Admit(ctx, q.ID, domain.AdmitRequest{CustomerRef: "1042"})
	assert.ErrorIs(t, err, domain.ErrAlreadyQueued)

	_, err = e.svc.Admit(ctx, q.ID, domain.AdmitRequest{})
	assert.ErrorIs(t, err, domain.ErrQueueFull)

	closed := false
	_, err = e.svc.UpdateQueue(ctx, q.ID, domain.QueueUpdate{Active: &closed})
	require.NoError(t, err)
	_, err = e.svc.Admit(ctx, q.ID, domain.AdmitRequest{})
	assert.ErrorIs(t, err, domain.ErrQueueInactive)

	assert.Equal(t, 1, e.rec.admitted)
	assert.Equal(t, map[string]int{"already_queued": 1, "full": 1, "inactive": 1}, e.rec.rejected)
	assert.Equal(t, 1, e.rec.waiting["q"])
}

func TestDispatcher_Admit_RateLimited(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	q := e.queue(t, "busy", 0)
	other := e.queue(t, "quiet", 0)

	for i := 0; i < 2; i++ {
		e.admit(t, q.ID, domain.AdmitRequest{})
	}
	_, err := e.svc.Admit(ctx, q.ID, domain.AdmitRequest{})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 1, e.rec.rejected["rate_limited"])

	_, err = e.svc.Admit(ctx, other.ID, domain.AdmitRequest{})
	assert.NoError(t, err, "limit is per queue")
}

func TestDispatcher_Admit_UnknownQueue(t *testing.T) {
	e := newEnv(t, 1)
	_, err := e.svc.Admit(context.Background(), "missing", domain.AdmitRequest{})
	assert.ErrorIs(t, err, domain.ErrQueueNotFound)
}

func TestDispatcher_FindCustomer(t *testing.T) {
	e := newEnv(t, 0)
	lab := e.queue(t, "lab", 0)
	e.clock.Advance(time.Second)
	xray := e.queue(t, "xray", 0)

	inLab := e.admit(t, lab.ID, domain.AdmitRequest{CustomerRef: "1042"})
	inXray := e.admit(t, xray.ID, domain.AdmitRequest{CustomerRef: "1042"})

	entries, err := e.svc.FindCustomer(" 1042 ")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, inLab.ID, entries[0].Ticket.ID)
	assert.Equal(t, inXray.ID, entries[1].Ticket.ID)

	entries, err = e.svc.FindCustomer("404")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	_, err = e.svc.FindCustomer("")
	assert.ErrorIs(t, err, domain.ErrInvalidCustomer)
}

func TestDispatcher_FullLifecycle(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	q := e.queue(t, "desk", 0)

	tk := e.admit(t, q.ID, domain.AdmitRequest{Label: "Ada"})
	_, err := e.svc.CallNext(ctx, q.ID)
	require.NoError(t, err)
	_, err = e.svc.BeginService(ctx, tk.ID)
	require.NoError(t, err)
	done, err := e.svc.Complete(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)

	assert.Equal(t, []domain.Status{domain.StatusCalled, domain.StatusServing, domain.StatusCompleted}, e.rec.transitions)

	history, err := e.svc.History(ctx, domain.HistoryFilter{TicketID: tk.ID})
	require.NoError(t, err)
	require.Len(t, history, 4, "admission plus three transitions")
	assert.Equal(t, domain.StatusCompleted, history[0].To, "newest entry first")

	require.NoError(t, e.svc.Remove(ctx, tk.ID))
	_, err = e.svc.GetTicket(tk.ID)
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)
}

func TestDispatcher_Requeue_OnlyFromCalled(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	q := e.queue(t, "q", 0)
	tk := e.admit(t, q.ID, domain.AdmitRequest{})

	_, err := e.svc.Requeue(ctx, tk.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "waiting ticket")

	_, err = e.svc.CallNext(ctx, q.ID)
	require.NoError(t, err)
	back, err := e.svc.Requeue(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, back.Position)
	assert.Equal(t, 1, back.RequeueCount)
}

func TestDispatcher_RequeueExpired(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	a := e.queue(t, "a", 0)
	b := e.queue(t, "b", 0)

	for _, q := range []domain.Queue{a, b} {
		e.admit(t, q.ID, domain.AdmitRequest{})
		_, err := e.svc.CallNext(ctx, q.ID)
		require.NoError(t, err)
	}

	n, err := e.svc.RequeueExpired(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is expired yet")

	e.clock.Advance(2 * time.Minute)
	n, err = e.svc.RequeueExpired(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, e.rec.requeued)

	waiting, err := e.svc.ListWaiting(a.ID)
	require.NoError(t, err)
	assert.Len(t, waiting, 1)
}

func TestDispatcher_ReapTerminated(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	q := e.queue(t, "q", 0)

	tk := e.admit(t, q.ID, domain.AdmitRequest{})
	_, err := e.svc.Cancel(ctx, tk.ID)
	require.NoError(t, err)
	keep := e.admit(t, q.ID, domain.AdmitRequest{})

	e.clock.Advance(25 * time.Hour)
	n, err := e.svc.ReapTerminated(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, e.rec.reaped)

	_, err = e.svc.GetTicket(keep.ID)
	assert.NoError(t, err, "waiting ticket must survive")
}

func TestDispatcher_JournalFailureSurfaces(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	q := e.queue(t, "q", 0)

	e.journal.ApplyErr = errors.New("db down")
	_, err := e.svc.Admit(ctx, q.ID, domain.AdmitRequest{})
	require.Error(t, err)
	assert.Zero(t, e.rec.admitted, "failed admission must not be counted")

	st, err := e.svc.Stats(q.ID)
	require.NoError(t, err)
	assert.Zero(t, st.Waiting)
}

func TestDispatcher_EnsureQueues(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	existing := e.queue(t, "clinic", 3)

	inactive := false
	seeds := []config.QueueSeed{
		{Name: "clinic", Capacity: 99},
		{Name: "pharmacy", Capacity: 5, Active: &inactive},
	}
	require.NoError(t, e.svc.EnsureQueues(ctx, seeds))
	require.NoError(t, e.svc.EnsureQueues(ctx, seeds), "ensure is idempotent")

	queues := e.svc.ListQueues()
	require.Len(t, queues, 2)

	got, err := e.svc.GetQueue(existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Capacity, "existing queue keeps its capacity")
	for _, q := range queues {
		if q.Name == "pharmacy" {
			assert.False(t, q.Active, "seeded pharmacy queue should be inactive")
		}
	}
}

func TestDispatcher_History_UnknownQueue(t *testing.T) {
	e := newEnv(t, 0)
	_, err := e.svc.History(context.Background(), domain.HistoryFilter{QueueID: "nope"})
	assert.ErrorIs(t, err, domain.ErrQueueNotFound)
}
