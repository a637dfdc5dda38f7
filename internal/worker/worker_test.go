package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ricirt/queue-system/internal/clock"
	"github.com/ricirt/queue-system/internal/config"
	"github.com/ricirt/queue-system/internal/domain"
	"github.com/ricirt/queue-system/internal/hub"
	"github.com/ricirt/queue-system/internal/publisher"
	"github.com/ricirt/queue-system/internal/ratelimiter"
	"github.com/ricirt/queue-system/internal/repository"
	"github.com/ricirt/queue-system/internal/service"
	"github.com/ricirt/queue-system/internal/store"
	"github.com/ricirt/queue-system/internal/worker"
)

// recordingSink fails its first `failures` publishes, then succeeds. When gate
// is set, every publish waits for a value on it.
type recordingSink struct {
	mu       sync.Mutex
	got      []domain.Event
	calls    int
	failures int
	gate     chan struct{}
}

func (s *recordingSink) Name() string { return "test" }

func (s *recordingSink) Publish(ctx context.Context, ev domain.Event) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("sink unavailable")
	}
	s.got = append(s.got, ev)
	return nil
}

func (s *recordingSink) seqs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.got))
	for i, ev := range s.got {
		out[i] = ev.Seq
	}
	return out
}

var _ publisher.Sink = (*recordingSink)(nil)

func startForwarder(t *testing.T, h *hub.Hub, sink publisher.Sink, backoff []time.Duration) (forwarded, failed *int, mu *sync.Mutex) {
	t.Helper()
	var (
		m    sync.Mutex
		ok   int
		fail int
	)
	f := worker.NewForwarder(h, sink, ratelimiter.New(0), backoff, zap.NewNop(),
		func(string, time.Duration) { m.Lock(); ok++; m.Unlock() },
		func(string) { m.Lock(); fail++; m.Unlock() },
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, time.Millisecond)
	return &ok, &fail, &m
}

func ev(seq uint64) domain.Event {
	return domain.Event{QueueID: "q", Seq: seq, Type: domain.EventTicketAdmitted}
}

func TestForwarder_DeliversInOrder(t *testing.T) {
	h := hub.New(16, nil)
	sink := &recordingSink{}
	forwarded, _, mu := startForwarder(t, h, sink, nil)

	for i := uint64(1); i <= 5; i++ {
		h.Publish(ev(i))
	}

	require.Eventually(t, func() bool { return len(sink.seqs()) == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, sink.seqs())
	mu.Lock()
	assert.Equal(t, 5, *forwarded)
	mu.Unlock()
}

func TestForwarder_RetriesThenSucceeds(t *testing.T) {
	h := hub.New(16, nil)
	sink := &recordingSink{failures: 2}
	_, failed, mu := startForwarder(t, h, sink, []time.Duration{time.Millisecond, time.Millisecond})

	h.Publish(ev(1))

	require.Eventually(t, func() bool { return len(sink.seqs()) == 1 }, time.Second, time.Millisecond)
	mu.Lock()
	assert.Zero(t, *failed)
	mu.Unlock()
}

func TestForwarder_GivesUpAfterBackoff(t *testing.T) {
	h := hub.New(16, nil)
	sink := &recordingSink{failures: 2}
	_, failed, mu := startForwarder(t, h, sink, []time.Duration{time.Millisecond})

	h.Publish(ev(1))
	h.Publish(ev(2))

	require.Eventually(t, func() bool { return len(sink.seqs()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []uint64{2}, sink.seqs())
	mu.Lock()
	assert.Equal(t, 1, *failed)
	mu.Unlock()
}

func TestForwarder_ResubscribesAfterOverflow(t *testing.T) {
	h := hub.New(1, nil)
	sink := &recordingSink{gate: make(chan struct{})}
	startForwarder(t, h, sink, nil)

	h.Publish(ev(1))
	// Let the forwarder pick up event 1 and block inside the sink.
	require.Eventually(t, func() bool {
		h.Publish(domain.Event{QueueID: "filler"})
		return h.Len() == 0
	}, time.Second, time.Millisecond, "subscription should overflow while the sink is blocked")

	go func() {
		for {
			select {
			case sink.gate <- struct{}{}:
			case <-time.After(time.Second):
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, time.Millisecond)
	h.Publish(ev(9))
	require.Eventually(t, func() bool {
		seqs := sink.seqs()
		return len(seqs) > 0 && seqs[len(seqs)-1] == 9
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), sink.seqs()[0])
}

func TestForwarder_StopsWhenHubCloses(t *testing.T) {
	h := hub.New(4, nil)
	f := worker.NewForwarder(h, &recordingSink{}, nil, nil, zap.NewNop(), nil, nil)

	done := make(chan struct{})
	go func() {
		f.Run(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, time.Millisecond)

	h.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop after hub close")
	}
}

func newDispatcher(t *testing.T) (*service.Dispatcher, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	journal := repository.NewMemoryJournal()
	st := store.New(store.Options{Journal: journal, Clock: clk})
	return service.NewDispatcher(st, journal, nil, clk, zap.NewNop(), service.Hooks{}), clk
}

func TestRequeueWorker_Sweep(t *testing.T) {
	svc, clk := newDispatcher(t)
	ctx := context.Background()
	q, err := svc.CreateQueue(ctx, domain.CreateQueueRequest{Name: "q"})
	require.NoError(t, err)
	_, err = svc.Admit(ctx, q.ID, domain.AdmitRequest{})
	require.NoError(t, err)
	called, err := svc.CallNext(ctx, q.ID)
	require.NoError(t, err)

	rw := worker.NewRequeueWorker(svc, 2*time.Minute, time.Second, zap.NewNop())
	assert.Zero(t, rw.Sweep(ctx))

	clk.Advance(3 * time.Minute)
	assert.Equal(t, 1, rw.Sweep(ctx))

	got, err := svc.GetTicket(called.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, got.Status)
	assert.Equal(t, 1, got.Position)
}

func TestReaperWorker_Reap(t *testing.T) {
	svc, clk := newDispatcher(t)
	ctx := context.Background()
	q, err := svc.CreateQueue(ctx, domain.CreateQueueRequest{Name: "q"})
	require.NoError(t, err)
	tk, err := svc.Admit(ctx, q.ID, domain.AdmitRequest{})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, tk.ID)
	require.NoError(t, err)

	rw := worker.NewReaperWorker(svc, time.Hour, time.Minute, zap.NewNop())
	assert.Zero(t, rw.Reap(ctx))

	clk.Advance(2 * time.Hour)
	assert.Equal(t, 1, rw.Reap(ctx))
	_, err = svc.GetTicket(tk.ID)
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)
}

func TestPool_StartAndWait(t *testing.T) {
	h := hub.New(8, nil)
	sinkA, sinkB := &recordingSink{}, &recordingSink{}
	cfg := &config.Config{RetryBackoff: []time.Duration{time.Millisecond}}

	pool := worker.NewPool(cfg, h, []publisher.Sink{sinkA, sinkB}, ratelimiter.New(1000), zap.NewNop(), worker.MetricHooks{})
	assert.Equal(t, 2, pool.Len())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	require.Eventually(t, func() bool { return h.Len() == 2 }, time.Second, time.Millisecond)

	h.Publish(ev(1))
	require.Eventually(t, func() bool {
		return len(sinkA.seqs()) == 1 && len(sinkB.seqs()) == 1
	}, time.Second, time.Millisecond)

	cancel()
	pool.Wait()
	assert.Zero(t, h.Len())
}
