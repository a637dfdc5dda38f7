package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/queue-system/internal/clock"
	"github.com/ricirt/queue-system/internal/config"
	"github.com/ricirt/queue-system/internal/domain"
	"github.com/ricirt/queue-system/internal/ratelimiter"
	"github.com/ricirt/queue-system/internal/repository"
	"github.com/ricirt/queue-system/internal/store"
)

// Hooks carries the metric callbacks injected by main. Nil fields are no-ops.
type Hooks struct {
	OnAdmitted   func(queueName string)
	OnWaiting    func(queueName string, waiting int)
	OnRejected   func(queueName, reason string)
	OnTransition func(queueName string, t domain.Ticket)
	OnRequeued   func(queueName string, n int)
	OnReaped     func(queueName string, n int)
}

func (h *Hooks) fill() {
	if h.OnAdmitted == nil {
		h.OnAdmitted = func(string) {}
	}
	if h.OnWaiting == nil {
		h.OnWaiting = func(string, int) {}
	}
	if h.OnRejected == nil {
		h.OnRejected = func(string, string) {}
	}
	if h.OnTransition == nil {
		h.OnTransition = func(string, domain.Ticket) {}
	}
	if h.OnRequeued == nil {
		h.OnRequeued = func(string, int) {}
	}
	if h.OnReaped == nil {
		h.OnReaped = func(string, int) {}
	}
}

// Dispatcher is the operation surface over the queue store.
// Request validation, admission rate limiting, logging and metrics live here;
// HTTP handlers and workers depend on the dispatcher, not on the store.
type Dispatcher struct {
	store   *store.Store
	journal repository.Journal
	limiter *ratelimiter.KeyedLimiters
	clock   clock.Clock
	logger  *zap.Logger
	hooks   Hooks
}

// NewDispatcher wires a dispatcher. journal serves History and may be nil;
// limiter may be nil to disable admission rate limiting.
func NewDispatcher(
	st *store.Store,
	journal repository.Journal,
	limiter *ratelimiter.KeyedLimiters,
	clk clock.Clock,
	logger *zap.Logger,
	hooks Hooks,
) *Dispatcher {
	if clk == nil {
		clk = clock.Real()
	}
	hooks.fill()
	return &Dispatcher{
		store:   st,
		journal: journal,
		limiter: limiter,
		clock:   clk,
		logger:  logger,
		hooks:   hooks,
	}
}

// ---- queues ----

func (d *Dispatcher) CreateQueue(ctx context.Context, req domain.CreateQueueRequest) (domain.Queue, error) {
	if err := req.Validate(); err != nil {
		return domain.Queue{}, err
	}
	q, err := d.store.CreateQueue(ctx, req.Name, req.Capacity)
	if err != nil {
		return domain.Queue{}, err
	}
	d.logger.Info("queue created",
		zap.String("queue_id", q.ID), zap.String("queue", q.Name), zap.Int("capacity", q.Capacity))
	return q, nil
}

func (d *Dispatcher) UpdateQueue(ctx context.Context, queueID string, upd domain.QueueUpdate) (domain.Queue, error) {
	if err := upd.Validate(); err != nil {
		return domain.Queue{}, err
	}
	q, err := d.store.UpdateQueue(ctx, queueID, upd)
	if err != nil {
		return domain.Queue{}, err
	}
	d.logger.Info("queue updated",
		zap.String("queue_id", q.ID), zap.Int("capacity", q.Capacity), zap.Bool("active", q.Active))
	return q, nil
}

func (d *Dispatcher) GetQueue(queueID string) (domain.Queue, error) {
	return d.store.GetQueue(queueID)
}

func (d *Dispatcher) ListQueues() []domain.Queue {
	return d.store.ListQueues()
}

// EnsureQueues creates every seeded queue that does not exist yet and applies
// the seeded active flag. Existing queues keep their current capacity.
func (d *Dispatcher) EnsureQueues(ctx context.Context, seeds []config.QueueSeed) error {
	for _, seed := range seeds {
		q, err := d.store.GetQueueByName(seed.Name)
		if errors.Is(err, domain.ErrQueueNotFound) {
			q, err = d.CreateQueue(ctx, domain.CreateQueueRequest{Name: seed.Name, Capacity: seed.Capacity})
		}
		if err != nil {
			return fmt.Errorf("seed queue %q: %w", seed.Name, err)
		}
		if seed.Active != nil && *seed.Active != q.Active {
			if _, err := d.UpdateQueue(ctx, q.ID, domain.QueueUpdate{Active: seed.Active}); err != nil {
				return fmt.Errorf("seed queue %q: %w", seed.Name, err)
			}
		}
	}
	return nil
}

// ---- tickets ----

// Admit issues a new ticket. Rejections are counted by reason.
func (d *Dispatcher) Admit(ctx context.Context, queueID string, req domain.AdmitRequest) (domain.Ticket, error) {
	if err := req.Validate(); err != nil {
		return domain.Ticket{}, err
	}
	q, err := d.store.GetQueue(queueID)
	if err != nil {
		return domain.Ticket{}, err
	}
	if !d.limiter.Allow(queueID) {
		d.hooks.OnRejected(q.Name, "rate_limited")
		return domain.Ticket{}, domain.ErrRateLimited
	}

	t, err := d.store.Admit(ctx, queueID, req)
	switch {
	case errors.Is(err, domain.ErrQueueFull):
		d.hooks.OnRejected(q.Name, "full")
		return domain.Ticket{}, err
	case errors.Is(err, domain.ErrQueueInactive):
		d.hooks.OnRejected(q.Name, "inactive")
		return domain.Ticket{}, err
	case errors.Is(err, domain.ErrAlreadyQueued):
		d.hooks.OnRejected(q.Name, "already_queued")
		return domain.Ticket{}, err
	case err != nil:
		d.logger.Error("admit failed", zap.String("queue_id", queueID), zap.Error(err))
		return domain.Ticket{}, err
	}

	d.hooks.OnAdmitted(q.Name)
	d.hooks.OnWaiting(q.Name, d.waiting(queueID))
	d.logger.Debug("ticket admitted",
		zap.String("queue_id", queueID),
		zap.String("ticket_id", t.ID),
		zap.Int64("number", t.Number),
		zap.Int("priority", t.Priority),
		zap.Int("position", t.Position),
	)
	return t, nil
}

// CallNext calls the ticket at the head of the queue.
func (d *Dispatcher) CallNext(ctx context.Context, queueID string) (domain.Ticket, error) {
	t, err := d.store.CallNext(ctx, queueID)
	if err != nil {
		return domain.Ticket{}, err
	}
	d.transitioned(t)
	return t, nil
}

// BeginService marks a called ticket as being served.
func (d *Dispatcher) BeginService(ctx context.Context, ticketID string) (domain.Ticket, error) {
	return d.transition(ctx, ticketID, domain.StatusServing)
}

// Requeue returns a called ticket to the waiting set. The ticket keeps its
// original arrival time, so it regains its place among equal priorities.
func (d *Dispatcher) Requeue(ctx context.Context, ticketID string) (domain.Ticket, error) {
	return d.transition(ctx, ticketID, domain.StatusWaiting)
}

func (d *Dispatcher) Complete(ctx context.Context, ticketID string) (domain.Ticket, error) {
	return d.transition(ctx, ticketID, domain.StatusCompleted)
}

func (d *Dispatcher) Cancel(ctx context.Context, ticketID string) (domain.Ticket, error) {
	return d.transition(ctx, ticketID, domain.StatusCancelled)
}

// Remove erases a completed or cancelled ticket.
func (d *Dispatcher) Remove(ctx context.Context, ticketID string) error {
	if err := d.store.Remove(ctx, ticketID); err != nil {
		return err
	}
	d.logger.Debug("ticket removed", zap.String("ticket_id", ticketID))
	return nil
}

func (d *Dispatcher) GetTicket(ticketID string) (domain.Ticket, error) {
	return d.store.GetTicket(ticketID)
}

func (d *Dispatcher) FindByNumber(queueID string, number int64) (domain.Ticket, error) {
	return d.store.FindByNumber(queueID, number)
}

// FindCustomer returns the latest ticket ref holds in each queue.
func (d *Dispatcher) FindCustomer(ref string) ([]domain.CustomerEntry, error) {
	ref = strings.TrimSpace(ref)
	if !domain.ValidCustomerRef(ref) {
		return nil, domain.ErrInvalidCustomer
	}
	entries := d.store.FindByCustomer(ref)
	if entries == nil {
		entries = []domain.CustomerEntry{}
	}
	return entries, nil
}

func (d *Dispatcher) ListWaiting(queueID string) ([]domain.Ticket, error) {
	return d.store.ListWaiting(queueID)
}

func (d *Dispatcher) ListTickets(queueID string, status domain.Status) ([]domain.Ticket, error) {
	return d.store.ListTickets(queueID, status)
}

func (d *Dispatcher) Stats(queueID string) (domain.Stats, error) {
	return d.store.Stats(queueID)
}

// History returns recorded status changes, newest first. A queue named by f
// must exist; a ticket may already have been removed.
func (d *Dispatcher) History(ctx context.Context, f domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	if f.QueueID != "" {
		if _, err := d.store.GetQueue(f.QueueID); err != nil {
			return nil, err
		}
	}
	if d.journal == nil {
		return []domain.HistoryEntry{}, nil
	}
	entries, err := d.journal.History(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return entries, nil
}

// ---- maintenance ----

// RequeueExpired returns to Waiting every ticket that has been Called for
// longer than timeout, across all queues. It keeps going when one queue
// fails and returns the first error.
func (d *Dispatcher) RequeueExpired(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := d.clock.Now().Add(-timeout)
	total := 0
	var firstErr error

	for _, q := range d.store.ListQueues() {
		requeued, err := d.store.RequeueExpired(ctx, q.ID, cutoff)
		if len(requeued) > 0 {
			total += len(requeued)
			d.hooks.OnRequeued(q.Name, len(requeued))
			d.hooks.OnWaiting(q.Name, d.waiting(q.ID))
			for _, t := range requeued {
				d.hooks.OnTransition(q.Name, t)
				d.logger.Info("called ticket timed out, requeued",
					zap.String("queue", q.Name),
					zap.String("ticket_id", t.ID),
					zap.Int64("number", t.Number),
					zap.Int("position", t.Position),
					zap.Int("requeue_count", t.RequeueCount),
				)
			}
		}
		if err != nil {
			d.logger.Error("requeue sweep failed", zap.String("queue", q.Name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return total, firstErr
}

// ReapTerminated removes completed and cancelled tickets whose last status
// change is older than retention.
func (d *Dispatcher) ReapTerminated(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := d.clock.Now().Add(-retention)
	total := 0
	var firstErr error

	for _, q := range d.store.ListQueues() {
		n, err := d.store.RemoveTerminatedBefore(ctx, q.ID, cutoff)
		if n > 0 {
			total += n
			d.hooks.OnReaped(q.Name, n)
		}
		if err != nil {
			d.logger.Error("reap failed", zap.String("queue", q.Name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return total, firstErr
}

// ---- private helpers ----

func (d *Dispatcher) transition(ctx context.Context, ticketID string, to domain.Status) (domain.Ticket, error) {
	t, err := d.store.Transition(ctx, ticketID, to)
	if err != nil {
		return domain.Ticket{}, err
	}
	d.transitioned(t)
	return t, nil
}

func (d *Dispatcher) transitioned(t domain.Ticket) {
	name := d.queueName(t.QueueID)
	d.hooks.OnTransition(name, t)
	d.hooks.OnWaiting(name, d.waiting(t.QueueID))
	d.logger.Debug("ticket status changed",
		zap.String("queue", name),
		zap.String("ticket_id", t.ID),
		zap.Int64("number", t.Number),
		zap.Stringer("status", t.Status),
	)
}

func (d *Dispatcher) queueName(queueID string) string {
	q, err := d.store.GetQueue(queueID)
	if err != nil {
		return queueID
	}
	return q.Name
}

func (d *Dispatcher) waiting(queueID string) int {
	st, err := d.store.Stats(queueID)
	if err != nil {
		return 0
	}
	return st.Waiting
}
