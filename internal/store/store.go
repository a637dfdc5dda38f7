// Package store is the single source of truth for queue and ticket state.
//
// # Locking
//
// The store keeps three kinds of locks:
//
//   - registry (Store.mu): the queue map and the name index.
//   - ticket index (Store.indexMu): ticket id -> owning queue.
//   - per queue (queueState.mu): the queue record and all of its tickets.
//
// Every mutation of a queue's tickets runs under that queue's write lock, so
// mutations of one queue are applied one at a time in lock-acquisition order
// while different queues proceed in parallel. Reads take the read lock and
// copy values out, so a reader never observes a reorder in progress.
//
// A queue lock may be held while the index lock is taken, never the reverse,
// and the registry lock is never held while waiting for a queue lock.
//
// # Atomicity
//
// A mutation first computes the new ticket versions off to the side, then
// hands the resulting Delta to the Journal, and only swaps the new state in
// when the journal accepted it. Events are stamped with the queue's next
// sequence number and handed to the EventSink before the lock is released,
// which makes per-queue event order identical to mutation order. The last
// sequence number travels with the queue record in every Delta, so numbering
// continues where it stopped after a restart.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ricirt/queue-system/internal/clock"
	"github.com/ricirt/queue-system/internal/domain"
	"github.com/ricirt/queue-system/internal/ordering"
	"github.com/ricirt/queue-system/internal/repository"
)

// EventSink receives every event the store produces. Publish is called with
// a queue lock held and must never block.
type EventSink interface {
	Publish(ev domain.Event)
}

type discardSink struct{}

func (discardSink) Publish(domain.Event) {}

// Options configures a Store. Zero values select in-memory defaults.
type Options struct {
	// Journal persists every delta. Nil keeps state in memory only.
	Journal repository.Journal
	Sink    EventSink
	Clock   clock.Clock
	// NewID generates queue and ticket ids. Defaults to random UUIDs.
	NewID func() string
}

type Store struct {
	journal repository.Journal
	sink    EventSink
	clock   clock.Clock
	newID   func() string

	mu     sync.RWMutex
	queues map[string]*queueState
	names  map[string]string // name -> queue id, including in-flight creations

	indexMu sync.RWMutex
	index   map[string]*queueState
}

type queueState struct {
	mu      sync.RWMutex
	queue   domain.Queue
	tickets map[string]domain.Ticket
	// waiting holds the Waiting tickets in ordering-policy order with
	// positions 1..N. Each entry equals tickets[entry.ID].
	waiting []domain.Ticket
}

func New(opts Options) *Store {
	s := &Store{
		journal: opts.Journal,
		sink:    opts.Sink,
		clock:   opts.Clock,
		newID:   opts.NewID,
		queues:  make(map[string]*queueState),
		names:   make(map[string]string),
		index:   make(map[string]*queueState),
	}
	if s.sink == nil {
		s.sink = discardSink{}
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Load rebuilds the store from the journal. It must run before the store is
// shared; positions are recomputed by the ordering policy rather than trusted.
func (s *Store) Load(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	snap, err := s.journal.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	for _, q := range snap.Queues {
		s.queues[q.ID] = &queueState{queue: q, tickets: make(map[string]domain.Ticket)}
		s.names[q.Name] = q.ID
	}

	waiting := make(map[string][]domain.Ticket)
	for _, t := range snap.Tickets {
		qs, ok := s.queues[t.QueueID]
		if !ok {
			return fmt.Errorf("load journal: ticket %s references unknown queue %s", t.ID, t.QueueID)
		}
		if t.Status == domain.StatusWaiting {
			waiting[t.QueueID] = append(waiting[t.QueueID], t)
		} else {
			t.Position = 0
		}
		qs.tickets[t.ID] = t
		s.index[t.ID] = qs
		if t.Number > qs.queue.LastNumber {
			qs.queue.LastNumber = t.Number
		}
	}

	for queueID, ws := range waiting {
		qs := s.queues[queueID]
		qs.waiting = ordering.Reorder(ws)
		for _, t := range qs.waiting {
			qs.tickets[t.ID] = t
		}
	}
	return nil
}

// ---- queues ----

// CreateQueue registers a new, active queue.
func (s *Store) CreateQueue(ctx context.Context, name string, capacity int) (domain.Queue, error) {
	q := domain.Queue{
		ID:        s.newID(),
		Name:      name,
		Capacity:  capacity,
		Active:    true,
		CreatedAt: s.clock.Now(),
	}

	// Reserve the name first so the journal write happens outside the
	// registry lock.
	s.mu.Lock()
	if _, taken := s.names[name]; taken {
		s.mu.Unlock()
		return domain.Queue{}, domain.ErrDuplicateName
	}
	s.names[name] = q.ID
	s.mu.Unlock()

	qs := &queueState{queue: q, tickets: make(map[string]domain.Ticket)}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	created := q
	err := s.commit(ctx, qs, change{
		queue:  &q,
		events: []domain.Event{{Type: domain.EventQueueCreated, Queue: &created}},
		before: func() {
			s.mu.Lock()
			s.queues[q.ID] = qs
			s.mu.Unlock()
		},
	})
	if err != nil {
		s.mu.Lock()
		delete(s.names, name)
		s.mu.Unlock()
		return domain.Queue{}, err
	}
	return qs.queue, nil
}

// UpdateQueue changes capacity and/or the active flag. Lowering capacity
// below the current number of waiting tickets keeps those tickets and only
// blocks further admissions.
func (s *Store) UpdateQueue(ctx context.Context, queueID string, upd domain.QueueUpdate) (domain.Queue, error) {
	qs, err := s.queueByID(queueID)
	if err != nil {
		return domain.Queue{}, err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	q := qs.queue
	if upd.Capacity != nil {
		q.Capacity = *upd.Capacity
	}
	if upd.Active != nil {
		q.Active = *upd.Active
	}
	if q == qs.queue {
		return q, nil
	}

	updated := q
	err = s.commit(ctx, qs, change{
		queue:  &q,
		events: []domain.Event{{Type: domain.EventQueueUpdated, Queue: &updated}},
	})
	if err != nil {
		return domain.Queue{}, err
	}
	return qs.queue, nil
}

func (s *Store) GetQueue(queueID string) (domain.Queue, error) {
	qs, err := s.queueByID(queueID)
	if err != nil {
		return domain.Queue{}, err
	}
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	return qs.queue, nil
}

// GetQueueByName resolves a queue by its unique name.
func (s *Store) GetQueueByName(name string) (domain.Queue, error) {
	s.mu.RLock()
	id, ok := s.names[name]
	s.mu.RUnlock()
	if !ok {
		return domain.Queue{}, domain.ErrQueueNotFound
	}
	return s.GetQueue(id)
}

// ListQueues returns every queue ordered by creation time, then name.
func (s *Store) ListQueues() []domain.Queue {
	s.mu.RLock()
	states := make([]*queueState, 0, len(s.queues))
	for _, qs := range s.queues {
		states = append(states, qs)
	}
	s.mu.RUnlock()

	out := make([]domain.Queue, 0, len(states))
	for _, qs := range states {
		qs.mu.RLock()
		out = append(out, qs.queue)
		qs.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b domain.Queue) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out
}

// QueueIDs returns the ids of all registered queues in no particular order.
func (s *Store) QueueIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.queues))
	for id := range s.queues {
		ids = append(ids, id)
	}
	return ids
}

// ---- tickets ----

// Admit creates a Waiting ticket. Capacity counts Waiting tickets only.
func (s *Store) Admit(ctx context.Context, queueID string, req domain.AdmitRequest) (domain.Ticket, error) {
	qs, err := s.queueByID(queueID)
	if err != nil {
		return domain.Ticket{}, err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	q := qs.queue
	if !q.Active {
		return domain.Ticket{}, domain.ErrQueueInactive
	}
	if req.CustomerRef != "" {
		for _, t := range qs.tickets {
			if t.CustomerRef == req.CustomerRef && t.Live() {
				return domain.Ticket{}, domain.ErrAlreadyQueued
			}
		}
	}
	if !q.HasRoom(len(qs.waiting)) {
		return domain.Ticket{}, domain.ErrQueueFull
	}

	now := s.clock.Now()
	q.LastNumber++
	t := domain.Ticket{
		ID:              s.newID(),
		QueueID:         q.ID,
		Number:          q.LastNumber,
		Label:           req.Label,
		CustomerRef:     req.CustomerRef,
		Priority:        req.Priority,
		Status:          domain.StatusWaiting,
		CreatedAt:       now,
		StatusChangedAt: now,
	}
	waiting := ordering.Insert(qs.waiting, t)
	t = find(waiting, t.ID)

	err = s.commit(ctx, qs, change{
		queue:   &q,
		waiting: waiting,
		added:   []string{t.ID},
		history: []domain.HistoryEntry{{TicketID: t.ID, QueueID: q.ID, Number: t.Number, To: domain.StatusWaiting, At: now}},
		events:  []domain.Event{{Type: domain.EventTicketAdmitted, Ticket: &t}},
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

func (s *Store) GetTicket(ticketID string) (domain.Ticket, error) {
	qs, err := s.owner(ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	t, ok := qs.tickets[ticketID]
	if !ok {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	return t, nil
}

// FindByNumber looks a ticket up by its per-queue display number.
func (s *Store) FindByNumber(queueID string, number int64) (domain.Ticket, error) {
	qs, err := s.queueByID(queueID)
	if err != nil {
		return domain.Ticket{}, err
	}
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	for _, t := range qs.tickets {
		if t.Number == number {
			return t, nil
		}
	}
	return domain.Ticket{}, domain.ErrTicketNotFound
}

// FindByCustomer returns, for every queue where ref holds or held a ticket,
// the most recent of those tickets. Entries follow ListQueues order.
func (s *Store) FindByCustomer(ref string) []domain.CustomerEntry {
	var out []domain.CustomerEntry
	for _, q := range s.ListQueues() {
		qs, err := s.queueByID(q.ID)
		if err != nil {
			continue
		}
		qs.mu.RLock()
		var (
			latest domain.Ticket
			found  bool
		)
		for _, t := range qs.tickets {
			if t.CustomerRef == ref && (!found || t.Number > latest.Number) {
				latest, found = t, true
			}
		}
		name := qs.queue.Name
		qs.mu.RUnlock()
		if found {
			out = append(out, domain.CustomerEntry{QueueName: name, Ticket: latest})
		}
	}
	return out
}

// ListWaiting returns the Waiting tickets ordered by position.
func (s *Store) ListWaiting(queueID string) ([]domain.Ticket, error) {
	qs, err := s.queueByID(queueID)
	if err != nil {
		return nil, err
	}
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	return slices.Clone(qs.waiting), nil
}

// ListTickets returns the queue's tickets, optionally filtered by status,
// ordered by ticket number.
func (s *Store) ListTickets(queueID string, status domain.Status) ([]domain.Ticket, error) {
	qs, err := s.queueByID(queueID)
	if err != nil {
		return nil, err
	}
	qs.mu.RLock()
	out := make([]domain.Ticket, 0, len(qs.tickets))
	for _, t := range qs.tickets {
		if status == 0 || t.Status == status {
			out = append(out, t)
		}
	}
	qs.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Ticket) int {
		switch {
		case a.Number < b.Number:
			return -1
		case a.Number > b.Number:
			return 1
		}
		return 0
	})
	return out, nil
}

// Stats summarises one queue. AverageWaitSeconds covers every ticket that
// has been called at least once and not requeued since.
func (s *Store) Stats(queueID string) (domain.Stats, error) {
	qs, err := s.queueByID(queueID)
	if err != nil {
		return domain.Stats{}, err
	}
	qs.mu.RLock()
	defer qs.mu.RUnlock()

	st := domain.Stats{QueueID: queueID}
	var (
		totalWait time.Duration
		called    int
	)
	for _, t := range qs.tickets {
		switch t.Status {
		case domain.StatusWaiting:
			st.Waiting++
		case domain.StatusCalled:
			st.Called++
		case domain.StatusServing:
			st.Serving++
		case domain.StatusCompleted:
			st.Completed++
		case domain.StatusCancelled:
			st.Cancelled++
		}
		if t.CalledAt != nil {
			totalWait += t.CalledAt.Sub(t.CreatedAt)
			called++
		}
	}
	if called > 0 {
		st.AverageWaitSeconds = (totalWait / time.Duration(called)).Seconds()
	}
	return st, nil
}

// Transition moves a ticket along the state machine. Waiting -> Called is
// only allowed for the ticket at position 1.
func (s *Store) Transition(ctx context.Context, ticketID string, to domain.Status) (domain.Ticket, error) {
	qs, err := s.owner(ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	t, ok := qs.tickets[ticketID]
	if !ok {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	return s.transitionLocked(ctx, qs, t, to)
}

// CallNext atomically selects the ticket at position 1 and moves it to Called.
func (s *Store) CallNext(ctx context.Context, queueID string) (domain.Ticket, error) {
	qs, err := s.queueByID(queueID)
	if err != nil {
		return domain.Ticket{}, err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	if len(qs.waiting) == 0 {
		return domain.Ticket{}, domain.ErrQueueEmpty
	}
	return s.transitionLocked(ctx, qs, qs.waiting[0], domain.StatusCalled)
}

// RequeueExpired returns every Called ticket whose call happened at or before
// cutoff to Waiting. Tickets are requeued oldest call first; on a journal
// failure the tickets already requeued stay requeued and the error is returned.
func (s *Store) RequeueExpired(ctx context.Context, queueID string, cutoff time.Time) ([]domain.Ticket, error) {
	qs, err := s.queueByID(queueID)
	if err != nil {
		return nil, err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	var expired []domain.Ticket
	for _, t := range qs.tickets {
		if t.Status == domain.StatusCalled && t.CalledAt != nil && !t.CalledAt.After(cutoff) {
			expired = append(expired, t)
		}
	}
	slices.SortFunc(expired, func(a, b domain.Ticket) int {
		if c := a.CalledAt.Compare(*b.CalledAt); c != 0 {
			return c
		}
		return ordering.Compare(a, b)
	})

	requeued := make([]domain.Ticket, 0, len(expired))
	for _, t := range expired {
		next, err := s.transitionLocked(ctx, qs, t, domain.StatusWaiting)
		if err != nil {
			return requeued, err
		}
		requeued = append(requeued, next)
	}
	return requeued, nil
}

// Remove erases a ticket in a terminal state.
func (s *Store) Remove(ctx context.Context, ticketID string) error {
	qs, err := s.owner(ticketID)
	if err != nil {
		return err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	t, ok := qs.tickets[ticketID]
	if !ok {
		return domain.ErrTicketNotFound
	}
	return s.removeLocked(ctx, qs, t)
}

// RemoveTerminatedBefore erases terminal tickets of one queue whose last
// status change happened at or before cutoff. It returns how many were removed.
func (s *Store) RemoveTerminatedBefore(ctx context.Context, queueID string, cutoff time.Time) (int, error) {
	qs, err := s.queueByID(queueID)
	if err != nil {
		return 0, err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	var stale []domain.Ticket
	for _, t := range qs.tickets {
		if t.Status.IsTerminal() && !t.StatusChangedAt.After(cutoff) {
			stale = append(stale, t)
		}
	}
	slices.SortFunc(stale, func(a, b domain.Ticket) int { return ordering.Compare(a, b) })

	for i, t := range stale {
		if err := s.removeLocked(ctx, qs, t); err != nil {
			return i, err
		}
	}
	return len(stale), nil
}

// ---- internals ----

func (s *Store) transitionLocked(ctx context.Context, qs *queueState, t domain.Ticket, to domain.Status) (domain.Ticket, error) {
	from := t.Status
	if !domain.CanTransition(from, to) {
		return domain.Ticket{}, domain.ErrInvalidTransition
	}
	if from == domain.StatusWaiting && to == domain.StatusCalled && t.Position != 1 {
		return domain.Ticket{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	next := t
	next.Status = to
	next.StatusChangedAt = now

	c := change{
		history: []domain.HistoryEntry{{TicketID: t.ID, QueueID: t.QueueID, Number: t.Number, From: from, To: to, At: now}},
	}

	switch {
	case to == domain.StatusCalled:
		next.CalledAt = &now
	case to == domain.StatusWaiting:
		next.CalledAt = nil
		next.RequeueCount++
	}

	switch {
	case from == domain.StatusWaiting:
		next.Position = 0
		c.waiting = ordering.Without(qs.waiting, t.ID)
		c.upsert = []domain.Ticket{next}
	case to == domain.StatusWaiting:
		c.waiting = ordering.Insert(qs.waiting, next)
		next = find(c.waiting, next.ID)
	default:
		c.upsert = []domain.Ticket{next}
	}

	c.events = []domain.Event{{Type: domain.TransitionEvent(from, to), Ticket: &next}}
	if err := s.commit(ctx, qs, c); err != nil {
		return domain.Ticket{}, err
	}
	return next, nil
}

func (s *Store) removeLocked(ctx context.Context, qs *queueState, t domain.Ticket) error {
	if !t.Status.IsTerminal() {
		return domain.ErrInvalidTransition
	}
	now := s.clock.Now()
	return s.commit(ctx, qs, change{
		remove:  []string{t.ID},
		history: []domain.HistoryEntry{{TicketID: t.ID, QueueID: t.QueueID, Number: t.Number, From: t.Status, At: now}},
		events:  []domain.Event{{Type: domain.EventTicketRemoved, Ticket: &t}},
	})
}

// change is the outcome of a planned mutation of one queue.
type change struct {
	queue *domain.Queue
	// waiting, when non-nil, replaces the whole ordered waiting set.
	waiting []domain.Ticket
	// upsert holds tickets that leave or never enter the waiting set.
	upsert  []domain.Ticket
	added   []string
	remove  []string
	history []domain.HistoryEntry
	events  []domain.Event
	// before runs after the journal accepted the delta and before the
	// new state becomes visible in the queue.
	before func()
}

// commit persists c and then applies it to qs. The caller holds qs.mu for
// writing. On a journal error nothing is applied.
func (s *Store) commit(ctx context.Context, qs *queueState, c change) error {
	events := c.events
	if c.waiting != nil {
		events = append(events, domain.Event{Type: domain.EventQueueReordered, Positions: ordering.Positions(c.waiting)})
	}
	q := qs.queue
	if c.queue != nil {
		q = *c.queue
	}
	firstSeq := qs.queue.LastSeq + 1
	q.LastSeq = qs.queue.LastSeq + uint64(len(events))

	delta := repository.Delta{
		Queue:   &q,
		Upsert:  slices.Clone(c.upsert),
		Delete:  c.remove,
		History: c.history,
	}
	// Only persist waiting tickets that are new or moved.
	for _, t := range c.waiting {
		if prev, ok := qs.tickets[t.ID]; !ok || prev != t {
			delta.Upsert = append(delta.Upsert, t)
		}
	}

	if s.journal != nil {
		if err := s.journal.Apply(ctx, delta); err != nil {
			return fmt.Errorf("persist queue %s: %w", qs.queue.ID, err)
		}
	}

	if c.before != nil {
		c.before()
	}
	qs.queue = q
	for _, t := range c.upsert {
		qs.tickets[t.ID] = t
	}
	if c.waiting != nil {
		for _, t := range c.waiting {
			qs.tickets[t.ID] = t
		}
		qs.waiting = c.waiting
	}
	for _, id := range c.remove {
		delete(qs.tickets, id)
	}

	if len(c.added) > 0 || len(c.remove) > 0 {
		s.indexMu.Lock()
		for _, id := range c.added {
			s.index[id] = qs
		}
		for _, id := range c.remove {
			delete(s.index, id)
		}
		s.indexMu.Unlock()
	}

	now := s.clock.Now()
	for i, ev := range events {
		ev.QueueID = q.ID
		ev.Seq = firstSeq + uint64(i)
		ev.At = now
		s.sink.Publish(ev)
	}
	return nil
}

func (s *Store) queueByID(queueID string) (*queueState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qs, ok := s.queues[queueID]
	if !ok {
		return nil, domain.ErrQueueNotFound
	}
	return qs, nil
}

func (s *Store) owner(ticketID string) (*queueState, error) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	qs, ok := s.index[ticketID]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	return qs, nil
}

func find(ordered []domain.Ticket, id string) domain.Ticket {
	for _, t := range ordered {
		if t.ID == id {
			return t
		}
	}
	return domain.Ticket{}
}
