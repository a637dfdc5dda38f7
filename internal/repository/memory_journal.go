package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/ricirt/queue-system/internal/domain"
)

// DefaultHistoryCap is how many history entries NewMemoryJournal retains.
const DefaultHistoryCap = 10000

// MemoryJournal is an in-process Journal. It is the default when no database
// is configured and doubles as the test double for the store.
//
// History is a ring: once historyCap entries are held, each new entry
// overwrites the oldest one.
type MemoryJournal struct {
	mu      sync.RWMutex
	queues  map[string]domain.Queue
	tickets map[string]domain.Ticket

	history     []domain.HistoryEntry
	historyHead int // index of the oldest entry once the ring is full
	historyCap  int

	// Optional error overrides, set in tests to simulate failure paths.
	ApplyErr   error
	LoadAllErr error
}

func NewMemoryJournal() *MemoryJournal {
	return NewMemoryJournalWithHistoryCap(DefaultHistoryCap)
}

// NewMemoryJournalWithHistoryCap bounds retained history to historyCap
// entries. A non-positive cap selects DefaultHistoryCap.
func NewMemoryJournalWithHistoryCap(historyCap int) *MemoryJournal {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &MemoryJournal{
		queues:     make(map[string]domain.Queue),
		tickets:    make(map[string]domain.Ticket),
		historyCap: historyCap,
	}
}

func (m *MemoryJournal) LoadAll(_ context.Context) (Snapshot, error) {
	if m.LoadAllErr != nil {
		return Snapshot{}, m.LoadAllErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Queues:  make([]domain.Queue, 0, len(m.queues)),
		Tickets: make([]domain.Ticket, 0, len(m.tickets)),
	}
	for _, q := range m.queues {
		snap.Queues = append(snap.Queues, q)
	}
	for _, t := range m.tickets {
		snap.Tickets = append(snap.Tickets, cloneTicket(t))
	}
	sort.Slice(snap.Queues, func(i, j int) bool { return snap.Queues[i].CreatedAt.Before(snap.Queues[j].CreatedAt) })
	return snap, nil
}

func (m *MemoryJournal) Apply(_ context.Context, d Delta) error {
	if m.ApplyErr != nil {
		return m.ApplyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.Queue != nil {
		m.queues[d.Queue.ID] = *d.Queue
	}
	for _, t := range d.Upsert {
		m.tickets[t.ID] = cloneTicket(t)
	}
	for _, id := range d.Delete {
		delete(m.tickets, id)
	}
	for _, h := range d.History {
		if len(m.history) < m.historyCap {
			m.history = append(m.history, h)
			continue
		}
		m.history[m.historyHead] = h
		m.historyHead = (m.historyHead + 1) % m.historyCap
	}
	return nil
}

// History returns matching entries, newest first.
func (m *MemoryJournal) History(_ context.Context, f domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := historyLimit(f)
	out := make([]domain.HistoryEntry, 0, limit)
	n := len(m.history)
	for i := 0; i < n && len(out) < limit; i++ {
		h := m.history[(m.historyHead-1-i+n)%n]
		if f.QueueID != "" && h.QueueID != f.QueueID {
			continue
		}
		if f.TicketID != "" && h.TicketID != f.TicketID {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// TicketCount reports how many ticket records are stored.
func (m *MemoryJournal) TicketCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tickets)
}

// HistoryLen reports how many history entries are retained.
func (m *MemoryJournal) HistoryLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	if t.CalledAt != nil {
		at := *t.CalledAt
		t.CalledAt = &at
	}
	return t
}

var _ Journal = (*MemoryJournal)(nil)
