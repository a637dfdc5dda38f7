package repository

import (
	"context"

	"github.com/ricirt/queue-system/internal/domain"
)

// Snapshot is everything needed to rebuild the in-memory store at start-up.
type Snapshot struct {
	Queues  []domain.Queue
	Tickets []domain.Ticket
}

// Delta is the set of record changes produced by one store mutation.
// A Journal must apply a Delta atomically: all of it or none of it.
type Delta struct {
	Queue   *domain.Queue
	Upsert  []domain.Ticket
	Delete  []string
	History []domain.HistoryEntry
}

func (d Delta) IsEmpty() bool {
	return d.Queue == nil && len(d.Upsert) == 0 && len(d.Delete) == 0 && len(d.History) == 0
}

// Journal is the durability boundary of the queue store.
// The store calls Apply on every mutation boundary while holding the queue's
// lock and only commits in memory when Apply succeeds.
//
// Implementations: MemoryJournal (memory_journal.go), PgJournal
// (pg_journal.go), SQLiteJournal (sqlite_journal.go).
type Journal interface {
	LoadAll(ctx context.Context) (Snapshot, error)
	Apply(ctx context.Context, d Delta) error
	History(ctx context.Context, f domain.HistoryFilter) ([]domain.HistoryEntry, error)
}

const defaultHistoryLimit = 100

func historyLimit(f domain.HistoryFilter) int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return defaultHistoryLimit
	}
	return f.Limit
}
