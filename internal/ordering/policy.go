// Package ordering decides the order in which waiting tickets are served.
//
// The order is total and deterministic:
//
//	1. higher priority first
//	2. earlier created_at first
//	3. lexicographically smaller id first
//
// Two calls with the same input always produce the same positions, which is
// what lets tests replay call_next sequences exactly.
package ordering

import (
	"slices"
	"strings"

	"github.com/ricirt/queue-system/internal/domain"
)

// Compare returns a negative number when a must be served before b,
// a positive number when b must be served first, and zero only when both
// tickets carry the same id.
func Compare(a, b domain.Ticket) int {
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return -1
		}
		return 1
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Less reports whether a is served before b.
func Less(a, b domain.Ticket) bool {
	return Compare(a, b) < 0
}

// Reorder returns a sorted copy of waiting with positions 1..N assigned.
// The input slice is not modified.
func Reorder(waiting []domain.Ticket) []domain.Ticket {
	out := slices.Clone(waiting)
	slices.SortFunc(out, Compare)
	for i := range out {
		out[i].Position = i + 1
	}
	return out
}

// Insert places t into an already ordered waiting list and renumbers the
// positions of every ticket at or behind it. The input slice is not modified.
func Insert(ordered []domain.Ticket, t domain.Ticket) []domain.Ticket {
	idx, _ := slices.BinarySearchFunc(ordered, t, Compare)
	out := make([]domain.Ticket, 0, len(ordered)+1)
	out = append(out, ordered[:idx]...)
	out = append(out, t)
	out = append(out, ordered[idx:]...)
	for i := idx; i < len(out); i++ {
		out[i].Position = i + 1
	}
	return out
}

// Without removes the ticket with the given id and closes the gap in the
// positions. It returns the input unchanged (as a copy) when id is absent.
func Without(ordered []domain.Ticket, id string) []domain.Ticket {
	out := make([]domain.Ticket, 0, len(ordered))
	for _, t := range ordered {
		if t.ID == id {
			continue
		}
		out = append(out, t)
	}
	for i := range out {
		out[i].Position = i + 1
	}
	return out
}

// Positions flattens an ordered waiting list into the rows carried by a
// queue.reordered event.
func Positions(ordered []domain.Ticket) []domain.WaitingPosition {
	out := make([]domain.WaitingPosition, len(ordered))
	for i, t := range ordered {
		out[i] = domain.WaitingPosition{TicketID: t.ID, Number: t.Number, Position: t.Position}
	}
	return out
}
