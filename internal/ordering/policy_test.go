package ordering_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricirt/queue-system/internal/domain"
	"github.com/ricirt/queue-system/internal/ordering"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func ticket(id string, priority int, offset time.Duration) domain.Ticket {
	return domain.Ticket{ID: id, Priority: priority, Status: domain.StatusWaiting, CreatedAt: base.Add(offset)}
}

func ids(tickets []domain.Ticket) []string {
	out := make([]string, len(tickets))
	for i, t := range tickets {
		out[i] = t.ID
	}
	return out
}

// TestReorder_HighPriorityBeforeEarlier verifies that a higher-priority ticket
// admitted later is still served first.
func TestReorder_HighPriorityBeforeEarlier(t *testing.T) {
	got := ordering.Reorder([]domain.Ticket{
		ticket("a", 0, 0),
		ticket("b", 5, time.Second),
	})

	assert.Equal(t, []string{"b", "a"}, ids(got))
	assert.Equal(t, 1, got[0].Position)
	assert.Equal(t, 2, got[1].Position)
}

func TestReorder_FIFOWithinPriority(t *testing.T) {
	got := ordering.Reorder([]domain.Ticket{
		ticket("late", 1, 2*time.Second),
		ticket("early", 1, time.Second),
		ticket("low", 0, 0),
	})
	assert.Equal(t, []string{"early", "late", "low"}, ids(got))
}

// TestReorder_TieBrokenByID verifies the canonical order for identical
// priority and timestamp.
func TestReorder_TieBrokenByID(t *testing.T) {
	got := ordering.Reorder([]domain.Ticket{
		ticket("c", 0, 0),
		ticket("a", 0, 0),
		ticket("b", 0, 0),
	})
	assert.Equal(t, []string{"a", "b", "c"}, ids(got))
}

func TestReorder_DoesNotMutateInput(t *testing.T) {
	in := []domain.Ticket{ticket("b", 0, time.Second), ticket("a", 0, 0)}
	_ = ordering.Reorder(in)
	assert.Equal(t, "b", in[0].ID)
	assert.Zero(t, in[0].Position)
}

// TestReorder_Deterministic shuffles the same input many times and expects
// one canonical result.
func TestReorder_Deterministic(t *testing.T) {
	var in []domain.Ticket
	for i := 0; i < 50; i++ {
		in = append(in, ticket(string(rune('A'+i%26))+string(rune('a'+i/26)), i%4, time.Duration(i%7)*time.Second))
	}
	want := ids(ordering.Reorder(in))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]domain.Ticket(nil), in...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		require.Equal(t, want, ids(ordering.Reorder(shuffled)))
	}
}

func TestInsert_MatchesReorder(t *testing.T) {
	ordered := ordering.Reorder([]domain.Ticket{
		ticket("a", 0, 0),
		ticket("b", 0, time.Second),
		ticket("c", 3, 2*time.Second),
	})

	got := ordering.Insert(ordered, ticket("d", 1, 3*time.Second))
	want := ordering.Reorder(append(append([]domain.Ticket(nil), ordered...), ticket("d", 1, 3*time.Second)))

	assert.Equal(t, ids(want), ids(got))
	for i, tk := range got {
		assert.Equal(t, i+1, tk.Position)
	}
	assert.Len(t, ordered, 3, "input must not grow")
}

func TestWithout_ClosesGap(t *testing.T) {
	ordered := ordering.Reorder([]domain.Ticket{
		ticket("a", 0, 0),
		ticket("b", 0, time.Second),
		ticket("c", 0, 2*time.Second),
	})

	got := ordering.Without(ordered, "b")
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "c"}, ids(got))
	assert.Equal(t, 2, got[1].Position)
	assert.Equal(t, 3, ordered[2].Position, "input positions are untouched")
}

func TestPositions(t *testing.T) {
	ordered := ordering.Reorder([]domain.Ticket{ticket("a", 0, 0)})
	ordered[0].Number = 12
	assert.Equal(t, []domain.WaitingPosition{{TicketID: "a", Number: 12, Position: 1}}, ordering.Positions(ordered))
}
