package domain_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricirt/queue-system/internal/domain"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.Status
		allowed  bool
	}{
		{domain.StatusWaiting, domain.StatusCalled, true},
		{domain.StatusWaiting, domain.StatusCancelled, true},
		{domain.StatusWaiting, domain.StatusServing, false},
		{domain.StatusWaiting, domain.StatusCompleted, false},
		{domain.StatusCalled, domain.StatusServing, true},
		{domain.StatusCalled, domain.StatusWaiting, true},
		{domain.StatusCalled, domain.StatusCancelled, true},
		{domain.StatusCalled, domain.StatusCompleted, false},
		{domain.StatusServing, domain.StatusCompleted, true},
		{domain.StatusServing, domain.StatusCancelled, false},
		{domain.StatusServing, domain.StatusWaiting, false},
		{domain.StatusCompleted, domain.StatusWaiting, false},
		{domain.StatusCompleted, domain.StatusCancelled, false},
		{domain.StatusCancelled, domain.StatusWaiting, false},
	}

	for _, tc := range tests {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			assert.Equal(t, tc.allowed, domain.CanTransition(tc.from, tc.to))
		})
	}
}

func TestStatus_TextRoundTrip(t *testing.T) {
	for s := domain.StatusWaiting; s <= domain.StatusCancelled; s++ {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var back domain.Status
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	_, err := domain.ParseStatus("abandoned")
	assert.Error(t, err)
	assert.False(t, domain.Status(9).IsValid())
}

func TestTicket_JSONOmitsAbsentPosition(t *testing.T) {
	b, err := json.Marshal(domain.Ticket{ID: "t1", Status: domain.StatusCalled})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "position")
	assert.Contains(t, string(b), `"status":"called"`)
}

func TestCreateQueueRequest_Validate(t *testing.T) {
	t.Run("valid request passes and trims", func(t *testing.T) {
		r := domain.CreateQueueRequest{Name: "  clinic ", Capacity: 2}
		require.NoError(t, r.Validate())
		assert.Equal(t, "clinic", r.Name)
	})

	t.Run("empty name", func(t *testing.T) {
		r := domain.CreateQueueRequest{Name: "   "}
		assert.ErrorIs(t, r.Validate(), domain.ErrInvalidName)
	})

	t.Run("name too long", func(t *testing.T) {
		r := domain.CreateQueueRequest{Name: strings.Repeat("q", 65)}
		assert.ErrorIs(t, r.Validate(), domain.ErrInvalidName)
	})

	t.Run("negative capacity", func(t *testing.T) {
		r := domain.CreateQueueRequest{Name: "clinic", Capacity: -1}
		assert.ErrorIs(t, r.Validate(), domain.ErrInvalidCapacity)
	})
}

func TestAdmitRequest_Validate(t *testing.T) {
	ok := domain.AdmitRequest{Label: strings.Repeat("x", 128), CustomerRef: "  A-1042 "}
	require.NoError(t, ok.Validate())
	assert.Equal(t, "A-1042", ok.CustomerRef, "customer ref is trimmed")

	long := domain.AdmitRequest{Label: strings.Repeat("x", 129)}
	assert.ErrorIs(t, long.Validate(), domain.ErrInvalidLabel)

	for _, ref := range []string{"two words", strings.Repeat("7", 65), "tab\tref"} {
		bad := domain.AdmitRequest{CustomerRef: ref}
		assert.ErrorIs(t, bad.Validate(), domain.ErrInvalidCustomer, ref)
	}
}

func TestQueue_HasRoom(t *testing.T) {
	assert.True(t, domain.Queue{}.HasRoom(1000))
	assert.True(t, domain.Queue{Capacity: 2}.HasRoom(1))
	assert.False(t, domain.Queue{Capacity: 2}.HasRoom(2))
}

func TestTransitionEvent(t *testing.T) {
	assert.Equal(t, domain.EventTicketRequeued, domain.TransitionEvent(domain.StatusCalled, domain.StatusWaiting))
	assert.Equal(t, domain.EventTicketCalled, domain.TransitionEvent(domain.StatusWaiting, domain.StatusCalled))
	assert.Equal(t, domain.EventTicketCompleted, domain.TransitionEvent(domain.StatusServing, domain.StatusCompleted))
}
