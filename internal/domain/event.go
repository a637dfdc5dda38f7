package domain

import "time"

// EventType names a queue state change.
type EventType string

const (
	EventQueueCreated    EventType = "queue.created"
	EventQueueUpdated    EventType = "queue.updated"
	EventQueueReordered  EventType = "queue.reordered"
	EventTicketAdmitted  EventType = "ticket.admitted"
	EventTicketCalled    EventType = "ticket.called"
	EventTicketServing   EventType = "ticket.serving"
	EventTicketRequeued  EventType = "ticket.requeued"
	EventTicketCompleted EventType = "ticket.completed"
	EventTicketCancelled EventType = "ticket.cancelled"
	EventTicketRemoved   EventType = "ticket.removed"
)

// TransitionEvent returns the event emitted when a ticket enters status to
// from status from.
func TransitionEvent(from, to Status) EventType {
	switch to {
	case StatusCalled:
		return EventTicketCalled
	case StatusServing:
		return EventTicketServing
	case StatusCompleted:
		return EventTicketCompleted
	case StatusCancelled:
		return EventTicketCancelled
	case StatusWaiting:
		if from == StatusCalled {
			return EventTicketRequeued
		}
	}
	return EventTicketAdmitted
}

// WaitingPosition is one row of a queue.reordered event.
type WaitingPosition struct {
	TicketID string `json:"ticket_id"`
	Number   int64  `json:"number"`
	Position int    `json:"position"`
}

// Event is a single change published by the store through the notification hub.
// Seq increases strictly per queue in the order mutations were applied.
type Event struct {
	QueueID   string            `json:"queue_id"`
	Seq       uint64            `json:"seq"`
	Type      EventType         `json:"type"`
	Queue     *Queue            `json:"queue,omitempty"`
	Ticket    *Ticket           `json:"ticket,omitempty"`
	Positions []WaitingPosition `json:"positions,omitempty"`
	At        time.Time         `json:"at"`
}
