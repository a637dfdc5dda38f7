package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxNameLength  = 64
	maxLabelLength = 128
	maxCustomerRef = 64
)

// Ticket is a unit of work (or a customer) admitted into exactly one queue.
// ID, QueueID, Number and CreatedAt never change after admission.
type Ticket struct {
	ID      string `json:"id"`
	QueueID string `json:"queue_id"`
	Number  int64  `json:"number"`
	Label   string `json:"label,omitempty"`
	// CustomerRef identifies the person holding the ticket, e.g. a customer
	// or patient number. At most one live ticket per queue carries a given ref.
	CustomerRef string `json:"customer_ref,omitempty"`
	Priority    int    `json:"priority"`
	Status      Status `json:"status"`
	// Position is the 1-based rank among Waiting tickets of the queue.
	// Zero means absent: the ticket is not Waiting.
	Position        int        `json:"position,omitempty"`
	RequeueCount    int        `json:"requeue_count"`
	CreatedAt       time.Time  `json:"created_at"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
	CalledAt        *time.Time `json:"called_at,omitempty"`
}

// Queue is a named, optionally capacity-bounded collection of tickets.
type Queue struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Capacity bounds the number of simultaneous Waiting tickets. Zero means unbounded.
	Capacity   int   `json:"capacity"`
	Active     bool  `json:"active"`
	LastNumber int64 `json:"last_number"`
	// LastSeq is the sequence number of the last event published for the
	// queue. It is persisted so event ids stay unique across restarts.
	LastSeq   uint64    `json:"last_seq"`
	CreatedAt time.Time `json:"created_at"`
}

// HasRoom reports whether one more Waiting ticket fits.
func (q Queue) HasRoom(waiting int) bool {
	return q.Capacity == 0 || waiting < q.Capacity
}

// HistoryEntry records one state change of a ticket. From is zero for
// admission and To is zero for removal.
type HistoryEntry struct {
	TicketID string    `json:"ticket_id"`
	QueueID  string    `json:"queue_id"`
	Number   int64     `json:"number"`
	From     Status    `json:"from,omitempty"`
	To       Status    `json:"to,omitempty"`
	At       time.Time `json:"at"`
}

// HistoryFilter narrows a history lookup. Empty fields match everything.
type HistoryFilter struct {
	QueueID  string
	TicketID string
	Limit    int
}

// Stats is a point-in-time summary of one queue.
type Stats struct {
	QueueID            string  `json:"queue_id"`
	Waiting            int     `json:"waiting"`
	Called             int     `json:"called"`
	Serving            int     `json:"serving"`
	Completed          int     `json:"completed"`
	Cancelled          int     `json:"cancelled"`
	AverageWaitSeconds float64 `json:"average_wait_seconds"`
}

// CreateQueueRequest is the inbound payload for a new queue.
type CreateQueueRequest struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

func (r *CreateQueueRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" || utf8.RuneCountInString(r.Name) > maxNameLength {
		return ErrInvalidName
	}
	if r.Capacity < 0 {
		return ErrInvalidCapacity
	}
	return nil
}

// QueueUpdate carries the mutable queue settings. Nil fields are left alone.
type QueueUpdate struct {
	Capacity *int  `json:"capacity,omitempty"`
	Active   *bool `json:"active,omitempty"`
}

func (u QueueUpdate) Validate() error {
	if u.Capacity != nil && *u.Capacity < 0 {
		return ErrInvalidCapacity
	}
	return nil
}

// AdmitRequest is the inbound payload for admission.
type AdmitRequest struct {
	Priority    int    `json:"priority"`
	Label       string `json:"label,omitempty"`
	CustomerRef string `json:"customer_ref,omitempty"`
}

func (r *AdmitRequest) Validate() error {
	if utf8.RuneCountInString(r.Label) > maxLabelLength {
		return ErrInvalidLabel
	}
	r.CustomerRef = strings.TrimSpace(r.CustomerRef)
	if r.CustomerRef != "" && !ValidCustomerRef(r.CustomerRef) {
		return ErrInvalidCustomer
	}
	return nil
}

// ValidCustomerRef accepts 1 to 64 printable ASCII characters without spaces.
func ValidCustomerRef(ref string) bool {
	if ref == "" || len(ref) > maxCustomerRef {
		return false
	}
	for i := 0; i < len(ref); i++ {
		if ref[i] < 0x21 || ref[i] > 0x7e {
			return false
		}
	}
	return true
}

// Live reports whether the ticket still holds its customer's place: Waiting
// or Called.
func (t Ticket) Live() bool {
	return t.Status == StatusWaiting || t.Status == StatusCalled
}

// CustomerEntry is the latest ticket a customer holds in one queue.
type CustomerEntry struct {
	QueueName string `json:"queue_name"`
	Ticket    Ticket `json:"ticket"`
}
