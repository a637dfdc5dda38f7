package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrDuplicateName      = errors.New("queue name already in use")
	ErrQueueNotFound      = errors.New("queue not found")
	ErrQueueFull          = errors.New("queue is at capacity")
	ErrQueueInactive      = errors.New("queue is not accepting tickets")
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrQueueEmpty         = errors.New("no tickets waiting")
	ErrInvalidTransition  = errors.New("invalid ticket status transition")
	ErrSubscriberOverflow = errors.New("subscriber dropped: event buffer overflow")
	ErrRateLimited        = errors.New("admission rate exceeded, try again later")
	ErrAlreadyQueued      = errors.New("customer already has a live ticket in this queue")

	ErrInvalidName     = errors.New("queue name must be between 1 and 64 characters")
	ErrInvalidCapacity = errors.New("capacity must not be negative")
	ErrInvalidLabel    = errors.New("label must be at most 128 characters")
	ErrInvalidCustomer = errors.New("customer reference must be 1 to 64 printable characters without spaces")
)
