package domain

import "fmt"

// Status tracks the lifecycle of a ticket. The set is closed: every value
// outside the declared constants is rejected by ParseStatus and IsValid.
type Status uint8

const (
	StatusWaiting Status = iota + 1
	StatusCalled
	StatusServing
	StatusCompleted
	StatusCancelled
)

var statusNames = [...]string{
	StatusWaiting:   "waiting",
	StatusCalled:    "called",
	StatusServing:   "serving",
	StatusCompleted: "completed",
	StatusCancelled: "cancelled",
}

// transitions is the ticket state machine. Admission (no status -> Waiting)
// is not a transition and is handled by the store directly.
//
//	Waiting -> Called     call_next
//	Called  -> Serving    begin_service
//	Called  -> Waiting    requeue
//	Serving -> Completed  complete
//	Waiting -> Cancelled  cancel
//	Called  -> Cancelled  cancel
var transitions = map[Status][]Status{
	StatusWaiting: {StatusCalled, StatusCancelled},
	StatusCalled:  {StatusServing, StatusWaiting, StatusCancelled},
	StatusServing: {StatusCompleted},
}

func (s Status) IsValid() bool {
	return s >= StatusWaiting && s <= StatusCancelled
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	if !s.IsValid() {
		return fmt.Sprintf("status(%d)", uint8(s))
	}
	return statusNames[s]
}

// ParseStatus converts the wire name of a status back into a Status.
func ParseStatus(name string) (Status, error) {
	for s := StatusWaiting; s <= StatusCancelled; s++ {
		if statusNames[s] == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown ticket status %q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	if s == 0 {
		return []byte{}, nil
	}
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid ticket status %d", uint8(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = 0
		return nil
	}
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
