// Package hub fans store events out to live subscribers.
package hub

import (
	"sync"

	"github.com/ricirt/queue-system/internal/domain"
)

// DefaultBuffer is used when New is given a non-positive buffer size.
const DefaultBuffer = 256

// Subscription is one live event stream. Events arrive in publication order.
// The channel is closed when the subscriber unsubscribes, overflows or the
// hub shuts down; Err tells which.
type Subscription struct {
	queueID string
	ch      chan domain.Event
	done    chan struct{}

	once sync.Once
	err  error
}

// Events returns the stream of events. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// QueueID is the queue this subscription follows, "" for every queue.
func (s *Subscription) QueueID() string { return s.queueID }

// Err reports why the subscription ended: domain.ErrSubscriberOverflow when
// the subscriber fell behind, nil otherwise. Only meaningful after Done.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

// end must be called with the hub lock held.
func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.ch)
		close(s.done)
	})
}

type Hub struct {
	buffer int
	// onDrop is called once for each subscriber dropped on overflow.
	onDrop func(queueID string)

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// New returns a hub whose subscribers each buffer up to buffer events.
// onDrop may be nil.
func New(buffer int, onDrop func(queueID string)) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if onDrop == nil {
		onDrop = func(string) {}
	}
	return &Hub{buffer: buffer, onDrop: onDrop, subs: make(map[*Subscription]struct{})}
}

// Subscribe starts a subscription to one queue, or to all queues when
// queueID is empty. Subscribing to a closed hub returns an already ended
// subscription.
func (h *Hub) Subscribe(queueID string) *Subscription {
	s := &Subscription{
		queueID: queueID,
		ch:      make(chan domain.Event, h.buffer),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.end(nil)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Unsubscribe ends s. It is safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
	s.end(nil)
}

// Publish delivers ev to every matching subscriber without blocking. A
// subscriber whose buffer is full is dropped.
func (h *Hub) Publish(ev domain.Event) {
	var overflowed []*Subscription

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	for s := range h.subs {
		if s.queueID != "" && s.queueID != ev.QueueID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			overflowed = append(overflowed, s)
		}
	}
	h.mu.RUnlock()

	if len(overflowed) == 0 {
		return
	}

	h.mu.Lock()
	for _, s := range overflowed {
		if _, ok := h.subs[s]; !ok {
			continue
		}
		delete(h.subs, s)
		s.end(domain.ErrSubscriberOverflow)
		h.onDrop(s.queueID)
	}
	h.mu.Unlock()
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later publishes are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		s.end(nil)
	}
	h.subs = make(map[*Subscription]struct{})
}
