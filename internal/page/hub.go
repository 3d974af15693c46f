package page

import (
	"errors"
	"sync"
)

// ErrClosed is returned when subscribing to a hub that has been closed.
var ErrClosed = errors.New("page: hub closed")

const subscriptionBuffer = 64

// Subscription is a scoped acquisition of page events. Close releases it; calling
// Close more than once is safe.
type Subscription struct {
	events chan Event
	kinds  map[EventKind]bool

	mu      sync.Mutex
	closed  bool
	release func(*Subscription)
}

// Events returns the channel events are delivered on. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Wants reports whether the subscription was acquired for kind.
func (s *Subscription) Wants(kind EventKind) bool {
	return len(s.kinds) == 0 || s.kinds[kind]
}

// deliver hands ev to the subscriber without blocking. It reports false when the
// event was dropped because the buffer is full or the subscription is closed.
func (s *Subscription) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Close releases the subscription.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	if s.release != nil {
		s.release(s)
	}
}

// Hub fans page events out to subscriptions. Page implementations embed one.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe acquires a subscription for kinds; no kinds means every event.
func (h *Hub) Subscribe(kinds ...EventKind) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	sub := &Subscription{
		events:  make(chan Event, subscriptionBuffer),
		kinds:   make(map[EventKind]bool, len(kinds)),
		release: h.remove,
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}
	h.subs[sub] = struct{}{}

	return sub, nil
}

// Publish delivers ev to every interested subscription and returns how many
// subscriptions dropped it.
func (h *Hub) Publish(ev Event) (dropped int) {
	h.mu.Lock()
	targets := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		if sub.Wants(ev.Kind) {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range targets {
		if !sub.deliver(ev) {
			dropped++
		}
	}

	return dropped
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close releases every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}
