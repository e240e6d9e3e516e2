package bus

import (
	"sync"

	"github.com/IvanBrykalov/syncache/model"
)

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	id     string
	topics map[model.Topic]struct{} // nil = all
	bus    *Bus

	mu     sync.Mutex // serializes deliver against shutdown
	ch     chan Event
	closed bool
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string { return s.id }

// Events returns the delivery channel. It is closed by Close or Bus.Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unsubscribes and closes the channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
	s.shutdown()
}

func (s *Subscription) matches(t model.Topic) bool {
	if s.topics == nil {
		return true
	}
	_, ok := s.topics[t]
	return ok
}

// deliver enqueues ev, evicting the oldest pending event when the buffer
// is full. Reports whether an event was dropped.
func (s *Subscription) deliver(ev Event) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- ev:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			dropped = true
		default:
		}
	}
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
