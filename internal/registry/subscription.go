package registry

import (
	"fmt"
	"sync"
)

// Message is the unit delivered to subscribers.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Conn is the transport behind a subscription. Send is only ever called from
// the subscription's own delivery goroutine.
type Conn interface {
	Send(msg Message) error
	Close() error
}

// Subscription is a live delivery handle owned by the Registry.
type Subscription struct {
	ID string

	conn   Conn
	outbox chan Message
	quit   chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	identity string
	closed   bool
}

func newSubscription(id string, conn Conn, identity string, size int) *Subscription {
	return &Subscription{
		ID:       id,
		conn:     conn,
		identity: identity,
		outbox:   make(chan Message, size),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Identity returns the identity the subscription is bound to, if any.
func (s *Subscription) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Done is closed once the delivery goroutine has exited and the transport is
// closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) bind(identity string) {
	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
}

// enqueue never blocks. A full outbox means the client is not keeping up.
func (s *Subscription) enqueue(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: subscription %s is closed", ErrDelivery, s.ID)
	}

	select {
	case s.outbox <- msg:
		return nil
	default:
		return fmt.Errorf("%w: subscription %s outbox is full", ErrDelivery, s.ID)
	}
}

func (s *Subscription) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.quit)
	return true
}
