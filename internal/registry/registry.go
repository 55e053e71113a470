package registry

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/careerhub/internal/logger"
	"github.com/spigell/careerhub/internal/metrics"
)

const DefaultOutboxSize = 64

var (
	// ErrDelivery means a message could not be handed to a subscriber.
	ErrDelivery = errors.New("delivery failed")
	// ErrNotFound means the subscription is not (or no longer) registered.
	ErrNotFound = errors.New("subscription not found")
)

// Registry tracks live subscriptions and delivers messages to them.
//
// Every subscription has a bounded outbox drained by its own goroutine, so a
// slow or dead transport never delays delivery to the others. A subscription
// whose outbox overflows or whose transport fails is retired.
type Registry struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	outboxSize int
	logger     *zap.Logger
	wg         sync.WaitGroup
}

func New(outboxSize int, log *zap.Logger) *Registry {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	return &Registry{
		subs:       make(map[string]*Subscription),
		outboxSize: outboxSize,
		logger:     logger.Component(log, "registry"),
	}
}

// Register adds conn as a new subscription. identity may be empty.
func (r *Registry) Register(conn Conn, identity string) *Subscription {
	sub := newSubscription(uuid.NewString(), conn, identity, r.outboxSize)

	r.mu.Lock()
	r.subs[sub.ID] = sub
	count := len(r.subs)
	r.mu.Unlock()

	metrics.Subscribers.Inc()

	r.wg.Add(1)
	go r.pump(sub)

	r.logger.Debug("subscription registered",
		zap.String(logger.FieldSubscription, sub.ID),
		zap.Int("subscribers", count),
	)
	return sub
}

// Unregister removes the subscription and abandons its pending messages.
// It reports whether the subscription was still registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	count := len(r.subs)
	r.mu.Unlock()

	if !ok {
		return false
	}

	sub.close()
	metrics.Subscribers.Dec()

	r.logger.Debug("subscription unregistered",
		zap.String(logger.FieldSubscription, id),
		zap.Int("subscribers", count),
	)
	return true
}

// Bind associates a subscription with an identity.
func (r *Registry) Bind(id, identity string) error {
	sub, ok := r.get(id)
	if !ok {
		return ErrNotFound
	}
	sub.bind(identity)
	return nil
}

// Broadcast queues msg for every subscription registered at the time of the
// call and returns how many accepted it. Failures are logged and the failing
// subscriptions retired; they never stop delivery to the rest.
func (r *Registry) Broadcast(msg Message) int {
	return r.deliver(r.snapshot(nil), msg)
}

// SendTo queues msg for a single subscription.
func (r *Registry) SendTo(id string, msg Message) error {
	sub, ok := r.get(id)
	if !ok {
		return ErrNotFound
	}
	if err := sub.enqueue(msg); err != nil {
		r.fail(sub, "outbox", err)
		return err
	}
	return nil
}

// SendToIdentity queues msg for every subscription bound to identity.
func (r *Registry) SendToIdentity(identity string, msg Message) int {
	if identity == "" {
		return 0
	}
	return r.deliver(r.snapshot(func(s *Subscription) bool {
		return s.Identity() == identity
	}), msg)
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close retires every subscription and waits for the delivery goroutines.
func (r *Registry) Close() {
	for _, sub := range r.snapshot(nil) {
		r.Unregister(sub.ID)
	}
	r.wg.Wait()
}

func (r *Registry) get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	return sub, ok
}

// snapshot copies the matching subscriptions so delivery runs without the
// lock and concurrent register/unregister calls stay well defined.
func (r *Registry) snapshot(match func(*Subscription) bool) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if match == nil || match(sub) {
			out = append(out, sub)
		}
	}
	return out
}

func (r *Registry) deliver(subs []*Subscription, msg Message) int {
	delivered := 0
	for _, sub := range subs {
		if err := sub.enqueue(msg); err != nil {
			r.fail(sub, "outbox", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) fail(sub *Subscription, reason string, err error) {
	metrics.DeliveryFailures.WithLabelValues(reason).Inc()
	r.logger.Warn("retiring subscription",
		zap.String(logger.FieldSubscription, sub.ID),
		zap.String("reason", reason),
		zap.Error(err),
	)
	go r.Unregister(sub.ID)
}

func (r *Registry) pump(sub *Subscription) {
	defer r.wg.Done()
	defer close(sub.done)
	defer func() {
		if err := sub.conn.Close(); err != nil {
			r.logger.Debug("closing subscriber transport",
				zap.String(logger.FieldSubscription, sub.ID),
				zap.Error(err),
			)
		}
	}()

	for {
		select {
		case <-sub.quit:
			return
		case msg := <-sub.outbox:
			if err := sub.conn.Send(msg); err != nil {
				r.fail(sub, "transport", err)
				return
			}
			metrics.MessagesDelivered.WithLabelValues(msg.Type).Inc()
		}
	}
}
