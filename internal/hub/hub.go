package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/careerhub/internal/activity"
	"github.com/spigell/careerhub/internal/logger"
	"github.com/spigell/careerhub/internal/metrics"
	"github.com/spigell/careerhub/internal/registry"
	"github.com/spigell/careerhub/internal/stats"
)

const (
	DefaultQueueSize = 256
	loadTimeout      = 2 * time.Second
)

// ErrStopped is returned by Submit once the hub loop has exited.
var ErrStopped = errors.New("hub stopped")

// Publisher delivers messages to subscribers. *registry.Registry satisfies it.
type Publisher interface {
	Broadcast(msg registry.Message) int
	SendTo(id string, msg registry.Message) error
	SendToIdentity(identity string, msg registry.Message) int
	Bind(id, identity string) error
}

// Persister receives durable write-through requests. Calls must not block.
type Persister interface {
	AppendActivity(identity string, entry activity.Entry)
	IncrementCounter(identity string, metric stats.Metric, amount int)
}

// Loader reads the durable stats of an identity. found is false when nothing
// was stored for it.
type Loader interface {
	Load(ctx context.Context, identity string) (rec stats.Record, found bool, err error)
}

type nopPersister struct{}

func (nopPersister) AppendActivity(string, activity.Entry) {}

func (nopPersister) IncrementCounter(string, stats.Metric, int) {}

// Hub is the single point where events are ordered. One goroutine (Run)
// applies each event to the stats store and publishes the result before
// taking the next one, so every subscriber sees effects in the same order.
type Hub struct {
	store   *stats.Store
	pub     Publisher
	persist Persister
	loader  Loader
	logger  *zap.Logger
	now     func() time.Time

	events chan Event
	done   chan struct{}
	once   sync.Once

	// seq is only touched by the loop goroutine.
	seq uint64
}

// New creates a hub. persist may be nil when nothing is stored durably.
func New(store *stats.Store, pub Publisher, persist Persister, queueSize int, log *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if persist == nil {
		persist = nopPersister{}
	}
	return &Hub{
		store:   store,
		pub:     pub,
		persist: persist,
		logger:  logger.Component(log, "hub"),
		now:     time.Now,
		events:  make(chan Event, queueSize),
		done:    make(chan struct{}),
	}
}

// SetLoader makes the hub restore an identity's stats from l the first time
// the identity is seen. It must be called before the first Submit.
func (h *Hub) SetLoader(l Loader) {
	h.loader = l
}

// Run processes events until ctx is cancelled. It must be called once.
func (h *Hub) Run(ctx context.Context) error {
	defer h.once.Do(func() { close(h.done) })

	h.logger.Info("hub started", zap.Int("queue_size", cap(h.events)))
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub stopped", zap.Int("pending_events", len(h.events)))
			return nil
		case ev := <-h.events:
			metrics.QueueDepth.Set(float64(len(h.events)))
			h.process(ev)
		}
	}
}

// Submit validates ev and queues it. It waits only for queue space, never for
// the event to be applied or delivered.
func (h *Hub) Submit(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		h.reject(ev, err)
		return err
	}
	if ev.Identity != "" {
		ev.Identity = stats.CanonicalIdentity(ev.Identity)
		ev.seed = h.load(ctx, ev.Identity)
	}

	select {
	case h.events <- ev:
		metrics.QueueDepth.Set(float64(len(h.events)))
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load fetches the durable record of an identity the store has not seen.
// Storage errors only cost the history, so they are logged and ignored.
func (h *Hub) load(ctx context.Context, identity string) *stats.Record {
	if h.loader == nil || identity == stats.AnonymousIdentity || h.store.Known(identity) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	rec, found, err := h.loader.Load(ctx, identity)
	if err != nil {
		h.logger.Debug("loading stored stats failed", zap.String(logger.FieldIdentity, identity), zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	return &rec
}

// Snapshot returns the global record for an empty identity, otherwise the
// identity's record.
func (h *Hub) Snapshot(identity string) stats.Record {
	return h.store.Snapshot(identity)
}

// Identities returns how many identities have stats in memory.
func (h *Hub) Identities() int {
	return h.store.Identities()
}

// Pending returns the number of queued events.
func (h *Hub) Pending() int {
	return len(h.events)
}

func (h *Hub) process(ev Event) {
	timer := metrics.NewTimer()
	log := logger.WithFields(h.logger, logger.EventFields(string(ev.Type), ev.Identity, ev.Origin)...)

	defer func() {
		if r := recover(); r != nil {
			log.Error("event processing aborted", zap.Any("panic", r), zap.Stack("stack"))
			metrics.EventsRejected.WithLabelValues(string(ev.Type), "panic").Inc()
			h.notifyError(ev, errors.New("internal error"))
		}
	}()

	if ev.seed != nil && h.store.Seed(ev.Identity, *ev.seed) {
		log.Debug("stats restored from storage")
	}

	var err error
	switch ev.Type {
	case EventJoin:
		err = h.join(ev)
	case EventSync:
		err = h.sendTo(ev.Origin, registry.Message{Type: MessageDashboard, Payload: h.store.Global()})
	case EventActivity:
		h.activity(ev)
	case EventIncrement:
		err = h.increment(ev)
	default:
		err = fmt.Errorf("%w: unknown type %q", ErrValidation, string(ev.Type))
	}

	if err != nil {
		log.Warn("event rejected", zap.Error(err))
		metrics.EventsRejected.WithLabelValues(string(ev.Type), reason(err)).Inc()
		h.notifyError(ev, err)
		return
	}

	metrics.EventsProcessed.WithLabelValues(string(ev.Type)).Inc()
	timer.ObserveDurationVec(metrics.EventDuration, string(ev.Type))
	log.Debug("event applied", zap.Uint64("seq", h.seq))
}

func (h *Hub) join(ev Event) error {
	if err := h.pub.Bind(ev.Origin, ev.Identity); err != nil {
		return err
	}
	return h.sendTo(ev.Origin, registry.Message{Type: MessageUserStats, Payload: h.store.Snapshot(ev.Identity)})
}

func (h *Hub) activity(ev Event) {
	h.seq++
	entry := activity.NewEntry(h.seq, h.now(), ev.Action, ev.Icon, ev.Color, ev.Identity)

	h.store.RecordActivity(ev.Identity, entry)

	h.pub.Broadcast(registry.Message{Type: MessageActivity, Payload: entry})
	h.pub.Broadcast(registry.Message{Type: MessageDashboard, Payload: h.store.Global()})

	if ev.Identity != "" {
		h.persist.AppendActivity(ev.Identity, entry)
	}
}

func (h *Hub) increment(ev Event) error {
	change, err := h.store.Increment(ev.Identity, ev.Metric, ev.Amount)
	if err != nil {
		return err
	}

	userStats := registry.Message{Type: MessageUserStats, Payload: h.store.Snapshot(change.Identity)}
	if ev.Origin != "" {
		if err := h.sendTo(ev.Origin, userStats); err != nil {
			h.logger.Debug("originator gone before user stats were sent", zap.Error(err))
		}
	} else {
		h.pub.SendToIdentity(change.Identity, userStats)
	}

	h.pub.Broadcast(registry.Message{Type: MessageDashboard, Payload: h.store.Global()})

	if ev.Identity != "" {
		h.persist.IncrementCounter(ev.Identity, ev.Metric, ev.Amount)
	}
	return nil
}

func (h *Hub) sendTo(id string, msg registry.Message) error {
	if err := h.pub.SendTo(id, msg); err != nil {
		return fmt.Errorf("sending %s: %w", msg.Type, err)
	}
	return nil
}

func (h *Hub) reject(ev Event, err error) {
	metrics.EventsRejected.WithLabelValues(string(ev.Type), reason(err)).Inc()
	h.logger.Debug("event rejected at submit",
		append(logger.EventFields(string(ev.Type), ev.Identity, ev.Origin), zap.Error(err))...,
	)
}

func (h *Hub) notifyError(ev Event, err error) {
	if ev.Origin == "" || errors.Is(err, registry.ErrNotFound) {
		return
	}
	_ = h.pub.SendTo(ev.Origin, ErrorMessage(ev.Type, err))
}

// ErrorMessage builds the message that tells a client its event failed.
func ErrorMessage(t EventType, err error) registry.Message {
	return registry.Message{
		Type:    MessageError,
		Payload: ErrorPayload{Event: string(t), Message: err.Error()},
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, stats.ErrUnknownMetric):
		return "unknown_metric"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrDelivery):
		return "delivery"
	default:
		return "internal"
	}
}
