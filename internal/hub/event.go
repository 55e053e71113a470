package hub

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/careerhub/internal/stats"
)

// ErrValidation marks a malformed event. It never changes state.
var ErrValidation = errors.New("invalid event")

// MaxAmount bounds the magnitude of a single increment.
const MaxAmount = 1_000_000

// EventType names an operation accepted by the hub.
type EventType string

const (
	EventJoin      EventType = "join"
	EventActivity  EventType = "activity"
	EventIncrement EventType = "increment"
	// EventSync asks for the current global record.
	EventSync EventType = "sync"
)

// Message types pushed to subscribers.
const (
	MessageUserStats = "user_stats"
	MessageActivity  = "activity"
	MessageDashboard = "dashboard_update"
	MessageError     = "error"
)

// Event is a request to change or read hub state.
type Event struct {
	Type EventType
	// Origin is the subscription that produced the event. It is empty for
	// server-side producers such as HTTP handlers.
	Origin   string
	Identity string

	Action string
	Icon   string
	Color  string

	Metric stats.Metric
	Amount int

	// seed is the durable record of Identity, loaded by Submit when the
	// identity had no stats in memory yet.
	seed *stats.Record
}

func Join(origin, identity string) Event {
	return Event{Type: EventJoin, Origin: origin, Identity: identity}
}

func Sync(origin string) Event {
	return Event{Type: EventSync, Origin: origin}
}

func Activity(identity, action, icon, color string) Event {
	return Event{Type: EventActivity, Identity: identity, Action: action, Icon: icon, Color: color}
}

func Increment(identity string, metric stats.Metric, amount int) Event {
	return Event{Type: EventIncrement, Identity: identity, Metric: metric, Amount: amount}
}

// From returns a copy of e attributed to the given subscription.
func (e Event) From(origin string) Event {
	e.Origin = origin
	return e
}

// Validate checks the fields each event type requires.
func (e Event) Validate() error {
	switch e.Type {
	case EventJoin:
		if strings.TrimSpace(e.Identity) == "" {
			return fmt.Errorf("%w: join requires an identity", ErrValidation)
		}
		if e.Origin == "" {
			return fmt.Errorf("%w: join requires a subscription", ErrValidation)
		}
	case EventSync:
		if e.Origin == "" {
			return fmt.Errorf("%w: sync requires a subscription", ErrValidation)
		}
	case EventActivity:
		if strings.TrimSpace(e.Action) == "" {
			return fmt.Errorf("%w: activity requires an action", ErrValidation)
		}
	case EventIncrement:
		if err := e.Metric.Validate(); err != nil {
			return err
		}
		if e.Amount > MaxAmount || e.Amount < -MaxAmount {
			return fmt.Errorf("%w: amount %d is out of range", ErrValidation, e.Amount)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrValidation, string(e.Type))
	}
	return nil
}

// ErrorPayload is the body of an error message sent to the originator.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
