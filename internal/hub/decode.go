package hub

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/careerhub/internal/stats"
)

type envelope struct {
	Type     string         `json:"type"`
	Identity string         `json:"identity"`
	User     string         `json:"user"`
	Payload  map[string]any `json:"payload"`
}

// Clients send either "identity" or the older "user" key.
type identityPayload struct {
	Identity string `mapstructure:"identity"`
	User     string `mapstructure:"user"`
}

type activityPayload struct {
	Identity string `mapstructure:"identity"`
	User     string `mapstructure:"user"`
	Action   string `mapstructure:"action"`
	Icon     string `mapstructure:"icon"`
	IconName string `mapstructure:"iconName"`
	Color    string `mapstructure:"color"`
}

type incrementPayload struct {
	Identity string   `mapstructure:"identity"`
	User     string   `mapstructure:"user"`
	Metric   string   `mapstructure:"metric"`
	Key      string   `mapstructure:"key"`
	Amount   *float64 `mapstructure:"amount"`
}

// DecodeEvent parses a client frame into an event attributed to origin. On
// failure the returned event still carries the type, when one was readable,
// so the error can be reported against it.
func DecodeEvent(data []byte, origin string) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: malformed json: %v", ErrValidation, err)
	}

	t := EventType(strings.ToLower(strings.TrimSpace(env.Type)))
	topLevel := firstNonEmpty(env.Identity, env.User)

	var ev Event
	switch t {
	case EventJoin:
		ev = Join(origin, topLevel)
		if ev.Identity == "" && env.Payload != nil {
			var p identityPayload
			if err := decodePayload(env.Payload, &p); err != nil {
				return Event{Type: t}, err
			}
			ev.Identity = firstNonEmpty(p.Identity, p.User)
		}
	case EventSync:
		ev = Sync(origin)
	case EventActivity:
		var p activityPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return Event{Type: t}, err
		}
		icon := strings.TrimSpace(p.Icon)
		if icon == "" {
			icon = strings.TrimSpace(p.IconName)
		}
		ev = Activity(firstNonEmpty(p.Identity, p.User, topLevel), strings.TrimSpace(p.Action), icon, strings.TrimSpace(p.Color)).From(origin)
	case EventIncrement:
		var p incrementPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return Event{Type: t}, err
		}
		amount := 1
		if p.Amount != nil {
			n, err := wholeAmount(*p.Amount)
			if err != nil {
				return Event{Type: t}, err
			}
			amount = n
		}
		metric, err := stats.ParseMetric(firstNonEmpty(p.Metric, p.Key))
		if err != nil {
			return Event{Type: t}, err
		}
		ev = Increment(firstNonEmpty(p.Identity, p.User, topLevel), metric, amount).From(origin)
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrValidation, env.Type)
	}

	if err := ev.Validate(); err != nil {
		return Event{Type: t}, err
	}
	return ev, nil
}

func decodePayload(payload map[string]any, target any) error {
	if payload == nil {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// wholeAmount converts a JSON number to an increment. Fractions and values
// beyond MaxAmount are rejected instead of being truncated.
func wholeAmount(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Trunc(f) != f {
		return 0, fmt.Errorf("%w: amount must be a whole number", ErrValidation)
	}
	if math.Abs(f) > MaxAmount {
		return 0, fmt.Errorf("%w: amount %g is out of range", ErrValidation, f)
	}
	return int(f), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
