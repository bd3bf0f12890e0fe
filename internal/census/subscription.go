package census

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Event names used in subscriptions and payloads.
const (
	EventDeath           = "Death"
	EventMetagame        = "MetagameEvent"
	EventFacilityControl = "FacilityControl"
	EventVehicleDestroy  = "VehicleDestroy"
)

// AllWorlds subscribes to every world.
const AllWorlds = "all"

var ErrBadSubscribeFrame = errors.New("census: bad subscribe frame")

// Subscription is the set of topics requested from the push service. It has
// two independent axes: world-scoped events and character-scoped events.
//
// A Subscription is normalized (sorted, de-duplicated, blanks dropped) by
// NewSubscription and must be treated as immutable once handed to a connection.
type Subscription struct {
	Worlds          []string
	WorldEvents     []string
	Characters      []string
	CharacterEvents []string
}

// NewSubscription builds a normalized Subscription.
func NewSubscription(worlds, worldEvents, characters, characterEvents []string) Subscription {
	return Subscription{
		Worlds:          normalizeIDs(worlds),
		WorldEvents:     normalizeIDs(worldEvents),
		Characters:      normalizeIDs(characters),
		CharacterEvents: normalizeIDs(characterEvents),
	}
}

// HasWorldAxis reports whether the world-scoped request is non-empty.
func (s Subscription) HasWorldAxis() bool { return len(s.Worlds) > 0 && len(s.WorldEvents) > 0 }

// HasCharacterAxis reports whether the character-scoped request is non-empty.
func (s Subscription) HasCharacterAxis() bool {
	return len(s.Characters) > 0 && len(s.CharacterEvents) > 0
}

// Empty reports whether nothing would be subscribed.
func (s Subscription) Empty() bool { return !s.HasWorldAxis() && !s.HasCharacterAxis() }

// Equal compares two normalized subscriptions.
func (s Subscription) Equal(o Subscription) bool {
	return slices.Equal(s.Worlds, o.Worlds) &&
		slices.Equal(s.WorldEvents, o.WorldEvents) &&
		slices.Equal(s.Characters, o.Characters) &&
		slices.Equal(s.CharacterEvents, o.CharacterEvents)
}

func (s Subscription) String() string {
	return fmt.Sprintf("worlds=%v/%v characters=%d/%v",
		s.Worlds, s.WorldEvents, len(s.Characters), s.CharacterEvents)
}

type subscribeRequest struct {
	Service    string   `json:"service"`
	Action     string   `json:"action"`
	Worlds     []string `json:"worlds,omitempty"`
	Characters []string `json:"characters,omitempty"`
	EventNames []string `json:"eventNames"`
	All        string   `json:"all,omitempty"`
}

// EncodeSubscribe returns one subscribe frame per non-empty axis, world axis first.
func EncodeSubscribe(s Subscription) ([][]byte, error) {
	var out [][]byte
	if s.HasWorldAxis() {
		b, err := json.Marshal(subscribeRequest{
			Service:    ServiceEvent,
			Action:     "subscribe",
			Worlds:     s.Worlds,
			EventNames: s.WorldEvents,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if s.HasCharacterAxis() {
		b, err := json.Marshal(subscribeRequest{
			Service:    ServiceEvent,
			Action:     "subscribe",
			Characters: s.Characters,
			EventNames: s.CharacterEvents,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ClearSubscribe returns the frame that drops every subscription held by the socket.
func ClearSubscribe() []byte {
	b, _ := json.Marshal(struct {
		Service string `json:"service"`
		Action  string `json:"action"`
		All     string `json:"all"`
	}{Service: ServiceEvent, Action: "clearSubscribe", All: "true"})
	return b
}

// DecodeSubscribe rebuilds a Subscription from subscribe request frames.
// It also accepts the server echo form {"subscription":{...}}, where each
// echoed axis receives the echoed event names.
func DecodeSubscribe(frames [][]byte) (Subscription, error) {
	var worlds, worldEvents, chars, charEvents []string
	for _, f := range frames {
		var echo struct {
			Subscription *struct {
				Worlds     []string `json:"worlds"`
				Characters []string `json:"characters"`
				EventNames []string `json:"eventNames"`
			} `json:"subscription"`
		}
		if err := json.Unmarshal(f, &echo); err == nil && echo.Subscription != nil {
			if len(echo.Subscription.Worlds) > 0 {
				worlds = append(worlds, echo.Subscription.Worlds...)
				worldEvents = append(worldEvents, echo.Subscription.EventNames...)
			}
			if len(echo.Subscription.Characters) > 0 {
				chars = append(chars, echo.Subscription.Characters...)
				charEvents = append(charEvents, echo.Subscription.EventNames...)
			}
			continue
		}

		var req subscribeRequest
		if err := json.Unmarshal(f, &req); err != nil {
			return Subscription{}, fmt.Errorf("%w: %v", ErrBadSubscribeFrame, err)
		}
		if req.Service != ServiceEvent || req.Action != "subscribe" {
			return Subscription{}, fmt.Errorf("%w: service=%q action=%q", ErrBadSubscribeFrame, req.Service, req.Action)
		}
		switch {
		case len(req.Worlds) > 0 && len(req.Characters) == 0:
			worlds = append(worlds, req.Worlds...)
			worldEvents = append(worldEvents, req.EventNames...)
		case len(req.Characters) > 0 && len(req.Worlds) == 0:
			chars = append(chars, req.Characters...)
			charEvents = append(charEvents, req.EventNames...)
		default:
			return Subscription{}, fmt.Errorf("%w: expected exactly one of worlds or characters", ErrBadSubscribeFrame)
		}
	}
	return NewSubscription(worlds, worldEvents, chars, charEvents), nil
}

func normalizeIDs(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
