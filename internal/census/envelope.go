package census

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ServiceEvent is the only push-service name the decoder accepts.
const ServiceEvent = "event"

// MessageType enumerates the envelope types of the "event" service.
type MessageType int

const (
	TypeHeartbeat MessageType = iota + 1
	TypeServiceStateChanged
	TypeServiceMessage
)

func (t MessageType) String() string {
	switch t {
	case TypeHeartbeat:
		return "heartbeat"
	case TypeServiceStateChanged:
		return "serviceStateChanged"
	case TypeServiceMessage:
		return "serviceMessage"
	default:
		return "unknown"
	}
}

func parseMessageType(s string) (MessageType, bool) {
	switch s {
	case "heartbeat":
		return TypeHeartbeat, true
	case "serviceStateChanged":
		return TypeServiceStateChanged, true
	case "serviceMessage":
		return TypeServiceMessage, true
	default:
		return 0, false
	}
}

// Payload is the event-specific body of a serviceMessage, kept verbatim.
// Field presence depends on the event name; treat every field as optional.
type Payload map[string]any

// String returns the field as a string. Census encodes ids and numbers as
// JSON strings, but numeric encodings are accepted too.
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// Int64 parses the field as an integer, returning 0 when absent or malformed.
func (p Payload) Int64(key string) int64 {
	n, err := strconv.ParseInt(p.String(key), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// EventName is the payload's event_name field.
func (p Payload) EventName() string { return p.String("event_name") }

// Envelope is a decoded top-level push-service message.
type Envelope struct {
	Service string
	Type    MessageType
	// Payload is set for serviceMessage envelopes only.
	Payload Payload
	// Online carries heartbeat endpoint states ("EventServerEndpoint_Connery_1": "true").
	Online map[string]string
}

type rawEnvelope struct {
	Service *string         `json:"service"`
	Type    *string         `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Online  map[string]any  `json:"online"`
}

// Decode turns a raw frame into an Envelope. The boolean is false when the
// frame is not JSON, is not from the event service, carries an unknown type,
// or is a serviceMessage without an object payload. Such frames are expected
// noise on the shared stream and are not errors.
func Decode(frame []byte) (Envelope, bool) {
	var raw rawEnvelope
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Envelope{}, false
	}
	if raw.Service == nil || *raw.Service != ServiceEvent {
		return Envelope{}, false
	}
	if raw.Type == nil {
		return Envelope{}, false
	}
	typ, ok := parseMessageType(*raw.Type)
	if !ok {
		return Envelope{}, false
	}

	env := Envelope{Service: *raw.Service, Type: typ}
	switch typ {
	case TypeServiceMessage:
		p, ok := decodePayload(raw.Payload)
		if !ok {
			return Envelope{}, false
		}
		env.Payload = p
	case TypeHeartbeat:
		if len(raw.Online) > 0 {
			env.Online = make(map[string]string, len(raw.Online))
			for k, v := range raw.Online {
				env.Online[k] = Payload{k: v}.String(k)
			}
		}
	}
	return env, true
}

func decodePayload(b json.RawMessage) (Payload, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil || p == nil {
		return nil, false
	}
	return p, true
}
