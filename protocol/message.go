// Package protocol converts typed calls into wire frames and wire frames
// back into responses or events.
//
// Request shape:
//
//	{"id": 7, "method": "Input.dispatchMouseEvent", "params": {...}, "sessionId": "..."}
//
// Inbound frames bearing an "id" are always responses; frames without one
// are always events.
package protocol

import (
	"encoding/json"
	"strings"
)

// Kind is the variant of a decoded inbound message.
type Kind int

const (
	KindResponse Kind = iota // carries an id and a result or an error
	KindEvent                // carries a method and params, no id
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Message is one decoded inbound frame. Exactly one of the variant field
// groups is meaningful, selected by Kind.
type Message struct {
	Kind      Kind
	SessionID string // empty for the root (browser) session

	// response fields
	ID     int64
	Result json.RawMessage
	Error  *ProtocolError

	// event fields
	Method string // "Domain.eventName"
	Params json.RawMessage
}

// Domain returns the domain part of an event's method.
func (m *Message) Domain() string {
	domain, _, _ := SplitMethod(m.Method)
	return domain
}

// EventName returns the name part of an event's method.
func (m *Message) EventName() string {
	_, name, _ := SplitMethod(m.Method)
	return name
}

// ParamsMap decodes the event params into a generic map. Numbers come
// back as float64.
func (m *Message) ParamsMap() (map[string]any, error) {
	return DecodeMap(m.Params)
}

// ResultMap decodes the response result into a generic map.
func (m *Message) ResultMap() (map[string]any, error) {
	return DecodeMap(m.Result)
}

// Request is the outbound wire shape of a command.
type Request struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	SessionID string          `json:"sessionId,omitempty"`
}

// JoinMethod builds the wire method name "Domain.method".
func JoinMethod(domain, method string) string {
	return domain + "." + method
}

// SplitMethod splits "Domain.method" at the first dot.
func SplitMethod(full string) (domain, method string, ok bool) {
	domain, method, ok = strings.Cut(full, ".")
	if !ok || domain == "" || method == "" {
		return full, "", false
	}
	return domain, method, true
}

// DecodeMap decodes a JSON object into a map with float64 numbers.
// nil or empty input yields an empty map.
func DecodeMap(raw json.RawMessage) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
