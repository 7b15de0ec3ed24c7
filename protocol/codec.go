package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// maxExactID is the largest integer a float64 id can carry exactly.
const maxExactID = 1 << 53

var emptyObject = json.RawMessage("{}")

// Codec encodes outbound commands and decodes inbound frames.
// A Codec is safe for concurrent use.
type Codec struct {
	catalog *Catalog
}

// NewCodec returns a codec. When catalog is non-nil, named-parameter maps
// sent to catalogued commands are validated and ordered by it.
func NewCodec(catalog *Catalog) *Codec {
	return &Codec{catalog: catalog}
}

// Catalog returns the codec's catalog, which may be nil.
func (c *Codec) Catalog() *Catalog {
	if c == nil {
		return nil
	}
	return c.catalog
}

// Encode builds the wire frame for one command. sessionID is empty for
// the root session. params may be nil, a map[string]any, an ordered
// Params list, a json.RawMessage, or any value that marshals to a JSON
// object; struct params express optional fields as pointers with
// omitempty so unset fields never reach the wire.
func (c *Codec) Encode(sessionID string, id int64, domain, method string, params any) ([]byte, error) {
	full := JoinMethod(domain, method)

	if named, ok := params.(map[string]any); ok && c.Catalog() != nil {
		if spec, found := c.catalog.Lookup(full); found {
			bound, err := spec.Bind(named)
			if err != nil {
				return nil, err
			}
			params = bound
		}
	}

	raw, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", full, err)
	}

	return json.Marshal(Request{
		ID:        id,
		Method:    full,
		Params:    raw,
		SessionID: sessionID,
	})
}

func encodeParams(params any) (json.RawMessage, error) {
	var raw []byte
	switch p := params.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return emptyObject, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("params must encode to a JSON object, got %.16s", trimmed)
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("params are not valid JSON")
	}
	return json.RawMessage(trimmed), nil
}

// wireMessage is the union of every inbound field we look at.
type wireMessage struct {
	ID        *float64        `json:"id"`
	Method    *string         `json:"method"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result"`
	Error     *wireError      `json:"error"`
	SessionID string          `json:"sessionId"`
}

type wireError struct {
	Code    float64         `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Decode parses one inbound frame. Failures wrap ErrMalformedMessage.
func (c *Codec) Decode(frame []byte) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(frame, &w); err != nil {
		return nil, malformed("%v", err)
	}

	switch {
	case w.ID != nil:
		id := *w.ID
		if id < 0 || id > maxExactID || id != math.Trunc(id) {
			return nil, malformed("id %v is not a non-negative integer", id)
		}
		msg := &Message{
			Kind:      KindResponse,
			ID:        int64(id),
			SessionID: w.SessionID,
		}
		if w.Error != nil {
			msg.Error = &ProtocolError{
				Code:    int(w.Error.Code),
				Message: w.Error.Message,
				Data:    w.Error.Data,
			}
			return msg, nil
		}
		msg.Result = nonEmpty(w.Result)
		return msg, nil

	case w.Method != nil && *w.Method != "":
		return &Message{
			Kind:      KindEvent,
			SessionID: w.SessionID,
			Method:    *w.Method,
			Params:    nonEmpty(w.Params),
		}, nil

	default:
		return nil, malformed("frame has neither id nor method")
	}
}

func nonEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return emptyObject
	}
	return raw
}
