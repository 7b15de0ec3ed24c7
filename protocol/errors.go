package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error taxonomy of the dispatch engine. Callers test with errors.Is;
// every error the engine returns wraps exactly one of these.
var (
	// ErrMalformedMessage marks an inbound frame that is not a JSON object
	// or carries neither an id nor a method. Such frames are logged and
	// dropped; the connection stays open.
	ErrMalformedMessage = errors.New("cdp: malformed message")

	// ErrProtocol is matched by every *ProtocolError.
	ErrProtocol = errors.New("cdp: protocol error")

	// ErrTimeout is returned when a call's local deadline elapses.
	ErrTimeout = errors.New("cdp: call timed out")

	// ErrSessionClosed is returned for operations on a detached session.
	ErrSessionClosed = errors.New("cdp: session closed")

	// ErrConnectionLost is returned to every call still pending when the
	// transport fails or is closed.
	ErrConnectionLost = errors.New("cdp: connection lost")

	// ErrMissingParam is returned when a required parameter is unset.
	ErrMissingParam = errors.New("cdp: missing required parameter")

	// ErrUnknownParam is returned when a named parameter is not declared
	// by the catalogued command.
	ErrUnknownParam = errors.New("cdp: unknown parameter")
)

// ProtocolError is the remote side's error payload for one call.
type ProtocolError struct {
	Method  string
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *ProtocolError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("cdp: %s (code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("cdp: %s: %s (code %d)", e.Method, e.Message, e.Code)
}

// Is reports whether target is ErrProtocol.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// malformed wraps a decode failure so it matches ErrMalformedMessage.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}
