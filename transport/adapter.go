// Package transport defines the duplex text-frame channel the dispatch
// engine runs over. Concrete adapters live in subpackages.
package transport

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned when you try to send on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// ErrFrameTooLarge is reported when an inbound frame exceeds the
// configured maximum size.
var ErrFrameTooLarge = errors.New("transport: frame too large")

// DisconnectReason tells the connection why a transport closed.
type DisconnectReason int

const (
	ReasonUnknown      DisconnectReason = iota // catch-all, should be rare
	ReasonNetworkError                         // underlying connection failed
	ReasonTimeout                              // no activity within deadline
	ReasonClosedClean                          // graceful shutdown by either side
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNetworkError:
		return "network error"
	case ReasonTimeout:
		return "timeout"
	case ReasonClosedClean:
		return "closed"
	default:
		return "unknown"
	}
}

// DisconnectEvent is sent on the channel returned by Disconnected().
type DisconnectEvent struct {
	Reason DisconnectReason
	Err    error // nil on clean close
}

// Adapter is the contract every transport must satisfy. Each frame is one
// complete JSON text message; adapters do not look inside it.
type Adapter interface {
	// Send writes one frame. Returns ErrTransportClosed if the transport
	// is no longer active. Callers serialize writes; see transport/sender.
	Send(ctx context.Context, frame []byte) error

	// Receive returns a channel of inbound frames in arrival order.
	// The channel is closed when the transport closes.
	Receive() <-chan []byte

	// Disconnected emits exactly one DisconnectEvent when the transport
	// closes, for any reason.
	Disconnected() <-chan DisconnectEvent

	// Close shuts down the transport. Safe to call multiple times.
	Close() error
}

// Defaults shared by the concrete adapters.
const (
	DefaultMaxFrameSize int64 = 64 << 20
	DefaultBuffer             = 64
)

// Options tunes a concrete adapter.
type Options struct {
	MaxFrameSize int64 // inbound limit in bytes
	Buffer       int   // capacity of the Receive channel
}

// Option sets a field of Options.
type Option func(*Options)

// WithMaxFrameSize bounds the size of one inbound frame.
func WithMaxFrameSize(n int64) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxFrameSize = n
		}
	}
}

// WithBuffer sets how many inbound frames may queue before the reader
// blocks.
func WithBuffer(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.Buffer = n
		}
	}
}

// Apply resolves opts over the defaults.
func Apply(opts []Option) Options {
	o := Options{MaxFrameSize: DefaultMaxFrameSize, Buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Notify sends ev on ch unless an event is already queued. ch must have
// capacity one.
func Notify(ch chan DisconnectEvent, ev DisconnectEvent) {
	select {
	case ch <- ev:
	default:
	}
}
