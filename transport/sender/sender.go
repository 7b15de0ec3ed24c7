// Package sender is the single write path of a connection.
package sender

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/risa-org/cdp/logging"
	"github.com/risa-org/cdp/metrics"
	"github.com/risa-org/cdp/transport"
)

// Sender serializes frames onto a transport Adapter so concurrent callers
// never interleave partial writes, and optionally throttles them.
//
// Callers hand it a fully encoded frame:
//
//	frame, _ := codec.Encode(session, id, "Page", "navigate", params)
//	err := sender.Send(ctx, frame)
type Sender struct {
	adapter transport.Adapter
	limiter *rate.Limiter
	metrics *metrics.Engine
	log     logging.Logger
	mu      sync.Mutex
}

// Option configures a Sender.
type Option func(*Sender)

// WithRate limits sends to perSecond frames with the given burst.
// A non-positive rate leaves sends unthrottled.
func WithRate(perSecond float64, burst int) Option {
	return func(s *Sender) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMetrics counts frames on m.
func WithMetrics(m *metrics.Engine) Option {
	return func(s *Sender) { s.metrics = m }
}

// WithLogger sets the logger for write failures.
func WithLogger(l logging.Logger) Option {
	return func(s *Sender) { s.log = logging.OrNop(l) }
}

// New creates a Sender over adapter.
func New(adapter transport.Adapter, opts ...Option) *Sender {
	s := &Sender{adapter: adapter, log: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send waits for the rate limiter, if any, then writes frame. Frames are
// written in the order callers acquire the write lock.
func (s *Sender) Send(ctx context.Context, frame []byte) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.adapter.Send(ctx, frame); err != nil {
		s.log.Warn("frame write failed", "bytes", len(frame), "err", err)
		return err
	}
	s.metrics.FrameSent()
	return nil
}

func (s *Sender) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if s.limiter.Allow() {
		return nil
	}
	s.metrics.FrameThrottled()
	return s.limiter.Wait(ctx)
}

// Adapter returns the underlying transport adapter.
// Useful for accessing Receive() and Disconnected() channels.
func (s *Sender) Adapter() transport.Adapter {
	return s.adapter
}
