// Package session implements one command/event stream multiplexed over a
// connection: the root browser session or a session attached to a target.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/risa-org/cdp/logging"
	"github.com/risa-org/cdp/metrics"
	"github.com/risa-org/cdp/pending"
	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/router"
)

// TracerName names the tracer used when Deps.Tracer is nil.
const TracerName = "github.com/risa-org/cdp"

// Writer delivers one encoded frame to the remote side.
type Writer interface {
	Send(ctx context.Context, frame []byte) error
}

// Caller is what typed domain facades need.
type Caller interface {
	Invoke(ctx context.Context, domain, method string, params any, opts ...CallOption) (json.RawMessage, error)
}

// Subscriber registers event listeners.
type Subscriber interface {
	Subscribe(domain, event string, h router.Handler) (router.Handle, error)
}

// Deps is the machinery shared by every session of one connection.
type Deps struct {
	IDs     *pending.Sequencer
	Calls   *pending.Table
	Events  *router.Router
	Codec   *protocol.Codec
	Out     Writer
	Log     logging.Logger
	Metrics *metrics.Engine
	Tracer  trace.Tracer

	// DefaultTimeout applies to calls made without WithTimeout.
	// Zero means calls wait until answered or the connection is lost.
	DefaultTimeout time.Duration
}

func (d *Deps) tracer() trace.Tracer {
	if d.Tracer != nil {
		return d.Tracer
	}
	return otel.Tracer(TracerName)
}

// Session is safe for concurrent use.
type Session struct {
	key      string
	targetID string
	deps     *Deps
	log      logging.Logger

	mu         sync.RWMutex
	state      State
	attachedAt time.Time
	reason     error
	onDetach   []func(error)
	done       chan struct{}
}

// New returns a session in StateAttaching for the given remote session key.
func New(key, targetID string, deps *Deps) *Session {
	return &Session{
		key:      key,
		targetID: targetID,
		deps:     deps,
		log:      logging.With(logging.OrNop(deps.Log), "session", key, "target", targetID),
		state:    StateAttaching,
		done:     make(chan struct{}),
	}
}

// NewRoot returns the browser-level session. It has an empty key and is
// attached from the start.
func NewRoot(deps *Deps) *Session {
	s := &Session{
		key:   "",
		deps:  deps,
		log:   logging.With(logging.OrNop(deps.Log), "session", "root"),
		state: StateAttaching,
		done:  make(chan struct{}),
	}
	s.MarkAttached()
	return s
}

// Key returns the remote session key. Empty for the root session.
func (s *Session) Key() string { return s.key }

// TargetID returns the target the session is bound to.
func (s *Session) TargetID() string { return s.targetID }

// IsRoot reports whether s is the browser-level session.
func (s *Session) IsRoot() bool { return s.key == "" }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AttachedAt returns when the session became attached.
func (s *Session) AttachedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attachedAt
}

// Done is closed once the session is detached.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session was detached, or nil while it is live.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// MarkAttached moves an attaching session to StateAttached.
func (s *Session) MarkAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !isValidTransition(s.state, StateAttached) {
		return false
	}
	s.state = StateAttached
	s.attachedAt = time.Now()
	s.deps.Metrics.SessionAttached()
	s.log.Debug("session attached")
	return true
}

// OnDetach registers fn to run once the session is detached. If it
// already is, fn runs immediately.
func (s *Session) OnDetach(fn func(reason error)) {
	s.mu.Lock()
	if s.state != StateDetached {
		s.onDetach = append(s.onDetach, fn)
		s.mu.Unlock()
		return
	}
	reason := s.reason
	s.mu.Unlock()
	fn(reason)
}

// Detach moves the session to StateDetached, fails its pending calls with
// reason and drops its listeners. A nil reason means ErrSessionClosed. It
// reports false if the session was already detached.
//
// Detach only changes local state; sending Target.detachFromTarget is the
// handshake package's job.
func (s *Session) Detach(reason error) bool {
	if reason == nil {
		reason = protocol.ErrSessionClosed
	}

	s.mu.Lock()
	if !isValidTransition(s.state, StateDetached) {
		s.mu.Unlock()
		return false
	}
	wasAttached := s.state == StateAttached
	s.state = StateDetached
	s.reason = reason
	hooks := s.onDetach
	s.onDetach = nil
	close(s.done)
	s.mu.Unlock()

	// Nothing can register under this key any more, so the sweep is final.
	failed := s.deps.Calls.CancelAllForSession(s.key, reason)
	dropped := s.deps.Events.RemoveSession(s.key)
	if wasAttached {
		s.deps.Metrics.SessionDetached()
	}
	s.log.Info("session detached", "reason", reason, "failedCalls", failed, "droppedListeners", dropped)

	for _, fn := range hooks {
		fn(reason)
	}
	return true
}

// closedErr must be called with s.mu held.
func (s *Session) closedErr() error {
	if s.reason == nil || errors.Is(s.reason, protocol.ErrSessionClosed) {
		return fmt.Errorf("%w: %q", protocol.ErrSessionClosed, s.key)
	}
	return fmt.Errorf("%w: %q: %w", protocol.ErrSessionClosed, s.key, s.reason)
}

// live reports why the session cannot carry calls, or nil.
func (s *Session) live() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usable()
}

// usable must be called with s.mu held.
func (s *Session) usable() error {
	switch s.state {
	case StateAttached:
		return nil
	case StateAttaching:
		return fmt.Errorf("%w: %q is still attaching", protocol.ErrSessionClosed, s.key)
	default:
		return s.closedErr()
	}
}

// Invoke sends domain.method with params and waits for its response.
// params may be nil, a named-parameter map, a struct, or raw JSON.
//
// The wait ends at the first of: the response, the session detaching,
// the connection being lost, the call's timeout, or ctx ending. On
// timeout or cancellation the call is forgotten and a late response is
// dropped.
func (s *Session) Invoke(ctx context.Context, domain, method string, params any, opts ...CallOption) (json.RawMessage, error) {
	cfg := callConfig{timeout: s.deps.DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	full := protocol.JoinMethod(domain, method)
	id := s.deps.IDs.Next()

	ctx, span := s.deps.tracer().Start(ctx, full,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cdp.method", full),
			attribute.Int64("cdp.id", id),
			attribute.String("cdp.session", s.key),
		),
	)
	defer span.End()

	res, err := s.invoke(ctx, id, domain, method, params, cfg.timeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Session) invoke(ctx context.Context, id int64, domain, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	full := protocol.JoinMethod(domain, method)
	if err := ctx.Err(); err != nil {
		return nil, waitErr(full, err)
	}
	if err := s.live(); err != nil {
		return nil, err
	}

	frame, err := s.deps.Codec.Encode(s.key, id, domain, method, params)
	if err != nil {
		return nil, err
	}

	call, err := s.register(id, full)
	if err != nil {
		return nil, err
	}

	if err := s.deps.Out.Send(ctx, frame); err != nil {
		s.deps.Calls.Remove(id)
		return nil, fmt.Errorf("cdp: send %s: %w", full, err)
	}
	s.deps.Metrics.CallSent(full)

	res, err := s.await(ctx, call, timeout)
	s.deps.Metrics.CallFinished(full, err, time.Since(call.Started))
	if err != nil {
		s.log.Debug("call failed", "method", full, "id", id, "err", err)
	}
	return res, err
}

// register holds the read lock so that a concurrent Detach either sees
// the new call in its sweep or refuses it here.
func (s *Session) register(id int64, full string) (*pending.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	return s.deps.Calls.Register(id, s.key, full)
}

func (s *Session) await(ctx context.Context, call *pending.Call, timeout time.Duration) (json.RawMessage, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-call.Done():
		return call.Result()
	case <-expired:
		return s.abandon(call, fmt.Errorf("%w: %s after %s: %w", protocol.ErrTimeout, call.Method, timeout, context.DeadlineExceeded))
	case <-ctx.Done():
		return s.abandon(call, waitErr(call.Method, ctx.Err()))
	}
}

// abandon gives up on call. If its response won the race, that result is
// returned instead of err.
func (s *Session) abandon(call *pending.Call, err error) (json.RawMessage, error) {
	if s.deps.Calls.Abandon(call.ID) {
		return nil, err
	}
	<-call.Done()
	return call.Result()
}

func waitErr(method string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", protocol.ErrTimeout, method, err)
	}
	return fmt.Errorf("cdp: %s: %w", method, err)
}

// Send writes domain.method without waiting for a response. The reply,
// if the remote side sends one, is dropped.
func (s *Session) Send(ctx context.Context, domain, method string, params any) error {
	full := protocol.JoinMethod(domain, method)
	if err := s.live(); err != nil {
		return err
	}
	id := s.deps.IDs.Next()

	frame, err := s.deps.Codec.Encode(s.key, id, domain, method, params)
	if err != nil {
		return err
	}

	s.deps.Calls.Ignore(id)
	if err := s.deps.Out.Send(ctx, frame); err != nil {
		s.deps.Calls.Unignore(id)
		return fmt.Errorf("cdp: send %s: %w", full, err)
	}
	return nil
}

// Subscribe registers h for domain.event on this session. Listeners may
// be added while the session is attaching.
func (s *Session) Subscribe(domain, event string, h router.Handler) (router.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateDetached {
		return router.Handle{}, s.closedErr()
	}
	return s.deps.Events.Subscribe(s.key, domain, event, h), nil
}

// SubscribeAll registers h for every event on this session.
func (s *Session) SubscribeAll(h router.Handler) (router.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateDetached {
		return router.Handle{}, s.closedErr()
	}
	return s.deps.Events.SubscribeAll(s.key, h), nil
}

// Unsubscribe removes a registration made through this session.
func (s *Session) Unsubscribe(h router.Handle) bool {
	if h.SessionID() != s.key {
		return false
	}
	return s.deps.Events.Unsubscribe(h)
}
