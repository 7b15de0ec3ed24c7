// Package conn owns one transport and everything multiplexed over it: the
// root session, attached sessions, pending calls and event listeners.
//
// A single read loop per connection decodes frames and routes responses
// to the pending-call table and events to the router. Writes happen on
// the caller's goroutine through the connection's sender.
package conn

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/risa-org/cdp/domain/target"
	"github.com/risa-org/cdp/logging"
	"github.com/risa-org/cdp/metrics"
	"github.com/risa-org/cdp/pending"
	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/router"
	"github.com/risa-org/cdp/session"
	"github.com/risa-org/cdp/store/memory"
	"github.com/risa-org/cdp/transport"
	"github.com/risa-org/cdp/transport/sender"
)

type options struct {
	log            logging.Logger
	metrics        *metrics.Engine
	tracer         trace.Tracer
	catalog        *protocol.Catalog
	defaultTimeout time.Duration
	sendRate       float64
	sendBurst      int
}

// Option configures a Conn.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records engine metrics on m.
func WithMetrics(m *metrics.Engine) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer sets the tracer used for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithCatalog validates and orders named-parameter calls with c.
func WithCatalog(c *protocol.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithDefaultTimeout bounds every call that sets no timeout of its own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) { o.defaultTimeout = d }
}

// WithSendRate throttles outgoing frames.
func WithSendRate(perSecond float64, burst int) Option {
	return func(o *options) {
		o.sendRate = perSecond
		o.sendBurst = burst
	}
}

// Conn is safe for concurrent use.
type Conn struct {
	id       string
	adapter  transport.Adapter
	deps     *session.Deps
	root     *session.Session
	sessions *memory.Store
	log      logging.Logger
	metrics  *metrics.Engine

	closeOnce sync.Once
	done      chan struct{}
	mu        sync.Mutex
	err       error
}

// New takes ownership of adapter and starts the read loop.
func New(adapter transport.Adapter, opts ...Option) *Conn {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	log := logging.With(logging.OrNop(o.log), "conn", id)

	events := router.New(log)
	events.OnFailure(func(ev router.Event, _ error) { o.metrics.ListenerFailed(ev.Method()) })

	c := &Conn{
		id:       id,
		adapter:  adapter,
		sessions: memory.New(),
		log:      log,
		metrics:  o.metrics,
		done:     make(chan struct{}),
	}
	c.deps = &session.Deps{
		IDs:    pending.NewSequencer(),
		Calls:  pending.NewTable(log).WithMetrics(o.metrics),
		Events: events,
		Codec:  protocol.NewCodec(o.catalog),
		Out: sender.New(adapter,
			sender.WithRate(o.sendRate, o.sendBurst),
			sender.WithMetrics(o.metrics),
			sender.WithLogger(log),
		),
		Log:            log,
		Metrics:        o.metrics,
		Tracer:         o.tracer,
		DefaultTimeout: o.defaultTimeout,
	}
	c.root = session.NewRoot(c.deps)

	go c.readLoop()
	return c
}

// ID returns the connection's generated identifier, used in logs.
func (c *Conn) ID() string { return c.id }

// Root returns the browser-level session.
func (c *Conn) Root() *session.Session { return c.root }

// Events returns the connection's event router.
func (c *Conn) Events() *router.Router { return c.deps.Events }

// Calls returns the pending-call table.
func (c *Conn) Calls() *pending.Table { return c.deps.Calls }

// Codec returns the codec used for every frame on the connection.
func (c *Conn) Codec() *protocol.Codec { return c.deps.Codec }

// NewSession registers a session for a key the remote side assigned. It
// starts in StateAttaching and leaves the registry when detached.
func (c *Conn) NewSession(key, targetID string) (*session.Session, error) {
	if key == "" {
		return nil, errors.New("conn: empty session key")
	}
	select {
	case <-c.done:
		return nil, fmt.Errorf("%w: %w", protocol.ErrSessionClosed, c.Err())
	default:
	}

	sess := session.New(key, targetID, c.deps)
	if err := c.sessions.Put(sess); err != nil {
		if errors.Is(err, memory.ErrClosed) {
			return nil, fmt.Errorf("%w: %w", protocol.ErrSessionClosed, c.Err())
		}
		return nil, fmt.Errorf("conn: session %s: %w", key, err)
	}
	sess.OnDetach(func(error) { c.sessions.Delete(sess) })

	// A Put that beat shutdown's store close is detached by shutdown.
	if sess.State() == session.StateDetached {
		return nil, fmt.Errorf("%w: %w", protocol.ErrSessionClosed, sess.Err())
	}
	return sess, nil
}

// Session looks up an attached session by key. The empty key is the root.
func (c *Conn) Session(key string) (*session.Session, bool) {
	if key == "" {
		return c.root, true
	}
	return c.sessions.Get(key)
}

// Sessions returns the attached sessions, root excluded.
func (c *Conn) Sessions() []*session.Session {
	return c.sessions.All()
}

// Done is closed when the read loop has ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil while it is running.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the transport and waits for the read loop to finish.
func (c *Conn) Close() error {
	err := c.adapter.Close()
	<-c.done
	return err
}

func (c *Conn) readLoop() {
	defer c.shutdown()
	for frame := range c.adapter.Receive() {
		c.handle(frame)
	}
}

// handle routes one inbound frame. It never fails the connection.
func (c *Conn) handle(frame []byte) {
	msg, err := c.deps.Codec.Decode(frame)
	if err != nil {
		c.metrics.MalformedFrame()
		c.log.Warn("malformed frame dropped", "bytes", len(frame), "err", err)
		return
	}

	switch msg.Kind {
	case protocol.KindResponse:
		if msg.Error != nil {
			c.deps.Calls.Reject(msg.ID, msg.Error)
			return
		}
		c.deps.Calls.Resolve(msg.ID, msg.Result)

	case protocol.KindEvent:
		c.metrics.EventDispatched(msg.Method)
		c.deps.Events.Dispatch(router.Event{
			SessionID: msg.SessionID,
			Domain:    msg.Domain(),
			Name:      msg.EventName(),
			Params:    msg.Params,
		})
		c.lifecycle(msg)
	}
}

// lifecycle applies events that end sessions. Listeners have already
// seen the event.
func (c *Conn) lifecycle(msg *protocol.Message) {
	switch msg.Method {
	case "Target.detachedFromTarget":
		var ev target.DetachedFromTarget
		if err := json.Unmarshal(msg.Params, &ev); err != nil || ev.SessionID == "" {
			c.log.Warn("detachedFromTarget without session", "err", err)
			return
		}
		if sess, ok := c.sessions.Get(ev.SessionID); ok {
			sess.Detach(fmt.Errorf("%w: target detached", protocol.ErrSessionClosed))
		}

	case "Target.targetDestroyed":
		var ev target.TargetDestroyed
		if err := json.Unmarshal(msg.Params, &ev); err != nil {
			return
		}
		for _, sess := range c.sessions.ByTarget(ev.TargetID) {
			sess.Detach(fmt.Errorf("%w: target destroyed", protocol.ErrSessionClosed))
		}

	case "Inspector.detached":
		if msg.SessionID == "" {
			return
		}
		var ev struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(msg.Params, &ev)
		if sess, ok := c.sessions.Get(msg.SessionID); ok {
			sess.Detach(fmt.Errorf("%w: inspector detached: %s", protocol.ErrSessionClosed, ev.Reason))
		}
	}
}

// shutdown fails everything still outstanding once the transport is gone.
func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		cause := c.disconnectCause()
		reason := fmt.Errorf("%w: %w", protocol.ErrConnectionLost, cause)

		c.mu.Lock()
		c.err = reason
		c.mu.Unlock()

		failed := c.deps.Calls.FailAll(reason)
		for _, sess := range c.sessions.Close() {
			sess.Detach(reason)
		}
		c.root.Detach(reason)
		c.log.Info("connection closed", "cause", cause, "failedCalls", failed)
		close(c.done)
	})
}

// disconnectCause reads the adapter's disconnect event, waiting briefly
// since adapters close Receive before or after signalling.
func (c *Conn) disconnectCause() error {
	select {
	case ev := <-c.adapter.Disconnected():
		if ev.Err != nil {
			return ev.Err
		}
		return fmt.Errorf("transport %s", ev.Reason)
	case <-time.After(100 * time.Millisecond):
		return transport.ErrTransportClosed
	}
}
