// Package client is the public entry point: it dials a browser, owns the
// connection and exposes invoke, subscribe, attach and detach by session
// key for typed domain facades and applications.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/risa-org/cdp/bridge"
	"github.com/risa-org/cdp/config"
	"github.com/risa-org/cdp/conn"
	"github.com/risa-org/cdp/domain/css"
	"github.com/risa-org/cdp/domain/indexeddb"
	"github.com/risa-org/cdp/domain/input"
	"github.com/risa-org/cdp/domain/page"
	"github.com/risa-org/cdp/domain/runtime"
	"github.com/risa-org/cdp/domain/target"
	"github.com/risa-org/cdp/handshake"
	"github.com/risa-org/cdp/logging"
	"github.com/risa-org/cdp/metrics"
	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/router"
	"github.com/risa-org/cdp/session"
	"github.com/risa-org/cdp/transport"
	"github.com/risa-org/cdp/transport/gorilla"
	"github.com/risa-org/cdp/transport/pipe"
	"github.com/risa-org/cdp/transport/websocket"
)

// DefaultCatalog returns a catalog of every command the bundled domain
// packages know.
func DefaultCatalog() *protocol.Catalog {
	c := protocol.NewCatalog()
	c.Register(css.Commands...)
	c.Register(indexeddb.Commands...)
	c.Register(input.Commands...)
	c.Register(page.Commands...)
	c.Register(runtime.Commands...)
	c.Register(target.Commands...)
	return c
}

// Client is safe for concurrent use.
type Client struct {
	conn   *conn.Conn
	hs     *handshake.Handler
	bridge *bridge.Bridge
	log    logging.Logger

	closers []func() error
}

// New builds a client over an already-open transport.
func New(adapter transport.Adapter, opts ...Option) *Client {
	o := collect(opts)
	log := logging.OrNop(o.log)

	catalog := o.catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	var m *metrics.Engine
	if o.registerer != nil {
		m = metrics.New(o.registerer, o.metricsNamespace)
	}

	c := conn.New(adapter,
		conn.WithLogger(log),
		conn.WithMetrics(m),
		conn.WithTracer(o.tracer),
		conn.WithCatalog(catalog),
		conn.WithDefaultTimeout(o.defaultTimeout),
		conn.WithSendRate(o.sendRate, o.sendBurst),
	)

	cl := &Client{
		conn: c,
		hs:   handshake.NewHandler(c, log),
		log:  log,
	}
	if o.publisher != nil {
		cl.bridge = bridge.New(o.publisher, o.subjectPrefix, log)
		if err := cl.bridge.Attach(c.Root()); err != nil {
			log.Warn("event bridge not attached", "err", err)
		}
	}
	return cl
}

// Dial connects to endpoint, a ws:// debugger URL or an http:// address
// to discover one from.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	o := collect(opts)

	wsURL := endpoint
	if isHTTP(endpoint) {
		u, err := Discover(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		wsURL = u
	}

	var topts []transport.Option
	if o.maxFrameSize > 0 {
		topts = append(topts, transport.WithMaxFrameSize(o.maxFrameSize))
	}

	var (
		adapter transport.Adapter
		err     error
	)
	switch o.transport {
	case config.TransportWebSocket, "":
		adapter, err = websocket.Dial(ctx, wsURL, topts...)
	case config.TransportGorilla:
		adapter, err = gorilla.Dial(ctx, wsURL, topts...)
	default:
		return nil, fmt.Errorf("client: transport %q cannot be dialed", o.transport)
	}
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", wsURL, err)
	}
	return New(adapter, opts...), nil
}

// FromConfig builds a client from cfg. opts are applied after the
// settings derived from cfg, so they win. The pipe transport needs
// WithPipe.
func FromConfig(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := []Option{
		WithLogger(cfg.Logger()),
		WithDefaultTimeout(cfg.CallTimeout),
		WithSendRate(cfg.SendRate, cfg.SendBurst),
		WithMaxFrameSize(cfg.MaxFrameSize),
		WithTransport(cfg.Transport),
	}
	var closers []func() error
	if cfg.NATSURL != "" {
		nc, err := bridge.Connect(bridge.Config{URL: cfg.NATSURL, ConnectTimeout: cfg.DialTimeout})
		if err != nil {
			return nil, err
		}
		base = append(base, WithEventBridge(nc, cfg.NATSPrefix))
		closers = append(closers, nc.Drain)
	}
	opts = append(base, opts...)
	opts = append(opts, func(o *options) {
		if o.metricsNamespace == "" {
			o.metricsNamespace = cfg.MetricsNamespace
		}
	})

	cl, err := open(ctx, cfg, opts)
	if err != nil {
		for _, fn := range closers {
			_ = fn()
		}
		return nil, err
	}
	cl.closers = append(cl.closers, closers...)
	return cl, nil
}

func open(ctx context.Context, cfg config.Config, opts []Option) (*Client, error) {
	if cfg.Transport == config.TransportPipe {
		o := collect(opts)
		if o.pipeIn == nil || o.pipeOut == nil {
			return nil, fmt.Errorf("client: pipe transport needs WithPipe")
		}
		return New(pipe.NewProcess(o.pipeIn, o.pipeOut, transport.WithMaxFrameSize(o.maxFrameSize)), opts...), nil
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	return Dial(ctx, cfg.Endpoint, opts...)
}

// Conn returns the underlying connection.
func (c *Client) Conn() *conn.Conn { return c.conn }

// Root returns the browser-level session.
func (c *Client) Root() *session.Session { return c.conn.Root() }

// Session returns the session for key. The empty key is the root.
func (c *Client) Session(key string) (*session.Session, bool) { return c.conn.Session(key) }

// Targets returns a Target domain client on the root session.
func (c *Client) Targets() *target.Client { return target.New(c.conn.Root()) }

func (c *Client) lookup(key string) (*session.Session, error) {
	s, ok := c.conn.Session(key)
	if !ok {
		return nil, fmt.Errorf("%w: no session %q", protocol.ErrSessionClosed, key)
	}
	return s, nil
}

// Invoke calls domain.method on the session with the given key and waits
// for the result. A zero timeout falls back to the default timeout.
func (c *Client) Invoke(ctx context.Context, sessionKey, domain, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	s, err := c.lookup(sessionKey)
	if err != nil {
		return nil, err
	}
	var opts []session.CallOption
	if timeout > 0 {
		opts = append(opts, session.WithTimeout(timeout))
	}
	return s.Invoke(ctx, domain, method, params, opts...)
}

// Send writes domain.method without waiting for a reply.
func (c *Client) Send(ctx context.Context, sessionKey, domain, method string, params any) error {
	s, err := c.lookup(sessionKey)
	if err != nil {
		return err
	}
	return s.Send(ctx, domain, method, params)
}

// Subscribe registers h for domain.event on the session with the given key.
func (c *Client) Subscribe(sessionKey, domain, event string, h router.Handler) (router.Handle, error) {
	s, err := c.lookup(sessionKey)
	if err != nil {
		return router.Handle{}, err
	}
	return s.Subscribe(domain, event, h)
}

// Unsubscribe removes a registration. It reports false if h was already
// removed.
func (c *Client) Unsubscribe(h router.Handle) bool {
	return c.conn.Events().Unsubscribe(h)
}

// Attach attaches to targetID and returns the attached session.
func (c *Client) Attach(ctx context.Context, targetID string, opts ...session.CallOption) (*session.Session, error) {
	sess, err := c.hs.Attach(ctx, targetID, opts...)
	if err != nil {
		return nil, err
	}
	if c.bridge != nil {
		if err := c.bridge.Attach(sess); err != nil {
			c.log.Warn("event bridge not attached", "session", sess.Key(), "err", err)
		}
		sess.OnDetach(func(error) { c.bridge.Detach(sess) })
	}
	return sess, nil
}

// Detach detaches sess on both sides.
func (c *Client) Detach(ctx context.Context, sess *session.Session, opts ...session.CallOption) error {
	return c.hs.Detach(ctx, sess, opts...)
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.conn.Done() }

// Close closes the connection and anything the client opened for itself.
func (c *Client) Close() error {
	if c.bridge != nil {
		c.bridge.Close()
	}
	var g errgroup.Group
	g.Go(c.conn.Close)
	for _, fn := range c.closers {
		g.Go(fn)
	}
	return g.Wait()
}
