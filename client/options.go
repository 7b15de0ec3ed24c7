package client

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/risa-org/cdp/bridge"
	"github.com/risa-org/cdp/config"
	"github.com/risa-org/cdp/logging"
	"github.com/risa-org/cdp/protocol"
)

type options struct {
	log              logging.Logger
	registerer       prometheus.Registerer
	metricsNamespace string
	tracer           trace.Tracer
	catalog          *protocol.Catalog
	defaultTimeout   time.Duration
	sendRate         float64
	sendBurst        int
	maxFrameSize     int64
	transport        string
	pipeIn, pipeOut  *os.File
	publisher        bridge.Publisher
	subjectPrefix    string
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger. Without one the client logs nothing.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRegisterer enables Prometheus metrics on reg.
func WithRegisterer(reg prometheus.Registerer, namespace string) Option {
	return func(o *options) {
		o.registerer = reg
		o.metricsNamespace = namespace
	}
}

// WithTracer sets the tracer for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithCatalog replaces the built-in parameter catalog.
func WithCatalog(c *protocol.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithDefaultTimeout bounds calls made with a zero timeout.
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

// WithMaxFrameSize caps inbound frames on transports the client dials.
func WithMaxFrameSize(n int64) Option {
	return func(o *options) { o.maxFrameSize = n }
}

// WithTransport picks the websocket implementation Dial uses:
// config.TransportWebSocket (default) or config.TransportGorilla.
func WithTransport(kind string) Option {
	return func(o *options) { o.transport = kind }
}

// WithPipe supplies the files for the pipe transport: in is read from
// the browser, out is written to it.
func WithPipe(in, out *os.File) Option {
	return func(o *options) {
		o.pipeIn = in
		o.pipeOut = out
	}
}

// WithEventBridge republishes every event of the root session and of
// attached sessions through pub under prefix.
func WithEventBridge(pub bridge.Publisher, prefix string) Option {
	return func(o *options) {
		o.publisher = pub
		o.subjectPrefix = prefix
	}
}

func collect(opts []Option) options {
	o := options{transport: config.TransportWebSocket}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
