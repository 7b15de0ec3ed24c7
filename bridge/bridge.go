// Package bridge republishes decoded protocol events onto a NATS subject
// tree, one subject per session, domain and event:
//
//	<prefix>.<session|root>.<Domain>.<event>
//
// The payload is the event's params JSON, unchanged.
package bridge

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/risa-org/cdp/logging"
	"github.com/risa-org/cdp/router"
)

// RootToken stands in for the empty root session key in subjects.
const RootToken = "root"

// Publisher sends one message. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Source is a session whose events can be bridged.
type Source interface {
	Key() string
	SubscribeAll(h router.Handler) (router.Handle, error)
	Unsubscribe(h router.Handle) bool
}

// Config configures the NATS connection made by Connect.
type Config struct {
	URL            string
	ConnectTimeout time.Duration
}

// Connect dials NATS, retrying in the background if the server is not up
// yet.
func Connect(cfg Config) (*nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("cdp-bridge"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

type binding struct {
	src    Source
	handle router.Handle
}

// Bridge is safe for concurrent use.
type Bridge struct {
	pub    Publisher
	prefix string
	log    logging.Logger

	mu       sync.Mutex
	bindings map[Source]binding
}

// New returns a bridge publishing under prefix.
func New(pub Publisher, prefix string, log logging.Logger) *Bridge {
	return &Bridge{
		pub:      pub,
		prefix:   strings.Trim(prefix, "."),
		log:      logging.OrNop(log),
		bindings: make(map[Source]binding),
	}
}

// Attach starts bridging every event of src. Attaching twice is a no-op.
func (b *Bridge) Attach(src Source) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.bindings[src]; ok {
		return nil
	}

	h, err := src.SubscribeAll(b.forward)
	if err != nil {
		return fmt.Errorf("bridge session %q: %w", src.Key(), err)
	}
	b.bindings[src] = binding{src: src, handle: h}
	return nil
}

// Detach stops bridging src.
func (b *Bridge) Detach(src Source) bool {
	b.mu.Lock()
	bd, ok := b.bindings[src]
	delete(b.bindings, src)
	b.mu.Unlock()
	if !ok {
		return false
	}
	bd.src.Unsubscribe(bd.handle)
	return true
}

// Close detaches every source. The publisher is left open.
func (b *Bridge) Close() {
	b.mu.Lock()
	all := b.bindings
	b.bindings = make(map[Source]binding)
	b.mu.Unlock()

	for _, bd := range all {
		bd.src.Unsubscribe(bd.handle)
	}
}

func (b *Bridge) forward(ev router.Event) error {
	subject := Subject(b.prefix, ev.SessionID, ev.Domain, ev.Name)
	data := []byte(ev.Params)
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := b.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	b.log.Debug("event bridged", "subject", subject)
	return nil
}

// Subject builds the subject for one event. Characters NATS treats
// specially inside a token are replaced with '_'.
func Subject(prefix, sessionKey, domain, event string) string {
	if sessionKey == "" {
		sessionKey = RootToken
	}
	parts := []string{token(sessionKey), token(domain), token(event)}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, ".")
}

func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
