// Package router delivers decoded events to the listeners registered for
// them, keyed by (session, domain, event name).
package router

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/risa-org/cdp/logging"
	"github.com/risa-org/cdp/protocol"
)

// Event is one decoded protocol event.
type Event struct {
	SessionID string // empty for the root session
	Domain    string
	Name      string
	Params    json.RawMessage
}

// Method returns "Domain.name".
func (e Event) Method() string {
	return protocol.JoinMethod(e.Domain, e.Name)
}

// Decode unmarshals the params into v.
func (e Event) Decode(v any) error {
	if len(e.Params) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Params, v)
}

// Handler receives an event. A returned error, or a panic, is reported
// through the logger and never stops delivery to later handlers.
type Handler func(Event) error

// Func adapts a handler that cannot fail.
func Func(fn func(Event)) Handler {
	return func(ev Event) error {
		fn(ev)
		return nil
	}
}

// Typed decodes params into T before calling fn.
func Typed[T any](fn func(T)) Handler {
	return func(ev Event) error {
		var v T
		if err := ev.Decode(&v); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Method(), err)
		}
		fn(v)
		return nil
	}
}

type key struct {
	session string
	domain  string
	event   string
}

type entry struct {
	id     uint64
	fn     Handler
	active atomic.Bool
}

// Handle identifies one registration.
type Handle struct {
	id  uint64
	key key
	all bool
}

// SessionID returns the session the registration belongs to.
func (h Handle) SessionID() string {
	return h.key.session
}

// Valid reports whether h came from a registration.
func (h Handle) Valid() bool {
	return h.id != 0
}

// Router is safe for concurrent registration, unregistration and
// dispatch. Listener slices are copied on write, so a dispatch in
// progress works from the snapshot it started with.
type Router struct {
	mu     sync.RWMutex
	exact  map[key][]*entry
	all    map[string][]*entry
	nextID uint64

	log       logging.Logger
	onFailure func(Event, error)
}

// New returns an empty router.
func New(log logging.Logger) *Router {
	return &Router{
		exact: make(map[key][]*entry),
		all:   make(map[string][]*entry),
		log:   logging.OrNop(log),
	}
}

// OnFailure installs a hook called for every listener failure, after it
// has been logged. Install it before dispatching starts.
func (r *Router) OnFailure(fn func(Event, error)) {
	r.mu.Lock()
	r.onFailure = fn
	r.mu.Unlock()
}

func (r *Router) newEntry(fn Handler) *entry {
	r.nextID++
	e := &entry{id: r.nextID, fn: fn}
	e.active.Store(true)
	return e
}

// Subscribe registers fn for events named domain.event on sessionID.
// Handlers for one key run in registration order.
func (r *Router) Subscribe(sessionID, domain, event string, fn Handler) Handle {
	k := key{session: sessionID, domain: domain, event: event}

	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.newEntry(fn)
	r.exact[k] = appendCopy(r.exact[k], e)
	return Handle{id: e.id, key: k}
}

// SubscribeAll registers fn for every event on sessionID. Catch-all
// handlers run after the exact-key handlers of each event.
func (r *Router) SubscribeAll(sessionID string, fn Handler) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.newEntry(fn)
	r.all[sessionID] = appendCopy(r.all[sessionID], e)
	return Handle{id: e.id, key: key{session: sessionID}, all: true}
}

// Unsubscribe removes a registration. Dispatches that start after it
// returns never call the handler. A dispatch already in progress may
// still call it once if it checked the registration before removal, and
// a call already running is not interrupted.
func (r *Router) Unsubscribe(h Handle) bool {
	if !h.Valid() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.all {
		list, removed := without(r.all[h.key.session], h.id)
		if removed {
			setOrDelete(r.all, h.key.session, list)
		}
		return removed
	}
	list, removed := without(r.exact[h.key], h.id)
	if removed {
		setOrDelete(r.exact, h.key, list)
	}
	return removed
}

// RemoveSession drops every registration under sessionID and returns how
// many were removed.
func (r *Router) RemoveSession(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, list := range r.exact {
		if k.session != sessionID {
			continue
		}
		for _, e := range list {
			e.active.Store(false)
		}
		n += len(list)
		delete(r.exact, k)
	}
	for _, e := range r.all[sessionID] {
		e.active.Store(false)
	}
	n += len(r.all[sessionID])
	delete(r.all, sessionID)
	return n
}

// Count returns the number of registrations under sessionID.
func (r *Router) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.all[sessionID])
	for k, list := range r.exact {
		if k.session == sessionID {
			n += len(list)
		}
	}
	return n
}

// Dispatch delivers ev synchronously to every matching handler and
// returns how many were invoked.
func (r *Router) Dispatch(ev Event) int {
	r.mu.RLock()
	exact := r.exact[key{session: ev.SessionID, domain: ev.Domain, event: ev.Name}]
	all := r.all[ev.SessionID]
	r.mu.RUnlock()

	n := 0
	for _, e := range exact {
		if r.invoke(e, ev) {
			n++
		}
	}
	for _, e := range all {
		if r.invoke(e, ev) {
			n++
		}
	}
	return n
}

func (r *Router) invoke(e *entry, ev Event) (ran bool) {
	if !e.active.Load() {
		return false
	}
	defer func() {
		if p := recover(); p != nil {
			r.fail(ev, fmt.Errorf("listener panic: %v", p))
		}
	}()
	ran = true
	if err := e.fn(ev); err != nil {
		r.fail(ev, err)
	}
	return ran
}

func (r *Router) fail(ev Event, err error) {
	r.log.Error("event listener failed", "method", ev.Method(), "session", ev.SessionID, "err", err)
	r.mu.RLock()
	hook := r.onFailure
	r.mu.RUnlock()
	if hook != nil {
		hook(ev, err)
	}
}

func appendCopy(list []*entry, e *entry) []*entry {
	out := make([]*entry, len(list), len(list)+1)
	copy(out, list)
	return append(out, e)
}

func without(list []*entry, id uint64) ([]*entry, bool) {
	for i, e := range list {
		if e.id != id {
			continue
		}
		e.active.Store(false)
		out := make([]*entry, 0, len(list)-1)
		out = append(out, list[:i]...)
		return append(out, list[i+1:]...), true
	}
	return list, false
}

func setOrDelete[K comparable](m map[K][]*entry, k K, list []*entry) {
	if len(list) == 0 {
		delete(m, k)
		return
	}
	m[k] = list
}
