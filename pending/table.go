// Package pending correlates responses with the calls that are waiting
// for them.
package pending

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/risa-org/cdp/logging"
	"github.com/risa-org/cdp/metrics"
	"github.com/risa-org/cdp/protocol"
)

// ErrDuplicateID is returned by Register for an identifier that is still
// outstanding.
var ErrDuplicateID = errors.New("pending: identifier already outstanding")

// Call is one in-flight request. Its completion slot is filled at most once.
type Call struct {
	ID        int64
	SessionID string // empty for the root session
	Method    string
	Started   time.Time

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

// Done is closed once the call is resolved or rejected.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the completion value. Only meaningful after Done is closed.
func (c *Call) Result() (json.RawMessage, error) {
	return c.result, c.err
}

func (c *Call) complete(result json.RawMessage, err error) bool {
	completed := false
	c.once.Do(func() {
		c.result = result
		c.err = err
		completed = true
		close(c.done)
	})
	return completed
}

// Table tracks in-flight calls by identifier. Safe for concurrent use by
// many callers plus the single reader.
type Table struct {
	mu    sync.Mutex
	calls map[int64]*Call
	// ignored holds ids whose responses nobody waits for: fire-and-forget
	// sends and abandoned calls. Their replies are dropped quietly. ring
	// remembers insertion order so the oldest entry is evicted once the
	// set reaches its limit.
	ignored map[int64]struct{}
	ring    []int64
	next    int

	log     logging.Logger
	metrics *metrics.Engine
}

// DefaultIgnoreLimit bounds how many unanswered abandoned or
// fire-and-forget ids a table remembers.
const DefaultIgnoreLimit = 4096

// NewTable returns an empty table.
func NewTable(log logging.Logger) *Table {
	return &Table{
		calls:   make(map[int64]*Call),
		ignored: make(map[int64]struct{}),
		ring:    make([]int64, DefaultIgnoreLimit),
		log:     logging.OrNop(log),
	}
}

// WithIgnoreLimit changes how many ignored ids are remembered. A reply
// for an id evicted past the limit is treated as unknown. n < 1 is
// ignored. Call it before the table is in use.
func (t *Table) WithIgnoreLimit(n int) *Table {
	if n < 1 {
		return t
	}
	t.mu.Lock()
	t.ignored = make(map[int64]struct{})
	t.ring = make([]int64, n)
	t.next = 0
	t.mu.Unlock()
	return t
}

// WithMetrics makes the table count dropped responses on m.
func (t *Table) WithMetrics(m *metrics.Engine) *Table {
	t.metrics = m
	return t
}

// Register records an expected response. It must return before the
// request is written, so a fast response always finds its call.
func (t *Table) Register(id int64, sessionID, method string) (*Call, error) {
	c := &Call{
		ID:        id,
		SessionID: sessionID,
		Method:    method,
		Started:   time.Now(),
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.calls[id]; exists {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	t.calls[id] = c
	return c, nil
}

// take removes and returns the call for id.
func (t *Table) take(id int64) (*Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	return c, ok
}

// drop accounts for a response that found no call.
func (t *Table) drop(id int64, err error) {
	t.mu.Lock()
	_, expected := t.ignored[id]
	delete(t.ignored, id)
	t.mu.Unlock()

	if expected {
		t.log.Debug("response for abandoned call dropped", "id", id)
		return
	}
	t.metrics.UnknownResponse()
	if err != nil {
		t.log.Warn("error response for unknown call dropped", "id", id, "err", err)
		return
	}
	t.log.Warn("response for unknown call dropped", "id", id)
}

// Resolve completes a call with its result. Unknown ids are logged and
// ignored; the return value reports whether a call was completed.
func (t *Table) Resolve(id int64, result json.RawMessage) bool {
	c, ok := t.take(id)
	if !ok {
		t.drop(id, nil)
		return false
	}
	return c.complete(result, nil)
}

// Reject completes a call with an error. A *protocol.ProtocolError
// without a method is stamped with the call's method.
func (t *Table) Reject(id int64, err error) bool {
	c, ok := t.take(id)
	if !ok {
		t.drop(id, err)
		return false
	}
	var perr *protocol.ProtocolError
	if errors.As(err, &perr) && perr.Method == "" {
		perr.Method = c.Method
	}
	return c.complete(nil, err)
}

// Remove forgets a call without completing it.
func (t *Table) Remove(id int64) bool {
	_, ok := t.take(id)
	return ok
}

// Abandon removes a call its caller stopped waiting for, on timeout or
// cancellation. A late response for it is dropped at debug level. It
// reports false if the call had already been completed.
func (t *Table) Abandon(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.calls[id]; !ok {
		return false
	}
	delete(t.calls, id)
	t.ignore(id)
	return true
}

// Ignore records that nobody waits for the response to id.
func (t *Table) Ignore(id int64) {
	t.mu.Lock()
	t.ignore(id)
	t.mu.Unlock()
}

// Unignore forgets an ignored id, for a request that was never written.
func (t *Table) Unignore(id int64) {
	t.mu.Lock()
	delete(t.ignored, id)
	t.mu.Unlock()
}

// ignore must be called with t.mu held. Ids are never reused, so a ring
// slot whose id has already left the set evicts nothing.
func (t *Table) ignore(id int64) {
	if old := t.ring[t.next]; old != 0 {
		delete(t.ignored, old)
	}
	t.ring[t.next] = id
	t.next = (t.next + 1) % len(t.ring)
	t.ignored[id] = struct{}{}
}

// Ignored returns the number of ids whose replies would be dropped quietly.
func (t *Table) Ignored() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ignored)
}

// CancelAllForSession removes and fails every call owned by sessionID.
// It returns the number of calls failed.
func (t *Table) CancelAllForSession(sessionID string, reason error) int {
	t.mu.Lock()
	var victims []*Call
	for id, c := range t.calls {
		if c.SessionID == sessionID {
			victims = append(victims, c)
			delete(t.calls, id)
		}
	}
	t.mu.Unlock()

	for _, c := range victims {
		c.complete(nil, reason)
	}
	return len(victims)
}

// FailAll removes and fails every outstanding call.
func (t *Table) FailAll(reason error) int {
	t.mu.Lock()
	victims := t.calls
	t.calls = make(map[int64]*Call)
	t.ignored = make(map[int64]struct{})
	clear(t.ring)
	t.next = 0
	t.mu.Unlock()

	for _, c := range victims {
		c.complete(nil, reason)
	}
	return len(victims)
}

// Len returns the number of outstanding calls.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Has reports whether id is outstanding.
func (t *Table) Has(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.calls[id]
	return ok
}
