package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	gws "github.com/gorilla/websocket"
	"nhooyr.io/websocket"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/transport"
	gorillaadapter "github.com/risa-org/cdp/transport/gorilla"
	"github.com/risa-org/cdp/transport/pipe"
	wsadapter "github.com/risa-org/cdp/transport/websocket"
)

// ------------------------------------------------------------
// Fake browser
// ------------------------------------------------------------

// handler answers one request. reply may be called any number of times,
// from any goroutine.
type handler func(req protocol.Request, reply func(frame string))

// browser records what it was sent.
type browser struct {
	mu       sync.Mutex
	requests []protocol.Request
	seen     chan protocol.Request
	adapter  transport.Adapter
}

func (b *browser) record(req protocol.Request) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	select {
	case b.seen <- req:
	default:
	}
}

func (b *browser) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func serve(t *testing.T, a transport.Adapter, h handler) *browser {
	t.Helper()
	b := &browser{seen: make(chan protocol.Request, 256), adapter: a}
	go func() {
		for frame := range a.Receive() {
			var req protocol.Request
			if err := json.Unmarshal(frame, &req); err != nil {
				t.Errorf("browser got bad frame %q: %v", frame, err)
				continue
			}
			b.record(req)
			h(req, func(out string) {
				_ = a.Send(context.Background(), []byte(out))
			})
		}
	}()
	return b
}

func result(req protocol.Request, body string) string {
	return fmt.Sprintf(`{"id":%d,"result":%s}`, req.ID, body)
}

func protocolError(req protocol.Request, code int, msg string) string {
	return fmt.Sprintf(`{"id":%d,"error":{"code":%d,"message":%q}}`, req.ID, code, msg)
}

// chrome plays a small browser: targets attach as "S-<targetId>",
// Runtime.evaluate of "1+1" yields 2, unknown methods echo their params.
func chrome(req protocol.Request, reply func(string)) {
	var p map[string]any
	_ = json.Unmarshal(req.Params, &p)

	switch req.Method {
	case "Target.attachToTarget":
		if p["targetId"] == "missing" {
			reply(protocolError(req, -32602, "No target with given id found"))
			return
		}
		reply(result(req, fmt.Sprintf(`{"sessionId":"S-%s"}`, p["targetId"])))
	case "Target.detachFromTarget":
		reply(result(req, `{}`))
		reply(fmt.Sprintf(`{"method":"Target.detachedFromTarget","params":{"sessionId":%q}}`, p["sessionId"]))
	case "Page.navigate":
		reply(result(req, `{"frameId":"F1","loaderId":"L1"}`))
		reply(fmt.Sprintf(`{"method":"Page.loadEventFired","params":{"timestamp":12.5},"sessionId":%q}`, req.SessionID))
	case "Runtime.evaluate":
		if p["expression"] == "1+1" {
			reply(result(req, `{"result":{"type":"number","value":2,"description":"2"}}`))
			return
		}
		reply(result(req, `{"result":{"type":"undefined"}}`))
	case "Page.reload":
		// never answered
	default:
		params := string(req.Params)
		if params == "" {
			params = "{}"
		}
		reply(result(req, params))
	}
}

// ------------------------------------------------------------
// Transports
// ------------------------------------------------------------

// pipePair returns the two files a client gives to pipe.NewProcess and
// starts the browser on the other ends.
func pipePair(t *testing.T, h handler) (in, out *os.File, b *browser) {
	t.Helper()
	toClientR, toClientW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	toBrowserR, toBrowserW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	a := pipe.New(toBrowserR, toClientW)
	t.Cleanup(func() { a.Close() })
	return toClientR, toBrowserW, serve(t, a, h)
}

// nhooyrServer serves the debugger endpoint with nhooyr.io/websocket.
func nhooyrServer(t *testing.T, h handler) (string, <-chan *browser) {
	t.Helper()
	browsers := make(chan *browser, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		browsers <- serve(t, wsadapter.New(conn), h)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/browser/fake", browsers
}

// gorillaServer serves the debugger endpoint with gorilla/websocket.
func gorillaServer(t *testing.T, h handler) (string, <-chan *browser) {
	t.Helper()
	browsers := make(chan *browser, 1)
	up := gws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		browsers <- serve(t, gorillaadapter.New(conn), h)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/browser/fake", browsers
}
