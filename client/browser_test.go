package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/risa-org/cdp/protocol"
	cdpws "github.com/risa-org/cdp/transport/websocket"
)

// script answers one request with zero or more frames.
type script func(req protocol.Request) []string

// fakeBrowser serves /json/version and a websocket debugger endpoint
// driven by a script.
type fakeBrowser struct {
	srv *httptest.Server
}

func newFakeBrowser(t *testing.T, handle script) *fakeBrowser {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/json/version", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Version{
			Browser:              "HeadlessChrome/131.0.0.0",
			ProtocolVersion:      "1.3",
			WebSocketDebuggerURL: fmt.Sprintf("ws://%s/devtools/browser/fake", req.Host),
		})
	})
	r.Get("/devtools/browser/{id}", func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		a := cdpws.New(conn)
		defer a.Close()
		for frame := range a.Receive() {
			var in protocol.Request
			if err := json.Unmarshal(frame, &in); err != nil {
				t.Errorf("browser got bad frame %q: %v", frame, err)
				return
			}
			for _, out := range handle(in) {
				if err := a.Send(context.Background(), []byte(out)); err != nil {
					return
				}
			}
		}
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fakeBrowser{srv: srv}
}

func (b *fakeBrowser) URL() string { return b.srv.URL }

func result(req protocol.Request, body string) string {
	return fmt.Sprintf(`{"id":%d,"result":%s}`, req.ID, body)
}

// echo answers every request with its own params.
func echo(req protocol.Request) []string {
	params := string(req.Params)
	if params == "" {
		params = "{}"
	}
	return []string{result(req, params)}
}
