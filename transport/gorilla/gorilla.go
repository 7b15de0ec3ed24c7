// Package gorilla implements transport.Adapter over github.com/gorilla/websocket.
//
// gorilla connections allow one concurrent writer, so Send holds a write
// mutex. Close only uses WriteControl and Close, which gorilla allows
// alongside a writer, so it never waits behind a blocked Send.
package gorilla

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/risa-org/cdp/transport"
)

// closeGrace bounds how long Close waits to write the close frame.
const closeGrace = time.Second

type Adapter struct {
	conn       *websocket.Conn
	incoming   chan []byte
	disconnect chan transport.DisconnectEvent
	closed     chan struct{}
	closeOnce  sync.Once
	writeMu    sync.Mutex
}

// Dial connects to a DevTools WebSocket endpoint.
func Dial(ctx context.Context, url string, opts ...transport.Option) (*Adapter, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// New wraps an established connection and starts its read loop.
func New(conn *websocket.Conn, opts ...transport.Option) *Adapter {
	o := transport.Apply(opts)
	conn.SetReadLimit(o.MaxFrameSize)

	a := &Adapter{
		conn:       conn,
		incoming:   make(chan []byte, o.Buffer),
		disconnect: make(chan transport.DisconnectEvent, 1),
		closed:     make(chan struct{}),
	}
	go a.readLoop()
	return a
}

func (a *Adapter) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	select {
	case <-a.closed:
		return transport.ErrTransportClosed
	default:
	}

	deadline, _ := ctx.Deadline()
	a.conn.SetWriteDeadline(deadline)
	if err := a.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return transport.ErrTransportClosed
	}
	return nil
}

func (a *Adapter) Receive() <-chan []byte {
	return a.incoming
}

func (a *Adapter) Disconnected() <-chan transport.DisconnectEvent {
	return a.disconnect
}

func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.closed)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closed")
		_ = a.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))

		err = a.conn.Close()
	})
	return err
}

func (a *Adapter) readLoop() {
	defer func() {
		close(a.incoming)
		a.Close()
	}()

	for {
		typ, frame, err := a.conn.ReadMessage()
		if err != nil {
			a.signalDisconnect(err)
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		select {
		case a.incoming <- frame:
		case <-a.closed:
			a.signalDisconnect(nil)
			return
		}
	}
}

func (a *Adapter) signalDisconnect(err error) {
	event := transport.DisconnectEvent{}

	select {
	case <-a.closed:
		event.Reason = transport.ReasonClosedClean
		transport.Notify(a.disconnect, event)
		return
	default:
	}

	switch {
	case err == nil,
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		event.Reason = transport.ReasonClosedClean
	case errors.Is(err, websocket.ErrReadLimit):
		event.Reason = transport.ReasonNetworkError
		event.Err = errors.Join(transport.ErrFrameTooLarge, err)
	default:
		event.Reason = transport.ReasonNetworkError
		event.Err = err
	}

	transport.Notify(a.disconnect, event)
}
