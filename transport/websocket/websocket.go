// Package websocket implements transport.Adapter over nhooyr.io/websocket.
package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"

	"github.com/risa-org/cdp/transport"
)

// Adapter implements transport.Adapter over a WebSocket connection.
// WebSocket already has message boundaries, so each text message is
// exactly one frame.
type Adapter struct {
	conn       *websocket.Conn
	incoming   chan []byte
	disconnect chan transport.DisconnectEvent
	closeOnce  sync.Once
	closing    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// Dial connects to a DevTools WebSocket endpoint such as
// ws://127.0.0.1:9222/devtools/browser/<id>.
func Dial(ctx context.Context, url string, opts ...transport.Option) (*Adapter, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// New wraps an existing *websocket.Conn in a transport Adapter.
func New(conn *websocket.Conn, opts ...transport.Option) *Adapter {
	o := transport.Apply(opts)
	conn.SetReadLimit(o.MaxFrameSize)

	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		conn:       conn,
		incoming:   make(chan []byte, o.Buffer),
		disconnect: make(chan transport.DisconnectEvent, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	go a.readLoop()
	return a
}

func (a *Adapter) Send(ctx context.Context, frame []byte) error {
	if a.closing.Load() || a.ctx.Err() != nil {
		return transport.ErrTransportClosed
	}
	if err := a.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
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

// Close runs the close handshake while the read loop is still reading
// and only then cancels the loop.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.closing.Store(true)
		err = a.conn.Close(websocket.StatusNormalClosure, "closed")
		a.cancel()
	})
	return err
}

func (a *Adapter) readLoop() {
	defer func() {
		close(a.incoming)
		a.Close()
	}()

	for {
		typ, frame, err := a.conn.Read(a.ctx)
		if err != nil {
			a.signalDisconnect(err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		select {
		case a.incoming <- frame:
		case <-a.ctx.Done():
			a.signalDisconnect(a.ctx.Err())
			return
		}
	}
}

// signalDisconnect sends exactly one disconnect event.
// StatusNormalClosure (1000) and StatusGoingAway (1001) are both clean closes.
// A read ending after our own Close is also clean.
func (a *Adapter) signalDisconnect(err error) {
	event := transport.DisconnectEvent{}

	status := websocket.CloseStatus(err)
	switch {
	case status == websocket.StatusNormalClosure,
		status == websocket.StatusGoingAway,
		a.closing.Load(),
		a.ctx.Err() != nil:
		event.Reason = transport.ReasonClosedClean
	case status == websocket.StatusMessageTooBig:
		event.Reason = transport.ReasonNetworkError
		event.Err = errors.Join(transport.ErrFrameTooLarge, err)
	default:
		event.Reason = transport.ReasonNetworkError
		event.Err = err
	}

	transport.Notify(a.disconnect, event)
}
