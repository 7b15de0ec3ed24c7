// Package pipe implements transport.Adapter over a byte stream carrying
// NUL-terminated JSON frames, the framing Chrome uses with
// --remote-debugging-pipe (it reads commands on fd 3 and writes on fd 4).
package pipe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/risa-org/cdp/transport"
)

const delimiter = 0

// Adapter implements transport.Adapter over a reader/writer pair.
//
// Each frame on the wire is the JSON text followed by one NUL byte. The
// stream has no other framing, so a read may return half a frame or two
// frames joined together; the read loop splits on NUL.
type Adapter struct {
	r          io.Reader
	w          io.Writer
	closers    []io.Closer
	maxFrame   int64
	incoming   chan []byte
	disconnect chan transport.DisconnectEvent
	closed     chan struct{}
	closeOnce  sync.Once
	writeMu    sync.Mutex
}

// New reads frames from r and writes frames to w. Close closes both when
// they implement io.Closer.
func New(r io.Reader, w io.Writer, opts ...transport.Option) *Adapter {
	o := transport.Apply(opts)
	a := &Adapter{
		r:          r,
		w:          w,
		maxFrame:   o.MaxFrameSize,
		incoming:   make(chan []byte, o.Buffer),
		disconnect: make(chan transport.DisconnectEvent, 1),
		closed:     make(chan struct{}),
	}
	if c, ok := w.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	if c, ok := r.(io.Closer); ok && any(r) != any(w) {
		a.closers = append(a.closers, c)
	}
	go a.readLoop()
	return a
}

// NewConn runs the framing over a single bidirectional connection.
func NewConn(conn net.Conn, opts ...transport.Option) *Adapter {
	return New(conn, conn, opts...)
}

// NewProcess uses the two pipe ends a browser child was started with:
// in carries the browser's output and out its command input.
func NewProcess(in, out *os.File, opts ...transport.Option) *Adapter {
	return New(in, out, opts...)
}

func (a *Adapter) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bytes.IndexByte(frame, delimiter) >= 0 {
		return fmt.Errorf("pipe: frame contains a NUL byte")
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	select {
	case <-a.closed:
		return transport.ErrTransportClosed
	default:
	}

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, delimiter)
	if _, err := a.w.Write(buf); err != nil {
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

// Close closes the underlying streams. Safe to call multiple times.
func (a *Adapter) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		close(a.closed)
		for _, c := range a.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (a *Adapter) readLoop() {
	defer func() {
		close(a.incoming)
		a.Close()
	}()

	br := bufio.NewReader(a.r)
	for {
		frame, err := a.readFrame(br)
		if err != nil {
			a.signalDisconnect(err)
			return
		}
		if len(frame) == 0 {
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

// readFrame returns the bytes up to the next NUL, without the NUL.
func (a *Adapter) readFrame(br *bufio.Reader) ([]byte, error) {
	var frame []byte
	for {
		chunk, err := br.ReadSlice(delimiter)
		if int64(len(frame)+len(chunk)) > a.maxFrame+1 {
			return nil, fmt.Errorf("%w: over %d bytes", transport.ErrFrameTooLarge, a.maxFrame)
		}
		frame = append(frame, chunk...)
		switch {
		case err == nil:
			return frame[:len(frame)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			if len(frame) > 0 && errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
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

	if err == nil || errors.Is(err, io.EOF) {
		event.Reason = transport.ReasonClosedClean
	} else {
		event.Reason = transport.ReasonNetworkError
		event.Err = err
	}
	transport.Notify(a.disconnect, event)
}
