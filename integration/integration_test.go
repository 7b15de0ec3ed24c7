package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/risa-org/cdp/client"
	"github.com/risa-org/cdp/config"
	"github.com/risa-org/cdp/domain/input"
	"github.com/risa-org/cdp/domain/page"
	"github.com/risa-org/cdp/domain/runtime"
	"github.com/risa-org/cdp/domain/target"
	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/session"
)

func dial(t *testing.T, url string, opts ...client.Option) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, b *browser, method string) protocol.Request {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case req := <-b.seen:
			if req.Method == method {
				return req
			}
		case <-deadline:
			t.Fatalf("browser never saw %s", method)
			return protocol.Request{}
		}
	}
}

// ------------------------------------------------------------
// Tests
// ------------------------------------------------------------

func TestFullSessionLifecycle(t *testing.T) {
	url, _ := nhooyrServer(t, chrome)
	c := dial(t, url)
	ctx := context.Background()

	sess, err := c.Attach(ctx, "T1")
	require.NoError(t, err)
	require.Equal(t, "S-T1", sess.Key())
	require.Equal(t, session.StateAttached, sess.State())

	loads := make(chan page.LoadEventFired, 1)
	_, err = page.OnLoadEventFired(sess, func(ev page.LoadEventFired) { loads <- ev })
	require.NoError(t, err)

	nav, err := page.New(sess).Navigate(ctx, page.NavigateParams{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "F1", nav.FrameID)

	select {
	case ev := <-loads:
		assert.Equal(t, 12.5, ev.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("no loadEventFired")
	}

	res, err := runtime.New(sess).Evaluate(ctx, runtime.EvaluateParams{Expression: "1+1"})
	require.NoError(t, err)
	var v float64
	require.NoError(t, json.Unmarshal(res.Result.Value, &v))
	assert.Equal(t, 2.0, v)

	require.NoError(t, c.Detach(ctx, sess))
	assert.Equal(t, session.StateDetached, sess.State())
	assert.Empty(t, c.Conn().Sessions())

	_, err = page.New(sess).Navigate(ctx, page.NavigateParams{URL: "https://example.com"})
	assert.ErrorIs(t, err, protocol.ErrSessionClosed)
}

func TestPipeTransportEndToEnd(t *testing.T) {
	in, out, b := pipePair(t, chrome)

	cfg := config.Default()
	cfg.Transport = config.TransportPipe
	cfg.CallTimeout = 2 * time.Second
	c, err := client.FromConfig(context.Background(), cfg, client.WithPipe(in, out))
	require.NoError(t, err)
	defer c.Close()

	sess, err := c.Attach(context.Background(), "T9")
	require.NoError(t, err)

	require.NoError(t, input.New(sess).Click(context.Background(), 10, 20, input.ButtonLeft))

	req := waitFor(t, b, "Input.dispatchMouseEvent")
	assert.Equal(t, "S-T9", req.SessionID)
	assert.JSONEq(t, `{"type":"mousePressed","x":10,"y":20,"button":"left","clickCount":1}`, string(req.Params))
}

func TestManyConcurrentCallsAcrossSessions(t *testing.T) {
	// Replies leave in random order.
	shuffled := func(req protocol.Request, reply func(string)) {
		if req.Method != "Runtime.echo" {
			chrome(req, reply)
			return
		}
		go func() {
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			reply(result(req, string(req.Params)))
		}()
	}
	url, _ := gorillaServer(t, shuffled)
	c := dial(t, url, client.WithTransport(config.TransportGorilla), client.WithSendRate(0, 0))

	keys := []string{""}
	for i := 0; i < 3; i++ {
		sess, err := c.Attach(context.Background(), fmt.Sprintf("T%d", i))
		require.NoError(t, err)
		keys = append(keys, sess.Key())
	}

	const calls = 200
	var done atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < calls; i++ {
		key := keys[i%len(keys)]
		g.Go(func() error {
			res, err := c.Invoke(ctx, key, "Runtime", "echo", map[string]any{"n": i, "session": key}, 5*time.Second)
			if err != nil {
				return err
			}
			var got struct {
				N       int    `json:"n"`
				Session string `json:"session"`
			}
			if err := json.Unmarshal(res, &got); err != nil {
				return err
			}
			if got.N != i || got.Session != key {
				return fmt.Errorf("call %d on %q got reply %+v", i, key, got)
			}
			done.Add(1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(calls), done.Load())
	assert.Zero(t, c.Conn().Calls().Len())
}

func TestConnectionLossFailsEveryPendingCall(t *testing.T) {
	url, browsers := nhooyrServer(t, chrome)
	c := dial(t, url)
	b := <-browsers

	s1, err := c.Attach(context.Background(), "A")
	require.NoError(t, err)
	s2, err := c.Attach(context.Background(), "B")
	require.NoError(t, err)

	errs := make(chan error, 3)
	for _, s := range []*session.Session{s1, s1, s2} {
		go func() {
			errs <- page.New(s).Reload(context.Background(), page.ReloadParams{})
		}()
	}
	require.Eventually(t, func() bool { return b.count() == 5 }, 2*time.Second, 5*time.Millisecond)

	_ = b.adapter.Close()

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, protocol.ErrConnectionLost)
		case <-time.After(2 * time.Second):
			t.Fatal("pending call survived connection loss")
		}
	}
	<-c.Done()
	assert.Equal(t, session.StateDetached, s1.State())
	assert.Equal(t, session.StateDetached, s2.State())
}

func TestTimeoutThenLateReply(t *testing.T) {
	late := func(req protocol.Request, reply func(string)) {
		if req.Method != "Runtime.slow" {
			chrome(req, reply)
			return
		}
		go func() {
			time.Sleep(150 * time.Millisecond)
			reply(result(req, `{}`))
		}()
	}
	url, _ := nhooyrServer(t, late)
	c := dial(t, url)

	start := time.Now()
	_, err := c.Invoke(context.Background(), "", "Runtime", "slow", nil, 50*time.Millisecond)
	require.ErrorIs(t, err, protocol.ErrTimeout)
	assert.Less(t, time.Since(start), 140*time.Millisecond)

	time.Sleep(200 * time.Millisecond)

	res, err := c.Invoke(context.Background(), "", "Browser", "getVersion", nil, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(res))
	assert.Nil(t, c.Conn().Err())
}

func TestRemoteDetachFailsSessionCalls(t *testing.T) {
	url, browsers := nhooyrServer(t, chrome)
	c := dial(t, url)
	b := <-browsers

	sess, err := c.Attach(context.Background(), "T1")
	require.NoError(t, err)

	detached := make(chan target.DetachedFromTarget, 1)
	_, err = target.OnDetachedFromTarget(c.Root(), func(ev target.DetachedFromTarget) { detached <- ev })
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		errs <- page.New(sess).Reload(context.Background(), page.ReloadParams{})
	}()
	waitFor(t, b, "Page.reload")

	require.NoError(t, b.adapter.Send(context.Background(),
		[]byte(`{"method":"Target.detachedFromTarget","params":{"sessionId":"S-T1","targetId":"T1"}}`)))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, protocol.ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("call survived remote detach")
	}
	ev := <-detached
	assert.Equal(t, "S-T1", ev.SessionID)

	// The connection and root session carry on.
	_, err = c.Targets().GetTargets(context.Background())
	require.NoError(t, err)
}

func TestAttachToMissingTarget(t *testing.T) {
	url, _ := nhooyrServer(t, chrome)
	c := dial(t, url)

	_, err := c.Attach(context.Background(), "missing")
	var perr *protocol.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, -32602, perr.Code)
	assert.Equal(t, "Target.attachToTarget", perr.Method)
}
