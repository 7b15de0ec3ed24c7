package target

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/router"
	"github.com/risa-org/cdp/session"
)

// scripted answers each method with a canned result and records params.
type scripted struct {
	codec   *protocol.Codec
	results map[string]string
	sent    map[string]json.RawMessage
}

func newScripted(results map[string]string) *scripted {
	return &scripted{
		codec:   protocol.NewCodec(protocol.NewCatalog(Commands...)),
		results: results,
		sent:    make(map[string]json.RawMessage),
	}
}

func (s *scripted) Invoke(_ context.Context, domain, method string, params any, _ ...session.CallOption) (json.RawMessage, error) {
	frame, err := s.codec.Encode("", 1, domain, method, params)
	if err != nil {
		return nil, err
	}
	var req protocol.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return nil, err
	}
	s.sent[req.Method] = req.Params
	if r, ok := s.results[req.Method]; ok {
		return json.RawMessage(r), nil
	}
	return json.RawMessage(`{}`), nil
}

func TestAttachToTargetRequestsFlatSession(t *testing.T) {
	s := newScripted(map[string]string{"Target.attachToTarget": `{"sessionId":"S-42"}`})

	key, err := New(s).AttachToTarget(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "S-42", key)
	assert.JSONEq(t, `{"targetId":"T1","flatten":true}`, string(s.sent["Target.attachToTarget"]))
}

func TestAttachToTargetWithoutSessionID(t *testing.T) {
	s := newScripted(map[string]string{"Target.attachToTarget": `{}`})

	_, err := New(s).AttachToTarget(context.Background(), "T1")
	assert.Error(t, err)
}

func TestGetTargets(t *testing.T) {
	s := newScripted(map[string]string{
		"Target.getTargets": `{"targetInfos":[{"targetId":"T1","type":"page","title":"a","url":"about:blank","attached":false}]}`,
	})

	infos, err := New(s).GetTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "page", infos[0].Type)
	assert.JSONEq(t, `{}`, string(s.sent["Target.getTargets"]))
}

func TestCreateAndCloseTarget(t *testing.T) {
	s := newScripted(map[string]string{"Target.createTarget": `{"targetId":"T9"}`})
	c := New(s)

	id, err := c.CreateTarget(context.Background(), CreateTargetParams{URL: "about:blank", Background: protocol.Ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, "T9", id)
	assert.JSONEq(t, `{"url":"about:blank","background":true}`, string(s.sent["Target.createTarget"]))

	require.NoError(t, c.CloseTarget(context.Background(), id))
	assert.JSONEq(t, `{"targetId":"T9"}`, string(s.sent["Target.closeTarget"]))
}

func TestDetachAndDiscover(t *testing.T) {
	s := newScripted(nil)
	c := New(s)

	require.NoError(t, c.DetachFromTarget(context.Background(), "S1"))
	assert.JSONEq(t, `{"sessionId":"S1"}`, string(s.sent["Target.detachFromTarget"]))

	require.NoError(t, c.SetDiscoverTargets(context.Background(), true))
	assert.JSONEq(t, `{"discover":true}`, string(s.sent["Target.setDiscoverTargets"]))
}

type routerSubscriber struct{ r *router.Router }

func (s routerSubscriber) Subscribe(domain, event string, h router.Handler) (router.Handle, error) {
	return s.r.Subscribe("", domain, event, h), nil
}

func TestTypedEvents(t *testing.T) {
	r := router.New(nil)
	sub := routerSubscriber{r}

	var created TargetCreated
	var detached DetachedFromTarget
	_, err := OnTargetCreated(sub, func(e TargetCreated) { created = e })
	require.NoError(t, err)
	_, err = OnDetachedFromTarget(sub, func(e DetachedFromTarget) { detached = e })
	require.NoError(t, err)

	r.Dispatch(router.Event{Domain: Domain, Name: EventTargetCreated,
		Params: []byte(`{"targetInfo":{"targetId":"T2","type":"page","title":"","url":"","attached":false}}`)})
	r.Dispatch(router.Event{Domain: Domain, Name: EventDetachedFromTarget,
		Params: []byte(`{"sessionId":"S2","targetId":"T2"}`)})

	assert.Equal(t, "T2", created.TargetInfo.TargetID)
	assert.Equal(t, "S2", detached.SessionID)
	require.NotNil(t, detached.TargetID)
	assert.Equal(t, "T2", *detached.TargetID)
}
