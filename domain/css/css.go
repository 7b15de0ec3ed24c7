// Package css is the typed facade for the CSS domain.
package css

import (
	"context"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/router"
	"github.com/risa-org/cdp/session"
)

const Domain = "CSS"

const EventMediaQueryResultChanged = "mediaQueryResultChanged"

// MediaQueryResultChanged fires when a viewport-dependent media query
// flips, for example after the window is resized. It carries no fields.
type MediaQueryResultChanged struct{}

var Commands = []protocol.CommandSpec{
	{Domain: Domain, Name: "enable"},
	{Domain: Domain, Name: "disable"},
}

type Client struct {
	caller session.Caller
}

func New(c session.Caller) *Client {
	return &Client{caller: c}
}

// Enable starts CSS events for the session. The DOM domain must be
// enabled first.
func (c *Client) Enable(ctx context.Context, opts ...session.CallOption) error {
	_, err := c.caller.Invoke(ctx, Domain, "enable", nil, opts...)
	return err
}

func (c *Client) Disable(ctx context.Context, opts ...session.CallOption) error {
	_, err := c.caller.Invoke(ctx, Domain, "disable", nil, opts...)
	return err
}

func OnMediaQueryResultChanged(s session.Subscriber, fn func(MediaQueryResultChanged)) (router.Handle, error) {
	return s.Subscribe(Domain, EventMediaQueryResultChanged, router.Typed(fn))
}
