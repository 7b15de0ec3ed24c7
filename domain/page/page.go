// Package page is the typed facade for the Page domain.
package page

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/router"
	"github.com/risa-org/cdp/session"
)

const Domain = "Page"

const (
	EventLoadEventFired         = "loadEventFired"
	EventJavascriptDialogClosed = "javascriptDialogClosed"
)

type TransitionType string

const (
	TransitionLink     TransitionType = "link"
	TransitionTyped    TransitionType = "typed"
	TransitionReload   TransitionType = "reload"
	TransitionOther    TransitionType = "other"
	TransitionAutoOpen TransitionType = "auto_toplevel"
)

type ReloadParams struct {
	IgnoreCache            *bool   `json:"ignoreCache,omitempty"`
	ScriptToEvaluateOnLoad *string `json:"scriptToEvaluateOnLoad,omitempty"`
}

type NavigateParams struct {
	URL            string          `json:"url"`
	Referrer       *string         `json:"referrer,omitempty"`
	TransitionType *TransitionType `json:"transitionType,omitempty"`
	FrameID        *string         `json:"frameId,omitempty"`
}

// NavigateResult is the result of Page.navigate. ErrorText is set when
// the navigation failed on the remote side.
type NavigateResult struct {
	FrameID   string  `json:"frameId"`
	LoaderID  *string `json:"loaderId,omitempty"`
	ErrorText *string `json:"errorText,omitempty"`
}

// LoadEventFired is the params of Page.loadEventFired.
type LoadEventFired struct {
	Timestamp float64 `json:"timestamp"`
}

// JavascriptDialogClosed is the params of Page.javascriptDialogClosed.
// Result reports whether the dialog was accepted.
type JavascriptDialogClosed struct {
	Result    bool   `json:"result"`
	UserInput string `json:"userInput"`
}

var Commands = []protocol.CommandSpec{
	{Domain: Domain, Name: "enable"},
	{Domain: Domain, Name: "navigate", Params: []protocol.ParamSpec{
		protocol.Required("url"),
		protocol.Optional("referrer", ""),
		protocol.Optional("transitionType", ""),
		protocol.Optional("frameId", ""),
	}},
	{Domain: Domain, Name: "reload", Params: []protocol.ParamSpec{
		protocol.Optional("ignoreCache", "false"),
		protocol.Optional("scriptToEvaluateOnLoad", ""),
	}},
}

type Client struct {
	caller session.Caller
}

func New(c session.Caller) *Client {
	return &Client{caller: c}
}

// Enable turns on Page domain events for the session.
func (c *Client) Enable(ctx context.Context, opts ...session.CallOption) error {
	_, err := c.caller.Invoke(ctx, Domain, "enable", nil, opts...)
	return err
}

// Navigate loads p.URL in the session's target.
func (c *Client) Navigate(ctx context.Context, p NavigateParams, opts ...session.CallOption) (NavigateResult, error) {
	var res NavigateResult
	raw, err := c.caller.Invoke(ctx, Domain, "navigate", p, opts...)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, fmt.Errorf("decode navigate result: %w", err)
	}
	return res, nil
}

// Reload reloads the page. Unset fields keep the browser's defaults.
func (c *Client) Reload(ctx context.Context, p ReloadParams, opts ...session.CallOption) error {
	_, err := c.caller.Invoke(ctx, Domain, "reload", p, opts...)
	return err
}

func OnLoadEventFired(s session.Subscriber, fn func(LoadEventFired)) (router.Handle, error) {
	return s.Subscribe(Domain, EventLoadEventFired, router.Typed(fn))
}

func OnJavascriptDialogClosed(s session.Subscriber, fn func(JavascriptDialogClosed)) (router.Handle, error) {
	return s.Subscribe(Domain, EventJavascriptDialogClosed, router.Typed(fn))
}
