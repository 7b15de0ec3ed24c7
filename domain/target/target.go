// Package target is the typed facade for the Target domain, which
// discovers targets and attaches sessions to them.
package target

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/router"
	"github.com/risa-org/cdp/session"
)

const Domain = "Target"

// Event names.
const (
	EventTargetCreated      = "targetCreated"
	EventTargetDestroyed    = "targetDestroyed"
	EventAttachedToTarget   = "attachedToTarget"
	EventDetachedFromTarget = "detachedFromTarget"
)

// Info describes one target.
type Info struct {
	TargetID         string  `json:"targetId"`
	Type             string  `json:"type"`
	Title            string  `json:"title"`
	URL              string  `json:"url"`
	Attached         bool    `json:"attached"`
	OpenerID         *string `json:"openerId,omitempty"`
	BrowserContextID *string `json:"browserContextId,omitempty"`
}

type AttachToTargetParams struct {
	TargetID string `json:"targetId"`
	Flatten  *bool  `json:"flatten,omitempty"`
}

type DetachFromTargetParams struct {
	SessionID *string `json:"sessionId,omitempty"`
	TargetID  *string `json:"targetId,omitempty"`
}

type CreateTargetParams struct {
	URL                     string  `json:"url"`
	Width                   *int    `json:"width,omitempty"`
	Height                  *int    `json:"height,omitempty"`
	BrowserContextID        *string `json:"browserContextId,omitempty"`
	EnableBeginFrameControl *bool   `json:"enableBeginFrameControl,omitempty"`
	NewWindow               *bool   `json:"newWindow,omitempty"`
	Background              *bool   `json:"background,omitempty"`
}

// TargetCreated is the params of Target.targetCreated.
type TargetCreated struct {
	TargetInfo Info `json:"targetInfo"`
}

// TargetDestroyed is the params of Target.targetDestroyed.
type TargetDestroyed struct {
	TargetID string `json:"targetId"`
}

// AttachedToTarget is the params of Target.attachedToTarget.
type AttachedToTarget struct {
	SessionID          string `json:"sessionId"`
	TargetInfo         Info   `json:"targetInfo"`
	WaitingForDebugger bool   `json:"waitingForDebugger"`
}

// DetachedFromTarget is the params of Target.detachedFromTarget.
type DetachedFromTarget struct {
	SessionID string  `json:"sessionId"`
	TargetID  *string `json:"targetId,omitempty"`
}

var Commands = []protocol.CommandSpec{
	{Domain: Domain, Name: "attachToTarget", Params: []protocol.ParamSpec{
		protocol.Required("targetId"),
		protocol.Optional("flatten", "false"),
	}},
	{Domain: Domain, Name: "detachFromTarget", Params: []protocol.ParamSpec{
		protocol.Optional("sessionId", ""),
		protocol.Optional("targetId", ""),
	}},
	{Domain: Domain, Name: "getTargets"},
	{Domain: Domain, Name: "createTarget", Params: []protocol.ParamSpec{
		protocol.Required("url"),
		protocol.Optional("width", ""),
		protocol.Optional("height", ""),
		protocol.Optional("browserContextId", ""),
		protocol.Optional("enableBeginFrameControl", "false"),
		protocol.Optional("newWindow", "false"),
		protocol.Optional("background", "false"),
	}},
	{Domain: Domain, Name: "closeTarget", Params: []protocol.ParamSpec{
		protocol.Required("targetId"),
	}},
	{Domain: Domain, Name: "setDiscoverTargets", Params: []protocol.ParamSpec{
		protocol.Required("discover"),
	}},
}

// Client issues Target commands, normally on the root session.
type Client struct {
	caller session.Caller
}

func New(c session.Caller) *Client {
	return &Client{caller: c}
}

// AttachToTarget attaches to targetID and returns the new session key.
// Sessions are always requested in flat mode, so their traffic shares
// the connection and carries a sessionId.
func (c *Client) AttachToTarget(ctx context.Context, targetID string, opts ...session.CallOption) (string, error) {
	flatten := true
	raw, err := c.caller.Invoke(ctx, Domain, "attachToTarget", AttachToTargetParams{TargetID: targetID, Flatten: &flatten}, opts...)
	if err != nil {
		return "", err
	}
	var res struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode attachToTarget result: %w", err)
	}
	if res.SessionID == "" {
		return "", fmt.Errorf("attachToTarget %s: result has no sessionId", targetID)
	}
	return res.SessionID, nil
}

// DetachFromTarget detaches the session with the given key.
func (c *Client) DetachFromTarget(ctx context.Context, sessionID string, opts ...session.CallOption) error {
	_, err := c.caller.Invoke(ctx, Domain, "detachFromTarget", DetachFromTargetParams{SessionID: &sessionID}, opts...)
	return err
}

// GetTargets lists the available targets.
func (c *Client) GetTargets(ctx context.Context, opts ...session.CallOption) ([]Info, error) {
	raw, err := c.caller.Invoke(ctx, Domain, "getTargets", nil, opts...)
	if err != nil {
		return nil, err
	}
	var res struct {
		TargetInfos []Info `json:"targetInfos"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode getTargets result: %w", err)
	}
	return res.TargetInfos, nil
}

// CreateTarget opens a new page and returns its target id.
func (c *Client) CreateTarget(ctx context.Context, p CreateTargetParams, opts ...session.CallOption) (string, error) {
	raw, err := c.caller.Invoke(ctx, Domain, "createTarget", p, opts...)
	if err != nil {
		return "", err
	}
	var res struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode createTarget result: %w", err)
	}
	return res.TargetID, nil
}

// CloseTarget closes targetID.
func (c *Client) CloseTarget(ctx context.Context, targetID string, opts ...session.CallOption) error {
	_, err := c.caller.Invoke(ctx, Domain, "closeTarget", map[string]any{"targetId": targetID}, opts...)
	return err
}

// SetDiscoverTargets turns targetCreated/targetDestroyed events on or off.
func (c *Client) SetDiscoverTargets(ctx context.Context, discover bool, opts ...session.CallOption) error {
	_, err := c.caller.Invoke(ctx, Domain, "setDiscoverTargets", map[string]any{"discover": discover}, opts...)
	return err
}

// OnTargetCreated subscribes fn to Target.targetCreated.
func OnTargetCreated(s session.Subscriber, fn func(TargetCreated)) (router.Handle, error) {
	return s.Subscribe(Domain, EventTargetCreated, router.Typed(fn))
}

// OnTargetDestroyed subscribes fn to Target.targetDestroyed.
func OnTargetDestroyed(s session.Subscriber, fn func(TargetDestroyed)) (router.Handle, error) {
	return s.Subscribe(Domain, EventTargetDestroyed, router.Typed(fn))
}

// OnDetachedFromTarget subscribes fn to Target.detachedFromTarget.
func OnDetachedFromTarget(s session.Subscriber, fn func(DetachedFromTarget)) (router.Handle, error) {
	return s.Subscribe(Domain, EventDetachedFromTarget, router.Typed(fn))
}
