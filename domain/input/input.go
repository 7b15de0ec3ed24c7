// Package input is the typed facade for the Input domain.
package input

import (
	"context"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/session"
)

// Domain is the protocol domain name.
const Domain = "Input"

type KeyEventType string

const (
	KeyDown    KeyEventType = "keyDown"
	KeyUp      KeyEventType = "keyUp"
	RawKeyDown KeyEventType = "rawKeyDown"
	Char       KeyEventType = "char"
)

type MouseEventType string

const (
	MousePressed  MouseEventType = "mousePressed"
	MouseReleased MouseEventType = "mouseReleased"
	MouseMoved    MouseEventType = "mouseMoved"
	MouseWheel    MouseEventType = "mouseWheel"
)

type MouseButton string

const (
	ButtonNone   MouseButton = "none"
	ButtonLeft   MouseButton = "left"
	ButtonMiddle MouseButton = "middle"
	ButtonRight  MouseButton = "right"
)

type TouchEventType string

const (
	TouchStart  TouchEventType = "touchStart"
	TouchEnd    TouchEventType = "touchEnd"
	TouchMove   TouchEventType = "touchMove"
	TouchCancel TouchEventType = "touchCancel"
)

type GestureSourceType string

const (
	GestureDefault GestureSourceType = "default"
	GestureTouch   GestureSourceType = "touch"
	GestureMouse   GestureSourceType = "mouse"
)

// Modifier bits for the modifiers field.
const (
	ModAlt   = 1
	ModCtrl  = 2
	ModMeta  = 4
	ModShift = 8
)

// TouchPoint is one finger of a touch event.
type TouchPoint struct {
	X             float64  `json:"x"`
	Y             float64  `json:"y"`
	RadiusX       *float64 `json:"radiusX,omitempty"`
	RadiusY       *float64 `json:"radiusY,omitempty"`
	RotationAngle *float64 `json:"rotationAngle,omitempty"`
	Force         *float64 `json:"force,omitempty"`
	ID            *float64 `json:"id,omitempty"`
}

type DispatchKeyEventParams struct {
	Type                  KeyEventType `json:"type"`
	Modifiers             *int         `json:"modifiers,omitempty"`
	Timestamp             *float64     `json:"timestamp,omitempty"`
	Text                  *string      `json:"text,omitempty"`
	UnmodifiedText        *string      `json:"unmodifiedText,omitempty"`
	KeyIdentifier         *string      `json:"keyIdentifier,omitempty"`
	Code                  *string      `json:"code,omitempty"`
	Key                   *string      `json:"key,omitempty"`
	WindowsVirtualKeyCode *int         `json:"windowsVirtualKeyCode,omitempty"`
	NativeVirtualKeyCode  *int         `json:"nativeVirtualKeyCode,omitempty"`
	AutoRepeat            *bool        `json:"autoRepeat,omitempty"`
	IsKeypad              *bool        `json:"isKeypad,omitempty"`
	IsSystemKey           *bool        `json:"isSystemKey,omitempty"`
}

type DispatchMouseEventParams struct {
	Type       MouseEventType `json:"type"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Modifiers  *int           `json:"modifiers,omitempty"`
	Timestamp  *float64       `json:"timestamp,omitempty"`
	Button     *MouseButton   `json:"button,omitempty"`
	ClickCount *int           `json:"clickCount,omitempty"`
	DeltaX     *float64       `json:"deltaX,omitempty"`
	DeltaY     *float64       `json:"deltaY,omitempty"`
}

type DispatchTouchEventParams struct {
	Type        TouchEventType `json:"type"`
	TouchPoints []TouchPoint   `json:"touchPoints"`
	Modifiers   *int           `json:"modifiers,omitempty"`
	Timestamp   *float64       `json:"timestamp,omitempty"`
}

type SynthesizeTapGestureParams struct {
	X                 float64            `json:"x"`
	Y                 float64            `json:"y"`
	Duration          *int               `json:"duration,omitempty"`
	TapCount          *int               `json:"tapCount,omitempty"`
	GestureSourceType *GestureSourceType `json:"gestureSourceType,omitempty"`
}

// Commands declares the parameter lists of this domain's commands for
// named-parameter calls.
var Commands = []protocol.CommandSpec{
	{Domain: Domain, Name: "setIgnoreInputEvents", Params: []protocol.ParamSpec{
		protocol.Required("ignore"),
	}},
	{Domain: Domain, Name: "dispatchKeyEvent", Params: []protocol.ParamSpec{
		protocol.Required("type"),
		protocol.Optional("modifiers", "0"),
		protocol.Optional("timestamp", ""),
		protocol.Optional("text", `""`),
		protocol.Optional("unmodifiedText", `""`),
		protocol.Optional("keyIdentifier", `""`),
		protocol.Optional("code", `""`),
		protocol.Optional("key", `""`),
		protocol.Optional("windowsVirtualKeyCode", "0"),
		protocol.Optional("nativeVirtualKeyCode", "0"),
		protocol.Optional("autoRepeat", "false"),
		protocol.Optional("isKeypad", "false"),
		protocol.Optional("isSystemKey", "false"),
	}},
	{Domain: Domain, Name: "dispatchMouseEvent", Params: []protocol.ParamSpec{
		protocol.Required("type"),
		protocol.Required("x"),
		protocol.Required("y"),
		protocol.Optional("modifiers", "0"),
		protocol.Optional("timestamp", ""),
		protocol.Optional("button", `"none"`),
		protocol.Optional("clickCount", "0"),
		protocol.Optional("deltaX", "0"),
		protocol.Optional("deltaY", "0"),
	}},
	{Domain: Domain, Name: "dispatchTouchEvent", Params: []protocol.ParamSpec{
		protocol.Required("type"),
		protocol.Required("touchPoints"),
		protocol.Optional("modifiers", "0"),
		protocol.Optional("timestamp", ""),
	}},
	{Domain: Domain, Name: "synthesizeTapGesture", Params: []protocol.ParamSpec{
		protocol.Required("x"),
		protocol.Required("y"),
		protocol.Optional("duration", "50"),
		protocol.Optional("tapCount", "1"),
		protocol.Optional("gestureSourceType", `"default"`),
	}},
}

// Client issues Input commands on one session.
type Client struct {
	caller session.Caller
}

// New returns a facade over c.
func New(c session.Caller) *Client {
	return &Client{caller: c}
}

// SetIgnoreInputEvents ignores input events while enabled.
func (c *Client) SetIgnoreInputEvents(ctx context.Context, ignore bool, opts ...session.CallOption) error {
	_, err := c.caller.Invoke(ctx, Domain, "setIgnoreInputEvents", map[string]any{"ignore": ignore}, opts...)
	return err
}

// DispatchKeyEvent dispatches a key event to the page.
func (c *Client) DispatchKeyEvent(ctx context.Context, p DispatchKeyEventParams, opts ...session.CallOption) error {
	_, err := c.caller.Invoke(ctx, Domain, "dispatchKeyEvent", p, opts...)
	return err
}

// DispatchMouseEvent dispatches a mouse event to the page.
func (c *Client) DispatchMouseEvent(ctx context.Context, p DispatchMouseEventParams, opts ...session.CallOption) error {
	_, err := c.caller.Invoke(ctx, Domain, "dispatchMouseEvent", p, opts...)
	return err
}

// DispatchTouchEvent dispatches a touch event to the page.
func (c *Client) DispatchTouchEvent(ctx context.Context, p DispatchTouchEventParams, opts ...session.CallOption) error {
	if p.TouchPoints == nil {
		p.TouchPoints = []TouchPoint{}
	}
	_, err := c.caller.Invoke(ctx, Domain, "dispatchTouchEvent", p, opts...)
	return err
}

// SynthesizeTapGesture synthesizes a tap gesture over a time period.
func (c *Client) SynthesizeTapGesture(ctx context.Context, p SynthesizeTapGestureParams, opts ...session.CallOption) error {
	_, err := c.caller.Invoke(ctx, Domain, "synthesizeTapGesture", p, opts...)
	return err
}

// Click presses and releases button at (x, y).
func (c *Client) Click(ctx context.Context, x, y float64, button MouseButton, opts ...session.CallOption) error {
	for _, typ := range []MouseEventType{MousePressed, MouseReleased} {
		err := c.DispatchMouseEvent(ctx, DispatchMouseEventParams{
			Type:       typ,
			X:          x,
			Y:          y,
			Button:     &button,
			ClickCount: protocol.Ptr(1),
		}, opts...)
		if err != nil {
			return err
		}
	}
	return nil
}
