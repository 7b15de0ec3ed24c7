// Package runtime is the typed facade for the Runtime domain.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/session"
)

const Domain = "Runtime"

// RemoteObject mirrors a JavaScript value held by the page. Numbers in
// Value decode as float64.
type RemoteObject struct {
	Type                string          `json:"type"`
	Subtype             *string         `json:"subtype,omitempty"`
	ClassName           *string         `json:"className,omitempty"`
	Value               json.RawMessage `json:"value,omitempty"`
	UnserializableValue *string         `json:"unserializableValue,omitempty"`
	Description         *string         `json:"description,omitempty"`
	ObjectID            *string         `json:"objectId,omitempty"`
}

type ExceptionDetails struct {
	ExceptionID  int           `json:"exceptionId"`
	Text         string        `json:"text"`
	LineNumber   float64       `json:"lineNumber"`
	ColumnNumber float64       `json:"columnNumber"`
	ScriptID     *string       `json:"scriptId,omitempty"`
	URL          *string       `json:"url,omitempty"`
	Exception    *RemoteObject `json:"exception,omitempty"`
}

type PropertyDescriptor struct {
	Name         string        `json:"name"`
	Value        *RemoteObject `json:"value,omitempty"`
	Writable     *bool         `json:"writable,omitempty"`
	Get          *RemoteObject `json:"get,omitempty"`
	Set          *RemoteObject `json:"set,omitempty"`
	Configurable bool          `json:"configurable"`
	Enumerable   bool          `json:"enumerable"`
	WasThrown    *bool         `json:"wasThrown,omitempty"`
	IsOwn        *bool         `json:"isOwn,omitempty"`
}

type InternalPropertyDescriptor struct {
	Name  string        `json:"name"`
	Value *RemoteObject `json:"value,omitempty"`
}

type PrivatePropertyDescriptor struct {
	Name  string        `json:"name"`
	Value *RemoteObject `json:"value,omitempty"`
	Get   *RemoteObject `json:"get,omitempty"`
	Set   *RemoteObject `json:"set,omitempty"`
}

type EvaluateParams struct {
	Expression            string  `json:"expression"`
	ObjectGroup           *string `json:"objectGroup,omitempty"`
	IncludeCommandLineAPI *bool   `json:"includeCommandLineAPI,omitempty"`
	Silent                *bool   `json:"silent,omitempty"`
	ContextID             *int    `json:"contextId,omitempty"`
	ReturnByValue         *bool   `json:"returnByValue,omitempty"`
	AwaitPromise          *bool   `json:"awaitPromise,omitempty"`
	UserGesture           *bool   `json:"userGesture,omitempty"`
}

type EvaluateResult struct {
	Result           RemoteObject      `json:"result"`
	ExceptionDetails *ExceptionDetails `json:"exceptionDetails,omitempty"`
}

type GetPropertiesParams struct {
	ObjectID               string `json:"objectId"`
	OwnProperties          *bool  `json:"ownProperties,omitempty"`
	AccessorPropertiesOnly *bool  `json:"accessorPropertiesOnly,omitempty"`
	GeneratePreview        *bool  `json:"generatePreview,omitempty"`
}

type GetPropertiesResult struct {
	Result             []PropertyDescriptor         `json:"result"`
	InternalProperties []InternalPropertyDescriptor `json:"internalProperties,omitempty"`
	PrivateProperties  []PrivatePropertyDescriptor  `json:"privateProperties,omitempty"`
	ExceptionDetails   *ExceptionDetails            `json:"exceptionDetails,omitempty"`
}

var Commands = []protocol.CommandSpec{
	{Domain: Domain, Name: "evaluate", Params: []protocol.ParamSpec{
		protocol.Required("expression"),
		protocol.Optional("objectGroup", ""),
		protocol.Optional("includeCommandLineAPI", "false"),
		protocol.Optional("silent", "false"),
		protocol.Optional("contextId", ""),
		protocol.Optional("returnByValue", "false"),
		protocol.Optional("awaitPromise", "false"),
		protocol.Optional("userGesture", "false"),
	}},
	{Domain: Domain, Name: "getProperties", Params: []protocol.ParamSpec{
		protocol.Required("objectId"),
		protocol.Optional("ownProperties", "false"),
		protocol.Optional("accessorPropertiesOnly", "false"),
		protocol.Optional("generatePreview", "false"),
	}},
}

type Client struct {
	caller session.Caller
}

func New(c session.Caller) *Client {
	return &Client{caller: c}
}

// Evaluate runs an expression in the page. A thrown exception is
// reported in ExceptionDetails, not as an error.
func (c *Client) Evaluate(ctx context.Context, p EvaluateParams, opts ...session.CallOption) (EvaluateResult, error) {
	var res EvaluateResult
	err := c.call(ctx, "evaluate", p, &res, opts)
	return res, err
}

// GetProperties lists the properties of a remote object.
func (c *Client) GetProperties(ctx context.Context, p GetPropertiesParams, opts ...session.CallOption) (GetPropertiesResult, error) {
	var res GetPropertiesResult
	err := c.call(ctx, "getProperties", p, &res, opts)
	return res, err
}

func (c *Client) call(ctx context.Context, method string, params, out any, opts []session.CallOption) error {
	raw, err := c.caller.Invoke(ctx, Domain, method, params, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
