// Package indexeddb is the typed facade for the IndexedDB domain.
package indexeddb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/session"
)

const Domain = "IndexedDB"

// GetMetadataParams names an object store. One of SecurityOrigin or
// StorageKey must be set.
type GetMetadataParams struct {
	SecurityOrigin  *string `json:"securityOrigin,omitempty"`
	StorageKey      *string `json:"storageKey,omitempty"`
	DatabaseName    string  `json:"databaseName"`
	ObjectStoreName string  `json:"objectStoreName"`
}

// GetMetadataResult describes an object store. Both counts arrive as
// JSON numbers and are kept as float64.
type GetMetadataResult struct {
	EntriesCount float64 `json:"entriesCount"`
	// KeyGeneratorValue is the next autoIncrement key, or -1 without a
	// key generator.
	KeyGeneratorValue float64 `json:"keyGeneratorValue"`
}

var Commands = []protocol.CommandSpec{
	{Domain: Domain, Name: "enable"},
	{Domain: Domain, Name: "disable"},
	{Domain: Domain, Name: "getMetadata", Params: []protocol.ParamSpec{
		protocol.Optional("securityOrigin", ""),
		protocol.Optional("storageKey", ""),
		protocol.Required("databaseName"),
		protocol.Required("objectStoreName"),
	}},
}

type Client struct {
	caller session.Caller
}

func New(c session.Caller) *Client {
	return &Client{caller: c}
}

func (c *Client) Enable(ctx context.Context, opts ...session.CallOption) error {
	_, err := c.caller.Invoke(ctx, Domain, "enable", nil, opts...)
	return err
}

func (c *Client) Disable(ctx context.Context, opts ...session.CallOption) error {
	_, err := c.caller.Invoke(ctx, Domain, "disable", nil, opts...)
	return err
}

// GetMetadata reads the entry count and key generator of an object store.
func (c *Client) GetMetadata(ctx context.Context, p GetMetadataParams, opts ...session.CallOption) (GetMetadataResult, error) {
	var res GetMetadataResult
	raw, err := c.caller.Invoke(ctx, Domain, "getMetadata", p, opts...)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, fmt.Errorf("decode getMetadata result: %w", err)
	}
	return res, nil
}
