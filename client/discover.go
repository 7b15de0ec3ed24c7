package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Version is the browser's /json/version document.
type Version struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	V8Version            string `json:"V8-Version"`
	WebKitVersion        string `json:"WebKit-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ErrNoDebuggerURL is returned when /json/version names no websocket.
var ErrNoDebuggerURL = errors.New("client: no webSocketDebuggerUrl in /json/version")

// Discover queries httpURL/json/version and returns the browser's
// websocket debugger URL.
func Discover(ctx context.Context, httpURL string) (string, error) {
	v, err := FetchVersion(ctx, http.DefaultClient, httpURL)
	if err != nil {
		return "", err
	}
	return v.WebSocketDebuggerURL, nil
}

// FetchVersion reads /json/version from the browser at httpURL.
func FetchVersion(ctx context.Context, hc *http.Client, httpURL string) (Version, error) {
	endpoint := strings.TrimRight(httpURL, "/") + "/json/version"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Version{}, fmt.Errorf("client: discover: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Version{}, fmt.Errorf("client: discover %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Version{}, fmt.Errorf("client: discover %s: %s: %s", endpoint, resp.Status, strings.TrimSpace(string(body)))
	}

	var v Version
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Version{}, fmt.Errorf("client: discover %s: decode: %w", endpoint, err)
	}
	if v.WebSocketDebuggerURL == "" {
		return Version{}, ErrNoDebuggerURL
	}
	return v, nil
}

func isHTTP(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}
