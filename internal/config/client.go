package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Default client configuration values
const (
	DefaultServerURL = "ws://localhost:8080/ws"
)

// ClientConfig holds terminal client configuration
type ClientConfig struct {
	// WebSocketURL is the relay endpoint
	WebSocketURL string

	// APIURL is the HTTP base derived from WebSocketURL
	APIURL string

	// Reconnect enables the transport's reconnect-with-backoff policy
	Reconnect bool
}

// ClientOptions for loading config with CLI flag overrides
type ClientOptions struct {
	ServerURL string
	Reconnect bool
}

// LoadClient reads configuration with the following priority:
// 1. CLI flags (passed via ClientOptions) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func LoadClient(opts ClientOptions) (*ClientConfig, error) {
	serverURL := opts.ServerURL
	if serverURL == "" {
		serverURL = getenv("SHADOWTALK_SERVER")
	}
	if serverURL == "" {
		serverURL = DefaultServerURL
	}

	reconnect := opts.Reconnect
	if !reconnect {
		switch strings.ToLower(getenv("SHADOWTALK_RECONNECT")) {
		case "1", "true", "yes":
			reconnect = true
		}
	}

	wsURL, apiURL, err := deriveURLs(serverURL)
	if err != nil {
		return nil, err
	}

	return &ClientConfig{
		WebSocketURL: wsURL,
		APIURL:       apiURL,
		Reconnect:    reconnect,
	}, nil
}

// deriveURLs accepts either a ws(s):// endpoint or a bare http(s) origin.
func deriveURLs(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("invalid server URL %q: missing host", raw)
	}

	ws := *u
	api := *u
	switch u.Scheme {
	case "ws":
		api.Scheme = "http"
	case "wss":
		api.Scheme = "https"
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return "", "", fmt.Errorf("invalid server URL %q: unsupported scheme %q", raw, u.Scheme)
	}

	if ws.Path == "" || ws.Path == "/" {
		ws.Path = "/ws"
	}
	api.Path = strings.TrimSuffix(strings.TrimSuffix(api.Path, "/"), "/ws")
	api.RawQuery = ""

	return ws.String(), strings.TrimSuffix(api.String(), "/"), nil
}
