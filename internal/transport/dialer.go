// ABOUTME: gorilla/websocket dialer adapter and backend URL helpers
// ABOUTME: Converts the backend's http(s) base address into its ws(s) endpoint

package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer creates a dialer with the given handshake timeout.
func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial opens a websocket connection.
func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return conn, nil
}

// WebsocketURL derives the websocket endpoint from the backend base address,
// e.g. http://localhost:8000 + /ws -> ws://localhost:8000/ws.
func WebsocketURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}
