package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teranos/treesync/errors"
)

// SyncPath is where peers accept connections.
const SyncPath = "/ws/sync"

// Dial connects to a peer's sync endpoint. addr may be an http(s) or
// ws(s) URL; SyncPath is appended when addr has no path.
func Dial(ctx context.Context, addr string) (Conn, error) {
	url := WebSocketURL(addr)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "failed to connect to %s (status %d)", url, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "failed to connect to %s", url)
	}
	return conn, nil
}

// WebSocketURL converts an http(s) address to the peer's sync URL.
func WebSocketURL(addr string) string {
	switch {
	case strings.HasPrefix(addr, "https://"):
		addr = "wss://" + strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		addr = "ws://" + strings.TrimPrefix(addr, "http://")
	case !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://"):
		addr = "ws://" + addr
	}
	rest := addr[strings.Index(addr, "://")+3:]
	if !strings.Contains(rest, "/") {
		addr = strings.TrimSuffix(addr, "/") + SyncPath
	}
	return addr
}

// Upgrader accepts websocket connections from requests whose Origin is
// empty or starts with one of allowedOrigins.
func Upgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if strings.HasPrefix(origin, allowed) {
					return true
				}
			}
			return false
		},
	}
}
