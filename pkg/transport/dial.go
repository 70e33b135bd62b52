package transport

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

// DialTCP opens a raw stream transport to addr (host:port).
func DialTCP(ctx context.Context, addr string) (*StreamTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return NewStreamTransport(conn), nil
}

// DialWebSocket opens a WebSocket transport to url (ws:// or wss://).
func DialWebSocket(ctx context.Context, url string) (*WebSocketTransport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return NewWebSocketTransport(conn), nil
}

// Dial picks the transport from the endpoint scheme: ws:// and wss:// use
// WebSocket, tcp:// or a bare host:port use a raw stream.
func Dial(ctx context.Context, endpoint string) (Transport, error) {
	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		return DialWebSocket(ctx, endpoint)
	case strings.HasPrefix(endpoint, "tcp://"):
		return DialTCP(ctx, strings.TrimPrefix(endpoint, "tcp://"))
	case strings.Contains(endpoint, "://"):
		return nil, fmt.Errorf("unsupported endpoint scheme: %s", endpoint)
	default:
		return DialTCP(ctx, endpoint)
	}
}
