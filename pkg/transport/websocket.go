package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write the close frame when shutting down
	closeWait = time.Second
)

// WebSocketTransport carries exactly one block per binary WebSocket message.
// Lines travel as text messages.
type WebSocketTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu           sync.Mutex
	readTimeout  time.Duration
	writeTimeout time.Duration
	lineTimeout  time.Duration

	closeOnce sync.Once
}

// NewWebSocketTransport wraps an established WebSocket connection.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	conn.SetReadLimit(MaxBlockSize)
	return &WebSocketTransport{
		conn:        conn,
		lineTimeout: DefaultLineTimeout,
	}
}

// SetLineTimeout overrides the bound used by ReadLine and WriteLine.
func (t *WebSocketTransport) SetLineTimeout(d time.Duration) {
	t.mu.Lock()
	t.lineTimeout = d
	t.mu.Unlock()
}

func (t *WebSocketTransport) SetReadTimeout(d time.Duration) {
	t.mu.Lock()
	t.readTimeout = d
	t.mu.Unlock()
}

func (t *WebSocketTransport) SetWriteTimeout(d time.Duration) {
	t.mu.Lock()
	t.writeTimeout = d
	t.mu.Unlock()
}

func (t *WebSocketTransport) timeouts() (read, write, line time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readTimeout, t.writeTimeout, t.lineTimeout
}

func (t *WebSocketTransport) WriteSizedBlock(block []byte) error {
	if len(block) > MaxBlockSize {
		return fmt.Errorf("%w: %d bytes", ErrBlockTooLarge, len(block))
	}
	_, writeTimeout, _ := t.timeouts()
	return t.write(websocket.BinaryMessage, block, writeTimeout)
}

func (t *WebSocketTransport) ReadSizedBlock() ([]byte, error) {
	readTimeout, _, _ := t.timeouts()
	return t.read(websocket.BinaryMessage, readTimeout)
}

func (t *WebSocketTransport) WriteLine(line string) error {
	_, _, lineTimeout := t.timeouts()
	return t.write(websocket.TextMessage, []byte(strings.TrimRight(line, "\n")+"\n"), lineTimeout)
}

func (t *WebSocketTransport) ReadLine() (string, error) {
	_, _, lineTimeout := t.timeouts()
	data, err := t.read(websocket.TextMessage, lineTimeout)
	if err != nil {
		return "", err
	}
	if len(data) > MaxLineLength {
		return "", fmt.Errorf("%w: %d bytes", ErrLineTooLong, len(data))
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func (t *WebSocketTransport) write(messageType int, data []byte, timeout time.Duration) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(deadline(timeout)); err != nil {
		return classify(err)
	}
	if err := t.conn.WriteMessage(messageType, data); err != nil {
		return classify(err)
	}
	return nil
}

// read returns the next message, which must be of type want. Blocks travel
// as binary messages and lines as text messages.
func (t *WebSocketTransport) read(want int, timeout time.Duration) ([]byte, error) {
	if err := t.conn.SetReadDeadline(deadline(timeout)); err != nil {
		return nil, classify(err)
	}

	messageType, data, err := t.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, fmt.Errorf("%w: %v", ErrBlockTooLarge, err)
		}
		return nil, classify(err)
	}
	if messageType != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFrame, frameName(messageType), frameName(want))
	}
	return data, nil
}

func frameName(messageType int) string {
	switch messageType {
	case websocket.BinaryMessage:
		return "binary"
	case websocket.TextMessage:
		return "text"
	default:
		return fmt.Sprintf("frame(%d)", messageType)
	}
}

func (t *WebSocketTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Close sends a best-effort close frame and releases the connection.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		// WriteControl may run concurrently with a pending WriteMessage.
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait))
		err = t.conn.Close()
	})
	return err
}
