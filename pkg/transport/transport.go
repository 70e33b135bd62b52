// Package transport provides the framed byte-stream abstraction used by the
// relay. Every higher layer talks in sized blocks (a 4-byte big-endian length
// followed by the payload) and, for diagnostics, newline-terminated lines.
//
// Two implementations share the Transport interface: StreamTransport wraps any
// net.Conn (raw TCP), and WebSocketTransport carries one block per binary
// WebSocket message. Callers must not depend on which one is underneath.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrTimeout          = errors.New("transport timeout")
	ErrBlockTooLarge    = errors.New("block exceeds maximum size")
	ErrLineTooLong      = errors.New("line exceeds maximum length")
	ErrUnexpectedFrame  = errors.New("unexpected frame type")
)

const (
	// MaxBlockSize bounds a single sized block (16 MiB).
	MaxBlockSize = 16 << 20

	// DefaultLineTimeout bounds ReadLine/WriteLine.
	DefaultLineTimeout = 10 * time.Second

	// LengthPrefixSize is the size of the block length prefix on streams.
	LengthPrefixSize = 4

	// MaxLineLength bounds a diagnostic line, newline included.
	MaxLineLength = 64 << 10
)

// Transport is a bidirectional framed connection. Writes may be issued from
// several goroutines; reads are expected from a single goroutine.
type Transport interface {
	WriteSizedBlock(block []byte) error
	ReadSizedBlock() ([]byte, error)

	WriteLine(line string) error
	ReadLine() (string, error)

	// SetReadTimeout bounds each ReadSizedBlock call. Zero disables the bound.
	SetReadTimeout(d time.Duration)

	// SetWriteTimeout bounds each WriteSizedBlock call. Zero disables the
	// bound.
	SetWriteTimeout(d time.Duration)

	RemoteAddr() net.Addr

	// Close releases the underlying connection. Calling it more than once is
	// not an error.
	Close() error
}

// classify maps low-level I/O errors onto the transport error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}
