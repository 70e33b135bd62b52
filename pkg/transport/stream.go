package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// StreamTransport frames blocks over a raw duplex connection.
type StreamTransport struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	mu           sync.Mutex
	readTimeout  time.Duration
	writeTimeout time.Duration
	lineTimeout  time.Duration

	closeOnce sync.Once
}

// NewStreamTransport wraps conn. The transport owns conn from now on.
func NewStreamTransport(conn net.Conn) *StreamTransport {
	return &StreamTransport{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		lineTimeout: DefaultLineTimeout,
	}
}

// SetLineTimeout overrides the bound used by ReadLine and WriteLine.
func (t *StreamTransport) SetLineTimeout(d time.Duration) {
	t.mu.Lock()
	t.lineTimeout = d
	t.mu.Unlock()
}

func (t *StreamTransport) SetReadTimeout(d time.Duration) {
	t.mu.Lock()
	t.readTimeout = d
	t.mu.Unlock()
}

func (t *StreamTransport) SetWriteTimeout(d time.Duration) {
	t.mu.Lock()
	t.writeTimeout = d
	t.mu.Unlock()
}

func (t *StreamTransport) timeouts() (read, write, line time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readTimeout, t.writeTimeout, t.lineTimeout
}

// WriteSizedBlock writes the 4-byte length prefix and the block in one call.
func (t *StreamTransport) WriteSizedBlock(block []byte) error {
	if len(block) > MaxBlockSize {
		return fmt.Errorf("%w: %d bytes", ErrBlockTooLarge, len(block))
	}

	buf := make([]byte, LengthPrefixSize+len(block))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(block)))
	copy(buf[LengthPrefixSize:], block)

	_, writeTimeout, _ := t.timeouts()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(deadline(writeTimeout)); err != nil {
		return classify(err)
	}
	if _, err := t.conn.Write(buf); err != nil {
		return classify(err)
	}
	return nil
}

// ReadSizedBlock blocks until a full block is available.
func (t *StreamTransport) ReadSizedBlock() ([]byte, error) {
	readTimeout, _, _ := t.timeouts()
	if err := t.conn.SetReadDeadline(deadline(readTimeout)); err != nil {
		return nil, classify(err)
	}

	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(t.reader, prefix[:]); err != nil {
		return nil, classify(err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxBlockSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlockTooLarge, size)
	}

	block := make([]byte, size)
	if _, err := io.ReadFull(t.reader, block); err != nil {
		return nil, classify(err)
	}
	return block, nil
}

func (t *StreamTransport) WriteLine(line string) error {
	_, _, lineTimeout := t.timeouts()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(deadline(lineTimeout)); err != nil {
		return classify(err)
	}
	defer t.conn.SetWriteDeadline(time.Time{})

	if _, err := io.WriteString(t.conn, strings.TrimRight(line, "\n")+"\n"); err != nil {
		return classify(err)
	}
	return nil
}

// ReadLine reads up to MaxLineLength bytes looking for the newline.
func (t *StreamTransport) ReadLine() (string, error) {
	_, _, lineTimeout := t.timeouts()
	if err := t.conn.SetReadDeadline(deadline(lineTimeout)); err != nil {
		return "", classify(err)
	}
	defer t.conn.SetReadDeadline(time.Time{})

	var line []byte
	for {
		chunk, err := t.reader.ReadSlice('\n')
		if len(line)+len(chunk) > MaxLineLength {
			return "", fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, MaxLineLength)
		}
		line = append(line, chunk...)
		if err == nil {
			break
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return "", classify(err)
		}
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

func (t *StreamTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *StreamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}
