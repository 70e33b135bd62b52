package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamPair(t *testing.T) (*StreamTransport, *StreamTransport) {
	t.Helper()
	a, b := net.Pipe()
	ta, tb := NewStreamTransport(a), NewStreamTransport(b)
	t.Cleanup(func() {
		ta.Close()
		tb.Close()
	})
	return ta, tb
}

func TestStreamSizedBlockRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		block []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("hello relay")},
		{"binary", bytes.Repeat([]byte{0x00, 0xff, 0x10}, 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := streamPair(t)

			errCh := make(chan error, 1)
			go func() { errCh <- a.WriteSizedBlock(tt.block) }()

			got, err := b.ReadSizedBlock()
			require.NoError(t, err)
			require.NoError(t, <-errCh)
			assert.Equal(t, len(tt.block), len(got))
			assert.True(t, bytes.Equal(tt.block, got))
		})
	}
}

func TestStreamPreservesOrder(t *testing.T) {
	a, b := streamPair(t)

	go func() {
		for i := 0; i < 20; i++ {
			a.WriteSizedBlock([]byte{byte(i)})
		}
	}()

	for i := 0; i < 20; i++ {
		got, err := b.ReadSizedBlock()
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, got)
	}
}

func TestStreamLengthPrefixIsBigEndian(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	tr := NewStreamTransport(server)
	defer tr.Close()

	go tr.WriteSizedBlock([]byte("abc"))

	raw := make([]byte, 7)
	_, err := client.Read(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 3, 'a', 'b', 'c'}, raw)
}

func TestStreamRejectsOversizedBlock(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	tr := NewStreamTransport(server)
	defer tr.Close()

	go client.Write([]byte{0xff, 0xff, 0xff, 0xff})

	_, err := tr.ReadSizedBlock()
	assert.ErrorIs(t, err, ErrBlockTooLarge)
}

func TestStreamClosedPeer(t *testing.T) {
	a, b := streamPair(t)
	require.NoError(t, a.Close())

	_, err := b.ReadSizedBlock()
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestStreamReadTimeout(t *testing.T) {
	_, b := streamPair(t)
	b.SetReadTimeout(50 * time.Millisecond)

	start := time.Now()
	_, err := b.ReadSizedBlock()
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStreamLines(t *testing.T) {
	a, b := streamPair(t)

	go a.WriteLine("hello")

	line, err := b.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "hello", line)
}

func TestStreamReadLineTimeout(t *testing.T) {
	_, b := streamPair(t)
	b.SetLineTimeout(50 * time.Millisecond)

	_, err := b.ReadLine()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestStreamReadLineTooLong(t *testing.T) {
	client, server := net.Pipe()
	tr := NewStreamTransport(server)
	t.Cleanup(func() {
		client.Close()
		tr.Close()
	})

	go client.Write(bytes.Repeat([]byte("a"), MaxLineLength+1))

	_, err := tr.ReadLine()
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestStreamWriteTimeout(t *testing.T) {
	a, _ := streamPair(t)
	a.SetWriteTimeout(50 * time.Millisecond)

	start := time.Now()
	err := a.WriteSizedBlock([]byte("nobody reads this"))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStreamDoubleClose(t *testing.T) {
	a, _ := streamPair(t)
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}

// wsPair starts an httptest server that upgrades one connection and hands
// the server side back over a channel.
func wsPair(t *testing.T) (*WebSocketTransport, *WebSocketTransport) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverSide := make(chan *WebSocketTransport, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- NewWebSocketTransport(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := DialWebSocket(context.Background(), url)
	require.NoError(t, err)

	server := <-serverSide
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestWebSocketSizedBlockRoundTrip(t *testing.T) {
	client, server := wsPair(t)

	require.NoError(t, client.WriteSizedBlock([]byte("first")))
	require.NoError(t, client.WriteSizedBlock([]byte("second")))

	got, err := server.ReadSizedBlock()
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)

	got, err = server.ReadSizedBlock()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestWebSocketLines(t *testing.T) {
	client, server := wsPair(t)

	require.NoError(t, server.WriteLine("relay ready"))
	line, err := client.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "relay ready", line)
}

func TestWebSocketClosedPeer(t *testing.T) {
	client, server := wsPair(t)
	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())

	_, err := server.ReadSizedBlock()
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestWebSocketReadTimeout(t *testing.T) {
	client, _ := wsPair(t)
	client.SetReadTimeout(50 * time.Millisecond)

	_, err := client.ReadSizedBlock()
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
}

func TestWebSocketRejectsWrongFrameType(t *testing.T) {
	client, server := wsPair(t)
	server.SetReadTimeout(time.Second)
	server.SetLineTimeout(time.Second)

	require.NoError(t, client.WriteLine("not a block"))
	_, err := server.ReadSizedBlock()
	assert.ErrorIs(t, err, ErrUnexpectedFrame)

	require.NoError(t, client.WriteSizedBlock([]byte("not a line")))
	_, err = server.ReadLine()
	assert.ErrorIs(t, err, ErrUnexpectedFrame)
}

func TestDialRejectsUnknownScheme(t *testing.T) {
	_, err := Dial(context.Background(), "udp://127.0.0.1:1")
	assert.Error(t, err)
}

func TestDialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	tr, err := Dial(context.Background(), "tcp://"+ln.Addr().String())
	require.NoError(t, err)
	defer tr.Close()

	server := NewStreamTransport(<-accepted)
	defer server.Close()

	require.NoError(t, tr.WriteSizedBlock([]byte("ping")))
	got, err := server.ReadSizedBlock()
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)
}
