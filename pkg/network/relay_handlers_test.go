package network

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
)

func get(t *testing.T, rs *RelayServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	rs.Handler().ServeHTTP(w, req)
	return w
}

func TestIdentifyRoute(t *testing.T) {
	rs := startRelay(t, nil)

	w := get(t, rs, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), Identification)
}

func TestConnectionsRoute(t *testing.T) {
	alice, _, _ := testKeys(t)
	rs := startRelay(t, nil)

	authenticate(t, rs, alice)
	require.Eventually(t, func() bool { return rs.IsOnline(peerOf(t, alice)) }, waitFor, 10*time.Millisecond)

	for _, path := range []string{"/connections", "/v2/connections"} {
		t.Run(path, func(t *testing.T) {
			w := get(t, rs, path)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, peerOf(t, alice).String()+" — Ready\n", w.Body.String())
		})
	}
}

func TestConnectionsRouteEmpty(t *testing.T) {
	rs := startRelay(t, nil)

	w := get(t, rs, "/connections")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestStatsRoute(t *testing.T) {
	alice, bob, _ := testKeys(t)
	rs := startRelay(t, nil)
	authenticate(t, rs, alice)
	require.Eventually(t, func() bool { return rs.IsOnline(peerOf(t, alice)) }, waitFor, 10*time.Millisecond)

	require.NoError(t, rs.Store().AddMessage(&protocol.Envelope{
		To:      peerOf(t, bob),
		Key:     []byte("waiting"),
		Message: []byte("for bob"),
	}))

	w := get(t, rs, "/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var stats RelayStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.LiveSessions)
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 1, stats.PendingEnvelopes)
}

func TestUnknownRoute(t *testing.T) {
	rs := startRelay(t, nil)
	assert.Equal(t, http.StatusNotFound, get(t, rs, "/nope").Code)
}

func TestWebSocketSession(t *testing.T) {
	alice, bob, _ := testKeys(t)
	rs := startRelay(t, nil)

	srv := httptest.NewServer(rs.Handler())
	t.Cleanup(srv.Close)
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	handler, inbox := collector()
	b := newTestClient(t, base+"/v2/relay", bob, handler)
	connect(t, b)
	require.Eventually(t, func() bool { return rs.IsOnline(peerOf(t, bob)) }, waitFor, 10*time.Millisecond)

	// a TCP sender reaches a WebSocket recipient
	a := newTestClient(t, rs.Addr().String(), alice, nil)
	connect(t, a)
	require.NoError(t, a.Send(bob.Public, []byte("over websocket")))

	select {
	case msg := <-inbox:
		assert.Equal(t, "over websocket", msg.plaintext)
		assert.Equal(t, peerOf(t, alice), msg.from)
	case <-time.After(waitFor):
		t.Fatal("message not delivered over WebSocket")
	}
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	rs := startRelay(t, nil)
	w := get(t, rs, "/relay")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebSocketTextFrameClosesSession(t *testing.T) {
	rs := startRelay(t, nil)
	srv := httptest.NewServer(rs.Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/relay", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("blocks travel as binary")))

	conn.SetReadDeadline(time.Now().Add(waitFor))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return rs.Stats().AuthFailures == 1 }, waitFor, 10*time.Millisecond)
}
