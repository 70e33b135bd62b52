package network

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
	"github.com/ZentaChain/zentalk-relay/pkg/transport"
)

// Identification is returned by GET /
const Identification = "ZenTalk relay"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// peers authenticate in-band, the origin carries no meaning
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (rs *RelayServer) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(rs.log.WithField("component", "relay-http")))
	router.Use(corsMiddleware())

	router.GET("/", rs.handleIdentify)
	router.GET("/stats", rs.handleStats)

	// one protocol version is served under both mount points
	for _, prefix := range []string{"", "/v2"} {
		router.GET(prefix+"/connections", rs.handleConnections)
		router.GET(prefix+"/relay", rs.handleWebSocket)
	}

	return router
}

func (rs *RelayServer) handleIdentify(c *gin.Context) {
	c.String(http.StatusOK, "%s (protocol 0x%04x)\n", Identification, protocol.ProtocolVersion)
}

// handleConnections writes one "identity — Ready|Not Ready" line per open
// connection
func (rs *RelayServer) handleConnections(c *gin.Context) {
	var b strings.Builder
	for _, st := range rs.ConnectionStates() {
		status := "Not Ready"
		if st.Ready {
			status = "Ready"
		}
		fmt.Fprintf(&b, "%s — %s\n", st.Identity, status)
	}
	c.String(http.StatusOK, "%s", b.String())
}

func (rs *RelayServer) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, rs.Stats())
}

// handleWebSocket upgrades the request and serves it as a relay session on
// the request goroutine
func (rs *RelayServer) handleWebSocket(c *gin.Context) {
	if !rs.track() {
		c.String(http.StatusServiceUnavailable, "relay stopping\n")
		return
	}
	defer rs.wg.Done()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response
		rs.log.WithError(err).WithField("remote", c.ClientIP()).Debug("WebSocket upgrade failed")
		return
	}

	rs.serveTransport(transport.NewWebSocketTransport(conn))
}
