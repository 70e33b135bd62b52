package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/zentalk-relay/pkg/crypto"
	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
	"github.com/ZentaChain/zentalk-relay/pkg/storage"
)

const (
	// DefaultHandshakeTimeout bounds each handshake read on the relay
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultSessionWriteTimeout bounds each envelope write to a peer
	DefaultSessionWriteTimeout = 10 * time.Second

	// DefaultSendQueueSize is the number of envelopes queued per session
	// before the relay gives up on the peer and stores instead
	DefaultSendQueueSize = 64
)

// RelayConfig configures a RelayServer
type RelayConfig struct {
	// ListenAddr accepts raw TCP sessions, e.g. ":7070". Empty disables it.
	ListenAddr string

	// HTTPAddr serves the diagnostic routes and WebSocket sessions. Empty
	// disables it; Handler still works.
	HTTPAddr string

	ChallengeAlgorithm crypto.Algorithm
	HandshakeTimeout   time.Duration

	// SessionReadTimeout bounds reads on Ready sessions. Zero means none.
	SessionReadTimeout time.Duration

	// SessionWriteTimeout bounds every envelope write. A peer that does not
	// accept one in time is disconnected and its envelopes stored.
	SessionWriteTimeout time.Duration
	SendQueueSize       int

	Logger logrus.FieldLogger
}

// RelayServer authenticates peers and relays envelopes between them,
// storing envelopes for peers that are offline
type RelayServer struct {
	cfg   RelayConfig
	log   logrus.FieldLogger
	store storage.MessageStore

	sessions SessionRegistry
	tracked  sync.Map // session ID -> *Session, every open connection

	connections *storage.ConnectionRegistry

	listenersMu sync.RWMutex
	listeners   []PeerEventListener

	router     *gin.Engine
	listener   net.Listener
	httpLn     net.Listener
	httpServer *http.Server
	startTime  time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	closing bool

	// Statistics
	envelopesRelayed  atomic.Uint64
	envelopesStored   atomic.Uint64
	envelopesRejected atomic.Uint64
	authFailures      atomic.Uint64
}

// ConnectionState is one row of the diagnostic listing
type ConnectionState struct {
	SessionID string          `json:"session_id"`
	PeerID    protocol.PeerID `json:"-"`
	Identity  string          `json:"identity"`
	Remote    string          `json:"remote"`
	Ready     bool            `json:"ready"`
}

// RelayStats is the /stats payload
type RelayStats struct {
	EnvelopesRelayed  uint64 `json:"envelopes_relayed"`
	EnvelopesStored   uint64 `json:"envelopes_stored"`
	EnvelopesRejected uint64 `json:"envelopes_rejected"`
	AuthFailures      uint64 `json:"auth_failures"`
	LiveSessions      int    `json:"live_sessions"`
	Connections       int    `json:"connections"`
	PendingEnvelopes  int    `json:"pending_envelopes"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
}

// NewRelayServer creates a relay over store
func NewRelayServer(cfg RelayConfig, store storage.MessageStore) *RelayServer {
	if cfg.ChallengeAlgorithm == "" {
		cfg.ChallengeAlgorithm = crypto.AlgorithmRSAPSS
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.SessionWriteTimeout <= 0 {
		cfg.SessionWriteTimeout = DefaultSessionWriteTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultSendQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs := &RelayServer{
		cfg:       cfg,
		log:       cfg.Logger.WithField("component", "relay"),
		store:     store,
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	rs.router = rs.newRouter()
	return rs
}

// AttachConnectionRegistry records every successful authentication in reg
func (rs *RelayServer) AttachConnectionRegistry(reg *storage.ConnectionRegistry) {
	rs.connections = reg
}

// Start binds the configured listeners and serves in the background. Only a
// bind failure is returned; per-connection errors never stop the relay.
func (rs *RelayServer) Start() error {
	if rs.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", rs.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", rs.cfg.ListenAddr, err)
		}
		rs.listener = ln
		rs.log.WithField("addr", ln.Addr().String()).Info("Relay listening for TCP sessions")

		rs.wg.Add(1)
		go rs.acceptLoop(ln)
	}

	if rs.cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", rs.cfg.HTTPAddr)
		if err != nil {
			if rs.listener != nil {
				rs.listener.Close()
			}
			return fmt.Errorf("failed to listen on %s: %w", rs.cfg.HTTPAddr, err)
		}
		rs.httpLn = ln
		rs.httpServer = &http.Server{
			Handler:           rs.router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		rs.log.WithField("addr", ln.Addr().String()).Info("Relay serving HTTP and WebSocket")

		rs.wg.Add(1)
		go func() {
			defer rs.wg.Done()
			if err := rs.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rs.log.WithError(err).Error("HTTP server stopped")
			}
		}()
	}

	return nil
}

// Stop closes the listeners and every open session, then waits for the
// connection goroutines to finish
func (rs *RelayServer) Stop() error {
	rs.mu.Lock()
	rs.closing = true
	rs.mu.Unlock()
	rs.cancel()

	var firstErr error
	if rs.listener != nil {
		if err := rs.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			firstErr = err
		}
	}
	if rs.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rs.httpServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	rs.tracked.Range(func(_, v any) bool {
		v.(*Session).Close()
		return true
	})

	rs.wg.Wait()
	rs.log.Info("Relay stopped")
	return firstErr
}

// track reserves a slot for a connection goroutine; false once stopping
func (rs *RelayServer) track() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closing {
		return false
	}
	rs.wg.Add(1)
	return true
}

// Addr is the bound TCP session address, nil when not listening
func (rs *RelayServer) Addr() net.Addr {
	if rs.listener == nil {
		return nil
	}
	return rs.listener.Addr()
}

// HTTPAddr is the bound HTTP address, nil when not serving
func (rs *RelayServer) HTTPAddr() net.Addr {
	if rs.httpLn == nil {
		return nil
	}
	return rs.httpLn.Addr()
}

// Handler exposes the HTTP routes, including the WebSocket upgrades
func (rs *RelayServer) Handler() http.Handler {
	return rs.router
}

// Store returns the backing message store
func (rs *RelayServer) Store() storage.MessageStore {
	return rs.store
}

// IsOnline reports whether peer has a live session
func (rs *RelayServer) IsOnline(peer protocol.PeerID) bool {
	_, ok := rs.sessions.Lookup(peer)
	return ok
}

// ConnectionStates lists every open connection, authenticated or not,
// ordered by identity
func (rs *RelayServer) ConnectionStates() []ConnectionState {
	var states []ConnectionState
	rs.tracked.Range(func(_, v any) bool {
		s := v.(*Session)
		st := ConnectionState{
			SessionID: s.ID,
			PeerID:    s.Peer(),
			Remote:    s.RemoteAddr(),
			Ready:     s.Ready(),
		}
		if st.PeerID.IsZero() {
			st.Identity = "unauthenticated@" + st.Remote
		} else {
			st.Identity = st.PeerID.String()
		}
		states = append(states, st)
		return true
	})

	sort.Slice(states, func(i, j int) bool {
		if states[i].Identity != states[j].Identity {
			return states[i].Identity < states[j].Identity
		}
		return states[i].SessionID < states[j].SessionID
	})
	return states
}

// Stats returns relay statistics
func (rs *RelayServer) Stats() RelayStats {
	connections := 0
	rs.tracked.Range(func(_, _ any) bool {
		connections++
		return true
	})

	pending := -1
	if qs, ok := rs.store.(storage.QueueSizer); ok {
		if n, err := qs.QueueSize(); err == nil {
			pending = n
		} else {
			rs.log.WithError(err).Debug("Queue size unavailable")
		}
	}

	return RelayStats{
		PendingEnvelopes:  pending,
		EnvelopesRelayed:  rs.envelopesRelayed.Load(),
		EnvelopesStored:   rs.envelopesStored.Load(),
		EnvelopesRejected: rs.envelopesRejected.Load(),
		AuthFailures:      rs.authFailures.Load(),
		LiveSessions:      rs.sessions.Len(),
		Connections:       connections,
		UptimeSeconds:     int64(time.Since(rs.startTime).Seconds()),
	}
}
