package network

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
	"github.com/ZentaChain/zentalk-relay/pkg/transport"
)

// ErrSendQueueFull is returned by Push when the peer is not keeping up with
// its outbound queue
var ErrSendQueueFull = errors.New("session send queue full")

// SessionState is the lifecycle of one relay connection
type SessionState int32

const (
	SessionAccepted SessionState = iota
	SessionAuthenticating
	SessionReady
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionAccepted:
		return "Accepted"
	case SessionAuthenticating:
		return "Authenticating"
	case SessionReady:
		return "Ready"
	case SessionClosed:
		return "Closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// Session is the relay's view of one live connection. It is owned by the
// goroutine serving that connection; other goroutines only Push to it.
type Session struct {
	ID        string
	CreatedAt time.Time

	transport transport.Transport
	state     atomic.Int32

	// set once, before the session is Ready
	identity atomic.Pointer[Identity]

	// serializes store drains for this session
	drainMu sync.Mutex

	// outbound envelopes, written by the session's write pump. sendMu makes
	// Push and Close exclusive so nothing is queued after done closes.
	sendMu sync.Mutex
	send   chan *protocol.Envelope
	done   chan struct{}
	closed bool
}

func newSession(t transport.Transport, queueSize int) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		transport: t,
		send:      make(chan *protocol.Envelope, queueSize),
		done:      make(chan struct{}),
	}
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

// Ready reports whether the handshake completed and the session is open
func (s *Session) Ready() bool {
	return s.State() == SessionReady
}

// Peer is the verified identity; zero before authentication
func (s *Session) Peer() protocol.PeerID {
	if id := s.identity.Load(); id != nil {
		return id.PeerID
	}
	return protocol.PeerID{}
}

func (s *Session) PublicKey() *rsa.PublicKey {
	if id := s.identity.Load(); id != nil {
		return id.PublicKey
	}
	return nil
}

func (s *Session) RemoteAddr() string {
	if addr := s.transport.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *Session) authenticated(id *Identity) {
	s.identity.Store(id)
	s.setState(SessionReady)
}

// Push queues env for the write pump without blocking. A full queue returns
// ErrSendQueueFull.
func (s *Session) Push(env *protocol.Envelope) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.closed {
		return transport.ErrConnectionClosed
	}
	select {
	case s.send <- env:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// write sends env on the calling goroutine, bounded by the transport's
// write timeout
func (s *Session) write(env *protocol.Envelope) error {
	if s.State() == SessionClosed {
		return transport.ErrConnectionClosed
	}
	return protocol.WriteMessage(s.transport, env)
}

// unsent returns whatever is still queued. Only meaningful after Close.
func (s *Session) unsent() []*protocol.Envelope {
	var out []*protocol.Envelope
	for {
		select {
		case env := <-s.send:
			out = append(out, env)
		default:
			return out
		}
	}
}

// Close marks the session closed and releases its transport
func (s *Session) Close() error {
	s.sendMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.sendMu.Unlock()

	s.setState(SessionClosed)
	return s.transport.Close()
}
