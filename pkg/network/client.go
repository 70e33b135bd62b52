package network

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/zentalk-relay/pkg/crypto"
	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
	"github.com/ZentaChain/zentalk-relay/pkg/transport"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrClientClosed     = errors.New("client closed")
	ErrNoMessageHandler = errors.New("no message handler registered")
)

const (
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultMaxRetryDelay     = 30 * time.Second
	DefaultDedupeCacheSize   = 1024
)

// ClientState is the client's connection lifecycle
type ClientState int

const (
	ClientDisconnected ClientState = iota
	ClientConnecting
	ClientAuthenticating
	ClientConnected
	ClientRetrying
	ClientClosed
)

func (s ClientState) String() string {
	switch s {
	case ClientDisconnected:
		return "Disconnected"
	case ClientConnecting:
		return "Connecting"
	case ClientAuthenticating:
		return "Authenticating"
	case ClientConnected:
		return "Connected"
	case ClientRetrying:
		return "Retrying"
	case ClientClosed:
		return "Closed"
	default:
		return fmt.Sprintf("ClientState(%d)", int(s))
	}
}

// MessageHandler receives every verified inbound message. It is called from
// the client's read goroutine, one message at a time.
type MessageHandler interface {
	HandleMessage(from, to protocol.PeerID, plaintext []byte)
}

// MessageHandlerFunc adapts a function to MessageHandler
type MessageHandlerFunc func(from, to protocol.PeerID, plaintext []byte)

func (f MessageHandlerFunc) HandleMessage(from, to protocol.PeerID, plaintext []byte) {
	f(from, to, plaintext)
}

// ClientConfig configures a Client. Keys and Dialer are required.
type ClientConfig struct {
	Keys   *crypto.KeyPair
	Dialer Dialer

	// RetryPolicy picks the wait before each reconnect attempt. Defaults to
	// exponential backoff from one second, capped at DefaultMaxRetryDelay.
	RetryPolicy RetryPolicy

	// KeepaliveInterval between pings while connected. Negative disables.
	KeepaliveInterval time.Duration
	HandshakeTimeout  time.Duration

	Handler MessageHandler

	// Anonymous leaves Envelope.From zero on outgoing messages
	Anonymous bool

	// DedupeCacheSize bounds the envelope keys remembered for duplicate
	// suppression
	DedupeCacheSize int

	// StateListener, when set, sees every state transition in order
	StateListener func(from, to ClientState)

	Logger logrus.FieldLogger
}

// Client keeps one peer connected to a relay, reconnecting according to its
// RetryPolicy until closed
type Client struct {
	cfg    ClientConfig
	log    logrus.FieldLogger
	peerID protocol.PeerID

	// read goroutine only
	seen *lru.Cache

	ctx    context.Context
	cancel context.CancelFunc
	loop   sync.WaitGroup

	mu      sync.Mutex
	state   ClientState
	changed chan struct{} // closed on every state change
	t       transport.Transport
	running bool
	closed  bool
	fatal   error
}

// NewClient creates a disconnected client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Keys == nil || cfg.Keys.Private == nil {
		return nil, errors.New("client requires a key pair")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("client requires a dialer")
	}
	if cfg.RetryPolicy == nil {
		cfg.RetryPolicy = RetryExponentialBackoff(DefaultInitialRetryDelay, DefaultMaxRetryDelay)
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.DedupeCacheSize <= 0 {
		cfg.DedupeCacheSize = DefaultDedupeCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	peerID, err := protocol.PeerIDFromPublicKey(cfg.Keys.Public)
	if err != nil {
		return nil, err
	}
	seen, err := lru.New(cfg.DedupeCacheSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		log:     cfg.Logger.WithFields(logrus.Fields{"component": "client", "peer": peerID.Short()}),
		peerID:  peerID,
		seen:    seen,
		ctx:     ctx,
		cancel:  cancel,
		changed: make(chan struct{}),
	}, nil
}

// PeerID is the client's own routing address
func (c *Client) PeerID() protocol.PeerID {
	return c.peerID
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	from := c.state
	if from == s || from == ClientClosed {
		c.mu.Unlock()
		return
	}
	c.log.WithFields(logrus.Fields{"from": from, "to": s}).Debug("Client state changed")
	c.state = s
	c.signalLocked()
	c.mu.Unlock()

	if c.cfg.StateListener != nil {
		c.cfg.StateListener(from, s)
	}
}

func (c *Client) signalLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Connect starts the connection loop if it is not running and waits until
// the client is Connected. An authentication rejection stops the loop and is
// returned; other failures are retried until ctx ends.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if !c.running {
		c.running = true
		c.fatal = nil
		c.loop.Add(1)
		go c.run()
	}
	c.mu.Unlock()

	for {
		c.mu.Lock()
		state, fatal, running, closed, changed := c.state, c.fatal, c.running, c.closed, c.changed
		c.mu.Unlock()

		switch {
		case state == ClientConnected:
			return nil
		case closed:
			return ErrClientClosed
		case fatal != nil:
			return fatal
		case !running:
			return ErrNotConnected
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send seals plaintext for the holder of to under a fresh message ID and
// writes it to the relay
func (c *Client) Send(to *rsa.PublicKey, plaintext []byte) error {
	return c.SendWithID(to, uuid.NewString(), plaintext)
}

// SendWithID is Send for a caller-chosen message ID. Sending the same ID again,
// after a failed Send or a reconnect, carries the same dedupe key, so the
// relay stores it once and the recipient handles it once.
func (c *Client) SendWithID(to *rsa.PublicKey, messageID string, plaintext []byte) error {
	c.mu.Lock()
	state, t := c.state, c.t
	c.mu.Unlock()

	if state == ClientClosed {
		return ErrClientClosed
	}
	if state != ClientConnected || t == nil {
		return ErrNotConnected
	}

	env, err := protocol.Seal(c.cfg.Keys, to, []byte(messageID), plaintext, c.cfg.Anonymous)
	if err != nil {
		return err
	}
	if err := protocol.WriteMessage(t, env); err != nil {
		return fmt.Errorf("failed to send envelope: %w", err)
	}
	return nil
}

// Close stops the loop, cancelling any pending retry wait, and releases the
// transport
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.signalLocked()
	t := c.t
	c.mu.Unlock()

	c.cancel()
	if t != nil {
		t.Close()
	}
	c.loop.Wait()

	c.setState(ClientClosed)
	c.log.Info("Client closed")
	return nil
}

// attach publishes t as the current transport unless the client is closing
func (c *Client) attach(t transport.Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.t = t
	return true
}

func (c *Client) detach(t transport.Transport) {
	c.mu.Lock()
	if c.t == t {
		c.t = nil
	}
	c.mu.Unlock()
	t.Close()
}

// deliver opens env and hands it to the handler. Failures drop only this
// envelope.
func (c *Client) deliver(env *protocol.Envelope) {
	key := env.KeyString()
	log := c.log.WithField("key", fmt.Sprintf("%x", env.Key[:min(len(env.Key), 8)]))

	if c.seen.Contains(key) {
		log.Debug("Duplicate envelope suppressed")
		return
	}

	opened, err := protocol.Open(c.cfg.Keys, env)
	if err != nil {
		if crypto.IsCryptoError(err) {
			log.WithError(err).Warn("Dropping envelope that failed to open")
		} else {
			log.WithError(err).Error("Dropping envelope")
		}
		return
	}
	c.seen.Add(key, struct{}{})

	if c.cfg.Handler == nil {
		log.WithError(ErrNoMessageHandler).Warn("Dropping inbound message")
		return
	}
	c.cfg.Handler.HandleMessage(opened.From, opened.To, opened.Plaintext)
}
