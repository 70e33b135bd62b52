package network

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
	"github.com/ZentaChain/zentalk-relay/pkg/transport"
)

// run connects, serves the connection until it drops, and reconnects after
// the policy's delay. It stops on Close or an authentication rejection.
func (c *Client) run() {
	defer c.loop.Done()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.signalLocked()
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		connected, err := c.connectOnce()
		if c.ctx.Err() != nil {
			return
		}

		if errors.Is(err, ErrAuthenticationRejected) {
			c.log.WithError(err).Error("Relay rejected our identity, not retrying")
			c.mu.Lock()
			c.fatal = err
			c.mu.Unlock()
			c.setState(ClientDisconnected)
			return
		}

		if connected {
			attempt = 0
		}
		c.setState(ClientDisconnected)

		delay := c.cfg.RetryPolicy(attempt)
		attempt++

		c.setState(ClientRetrying)
		c.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("Connection lost, reconnecting")

		if !c.wait(delay) {
			return
		}
	}
}

// wait sleeps for d unless the client is closed first
func (c *Client) wait(d time.Duration) bool {
	if d <= 0 {
		return c.ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// connectOnce runs a single connection attempt. connected reports whether
// the handshake succeeded before the connection ended.
func (c *Client) connectOnce() (connected bool, err error) {
	c.setState(ClientConnecting)

	t, err := c.cfg.Dialer.Dial(c.ctx)
	if err != nil {
		return false, err
	}
	if !c.attach(t) {
		t.Close()
		return false, ErrClientClosed
	}
	defer c.detach(t)

	c.setState(ClientAuthenticating)
	t.SetReadTimeout(c.cfg.HandshakeTimeout)
	t.SetWriteTimeout(c.cfg.HandshakeTimeout)
	if err := NewClientHandshake(c.cfg.Keys).Run(t); err != nil {
		return false, err
	}
	t.SetReadTimeout(0)

	c.setState(ClientConnected)
	c.log.WithField("remote", t.RemoteAddr()).Info("Connected to relay")

	stop := make(chan struct{})
	defer close(stop)
	if c.cfg.KeepaliveInterval > 0 {
		go c.keepaliveLoop(t, stop)
	}

	return true, c.readLoop(t)
}

func (c *Client) readLoop(t transport.Transport) error {
	for {
		p, err := protocol.ReadPacket(t)
		if err != nil {
			return err
		}

		switch p.Header.Type {
		case protocol.MsgTypeEnvelope:
			env, err := protocol.DecodeEnvelope(p.Body)
			if err != nil {
				return err
			}
			c.deliver(env)

		case protocol.MsgTypePing:
			if err := protocol.WriteMessage(t, &protocol.Pong{}); err != nil {
				return err
			}

		case protocol.MsgTypePong:

		default:
			return fmt.Errorf("%w: %s after authentication", protocol.ErrUnexpectedType,
				protocol.MsgTypeName(p.Header.Type))
		}
	}
}

// keepaliveLoop pings the relay until stop closes. A failed ping closes t so
// the read loop returns and the client reconnects.
func (c *Client) keepaliveLoop(t transport.Transport, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := protocol.WriteMessage(t, &protocol.Ping{}); err != nil {
				c.log.WithError(err).Debug("Keepalive ping failed")
				t.Close()
				return
			}
		}
	}
}
