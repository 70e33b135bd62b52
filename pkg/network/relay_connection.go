package network

import (
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
	"github.com/ZentaChain/zentalk-relay/pkg/transport"
)

// acceptLoop accepts incoming connections
func (rs *RelayServer) acceptLoop(ln net.Listener) {
	defer rs.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			rs.log.WithError(err).Error("Accept error")
			return
		}

		if !rs.track() {
			conn.Close()
			return
		}
		go func() {
			defer rs.wg.Done()
			rs.serveTransport(transport.NewStreamTransport(conn))
		}()
	}
}

// serveTransport runs one connection through Accepted → Authenticating →
// Ready → Closed. It returns when the connection is gone.
func (rs *RelayServer) serveTransport(t transport.Transport) {
	sess := newSession(t, rs.cfg.SendQueueSize)
	log := rs.log.WithFields(logrus.Fields{
		"session": sess.ID,
		"remote":  sess.RemoteAddr(),
	})

	rs.tracked.Store(sess.ID, sess)
	defer rs.tracked.Delete(sess.ID)
	defer rs.closeSession(sess, log)

	if rs.ctx.Err() != nil {
		return
	}

	log.Debug("New connection")

	sess.setState(SessionAuthenticating)
	t.SetReadTimeout(rs.cfg.HandshakeTimeout)
	t.SetWriteTimeout(rs.cfg.SessionWriteTimeout)

	id, err := NewServerHandshake(rs.cfg.ChallengeAlgorithm).Run(t)
	if err != nil {
		rs.authFailures.Add(1)
		log.WithError(err).Warn("Handshake failed")
		return
	}
	t.SetReadTimeout(rs.cfg.SessionReadTimeout)

	sess.authenticated(id)
	log = log.WithField("peer", id.PeerID.Short())

	if prev := rs.sessions.Register(sess); prev != nil {
		log.WithField("replaced", prev.ID).Info("Peer reconnected, closing previous session")
		prev.Close()
	}
	log.Info("Peer authenticated")

	if !rs.track() {
		return
	}
	go rs.writePump(sess, log)

	rs.recordConnect(sess, log)
	rs.notifyOnline(id.PeerID)

	rs.drain(sess)
	rs.readLoop(sess, log)
}

func (rs *RelayServer) closeSession(sess *Session, log logrus.FieldLogger) {
	sess.Close()
	if sess.Peer().IsZero() {
		return
	}
	if rs.sessions.Remove(sess) {
		rs.notifyOffline(sess.Peer())
		log.Info("Peer disconnected")
	}
}

func (rs *RelayServer) recordConnect(sess *Session, log logrus.FieldLogger) {
	if rs.connections == nil {
		return
	}
	addr := sess.transport.RemoteAddr()
	if addr == nil {
		return
	}
	if err := rs.connections.RecordConnect(sess.Peer(), addr, time.Now()); err != nil {
		log.WithError(err).Debug("Connection not recorded")
	}
}

// readLoop relays envelopes until the transport fails or a packet breaks
// the protocol
func (rs *RelayServer) readLoop(sess *Session, log logrus.FieldLogger) {
	for {
		p, err := protocol.ReadPacket(sess.transport)
		if err != nil {
			rs.logReadError(log, err)
			return
		}

		switch p.Header.Type {
		case protocol.MsgTypeEnvelope:
			env, err := protocol.DecodeEnvelope(p.Body)
			if err != nil {
				log.WithError(err).Warn("Malformed envelope, closing session")
				return
			}
			rs.route(sess, env, log)

		case protocol.MsgTypePing:
			if err := protocol.WriteMessage(sess.transport, &protocol.Pong{}); err != nil {
				rs.logReadError(log, err)
				return
			}

		case protocol.MsgTypePong:

		default:
			log.WithField("type", protocol.MsgTypeName(p.Header.Type)).Warn("Unexpected packet, closing session")
			return
		}
	}
}

func (rs *RelayServer) logReadError(log logrus.FieldLogger, err error) {
	switch {
	case errors.Is(err, transport.ErrConnectionClosed):
		log.Debug("Connection closed")
	case errors.Is(err, protocol.ErrProtocolViolation), errors.Is(err, transport.ErrUnexpectedFrame):
		log.WithError(err).Warn("Protocol violation, closing session")
	default:
		log.WithError(err).Info("Session ended")
	}
}
