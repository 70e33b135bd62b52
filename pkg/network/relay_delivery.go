package network

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
)

// route queues env on its recipient's live session or stores it. It never
// blocks on the recipient's connection.
func (rs *RelayServer) route(from *Session, env *protocol.Envelope, log logrus.FieldLogger) {
	if !env.From.IsZero() && env.From != from.Peer() {
		rs.envelopesRejected.Add(1)
		log.WithField("claimed", env.From.Short()).Warn("Envelope origin does not match session identity, dropping")
		return
	}

	log = log.WithField("to", env.To.Short())

	if target, ok := rs.sessions.Lookup(env.To); ok && target.Ready() {
		err := target.Push(env)
		if err == nil {
			log.Debug("Envelope queued for live delivery")
			return
		}
		log.WithError(err).Info("Live delivery unavailable, storing envelope")
		if errors.Is(err, ErrSendQueueFull) {
			// its write pump stores whatever is still queued
			target.Close()
		}
	}

	rs.storeEnvelope(env, log)
}

// storeEnvelope keeps env for its recipient's next session
func (rs *RelayServer) storeEnvelope(env *protocol.Envelope, log logrus.FieldLogger) {
	if err := rs.store.AddMessage(env); err != nil {
		log.WithError(err).Warn("Failed to store envelope")
		return
	}
	rs.envelopesStored.Add(1)
	log.Debug("Envelope stored for offline peer")

	// The recipient may have registered and drained between the lookup and
	// the store; drain again so nothing waits for its next reconnect.
	if target, ok := rs.sessions.Lookup(env.To); ok && target.Ready() {
		if rs.track() {
			go func() {
				defer rs.wg.Done()
				rs.drain(target)
			}()
		}
	}
}

// writePump writes queued envelopes to sess until it closes. The envelope
// whose write fails, and everything still queued, goes back to the store.
func (rs *RelayServer) writePump(sess *Session, log logrus.FieldLogger) {
	defer rs.wg.Done()

	for {
		select {
		case env := <-sess.send:
			if err := sess.write(env); err != nil {
				log.WithError(err).Info("Live delivery failed, closing session")
				sess.Close()
				rs.storeEnvelope(env, log)
				rs.storeUnsent(sess, log)
				return
			}
			rs.envelopesRelayed.Add(1)
			log.WithField("to", env.To.Short()).Debug("Envelope relayed")

		case <-sess.done:
			rs.storeUnsent(sess, log)
			return
		}
	}
}

func (rs *RelayServer) storeUnsent(sess *Session, log logrus.FieldLogger) {
	unsent := sess.unsent()
	if len(unsent) == 0 {
		return
	}
	log.WithField("count", len(unsent)).Info("Storing envelopes queued for a closed session")
	for _, env := range unsent {
		rs.storeEnvelope(env, log)
	}
}

// drain writes every stored envelope for sess's peer, removing each one once
// written. The first write failure closes the session; the rest stays stored.
func (rs *RelayServer) drain(sess *Session) {
	sess.drainMu.Lock()
	defer sess.drainMu.Unlock()

	if !sess.Ready() {
		return
	}

	log := rs.log.WithFields(logrus.Fields{"session": sess.ID, "peer": sess.Peer().Short()})

	envelopes, err := rs.store.GetMessages(sess.Peer())
	if err != nil {
		log.WithError(err).Warn("Failed to read stored envelopes")
		return
	}
	if len(envelopes) == 0 {
		return
	}

	delivered := 0
	for _, env := range envelopes {
		if err := sess.write(env); err != nil {
			log.WithError(err).Info("Drain interrupted, keeping remaining envelopes")
			sess.Close()
			break
		}
		if err := rs.store.RemoveMessage(env); err != nil {
			log.WithError(err).Warn("Failed to remove delivered envelope")
		}
		delivered++
	}

	log.WithFields(logrus.Fields{"delivered": delivered, "pending": len(envelopes)}).Info("Delivered stored envelopes")
}
