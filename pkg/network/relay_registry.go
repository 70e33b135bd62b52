package network

import (
	"sync"

	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
)

// SessionRegistry maps each identity to its single live session.
// Registering swaps atomically, so two sessions for one identity are never
// live at the same time.
type SessionRegistry struct {
	sessions sync.Map // protocol.PeerID -> *Session
}

// Register makes s the live session for its peer and returns the session it
// replaced, if any. The caller closes the replaced session.
func (r *SessionRegistry) Register(s *Session) *Session {
	prev, loaded := r.sessions.Swap(s.Peer(), s)
	if !loaded {
		return nil
	}
	return prev.(*Session)
}

// Lookup returns the live session for peer
func (r *SessionRegistry) Lookup(peer protocol.PeerID) (*Session, bool) {
	v, ok := r.sessions.Load(peer)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Remove unregisters s only if it is still the live session for its peer
func (r *SessionRegistry) Remove(s *Session) bool {
	return r.sessions.CompareAndDelete(s.Peer(), s)
}

// Len returns the number of live sessions
func (r *SessionRegistry) Len() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Range calls fn for every live session until it returns false
func (r *SessionRegistry) Range(fn func(*Session) bool) {
	r.sessions.Range(func(_, v any) bool {
		return fn(v.(*Session))
	})
}
