package network

import (
	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
)

// PeerEventListener is told when a peer's session becomes ready and when it
// goes away. A peer replaced by a newer session of its own does not go
// offline.
type PeerEventListener interface {
	PeerOnline(peer protocol.PeerID)
	PeerOffline(peer protocol.PeerID)
}

// PeerEventFuncs adapts plain functions to PeerEventListener. Nil fields are
// skipped.
type PeerEventFuncs struct {
	OnOnline  func(peer protocol.PeerID)
	OnOffline func(peer protocol.PeerID)
}

func (f PeerEventFuncs) PeerOnline(peer protocol.PeerID) {
	if f.OnOnline != nil {
		f.OnOnline(peer)
	}
}

func (f PeerEventFuncs) PeerOffline(peer protocol.PeerID) {
	if f.OnOffline != nil {
		f.OnOffline(peer)
	}
}

// AddPeerListener registers l for session transitions
func (rs *RelayServer) AddPeerListener(l PeerEventListener) {
	rs.listenersMu.Lock()
	defer rs.listenersMu.Unlock()
	rs.listeners = append(rs.listeners, l)
}

func (rs *RelayServer) peerListeners() []PeerEventListener {
	rs.listenersMu.RLock()
	defer rs.listenersMu.RUnlock()
	return append([]PeerEventListener(nil), rs.listeners...)
}

func (rs *RelayServer) notifyOnline(peer protocol.PeerID) {
	for _, l := range rs.peerListeners() {
		l.PeerOnline(peer)
	}
}

func (rs *RelayServer) notifyOffline(peer protocol.PeerID) {
	for _, l := range rs.peerListeners() {
		l.PeerOffline(peer)
	}
}
