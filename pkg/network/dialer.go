package network

import (
	"context"
	"fmt"

	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
	"github.com/ZentaChain/zentalk-relay/pkg/transport"
)

// Dialer opens a fresh transport for each connection attempt
type Dialer interface {
	Dial(ctx context.Context) (transport.Transport, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context) (transport.Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (transport.Transport, error) {
	return f(ctx)
}

// PeerDirectory resolves a peer to its last known dialable address.
// storage.ConnectionRegistry implements it.
type PeerDirectory interface {
	LookupAddress(peer protocol.PeerID) (string, error)
}

// EndpointDialer dials a fixed endpoint: ws://, wss://, tcp:// or host:port
func EndpointDialer(endpoint string) Dialer {
	return DialerFunc(func(ctx context.Context) (transport.Transport, error) {
		return transport.Dial(ctx, endpoint)
	})
}

// DirectoryDialer looks peer up in dir on every attempt, so a relay that
// moved is found on the next retry
func DirectoryDialer(dir PeerDirectory, peer protocol.PeerID) Dialer {
	return DialerFunc(func(ctx context.Context) (transport.Transport, error) {
		addr, err := dir.LookupAddress(peer)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", peer.Short(), err)
		}
		return transport.Dial(ctx, addr)
	})
}
