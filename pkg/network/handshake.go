package network

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/ZentaChain/zentalk-relay/pkg/crypto"
	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
	"github.com/ZentaChain/zentalk-relay/pkg/transport"
)

// ErrAuthenticationRejected means the relay refused the client's proof of
// key ownership. It is fatal for the connection attempt.
var ErrAuthenticationRejected = errors.New("authentication rejected")

// ClientHandshakeState tracks the client side of the handshake
type ClientHandshakeState int

const (
	HandshakeConnecting ClientHandshakeState = iota
	HandshakeAwaitingChallenge
	HandshakeAwaitingResult
	HandshakeAuthenticated
	HandshakeRejected
)

func (s ClientHandshakeState) String() string {
	switch s {
	case HandshakeConnecting:
		return "Connecting"
	case HandshakeAwaitingChallenge:
		return "AwaitingChallenge"
	case HandshakeAwaitingResult:
		return "AwaitingResult"
	case HandshakeAuthenticated:
		return "Authenticated"
	case HandshakeRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("ClientHandshakeState(%d)", int(s))
	}
}

// ServerHandshakeState tracks the relay side of the handshake
type ServerHandshakeState int

const (
	HandshakeAwaitingConnect ServerHandshakeState = iota
	HandshakeChallengeSent
	HandshakeVerified
	HandshakeDenied
)

func (s ServerHandshakeState) String() string {
	switch s {
	case HandshakeAwaitingConnect:
		return "AwaitingConnect"
	case HandshakeChallengeSent:
		return "ChallengeSent"
	case HandshakeVerified:
		return "Authenticated"
	case HandshakeDenied:
		return "Rejected"
	default:
		return fmt.Sprintf("ServerHandshakeState(%d)", int(s))
	}
}

// Identity is a verified peer
type Identity struct {
	PeerID    protocol.PeerID
	PublicKey *rsa.PublicKey
}

// ClientHandshake proves ownership of a key pair to a relay
type ClientHandshake struct {
	keys  *crypto.KeyPair
	state ClientHandshakeState
}

func NewClientHandshake(keys *crypto.KeyPair) *ClientHandshake {
	return &ClientHandshake{keys: keys}
}

func (h *ClientHandshake) State() ClientHandshakeState {
	return h.state
}

// Run drives the handshake to completion. It returns nil once the relay
// answers AUTHENTICATED, ErrAuthenticationRejected on REJECTED and a
// protocol.ErrProtocolViolation for anything out of order. The caller owns t
// and closes it on error.
func (h *ClientHandshake) Run(t transport.Transport) error {
	if h.state != HandshakeConnecting {
		return fmt.Errorf("%w: handshake already in state %s", protocol.ErrProtocolViolation, h.state)
	}

	der, err := crypto.MarshalPublicKey(h.keys.Public)
	if err != nil {
		return err
	}
	if err := protocol.WriteMessage(t, &protocol.Connect{PublicKey: der}); err != nil {
		return err
	}
	h.state = HandshakeAwaitingChallenge

	for h.state != HandshakeAuthenticated {
		p, err := protocol.ReadPacket(t)
		if err != nil {
			return err
		}
		if err := h.handle(t, p); err != nil {
			return err
		}
	}
	return nil
}

func (h *ClientHandshake) handle(t transport.Transport, p *protocol.Packet) error {
	switch h.state {
	case HandshakeAwaitingChallenge:
		if err := p.Expect(protocol.MsgTypeChallenge); err != nil {
			return err
		}
		challenge, err := protocol.DecodeChallenge(p.Body)
		if err != nil {
			return err
		}
		alg, err := crypto.ParseAlgorithm(string(challenge.Algorithm))
		if err != nil {
			return fmt.Errorf("%w: %v", protocol.ErrProtocolViolation, err)
		}
		sig, err := crypto.Sign(h.keys.Private, challenge.Nonce, alg)
		if err != nil {
			return err
		}
		if err := protocol.WriteMessage(t, &protocol.ChallengeResponse{Signature: sig}); err != nil {
			return err
		}
		h.state = HandshakeAwaitingResult
		return nil

	case HandshakeAwaitingResult:
		if err := p.Expect(protocol.MsgTypeAuthenticationResult); err != nil {
			return err
		}
		result, err := protocol.DecodeAuthenticationResult(p.Body)
		if err != nil {
			return err
		}
		if result.Status != protocol.StatusAuthenticated {
			h.state = HandshakeRejected
			return ErrAuthenticationRejected
		}
		h.state = HandshakeAuthenticated
		return nil

	default:
		return fmt.Errorf("%w: %s in state %s", protocol.ErrUnexpectedType,
			protocol.MsgTypeName(p.Header.Type), h.state)
	}
}

// ServerHandshake verifies a connecting peer
type ServerHandshake struct {
	algorithm crypto.Algorithm
	state     ServerHandshakeState
}

func NewServerHandshake(alg crypto.Algorithm) *ServerHandshake {
	return &ServerHandshake{algorithm: alg}
}

func (h *ServerHandshake) State() ServerHandshakeState {
	return h.state
}

// Run verifies the peer on t. A bad or missing signature gets a REJECTED
// result and ErrAuthenticationRejected; there is no anonymous fallback. The
// caller closes t on any error.
func (h *ServerHandshake) Run(t transport.Transport) (*Identity, error) {
	if h.state != HandshakeAwaitingConnect {
		return nil, fmt.Errorf("%w: handshake already in state %s", protocol.ErrProtocolViolation, h.state)
	}

	p, err := protocol.ReadPacket(t)
	if err != nil {
		return nil, err
	}
	if err := p.Expect(protocol.MsgTypeConnect); err != nil {
		return nil, err
	}
	connect, err := protocol.DecodeConnect(p.Body)
	if err != nil {
		return nil, err
	}

	pub, err := crypto.ParsePublicKey(connect.PublicKey)
	if err != nil {
		h.reject(t)
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationRejected, err)
	}

	nonce, err := crypto.GenerateNonce(crypto.NonceSize)
	if err != nil {
		return nil, err
	}
	if err := protocol.WriteMessage(t, &protocol.Challenge{Nonce: nonce, Algorithm: h.algorithm}); err != nil {
		return nil, err
	}
	h.state = HandshakeChallengeSent

	p, err = protocol.ReadPacket(t)
	if err != nil {
		return nil, err
	}
	if err := p.Expect(protocol.MsgTypeChallengeResponse); err != nil {
		return nil, err
	}
	resp, err := protocol.DecodeChallengeResponse(p.Body)
	if err != nil {
		return nil, err
	}

	if err := crypto.Verify(pub, nonce, resp.Signature, h.algorithm); err != nil {
		h.reject(t)
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationRejected, err)
	}

	if err := protocol.WriteMessage(t, &protocol.AuthenticationResult{Status: protocol.StatusAuthenticated}); err != nil {
		return nil, err
	}
	h.state = HandshakeVerified

	return &Identity{
		PeerID:    protocol.PeerIDFromDER(connect.PublicKey),
		PublicKey: pub,
	}, nil
}

func (h *ServerHandshake) reject(t transport.Transport) {
	h.state = HandshakeDenied
	// best effort, the connection is closed right after
	_ = protocol.WriteMessage(t, &protocol.AuthenticationResult{Status: protocol.StatusRejected})
}
