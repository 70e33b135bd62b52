package protocol

import (
	"crypto/rsa"
	"encoding/hex"
	"fmt"

	"github.com/ZentaChain/zentalk-relay/pkg/crypto"
)

// Protocol constants
const (
	// Magic number for Zentalk protocol ('ZTAL')
	ProtocolMagic = 0x5A54414C

	// Protocol version
	ProtocolVersion = 0x0200 // v2.0

	// Header size
	HeaderSize = 8

	// PeerIDSize is the size of a routing identity
	PeerIDSize = 32
)

// Packet types
const (
	// Handshake (0x00xx)
	MsgTypeConnect              uint16 = 0x0001
	MsgTypeChallenge            uint16 = 0x0002
	MsgTypeChallengeResponse    uint16 = 0x0003
	MsgTypeAuthenticationResult uint16 = 0x0004
	MsgTypePing                 uint16 = 0x0005
	MsgTypePong                 uint16 = 0x0006

	// Relay traffic (0x01xx)
	MsgTypeEnvelope uint16 = 0x0100
)

// MsgTypeName returns a readable name for logs
func MsgTypeName(t uint16) string {
	switch t {
	case MsgTypeConnect:
		return "Connect"
	case MsgTypeChallenge:
		return "Challenge"
	case MsgTypeChallengeResponse:
		return "ChallengeResponse"
	case MsgTypeAuthenticationResult:
		return "AuthenticationResult"
	case MsgTypePing:
		return "Ping"
	case MsgTypePong:
		return "Pong"
	case MsgTypeEnvelope:
		return "Envelope"
	default:
		return fmt.Sprintf("0x%04x", t)
	}
}

// PeerID is the routing identity of a peer: BLAKE2b-256 of its public key
type PeerID [PeerIDSize]byte

// PeerIDFromPublicKey derives the routing identity of pub
func PeerIDFromPublicKey(pub *rsa.PublicKey) (PeerID, error) {
	der, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		return PeerID{}, err
	}
	return PeerIDFromDER(der), nil
}

// PeerIDFromDER derives the routing identity from a PKIX DER public key
func PeerIDFromDER(der []byte) PeerID {
	return PeerID(crypto.Hash(der))
}

// ParsePeerID parses the hex form produced by String
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid peer id %q: %w", s, err)
	}
	if len(b) != PeerIDSize {
		return id, fmt.Errorf("invalid peer id length %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 bytes in hex, for logs
func (id PeerID) Short() string {
	return hex.EncodeToString(id[:8])
}

// IsZero reports whether id is unset (anonymized sender)
func (id PeerID) IsZero() bool {
	return id == PeerID{}
}
