package protocol

import (
	"fmt"

	"github.com/ZentaChain/zentalk-relay/pkg/crypto"
)

// MinChallengeNonceSize is the shortest nonce a client accepts
const MinChallengeNonceSize = 32

// AuthStatus is the verdict carried by AuthenticationResult
type AuthStatus uint8

const (
	StatusAuthenticated AuthStatus = 1
	StatusRejected      AuthStatus = 2
)

func (s AuthStatus) String() string {
	switch s {
	case StatusAuthenticated:
		return "AUTHENTICATED"
	case StatusRejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("AuthStatus(%d)", uint8(s))
	}
}

// ===== CONNECT =====

// Connect opens the handshake with the client's PKIX DER public key
type Connect struct {
	PublicKey []byte
}

func (m *Connect) Type() uint16 { return MsgTypeConnect }

func (m *Connect) Encode() []byte {
	buf := make([]byte, 2+len(m.PublicKey))
	putBytes16(buf, m.PublicKey)
	return buf
}

func DecodeConnect(body []byte) (*Connect, error) {
	d := newDecoder(body)
	m := &Connect{PublicKey: d.bytes16()}
	if err := d.finish(); err != nil {
		return nil, err
	}
	if len(m.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: empty public key", ErrInvalidField)
	}
	return m, nil
}

// ===== CHALLENGE =====

// Challenge carries the nonce the client must sign and the algorithm to sign with
type Challenge struct {
	Nonce     []byte
	Algorithm crypto.Algorithm
}

func (m *Challenge) Type() uint16 { return MsgTypeChallenge }

func (m *Challenge) Encode() []byte {
	alg := []byte(m.Algorithm)
	buf := make([]byte, 2+len(m.Nonce)+2+len(alg))
	off := putBytes16(buf, m.Nonce)
	putBytes16(buf[off:], alg)
	return buf
}

func DecodeChallenge(body []byte) (*Challenge, error) {
	d := newDecoder(body)
	m := &Challenge{Nonce: d.bytes16()}
	m.Algorithm = crypto.Algorithm(d.bytes16())
	if err := d.finish(); err != nil {
		return nil, err
	}
	if len(m.Nonce) < MinChallengeNonceSize {
		return nil, fmt.Errorf("%w: nonce of %d bytes", ErrInvalidField, len(m.Nonce))
	}
	return m, nil
}

// ===== CHALLENGE RESPONSE =====

// ChallengeResponse is the client's signature over the challenge nonce
type ChallengeResponse struct {
	Signature []byte
}

func (m *ChallengeResponse) Type() uint16 { return MsgTypeChallengeResponse }

func (m *ChallengeResponse) Encode() []byte {
	buf := make([]byte, 2+len(m.Signature))
	putBytes16(buf, m.Signature)
	return buf
}

func DecodeChallengeResponse(body []byte) (*ChallengeResponse, error) {
	d := newDecoder(body)
	m := &ChallengeResponse{Signature: d.bytes16()}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return m, nil
}

// ===== AUTHENTICATION RESULT =====

type AuthenticationResult struct {
	Status AuthStatus
}

func (m *AuthenticationResult) Type() uint16 { return MsgTypeAuthenticationResult }

func (m *AuthenticationResult) Encode() []byte {
	return []byte{byte(m.Status)}
}

func DecodeAuthenticationResult(body []byte) (*AuthenticationResult, error) {
	d := newDecoder(body)
	m := &AuthenticationResult{Status: AuthStatus(d.uint8())}
	if err := d.finish(); err != nil {
		return nil, err
	}
	if m.Status != StatusAuthenticated && m.Status != StatusRejected {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidField, m.Status)
	}
	return m, nil
}

// ===== KEEPALIVE =====

// Ping and Pong have empty bodies
type Ping struct{}

func (m *Ping) Type() uint16   { return MsgTypePing }
func (m *Ping) Encode() []byte { return nil }

type Pong struct{}

func (m *Pong) Type() uint16   { return MsgTypePong }
func (m *Pong) Encode() []byte { return nil }
