package network

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-relay/pkg/crypto"
	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
	"github.com/ZentaChain/zentalk-relay/pkg/transport"
)

type serverResult struct {
	id  *Identity
	err error
}

func runServer(t transport.Transport, alg crypto.Algorithm) (*ServerHandshake, <-chan serverResult) {
	h := NewServerHandshake(alg)
	done := make(chan serverResult, 1)
	go func() {
		id, err := h.Run(t)
		done <- serverResult{id, err}
	}()
	return h, done
}

func TestHandshakeSuccess(t *testing.T) {
	alice, _, _ := testKeys(t)

	for _, alg := range crypto.SupportedAlgorithms {
		t.Run(string(alg), func(t *testing.T) {
			ct, st := pipe(t)
			server, done := runServer(st, alg)

			client := NewClientHandshake(alice)
			require.NoError(t, client.Run(ct))
			assert.Equal(t, HandshakeAuthenticated, client.State())

			res := <-done
			require.NoError(t, res.err)
			assert.Equal(t, peerOf(t, alice), res.id.PeerID)
			assert.True(t, res.id.PublicKey.Equal(alice.Public))
			assert.Equal(t, HandshakeVerified, server.State())
		})
	}
}

func TestHandshakeRejectsWrongSignature(t *testing.T) {
	alice, bob, _ := testKeys(t)
	ct, st := pipe(t)
	server, done := runServer(st, crypto.AlgorithmRSAPSS)

	// claim alice's key, sign with bob's
	der, err := crypto.MarshalPublicKey(alice.Public)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteMessage(ct, &protocol.Connect{PublicKey: der}))

	p, err := protocol.ReadPacket(ct)
	require.NoError(t, err)
	require.NoError(t, p.Expect(protocol.MsgTypeChallenge))
	challenge, err := protocol.DecodeChallenge(p.Body)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(challenge.Nonce), protocol.MinChallengeNonceSize)

	sig, err := crypto.Sign(bob.Private, challenge.Nonce, challenge.Algorithm)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteMessage(ct, &protocol.ChallengeResponse{Signature: sig}))

	p, err = protocol.ReadPacket(ct)
	require.NoError(t, err)
	result, err := protocol.DecodeAuthenticationResult(p.Body)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusRejected, result.Status)

	res := <-done
	assert.ErrorIs(t, res.err, ErrAuthenticationRejected)
	assert.Nil(t, res.id)
	assert.Equal(t, HandshakeDenied, server.State())
}

func TestHandshakeRejectsMalformedKey(t *testing.T) {
	ct, st := pipe(t)
	_, done := runServer(st, crypto.AlgorithmRSAPSS)

	require.NoError(t, protocol.WriteMessage(ct, &protocol.Connect{PublicKey: []byte("not a key")}))

	p, err := protocol.ReadPacket(ct)
	require.NoError(t, err)
	result, err := protocol.DecodeAuthenticationResult(p.Body)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusRejected, result.Status)

	assert.ErrorIs(t, (<-done).err, ErrAuthenticationRejected)
}

func TestServerHandshakeOutOfOrder(t *testing.T) {
	ct, st := pipe(t)
	_, done := runServer(st, crypto.AlgorithmRSAPSS)

	require.NoError(t, protocol.WriteMessage(ct, &protocol.ChallengeResponse{Signature: []byte("early")}))

	res := <-done
	assert.ErrorIs(t, res.err, protocol.ErrProtocolViolation)
	assert.False(t, errors.Is(res.err, ErrAuthenticationRejected))
}

// fakeRelay answers a Connect with a challenge and then whatever result
// status it was given
func fakeRelay(t *testing.T, tr transport.Transport, alg crypto.Algorithm, status protocol.AuthStatus) {
	p, err := protocol.ReadPacket(tr)
	if !assert.NoError(t, err) || !assert.NoError(t, p.Expect(protocol.MsgTypeConnect)) {
		return
	}
	nonce, err := crypto.GenerateNonce(crypto.NonceSize)
	if !assert.NoError(t, err) {
		return
	}
	if !assert.NoError(t, protocol.WriteMessage(tr, &protocol.Challenge{Nonce: nonce, Algorithm: alg})) {
		return
	}
	if _, err := protocol.ReadPacket(tr); err != nil {
		// the client gave up on the challenge
		return
	}
	assert.NoError(t, protocol.WriteMessage(tr, &protocol.AuthenticationResult{Status: status}))
}

func TestClientHandshakeRejected(t *testing.T) {
	alice, _, _ := testKeys(t)
	ct, st := pipe(t)
	go fakeRelay(t, st, crypto.AlgorithmRSAPSS, protocol.StatusRejected)

	client := NewClientHandshake(alice)
	err := client.Run(ct)
	assert.ErrorIs(t, err, ErrAuthenticationRejected)
	assert.Equal(t, HandshakeRejected, client.State())
}

func TestClientHandshakeUnsupportedAlgorithm(t *testing.T) {
	alice, _, _ := testKeys(t)
	ct, st := pipe(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeRelay(t, st, "MD5withRSA", protocol.StatusAuthenticated)
	}()

	err := NewClientHandshake(alice).Run(ct)
	assert.ErrorIs(t, err, protocol.ErrProtocolViolation)

	ct.Close()
	<-done
}

func TestClientHandshakeOutOfOrder(t *testing.T) {
	alice, _, _ := testKeys(t)
	ct, st := pipe(t)
	go func() {
		if _, err := protocol.ReadPacket(st); err != nil {
			return
		}
		protocol.WriteMessage(st, &protocol.AuthenticationResult{Status: protocol.StatusAuthenticated})
	}()

	err := NewClientHandshake(alice).Run(ct)
	assert.ErrorIs(t, err, protocol.ErrProtocolViolation)
}

func TestHandshakeCannotRunTwice(t *testing.T) {
	alice, _, _ := testKeys(t)
	ct, st := pipe(t)
	_, done := runServer(st, crypto.AlgorithmRSAPSS)

	client := NewClientHandshake(alice)
	require.NoError(t, client.Run(ct))
	require.NoError(t, (<-done).err)

	assert.ErrorIs(t, client.Run(ct), protocol.ErrProtocolViolation)
}
