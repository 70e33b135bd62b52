package network

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-relay/pkg/crypto"
	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
	"github.com/ZentaChain/zentalk-relay/pkg/storage"
	"github.com/ZentaChain/zentalk-relay/pkg/transport"
)

const waitFor = 5 * time.Second

var (
	keysOnce sync.Once
	keyPairs []*crypto.KeyPair
	keysErr  error
)

// testKeys returns three 2048-bit identities shared by every test
func testKeys(t *testing.T) (alice, bob, carol *crypto.KeyPair) {
	t.Helper()
	keysOnce.Do(func() {
		for i := 0; i < 3; i++ {
			kp, err := crypto.GenerateKeyPairBits(crypto.MinKeyBits)
			if err != nil {
				keysErr = err
				return
			}
			keyPairs = append(keyPairs, kp)
		}
	})
	require.NoError(t, keysErr)
	return keyPairs[0], keyPairs[1], keyPairs[2]
}

func peerOf(t *testing.T, kp *crypto.KeyPair) protocol.PeerID {
	t.Helper()
	id, err := protocol.PeerIDFromPublicKey(kp.Public)
	require.NoError(t, err)
	return id
}

func nullLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

// startRelay runs a relay on a loopback port until the test ends
func startRelay(t *testing.T, store storage.MessageStore) *RelayServer {
	t.Helper()
	return startRelayWith(t, store, RelayConfig{})
}

// startRelayWith is startRelay with cfg's tuning; the address and logger are
// always overridden
func startRelayWith(t *testing.T, store storage.MessageStore, cfg RelayConfig) *RelayServer {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStore(0, nullLogger())
	}
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Logger = nullLogger()
	rs := NewRelayServer(cfg, store)
	require.NoError(t, rs.Start())
	t.Cleanup(func() { rs.Stop() })
	return rs
}

// authenticate dials rs and completes the handshake for kp by hand
func authenticate(t *testing.T, rs *RelayServer, kp *crypto.KeyPair) transport.Transport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	tr, err := transport.DialTCP(ctx, rs.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	tr.SetReadTimeout(waitFor)
	require.NoError(t, NewClientHandshake(kp).Run(tr))
	return tr
}

func newTestClient(t *testing.T, endpoint string, kp *crypto.KeyPair, h MessageHandler) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Keys:        kp,
		Dialer:      EndpointDialer(endpoint),
		RetryPolicy: RetryConstantInterval(20 * time.Millisecond),
		Handler:     h,
		Logger:      nullLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func connect(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
}

// received collects handler calls
type received struct {
	from      protocol.PeerID
	to        protocol.PeerID
	plaintext string
}

func collector() (MessageHandler, chan received) {
	ch := make(chan received, 16)
	return MessageHandlerFunc(func(from, to protocol.PeerID, plaintext []byte) {
		ch <- received{from: from, to: to, plaintext: string(plaintext)}
	}), ch
}

// pipe returns both ends of an in-memory stream transport
func pipe(t *testing.T) (client, server transport.Transport) {
	t.Helper()
	a, b := net.Pipe()
	ct, st := transport.NewStreamTransport(a), transport.NewStreamTransport(b)
	ct.SetReadTimeout(waitFor)
	st.SetReadTimeout(waitFor)
	t.Cleanup(func() {
		ct.Close()
		st.Close()
	})
	return ct, st
}
