package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-relay/pkg/crypto"
	"github.com/ZentaChain/zentalk-relay/pkg/network"
	"github.com/ZentaChain/zentalk-relay/pkg/storage"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGenkey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "peer.pem")

	out, err := run(t, "genkey", "--out", path, "--bits", "2048")
	require.NoError(t, err)
	assert.Contains(t, out, "Peer ID: ")

	kp, err := crypto.LoadKeyPair(path)
	require.NoError(t, err)
	assert.Equal(t, 2048, kp.Public.N.BitLen())
	assert.FileExists(t, path+".pub")

	_, err = run(t, "genkey", "--out", path, "--bits", "2048")
	assert.Error(t, err, "existing key must not be overwritten without --force")

	_, err = run(t, "genkey", "--out", path, "--bits", "2048", "--force")
	assert.NoError(t, err)
}

func TestGenkeyRejectsSmallKeys(t *testing.T) {
	_, err := run(t, "genkey", "--out", filepath.Join(t.TempDir(), "k.pem"), "--bits", "512")
	assert.Error(t, err)
}

func TestConnectionsCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/connections", r.URL.Path)
		w.Write([]byte("abcd — Ready\n"))
	}))
	defer srv.Close()

	out, err := run(t, "connections", "--url", srv.URL+"/")
	require.NoError(t, err)
	assert.Contains(t, out, "abcd — Ready\n")
}

func TestConnectionsCommandFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := run(t, "connections", "--url", srv.URL)
	assert.Error(t, err)
}

func TestProbeCommand(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rs := network.NewRelayServer(network.RelayConfig{ListenAddr: "127.0.0.1:0", Logger: logger},
		storage.NewMemoryStore(0, logger))
	require.NoError(t, rs.Start())
	defer rs.Stop()

	out, err := run(t, "probe", "--endpoint", rs.Addr().String())
	require.NoError(t, err)
	assert.Contains(t, out, "Authenticated to")
}

func TestProbeRequiresEndpoint(t *testing.T) {
	_, err := run(t, "probe")
	assert.Error(t, err)
}

func TestInvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store_backend: redis\n"), 0o600))

	_, err := run(t, "--config", path, "connections")
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
listen_addr: "127.0.0.1:0"
http_addr: "127.0.0.1:0"
store_backend: sqlite
data_dir: `+filepath.Join(dir, "data")+`
key_path: `+filepath.Join(dir, "relay.pem")+`
`), 0o600))

	// a pre-made 2048-bit key keeps the test fast
	kp, err := crypto.GenerateKeyPairBits(crypto.MinKeyBits)
	require.NoError(t, err)
	require.NoError(t, crypto.SaveKeyPair(filepath.Join(dir, "relay.pem"), kp))

	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "--log-level", "error", "serve"})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	cancel()
	require.NoError(t, <-done)
	assert.FileExists(t, filepath.Join(dir, "data", "relay-0-queue.db"))
	assert.FileExists(t, filepath.Join(dir, "data", "connections.db"))
}
