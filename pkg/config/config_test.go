package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, int64(50<<20), cfg.MaxStoredBytesPerConnection)
	assert.Equal(t, 720*time.Hour, cfg.MessageTTL)
	assert.Equal(t, "SHA256withRSA/PSS", cfg.ChallengeAlgorithm)
	assert.Zero(t, cfg.SessionReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.SessionWriteTimeout)
	assert.Equal(t, 64, cfg.SendQueueSize)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen_addr: "127.0.0.1:9000"
store_backend: sqlite
data_dir: /var/lib/relay
max_stored_bytes_per_connection: 1048576
message_ttl: 48h
challenge_algorithm: SHA256withRSA
session_read_timeout: 2m
session_write_timeout: 3s
send_queue_size: 8
log_format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, ":8080", cfg.HTTPAddr, "unset keys keep their default")
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, int64(1<<20), cfg.MaxStoredBytesPerConnection)
	assert.Equal(t, 48*time.Hour, cfg.MessageTTL)
	assert.Equal(t, "SHA256withRSA", cfg.ChallengeAlgorithm)
	assert.Equal(t, 2*time.Minute, cfg.SessionReadTimeout)
	assert.Equal(t, 3*time.Second, cfg.SessionWriteTimeout)
	assert.Equal(t, 8, cfg.SendQueueSize)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, filepath.Join("/var/lib/relay", "relay-9000-queue.db"), cfg.QueuePath("9000"))
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", "store_backend: redis\n"},
		{"bad algorithm", "challenge_algorithm: MD5withRSA\n"},
		{"negative quota", "max_stored_bytes_per_connection: -1\n"},
		{"no listeners", "listen_addr: \"\"\nhttp_addr: \"\"\n"},
		{"zero write timeout", "session_write_timeout: 0s\n"},
		{"zero send queue", "send_queue_size: 0\n"},
		{"bad level", "log_level: loud\n"},
		{"bad format", "log_format: xml\n"},
		{"not yaml", "listen_addr: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
