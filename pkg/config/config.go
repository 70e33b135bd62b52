// Package config loads the relay's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ZentaChain/zentalk-relay/pkg/crypto"
	"github.com/ZentaChain/zentalk-relay/pkg/storage"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config is the relay node configuration. Zero-valued fields take the
// defaults from Default.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPAddr   string `yaml:"http_addr"`

	StoreBackend                string        `yaml:"store_backend"`
	DataDir                     string        `yaml:"data_dir"`
	MaxStoredBytesPerConnection int64         `yaml:"max_stored_bytes_per_connection"`
	MessageTTL                  time.Duration `yaml:"message_ttl"`
	CleanupInterval             time.Duration `yaml:"cleanup_interval"`
	RecordConnections           bool          `yaml:"record_connections"`

	KeyPath            string        `yaml:"key_path"`
	ChallengeAlgorithm string        `yaml:"challenge_algorithm"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	SessionReadTimeout time.Duration `yaml:"session_read_timeout"`

	// SessionWriteTimeout disconnects a peer that stops accepting envelopes
	SessionWriteTimeout time.Duration `yaml:"session_write_timeout"`
	SendQueueSize       int           `yaml:"send_queue_size"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		ListenAddr:                  ":7070",
		HTTPAddr:                    ":8080",
		StoreBackend:                BackendMemory,
		DataDir:                     "./data",
		MaxStoredBytesPerConnection: storage.DefaultMaxStoredBytes,
		MessageTTL:                  storage.DefaultMessageTTL,
		CleanupInterval:             storage.DefaultCleanupInterval,
		RecordConnections:           true,
		KeyPath:                     "./keys/relay.pem",
		ChallengeAlgorithm:          string(crypto.AlgorithmRSAPSS),
		HandshakeTimeout:            10 * time.Second,
		SessionWriteTimeout:         10 * time.Second,
		SendQueueSize:               64,
		LogLevel:                    "info",
		LogFormat:                   "text",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the relay cannot start with
func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddr == "" && c.HTTPAddr == "" {
		errs = append(errs, errors.New("at least one of listen_addr and http_addr is required"))
	}
	switch c.StoreBackend {
	case BackendMemory, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown store_backend %q", c.StoreBackend))
	}
	if c.StoreBackend == BackendSQLite && c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required for the sqlite backend"))
	}
	if c.MaxStoredBytesPerConnection <= 0 {
		errs = append(errs, errors.New("max_stored_bytes_per_connection must be positive"))
	}
	if c.MessageTTL < 0 || c.CleanupInterval < 0 {
		errs = append(errs, errors.New("message_ttl and cleanup_interval must not be negative"))
	}
	if c.KeyPath == "" {
		errs = append(errs, errors.New("key_path is required"))
	}
	if _, err := crypto.ParseAlgorithm(c.ChallengeAlgorithm); err != nil {
		errs = append(errs, err)
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("handshake_timeout must be positive"))
	}
	if c.SessionReadTimeout < 0 {
		errs = append(errs, errors.New("session_read_timeout must not be negative"))
	}
	if c.SessionWriteTimeout <= 0 {
		errs = append(errs, errors.New("session_write_timeout must be positive"))
	}
	if c.SendQueueSize <= 0 {
		errs = append(errs, errors.New("send_queue_size must be positive"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// QueuePath is the SQLite message store for a relay listening on port
func (c *Config) QueuePath(port string) string {
	return filepath.Join(c.DataDir, fmt.Sprintf("relay-%s-queue.db", port))
}

// ConnectionsPath is the SQLite connection registry
func (c *Config) ConnectionsPath() string {
	return filepath.Join(c.DataDir, "connections.db")
}
