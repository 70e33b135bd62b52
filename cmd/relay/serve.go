package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ZentaChain/zentalk-relay/pkg/config"
	"github.com/ZentaChain/zentalk-relay/pkg/crypto"
	"github.com/ZentaChain/zentalk-relay/pkg/network"
	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
	"github.com/ZentaChain/zentalk-relay/pkg/storage"
)

const heartbeatInterval = 5 * time.Minute

func serveCmd(a *app) *cobra.Command {
	var (
		listen   string
		httpAddr string
		backend  string
		dataDir  string
		keyPath  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("listen") {
				a.cfg.ListenAddr = listen
			}
			if flags.Changed("http") {
				a.cfg.HTTPAddr = httpAddr
			}
			if flags.Changed("store") {
				a.cfg.StoreBackend = backend
			}
			if flags.Changed("data-dir") {
				a.cfg.DataDir = dataDir
			}
			if flags.Changed("key") {
				a.cfg.KeyPath = keyPath
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd.OutOrStdout(), a.cfg, a.log)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "TCP session address (overrides config)")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP and WebSocket address (overrides config)")
	cmd.Flags().StringVar(&backend, "store", "", "message store backend: memory or sqlite")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for SQLite databases")
	cmd.Flags().StringVar(&keyPath, "key", "", "relay identity key, created when missing")
	return cmd
}

// serve runs the relay until ctx is cancelled
func serve(ctx context.Context, out io.Writer, cfg *config.Config, log *logrus.Logger) error {
	printBanner(out)

	keys, created, err := crypto.LoadOrGenerateKeyPair(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("failed to load relay key: %w", err)
	}
	relayID, err := protocol.PeerIDFromPublicKey(keys.Public)
	if err != nil {
		return err
	}
	if created {
		log.WithField("path", cfg.KeyPath).Info("Generated new relay identity")
	}

	if cfg.StoreBackend == config.BackendSQLite || cfg.RecordConnections {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	alg, err := crypto.ParseAlgorithm(cfg.ChallengeAlgorithm)
	if err != nil {
		return err
	}

	relay := network.NewRelayServer(network.RelayConfig{
		ListenAddr:          cfg.ListenAddr,
		HTTPAddr:            cfg.HTTPAddr,
		ChallengeAlgorithm:  alg,
		HandshakeTimeout:    cfg.HandshakeTimeout,
		SessionReadTimeout:  cfg.SessionReadTimeout,
		SessionWriteTimeout: cfg.SessionWriteTimeout,
		SendQueueSize:       cfg.SendQueueSize,
		Logger:              log,
	}, store)

	if cfg.RecordConnections {
		registry, err := storage.NewConnectionRegistry(cfg.ConnectionsPath())
		if err != nil {
			return err
		}
		defer registry.Close()
		relay.AttachConnectionRegistry(registry)
	}

	relay.AddPeerListener(network.PeerEventFuncs{
		OnOnline:  func(p protocol.PeerID) { log.WithField("peer", p.Short()).Debug("Peer online") },
		OnOffline: func(p protocol.PeerID) { log.WithField("peer", p.Short()).Debug("Peer offline") },
	})

	if err := relay.Start(); err != nil {
		return err
	}

	printStatus(out, relay, relayID, cfg)

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		heartbeatLoop(ctx, relay, log)
	}()

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	err = relay.Stop()
	<-heartbeatDone
	return err
}

func openStore(cfg *config.Config, log logrus.FieldLogger) (storage.MessageStore, error) {
	if cfg.StoreBackend != config.BackendSQLite {
		return storage.NewMemoryStore(cfg.MaxStoredBytesPerConnection, log), nil
	}

	port := "relay"
	if _, p, err := net.SplitHostPort(cfg.ListenAddr); err == nil && p != "" {
		port = p
	}
	path := cfg.QueuePath(port)

	store, err := storage.NewSQLiteMessageStore(path, storage.SQLiteOptions{
		MaxStoredBytes:  cfg.MaxStoredBytesPerConnection,
		TTL:             cfg.MessageTTL,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}
	log.WithFields(logrus.Fields{"path": path, "ttl": cfg.MessageTTL}).Info("Message store initialized")
	return store, nil
}

func printBanner(out io.Writer) {
	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║            ZenTalk Relay Server v2.0             ║")
	fmt.Fprintln(out, "║     Store-and-forward for encrypted envelopes     ║")
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════╝")
	fmt.Fprintln(out)
}

func printStatus(out io.Writer, relay *network.RelayServer, relayID protocol.PeerID, cfg *config.Config) {
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(out, "🚀 Relay Server Status")
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(out, "   Identity: %s\n", relayID)
	if addr := relay.Addr(); addr != nil {
		fmt.Fprintf(out, "   TCP sessions: %s\n", addr)
	}
	if addr := relay.HTTPAddr(); addr != nil {
		fmt.Fprintf(out, "   HTTP: http://%s  WebSocket: ws://%s/relay\n", addr, addr)
	}
	fmt.Fprintf(out, "   Store: %s (quota %d bytes per peer)\n", cfg.StoreBackend, cfg.MaxStoredBytesPerConnection)
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(out, "Press Ctrl+C to stop")
	fmt.Fprintln(out)
}

func heartbeatLoop(ctx context.Context, relay *network.RelayServer, log logrus.FieldLogger) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := relay.Stats()
			log.WithFields(logrus.Fields{
				"relayed":       stats.EnvelopesRelayed,
				"stored":        stats.EnvelopesStored,
				"rejected":      stats.EnvelopesRejected,
				"auth_failures": stats.AuthFailures,
				"live_sessions": stats.LiveSessions,
				"connections":   stats.Connections,
				"pending":       stats.PendingEnvelopes,
			}).Info("Heartbeat")
		}
	}
}
