package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
)

// SQLiteOptions configures a SQLiteMessageStore. Zero values select defaults.
type SQLiteOptions struct {
	MaxStoredBytes  int64
	TTL             time.Duration
	CleanupInterval time.Duration
	Logger          logrus.FieldLogger
}

// SQLiteMessageStore is a MessageStore that survives relay restarts.
// Envelopes expire after the configured TTL.
type SQLiteMessageStore struct {
	db       *sql.DB
	maxBytes int64
	ttl      time.Duration
	log      logrus.FieldLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSQLiteMessageStore opens (or creates) the queue database at dbPath and
// starts the expiry sweep
func NewSQLiteMessageStore(dbPath string, opts SQLiteOptions) (*SQLiteMessageStore, error) {
	if opts.MaxStoredBytes <= 0 {
		opts.MaxStoredBytes = DefaultMaxStoredBytes
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultMessageTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SQLiteMessageStore{
		db:       db,
		maxBytes: opts.MaxStoredBytes,
		ttl:      opts.TTL,
		log:      orStandardLogger(opts.Logger).WithField("component", "sqlite-store"),
		cancel:   cancel,
	}

	if err := s.initSchema(); err != nil {
		cancel()
		db.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.cleanupLoop(ctx, opts.CleanupInterval)

	return s, nil
}

func (s *SQLiteMessageStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queued_envelopes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recipient TEXT NOT NULL,
		sender TEXT NOT NULL,
		dedupe_key BLOB NOT NULL,
		message BLOB NOT NULL,
		size INTEGER NOT NULL,
		queued_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		UNIQUE(recipient, dedupe_key)
	);

	-- Drain order per recipient
	CREATE INDEX IF NOT EXISTS idx_envelopes_recipient ON queued_envelopes(recipient, id);

	-- Index for expiration cleanup
	CREATE INDEX IF NOT EXISTS idx_envelopes_expires ON queued_envelopes(expires_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// AddMessage stores env unless it duplicates a pending key or would push
// the recipient over quota. The checks and the insert share one immediate
// transaction.
func (s *SQLiteMessageStore) AddMessage(env *protocol.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	recipient := env.To.String()
	now := time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// expired rows would otherwise still claim their dedupe key
	if _, err := tx.Exec(
		`DELETE FROM queued_envelopes WHERE recipient = ? AND expires_at <= ?`,
		recipient, now.UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to expire envelopes: %w", err)
	}

	var exists bool
	err = tx.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM queued_envelopes WHERE recipient = ? AND dedupe_key = ?)`,
		recipient, env.Key,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check duplicate: %w", err)
	}
	if exists {
		s.log.WithField("peer", env.To.Short()).Debug("Duplicate envelope ignored")
		return nil
	}

	var used int64
	err = tx.QueryRow(
		`SELECT COALESCE(SUM(size), 0) FROM queued_envelopes WHERE recipient = ? AND expires_at > ?`,
		recipient, now.UnixMilli(),
	).Scan(&used)
	if err != nil {
		return fmt.Errorf("failed to compute usage: %w", err)
	}

	size := env.Size()
	if used+size > s.maxBytes {
		s.log.WithFields(logrus.Fields{
			"peer":   env.To.Short(),
			"stored": used,
			"size":   size,
			"quota":  s.maxBytes,
		}).Warn("Store quota exceeded, dropping envelope")
		return nil
	}

	_, err = tx.Exec(`
		INSERT INTO queued_envelopes (recipient, sender, dedupe_key, message, size, queued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		recipient, env.From.String(), env.Key, env.Message, size,
		now.UnixMilli(), now.Add(s.ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to queue envelope: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit envelope: %w", err)
	}

	s.log.WithFields(logrus.Fields{"peer": env.To.Short(), "size": size}).Debug("Queued envelope for offline peer")
	return nil
}

func (s *SQLiteMessageStore) GetMessages(to protocol.PeerID) ([]*protocol.Envelope, error) {
	rows, err := s.db.Query(`
		SELECT sender, dedupe_key, message
		FROM queued_envelopes
		WHERE recipient = ? AND expires_at > ?
		ORDER BY id ASC`,
		to.String(), time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get queued envelopes: %w", err)
	}
	defer rows.Close()

	var envelopes []*protocol.Envelope
	for rows.Next() {
		var sender string
		env := &protocol.Envelope{To: to}
		if err := rows.Scan(&sender, &env.Key, &env.Message); err != nil {
			return nil, fmt.Errorf("failed to scan envelope: %w", err)
		}
		if env.From, err = protocol.ParsePeerID(sender); err != nil {
			return nil, fmt.Errorf("corrupt sender column: %w", err)
		}
		if env.Message == nil {
			env.Message = []byte{}
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, rows.Err()
}

func (s *SQLiteMessageStore) RemoveMessage(env *protocol.Envelope) error {
	_, err := s.db.Exec(
		`DELETE FROM queued_envelopes WHERE recipient = ? AND dedupe_key = ?`,
		env.To.String(), env.Key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete envelope: %w", err)
	}
	return nil
}

func (s *SQLiteMessageStore) Usage(to protocol.PeerID) (int64, error) {
	var used int64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(size), 0) FROM queued_envelopes WHERE recipient = ? AND expires_at > ?`,
		to.String(), time.Now().UnixMilli(),
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return used, nil
}

// QueueSize returns the number of live envelopes across all recipients
func (s *SQLiteMessageStore) QueueSize() (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM queued_envelopes WHERE expires_at > ?`,
		time.Now().UnixMilli(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get queue size: %w", err)
	}
	return count, nil
}

// CleanupExpired deletes envelopes past their TTL and returns how many
func (s *SQLiteMessageStore) CleanupExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM queued_envelopes WHERE expires_at <= ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLiteMessageStore) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.CleanupExpired()
			if err != nil {
				s.log.WithError(err).Warn("Failed to clean up expired envelopes")
				continue
			}
			if count > 0 {
				s.log.WithField("count", count).Info("Cleaned up expired envelopes")
			}
		}
	}
}

// Close stops the expiry sweep and closes the database
func (s *SQLiteMessageStore) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
