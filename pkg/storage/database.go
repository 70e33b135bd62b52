package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
)

var ErrNotFound = errors.New("not found")

const (
	// DefaultMaxStoredBytes is the per-recipient quota (50 MiB)
	DefaultMaxStoredBytes int64 = 50 << 20

	// DefaultMessageTTL is how long SQLite-backed envelopes are kept
	DefaultMessageTTL = 30 * 24 * time.Hour

	// DefaultCleanupInterval is the expiry sweep period
	DefaultCleanupInterval = time.Hour
)

// MessageStore holds envelopes for recipients that are not connected.
//
// AddMessage never reports quota overflow or duplicates as errors: such
// envelopes are dropped. GetMessages returns pending envelopes in insertion
// order without removing them. RemoveMessage removes the entry with the
// envelope's key for its recipient and is a no-op when absent.
//
// Operations on different recipients never block each other; operations on
// the same recipient are serialized.
type MessageStore interface {
	AddMessage(env *protocol.Envelope) error
	GetMessages(to protocol.PeerID) ([]*protocol.Envelope, error)
	RemoveMessage(env *protocol.Envelope) error
	Usage(to protocol.PeerID) (int64, error)
	Close() error
}

// QueueSizer is implemented by stores that can count their pending
// envelopes across all recipients
type QueueSizer interface {
	QueueSize() (int, error)
}

// openDatabase opens a SQLite file with immediate write transactions, a busy
// timeout and WAL journaling
func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// every pooled connection would get its own private database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

func orStandardLogger(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return logrus.StandardLogger()
	}
	return log
}
