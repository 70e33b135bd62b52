package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
)

// ConnectionRecord is the last known whereabouts of a peer
type ConnectionRecord struct {
	PeerID            protocol.PeerID
	LastKnownAddress  string // multiaddr, e.g. /ip4/127.0.0.1/tcp/7070
	ConnectTimeMillis int64
}

// ConnectTime returns ConnectTimeMillis as a time
func (r *ConnectionRecord) ConnectTime() time.Time {
	return time.UnixMilli(r.ConnectTimeMillis)
}

// ConnectionRegistry persists one ConnectionRecord per peer (last write wins)
type ConnectionRegistry struct {
	db *sql.DB
}

// NewConnectionRegistry opens (or creates) the registry at dbPath
func NewConnectionRegistry(dbPath string) (*ConnectionRegistry, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection registry: %w", err)
	}

	r := &ConnectionRegistry{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *ConnectionRegistry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS connections (
		peer_id TEXT PRIMARY KEY,
		last_known_address TEXT NOT NULL,
		connect_time_millis INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_connections_time ON connections(connect_time_millis DESC);
	`

	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Upsert adds or replaces the record for rec.PeerID
func (r *ConnectionRegistry) Upsert(rec *ConnectionRecord) error {
	if rec.LastKnownAddress != "" {
		if _, err := ma.NewMultiaddr(rec.LastKnownAddress); err != nil {
			return fmt.Errorf("invalid address %q: %w", rec.LastKnownAddress, err)
		}
	}

	_, err := r.db.Exec(`
		INSERT INTO connections (peer_id, last_known_address, connect_time_millis)
		VALUES (?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			last_known_address = excluded.last_known_address,
			connect_time_millis = excluded.connect_time_millis`,
		rec.PeerID.String(), rec.LastKnownAddress, rec.ConnectTimeMillis,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

// RecordConnect upserts a record for a peer seen at addr
func (r *ConnectionRegistry) RecordConnect(peer protocol.PeerID, addr net.Addr, at time.Time) error {
	maddr, err := AddressToMultiaddr(addr)
	if err != nil {
		return err
	}
	return r.Upsert(&ConnectionRecord{
		PeerID:            peer,
		LastKnownAddress:  maddr,
		ConnectTimeMillis: at.UnixMilli(),
	})
}

// Lookup returns the record for peer or ErrNotFound
func (r *ConnectionRegistry) Lookup(peer protocol.PeerID) (*ConnectionRecord, error) {
	rec := &ConnectionRecord{PeerID: peer}
	err := r.db.QueryRow(
		`SELECT last_known_address, connect_time_millis FROM connections WHERE peer_id = ?`,
		peer.String(),
	).Scan(&rec.LastKnownAddress, &rec.ConnectTimeMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return rec, nil
}

// LookupAddress resolves a peer to a dialable host:port
func (r *ConnectionRegistry) LookupAddress(peer protocol.PeerID) (string, error) {
	rec, err := r.Lookup(peer)
	if err != nil {
		return "", err
	}
	if rec.LastKnownAddress == "" {
		return "", ErrNotFound
	}
	return MultiaddrToAddress(rec.LastKnownAddress)
}

// Delete removes the record for peer; no-op when absent
func (r *ConnectionRegistry) Delete(peer protocol.PeerID) error {
	if _, err := r.db.Exec(`DELETE FROM connections WHERE peer_id = ?`, peer.String()); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

// List returns all records, most recent first
func (r *ConnectionRegistry) List() ([]*ConnectionRecord, error) {
	rows, err := r.db.Query(`
		SELECT peer_id, last_known_address, connect_time_millis
		FROM connections
		ORDER BY connect_time_millis DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var records []*ConnectionRecord
	for rows.Next() {
		var peerHex string
		rec := &ConnectionRecord{}
		if err := rows.Scan(&peerHex, &rec.LastKnownAddress, &rec.ConnectTimeMillis); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		if rec.PeerID, err = protocol.ParsePeerID(peerHex); err != nil {
			return nil, fmt.Errorf("corrupt peer_id column: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *ConnectionRegistry) Close() error {
	return r.db.Close()
}

// AddressToMultiaddr converts a socket address to its multiaddr string
func AddressToMultiaddr(addr net.Addr) (string, error) {
	maddr, err := manet.FromNetAddr(addr)
	if err != nil {
		return "", fmt.Errorf("cannot express %s as multiaddr: %w", addr, err)
	}
	return maddr.String(), nil
}

// MultiaddrToAddress converts a multiaddr string back to host:port
func MultiaddrToAddress(s string) (string, error) {
	maddr, err := ma.NewMultiaddr(s)
	if err != nil {
		return "", fmt.Errorf("invalid multiaddr %q: %w", s, err)
	}
	addr, err := manet.ToNetAddr(maddr)
	if err != nil {
		return "", fmt.Errorf("multiaddr %q is not dialable: %w", s, err)
	}
	return addr.String(), nil
}
