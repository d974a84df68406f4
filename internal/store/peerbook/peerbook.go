// Package peerbook persists the gossip peers this node has exchanged
// traffic with, together with a rough dial-quality record per peer, so the
// host can bias its reconnect attempts after a restart toward peers that
// have actually answered before instead of waiting on rediscovery.
package peerbook

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// PeerBook is a sqlite-backed record of known gossip peers and their dial
// history. All methods are safe for concurrent use; writes are serialized
// over a single connection.
type PeerBook struct {
	db *sql.DB
}

// Open creates or opens the peer book database under dataDir.
func Open(dataDir string) (*PeerBook, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("peerbook: create data dir: %w", err)
	}

	path := filepath.Join(dataDir, "peerbook.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("peerbook: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pb := &PeerBook{db: db}
	if err := pb.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("peerbook: migrate: %w", err)
	}
	return pb, nil
}

func (pb *PeerBook) Close() error { return pb.db.Close() }

func (pb *PeerBook) migrate() error {
	_, err := pb.db.Exec(`
		CREATE TABLE IF NOT EXISTS gossip_peers (
			id            TEXT PRIMARY KEY,
			first_seen    INTEGER NOT NULL,
			last_seen     INTEGER NOT NULL,
			dial_attempts INTEGER NOT NULL DEFAULT 0,
			dial_failures INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS gossip_peer_addrs (
			peer_id TEXT NOT NULL REFERENCES gossip_peers(id) ON DELETE CASCADE,
			addr    TEXT NOT NULL,
			PRIMARY KEY (peer_id, addr)
		);
		CREATE INDEX IF NOT EXISTS gossip_peers_seen ON gossip_peers(last_seen);
	`)
	return err
}

// Touch records that the peer was seen now at the given addresses, creating
// it on first contact. Addresses accumulate across calls; a peer that moves
// keeps its old addresses until Prune or Forget drops the whole record.
func (pb *PeerBook) Touch(id string, addrs []string) error {
	now := time.Now().Unix()
	tx, err := pb.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO gossip_peers (id, first_seen, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_seen = ?`,
		id, now, now, now,
	); err != nil {
		return err
	}
	for _, addr := range addrs {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO gossip_peer_addrs (peer_id, addr) VALUES (?, ?)`,
			id, addr,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordDial bumps the peer's dial counters. Failed dials raise the
// failure ratio Candidates sorts by, pushing flaky peers to the back of
// the reconnect order without forgetting them outright.
func (pb *PeerBook) RecordDial(id string, ok bool) error {
	failed := 0
	if !ok {
		failed = 1
	}
	_, err := pb.db.Exec(`
		UPDATE gossip_peers
		SET dial_attempts = dial_attempts + 1, dial_failures = dial_failures + ?
		WHERE id = ?`,
		failed, id,
	)
	return err
}

// Candidate is one reconnect target produced by Candidates.
type Candidate struct {
	ID           string
	Addrs        []string
	LastSeen     time.Time
	DialAttempts int
	DialFailures int
}

// Candidates returns peers seen within the given window, best dial record
// first: the failure ratio decides the order, recency breaks ties. Peers
// with no recorded address are skipped, since the host could not dial them
// anyway.
func (pb *PeerBook) Candidates(window time.Duration, limit int) ([]Candidate, error) {
	cutoff := time.Now().Add(-window).Unix()
	rows, err := pb.db.Query(`
		SELECT p.id, p.last_seen, p.dial_attempts, p.dial_failures
		FROM gossip_peers p
		WHERE p.last_seen >= ?
		  AND EXISTS (SELECT 1 FROM gossip_peer_addrs a WHERE a.peer_id = p.id)
		ORDER BY CAST(p.dial_failures AS REAL) / (p.dial_attempts + 1) ASC, p.last_seen DESC
		LIMIT ?`,
		cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var lastSeen int64
		if err := rows.Scan(&c.ID, &lastSeen, &c.DialAttempts, &c.DialFailures); err != nil {
			return nil, err
		}
		c.LastSeen = time.Unix(lastSeen, 0)
		if c.Addrs, err = pb.addrsOf(c.ID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (pb *PeerBook) addrsOf(id string) ([]string, error) {
	rows, err := pb.db.Query(`SELECT addr FROM gossip_peer_addrs WHERE peer_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

// Prune drops peers not seen within the given window, their addresses
// cascading away with them. Returns how many peers were removed.
func (pb *PeerBook) Prune(window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window).Unix()
	res, err := pb.db.Exec(`DELETE FROM gossip_peers WHERE last_seen < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Forget removes a single peer, used when it is banned.
func (pb *PeerBook) Forget(id string) error {
	_, err := pb.db.Exec(`DELETE FROM gossip_peers WHERE id = ?`, id)
	return err
}

// Count returns the number of known peers.
func (pb *PeerBook) Count() (int, error) {
	var n int
	err := pb.db.QueryRow(`SELECT COUNT(*) FROM gossip_peers`).Scan(&n)
	return n, err
}
