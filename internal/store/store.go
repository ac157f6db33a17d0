// Package store persists two supplemental, append-only logs: a control-plane
// audit log of state-mutating client commands, and a history of AES67
// discovery append/withdraw events.
// It deliberately does NOT persist mixer state itself — scene save/load is
// an out-of-scope external collaborator. Grounded on the
// teacher's internal/store/store.go for the sqlite Open/migrate idiom and
// on room.go's SetOnAuditLog/AuditLog callback pattern, repurposed here from
// chat moderation to mixer control-plane auditing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists the audit log and discovery history in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection. Safe to call on a nil
// Store (e.g. when persistence was not configured).
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Backup writes a consistent copy of the database to destPath.
func (s *Store) Backup(destPath string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not open")
	}
	_, err := s.db.Exec(`VACUUM INTO ?`, destPath)
	if err != nil {
		return fmt.Errorf("backup database: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	client_id TEXT NOT NULL,
	command TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at_unix_ms);

CREATE TABLE IF NOT EXISTS discovery_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	event TEXT NOT NULL,
	name TEXT NOT NULL,
	multicast_addr TEXT NOT NULL,
	port INTEGER NOT NULL,
	channels INTEGER NOT NULL,
	sample_rate INTEGER NOT NULL,
	sdp TEXT NOT NULL,
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_discovery_events_session ON discovery_events(session_id, created_at_unix_ms);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	slog.Debug("sqlite migrations applied")
	return nil
}

// mutatingCommands is the set of client tags that are state-mutating
// (broadcast = true on success), which is exactly the set this port
// records to the audit log.
var mutatingCommands = map[string]struct{}{
	"set_fader":                 {},
	"set_mute":                  {},
	"set_solo":                  {},
	"set_pan":                   {},
	"set_gain":                  {},
	"set_channel_name":          {},
	"set_channel_color":         {},
	"set_routing":               {},
	"set_routing_unity":         {},
	"clear_routing":             {},
	"subscribe_aes67_stream":    {},
	"unsubscribe_aes67_stream":  {},
	"refresh_aes67":             {},
}

// IsMutatingCommand reports whether a client command tag broadcasts on
// success, and therefore one the audit log records.
func IsMutatingCommand(msgType string) bool {
	_, ok := mutatingCommands[msgType]
	return ok
}

// RecordCommand appends one audit log entry. Safe to call on a nil Store
// (no-op), so callers don't need to branch when persistence is disabled.
func (s *Store) RecordCommand(clientID, command, payload string) error {
	if s == nil || s.db == nil {
		return nil
	}
	const q = `INSERT INTO audit_log (client_id, command, payload, created_at_unix_ms) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(context.Background(), q, clientID, command, payload, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert audit log entry: %w", err)
	}
	return nil
}

// AuditEntry is one persisted control-plane command.
type AuditEntry struct {
	ID        int64  `json:"id"`
	ClientID  string `json:"client_id"`
	Command   string `json:"command"`
	Payload   string `json:"payload"`
	CreatedAt int64  `json:"created_at_unix_ms"`
}

// RecentCommands returns the most recent audit log entries, newest first.
func (s *Store) RecentCommands(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT id, client_id, command, payload, created_at_unix_ms FROM audit_log ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Command, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DiscoveryEvent is one persisted SAP announce/withdraw observation.
type DiscoveryEvent struct {
	ID            int64  `json:"id"`
	SessionID     string `json:"session_id"`
	Event         string `json:"event"` // "announced" or "withdrawn"
	Name          string `json:"name"`
	MulticastAddr string `json:"multicast_addr"`
	Port          uint16 `json:"port"`
	Channels      uint8  `json:"channels"`
	SampleRate    uint32 `json:"sample_rate"`
	SDP           string `json:"sdp"`
	CreatedAt     int64  `json:"created_at_unix_ms"`
}

// RecordDiscoveryEvent appends one discovery observation so a disconnected
// announcer's last-known SDP remains queryable. This does not reintroduce
// the out-of-scope scene store: it persists observations about the
// network, not mixer state.
func (s *Store) RecordDiscoveryEvent(ev DiscoveryEvent) error {
	if s == nil || s.db == nil {
		return nil
	}
	const q = `
INSERT INTO discovery_events (session_id, event, name, multicast_addr, port, channels, sample_rate, sdp, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(context.Background(), q,
		ev.SessionID, ev.Event, ev.Name, ev.MulticastAddr, ev.Port, ev.Channels, ev.SampleRate, ev.SDP, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert discovery event: %w", err)
	}
	return nil
}

// DiscoveryHistory returns the most recent discovery events for a session,
// newest first.
func (s *Store) DiscoveryHistory(ctx context.Context, sessionID string, limit int) ([]DiscoveryEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, session_id, event, name, multicast_addr, port, channels, sample_rate, sdp, created_at_unix_ms
FROM discovery_events WHERE session_id = ? ORDER BY id DESC LIMIT ?
`
	rows, err := s.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query discovery history: %w", err)
	}
	defer rows.Close()

	var out []DiscoveryEvent
	for rows.Next() {
		var e DiscoveryEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Event, &e.Name, &e.MulticastAddr, &e.Port, &e.Channels, &e.SampleRate, &e.SDP, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan discovery event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
