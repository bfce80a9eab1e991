package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Event kinds
const (
	EventJoin  = "join"
	EventLeave = "leave"
	EventRelay = "relay"
)

const (
	defaultJournalTTL = 7 * 24 * time.Hour
	cleanupInterval   = time.Hour
	bucketSize        = 3600 // seconds
)

// Event is one journaled session lifecycle event. Message content and key
// material are never stored.
type Event struct {
	ID         int64  `json:"id"`
	Kind       string `json:"kind"`
	SessionID  string `json:"session_id"`
	Name       string `json:"name"`
	RemoteAddr string `json:"remote_addr"`
	Timestamp  int64  `json:"timestamp"` // hour bucket, unix seconds
	ExpiresAt  int64  `json:"expires_at"`
}

// EventJournal records relay activity in sqlite
type EventJournal struct {
	db     *sql.DB
	ttl    time.Duration
	logger *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewEventJournal opens or creates the journal at dbPath.
// ttl: how long events are kept (default: 7 days)
func NewEventJournal(dbPath string, ttl time.Duration, logger *zap.Logger) (*EventJournal, error) {
	if ttl == 0 {
		ttl = defaultJournalTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	journal := &EventJournal{
		db:     db,
		ttl:    ttl,
		logger: logger,
		stop:   make(chan struct{}),
	}

	if err := journal.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	// Start background cleanup goroutine
	go journal.cleanupLoop()

	return journal, nil
}

// initSchema creates the database schema
func (j *EventJournal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		remote_addr TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	-- Index for per-kind counters
	CREATE INDEX IF NOT EXISTS idx_kind ON session_events(kind);

	-- Index for expiration cleanup
	CREATE INDEX IF NOT EXISTS idx_expires ON session_events(expires_at);
	`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// bucketTimestamp rounds a unix timestamp down to the hour so the journal
// never holds precise activity timing
func bucketTimestamp(ts int64) int64 {
	return ts - ts%bucketSize
}

// RecordEvent appends an event
func (j *EventJournal) RecordEvent(kind, sessionID, name, remoteAddr string) error {
	now := time.Now().Unix()
	expiresAt := now + int64(j.ttl.Seconds())

	query := `
		INSERT INTO session_events (kind, session_id, name, remote_addr, timestamp, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if _, err := j.db.Exec(query, kind, sessionID, name, remoteAddr, bucketTimestamp(now), expiresAt); err != nil {
		return fmt.Errorf("failed to record %s event: %w", kind, err)
	}

	return nil
}

// RecentEvents returns up to limit unexpired events, newest first
func (j *EventJournal) RecentEvents(limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, kind, session_id, name, remote_addr, timestamp, expires_at
		FROM session_events
		WHERE expires_at > ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := j.db.Query(query, time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.Kind, &e.SessionID, &e.Name, &e.RemoteAddr, &e.Timestamp, &e.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// CountEvents returns the number of unexpired events of kind
func (j *EventJournal) CountEvents(kind string) (int, error) {
	query := `SELECT COUNT(*) FROM session_events WHERE kind = ? AND expires_at > ?`

	var count int
	if err := j.db.QueryRow(query, kind, time.Now().Unix()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	return count, nil
}

// GetJournalStats returns event counts per kind and the number of distinct
// sessions seen
func (j *EventJournal) GetJournalStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	query := `
		SELECT kind, COUNT(*) as count
		FROM session_events
		WHERE expires_at > ?
		GROUP BY kind
	`

	now := time.Now().Unix()
	rows, err := j.db.Query(query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byKind := map[string]int{EventJoin: 0, EventLeave: 0, EventRelay: 0}
	total := 0
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		byKind[kind] = count
		total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats["by_kind"] = byKind
	stats["total_events"] = total

	var sessions int
	err = j.db.QueryRow(`SELECT COUNT(DISTINCT session_id) FROM session_events WHERE expires_at > ?`, now).Scan(&sessions)
	if err != nil {
		return nil, err
	}
	stats["distinct_sessions"] = sessions

	return stats, nil
}

// PurgeExpired deletes expired events and returns how many were removed
func (j *EventJournal) PurgeExpired() (int64, error) {
	result, err := j.db.Exec(`DELETE FROM session_events WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}

	return result.RowsAffected()
}

// cleanupLoop periodically removes expired events
func (j *EventJournal) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			count, err := j.PurgeExpired()
			if err != nil {
				j.logger.Warn("failed to clean up expired events", zap.Error(err))
				continue
			}
			if count > 0 {
				j.logger.Info("cleaned up expired events", zap.Int64("count", count))
			}
		}
	}
}

// Close stops background cleanup and closes the database connection
func (j *EventJournal) Close() error {
	j.stopOnce.Do(func() { close(j.stop) })
	return j.db.Close()
}
