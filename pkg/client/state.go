package client

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// State manages client-side persistent state: config values, connection
// history and notification watermarks. Thread contents are never stored.
type State struct {
	db  *sql.DB
	dir string // Directory where state is stored
}

// migrations are applied in order; PRAGMA user_version records progress
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS Config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ConnectionHistory (
		server_url      TEXT PRIMARY KEY,
		transport       TEXT NOT NULL,
		last_success_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS NotificationWatermark (
		channel      TEXT PRIMARY KEY,
		last_seen_at INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	)`,
}

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Client only needs one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &State{db: db, dir: dir}, nil
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		// PRAGMA does not take bind parameters
		if _, err := tx.Exec("PRAGMA user_version = " + strconv.Itoa(i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a configuration value
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// GetLastConnection returns when serverURL was last reached successfully.
// The zero time means never.
func (s *State) GetLastConnection(serverURL string) (time.Time, error) {
	var at int64
	err := s.db.QueryRow(`
		SELECT last_success_at
		FROM ConnectionHistory
		WHERE server_url = ?
	`, serverURL).Scan(&at)

	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(at), nil
}

// SaveSuccessfulConnection records a successful connection to a server
func (s *State) SaveSuccessfulConnection(serverURL string, transport string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO ConnectionHistory (server_url, transport, last_success_at)
		VALUES (?, ?, ?)
	`, serverURL, transport, time.Now().UnixMilli())
	return err
}

// GetNotificationWatermark returns the newest seen notification time for a
// channel in unix milliseconds, 0 if nothing was ever marked read
func (s *State) GetNotificationWatermark(channel string) (int64, error) {
	var lastSeen int64
	err := s.db.QueryRow(`
		SELECT last_seen_at
		FROM NotificationWatermark
		WHERE channel = ?
	`, channel).Scan(&lastSeen)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return lastSeen, nil
}

// SetNotificationWatermark stores the watermark for a channel. The stored
// value never moves backwards.
func (s *State) SetNotificationWatermark(channel string, timestamp int64) error {
	_, err := s.db.Exec(`
		INSERT INTO NotificationWatermark (channel, last_seen_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET
			last_seen_at = MAX(last_seen_at, excluded.last_seen_at),
			updated_at = excluded.updated_at
	`, channel, timestamp, time.Now().Unix())
	return err
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}

var _ StateInterface = (*State)(nil)
