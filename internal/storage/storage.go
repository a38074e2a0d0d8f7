// Package storage provides persistent swap storage using SQLite.
//
// Each portfolio gets its own database file, so switching portfolios switches
// the whole store.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Storage errors
var (
	ErrClosed             = errors.New("storage is closed")
	ErrInvalidPortfolioID = errors.New("invalid portfolio id")
)

var portfolioIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Storage provides persistent storage for one portfolio's swaps.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	closed bool
}

// Config holds storage configuration.
type Config struct {
	DataDir     string
	PortfolioID string
}

// Path returns the database file used for a portfolio.
func Path(dataDir, portfolioID string) string {
	return filepath.Join(expandPath(dataDir), "swaps-"+portfolioID+".db")
}

// New opens (creating if needed) the swap database of a portfolio.
func New(cfg *Config) (*Storage, error) {
	if !portfolioIDPattern.MatchString(cfg.PortfolioID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPortfolioID, cfg.PortfolioID)
	}

	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := Path(dataDir, cfg.PortfolioID)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection. Calling Close twice is a no-op.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Destroy closes the database and removes its files.
func (s *Storage) Destroy() error {
	if err := s.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", s.dbPath+suffix, err)
		}
	}
	return nil
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// DBPath returns the database file path.
func (s *Storage) DBPath() string {
	return s.dbPath
}

// IsTransient reports whether err means the store is temporarily
// unavailable and the operation may succeed if retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- One row per swap attempt. Only what was observed is stored: the order
	-- request, the daemon's acknowledgment and the daemon's push messages in
	-- arrival order. Status is derived on read.
	CREATE TABLE IF NOT EXISTS swaps (
		uuid TEXT PRIMARY KEY,
		time_started INTEGER NOT NULL,        -- unix milliseconds
		request TEXT NOT NULL,                -- JSON
		response TEXT NOT NULL,               -- JSON
		messages TEXT NOT NULL DEFAULT '[]',  -- JSON array, append-only
		privacy TEXT,                         -- JSON, NULL for public swaps
		request_id INTEGER NOT NULL DEFAULT 0,
		quote_id INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_time_started ON swaps(time_started, uuid);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
