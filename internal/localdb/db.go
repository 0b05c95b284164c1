// Package localdb provides the on-device durable store for attendance
// sessions.
//
// Sessions live in a single embedded SQLite table, LocalAttendance, opened
// in WAL mode so the reconciler, the inbox watcher and the CLI can read
// while a save is in progress. The store is the source of truth while
// offline: every save lands here before any network call is attempted.
//
// Architecture:
//   - Database file: ~/.myclass/attendance.db (configurable)
//   - WAL mode with a busy timeout on every pooled connection
//   - Schema: LocalAttendance, extended in place by additive migrations
//   - Indexes: per-owner listing by creation time, unsynced sweep, local id lookup
//
// Identity: a row is inserted under its local handle. When the remote
// service acknowledges it, UpdateIdentity substitutes the server id and
// flips isSynced in one transaction. The original handle is kept in the
// localId column so lookups by the pre-rewrite id still resolve.
package localdb

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection pool holding LocalAttendance.
type DB struct {
	conn *sql.DB
	path string
	loc  *time.Location
}

// Open creates a new database connection at the specified path.
//
// The parent directory is created if needed. Open does not create the
// schema; call InitSchema (or use a Handle, which does both).
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := localdb.Open("~/.myclass/attendance.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them, not just
	// the first one. Immediate transactions take the write lock up front,
	// which lets the busy timeout apply to the identity rewrite.
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "synchronous(normal)")
	q.Set("_txlock", "immediate")
	connStr := fmt.Sprintf("file:%s?%s", path, q.Encode())

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{
		conn: conn,
		path: path,
		loc:  time.Local,
	}, nil
}

// SetLocation sets the timezone used for calendar-day filters.
// A nil location restores time.Local.
func (db *DB) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	db.loc = loc
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}
