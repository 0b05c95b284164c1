package localdb

import (
	"context"
	"fmt"
)

// createTable is the LocalAttendance layout at the oldest supported
// version. Columns added later are listed in additiveColumns and applied
// by Migrate, so fresh and upgraded databases end up identical.
const createTable = `
CREATE TABLE IF NOT EXISTS LocalAttendance (
	id TEXT PRIMARY KEY NOT NULL,
	academicYear TEXT,
	semesterType TEXT,
	semester TEXT,
	subjectCode TEXT,
	subjectName TEXT,
	students TEXT NOT NULL,     -- JSON array of {regNo, name, status}
	markedBy TEXT NOT NULL,
	isSynced INTEGER NOT NULL DEFAULT 0,
	isOfflineCreated INTEGER NOT NULL DEFAULT 1,
	localCreatedTime INTEGER NOT NULL  -- unix milliseconds
);
`

// column is one additive schema change.
type column struct {
	name string
	decl string
}

// additiveColumns are appended to LocalAttendance when missing, in order.
// Entries are never removed or reordered.
var additiveColumns = []column{
	{name: "section", decl: "TEXT"},
	{name: "sessionDetails", decl: "TEXT"},
	{name: "localId", decl: "TEXT"},
}

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_local_attendance_owner
	ON LocalAttendance(markedBy, localCreatedTime);
CREATE INDEX IF NOT EXISTS idx_local_attendance_unsynced
	ON LocalAttendance(markedBy, isSynced);
CREATE INDEX IF NOT EXISTS idx_local_attendance_local_id
	ON LocalAttendance(localId);
`

// InitSchema creates LocalAttendance if it doesn't exist and brings an
// existing table up to date. This is idempotent - safe to call multiple
// times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates and migrates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.MigrateContext(ctx); err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, createIndexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Migrate adds any missing columns to LocalAttendance and returns the
// names of the columns it added. Existing rows keep their data; new
// columns read as NULL for them.
func (db *DB) Migrate() ([]string, error) {
	return db.MigrateContext(context.Background())
}

// MigrateContext runs Migrate with context support.
func (db *DB) MigrateContext(ctx context.Context) ([]string, error) {
	existing, err := db.columns(ctx)
	if err != nil {
		return nil, err
	}

	var added []string
	for _, c := range additiveColumns {
		if existing[c.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE LocalAttendance ADD COLUMN %s %s", c.name, c.decl)
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return added, fmt.Errorf("failed to add column %s: %w", c.name, err)
		}
		added = append(added, c.name)
	}
	return added, nil
}

// columns returns the set of column names currently on LocalAttendance.
func (db *DB) columns(ctx context.Context) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx, "PRAGMA table_info(LocalAttendance)")
	if err != nil {
		return nil, fmt.Errorf("failed to read table info: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table info: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating table info: %w", err)
	}
	return cols, nil
}
