package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/myclass/attendsync/internal/session"
)

const selectColumns = `
	id, localId, academicYear, semesterType, semester, section,
	subjectCode, subjectName, sessionDetails, students, markedBy,
	isSynced, isOfflineCreated, localCreatedTime
`

// Insert stores a full session snapshot keyed by its current ID.
// Failures are reported as *session.StorageError.
func (db *DB) Insert(ctx context.Context, s *session.Session) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	studentsJSON, err := json.Marshal(s.Students)
	if err != nil {
		return fmt.Errorf("failed to marshal students: %w", err)
	}

	var code, name sql.NullString
	if s.Subject != nil {
		code = sql.NullString{String: s.Subject.Code, Valid: true}
		name = sql.NullString{String: s.Subject.Name, Valid: true}
	}

	query := `
	INSERT INTO LocalAttendance (
		id, localId, academicYear, semesterType, semester, section,
		subjectCode, subjectName, sessionDetails, students, markedBy,
		isSynced, isOfflineCreated, localCreatedTime
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.conn.ExecContext(ctx, query,
		s.ID,
		s.ID,
		nullString(s.AcademicYear),
		nullString(s.SemesterType),
		nullString(s.Semester),
		nullString(s.Section),
		code,
		name,
		s.SessionDetails,
		string(studentsJSON),
		s.MarkedBy,
		boolToInt(s.IsSynced),
		boolToInt(s.IsOfflineCreated),
		s.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return &session.StorageError{Op: "insert", Err: fmt.Errorf("failed to insert session %s: %w", s.ID, err)}
	}
	return nil
}

// UpdateIdentity substitutes newID for oldID on an unsynced row and marks
// it synced, in one transaction.
//
// It reports renamed=false when no unsynced row with oldID exists any
// more (it was deleted while its push was in flight), which tells the
// caller the remote record it just created has no local counterpart. A
// row that is already synced under oldID is left alone and reported as
// renamed. If a row with newID already exists, the oldID row is dropped
// in its favour so the two keys are never both visible.
func (db *DB) UpdateIdentity(ctx context.Context, oldID, newID string) (renamed bool, err error) {
	if oldID == "" || newID == "" {
		return false, fmt.Errorf("identity rewrite needs both ids (old=%q new=%q)", oldID, newID)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, &session.StorageError{Op: "update identity", Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var synced int
	err = tx.QueryRowContext(ctx, `SELECT isSynced FROM LocalAttendance WHERE id = ?`, oldID).Scan(&synced)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return false, tx.Commit()
	}
	if err != nil {
		return false, &session.StorageError{Op: "update identity", Err: err}
	}
	if synced != 0 {
		return true, tx.Commit()
	}

	if oldID != newID {
		var exists int
		err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM LocalAttendance WHERE id = ?`, newID).Scan(&exists)
		if err != nil {
			return false, &session.StorageError{Op: "update identity", Err: err}
		}
		if exists > 0 {
			if _, err = tx.ExecContext(ctx, `DELETE FROM LocalAttendance WHERE id = ?`, oldID); err != nil {
				return false, &session.StorageError{Op: "update identity", Err: err}
			}
			if _, err = tx.ExecContext(ctx, `UPDATE LocalAttendance SET isSynced = 1 WHERE id = ?`, newID); err != nil {
				return false, &session.StorageError{Op: "update identity", Err: err}
			}
			return true, tx.Commit()
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE LocalAttendance
		SET id = ?, isSynced = 1, localId = COALESCE(localId, ?)
		WHERE id = ? AND isSynced = 0
	`, newID, oldID, oldID)
	if err != nil {
		return false, &session.StorageError{Op: "update identity", Err: fmt.Errorf("failed to rename %s to %s: %w", oldID, newID, err)}
	}
	if err = tx.Commit(); err != nil {
		return false, &session.StorageError{Op: "update identity", Err: fmt.Errorf("failed to commit: %w", err)}
	}
	return true, nil
}

// ListByOwner returns an owner's sessions, newest first. When day is
// non-nil only sessions created on that calendar day (in the store's
// location) are returned.
func (db *DB) ListByOwner(ctx context.Context, owner string, day *time.Time) ([]*session.Session, error) {
	query := `SELECT ` + selectColumns + ` FROM LocalAttendance WHERE markedBy = ?`
	args := []any{owner}
	if day != nil {
		start, end := session.DayWindow(*day, db.loc)
		query += ` AND localCreatedTime >= ? AND localCreatedTime < ?`
		args = append(args, start.UnixMilli(), end.UnixMilli())
	}
	query += ` ORDER BY localCreatedTime DESC, rowid DESC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &session.StorageError{Op: "list", Err: fmt.Errorf("failed to list sessions: %w", err)}
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListUnsynced returns the owner's sessions that have not been
// acknowledged by the remote service, oldest first so a sweep pushes them
// in creation order.
func (db *DB) ListUnsynced(ctx context.Context, owner string) ([]*session.Session, error) {
	query := `SELECT ` + selectColumns + `
	FROM LocalAttendance
	WHERE markedBy = ? AND isSynced = 0
	ORDER BY localCreatedTime ASC, rowid ASC`

	rows, err := db.conn.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, &session.StorageError{Op: "list unsynced", Err: fmt.Errorf("failed to list unsynced sessions: %w", err)}
	}
	defer rows.Close()
	return scanSessions(rows)
}

// Get retrieves a session by its current id or by the local handle it
// had before an identity rewrite. Returns (nil, nil) if not found.
func (db *DB) Get(ctx context.Context, id string) (*session.Session, error) {
	query := `SELECT ` + selectColumns + `
	FROM LocalAttendance
	WHERE id = ? OR localId = ?
	ORDER BY (id = ?) DESC
	LIMIT 1`

	rows, err := db.conn.QueryContext(ctx, query, id, id, id)
	if err != nil {
		return nil, &session.StorageError{Op: "get", Err: fmt.Errorf("failed to get session %s: %w", id, err)}
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

// Delete removes a session by current id or pre-rewrite handle and
// reports whether a row was removed. Deleting an unknown id is not an
// error.
func (db *DB) Delete(ctx context.Context, id string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM LocalAttendance WHERE id = ? OR localId = ?`, id, id)
	if err != nil {
		return false, &session.StorageError{Op: "delete", Err: fmt.Errorf("failed to delete session %s: %w", id, err)}
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteByOwner removes every session of owner and returns the count.
func (db *DB) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM LocalAttendance WHERE markedBy = ?`, owner)
	if err != nil {
		return 0, &session.StorageError{Op: "delete all", Err: fmt.Errorf("failed to delete sessions of %s: %w", owner, err)}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Counts holds per-owner row counts.
type Counts struct {
	Total    int `json:"total"`
	Unsynced int `json:"unsynced"`
}

// CountByOwner returns how many sessions owner has and how many are unsynced.
func (db *DB) CountByOwner(ctx context.Context, owner string) (Counts, error) {
	var c Counts
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN isSynced = 0 THEN 1 ELSE 0 END), 0)
		FROM LocalAttendance WHERE markedBy = ?
	`, owner).Scan(&c.Total, &c.Unsynced)
	if err != nil {
		return Counts{}, &session.StorageError{Op: "count", Err: err}
	}
	return c, nil
}

// scanSessions is a helper function to scan multiple sessions from query results.
func scanSessions(rows *sql.Rows) ([]*session.Session, error) {
	var out []*session.Session

	for rows.Next() {
		var (
			s                                     session.Session
			localID, year, semType, sem, section  sql.NullString
			subjectCode, subjectName, details     sql.NullString
			studentsJSON                          string
			isSynced, isOfflineCreated, createdMS int64
		)
		err := rows.Scan(
			&s.ID,
			&localID,
			&year,
			&semType,
			&sem,
			&section,
			&subjectCode,
			&subjectName,
			&details,
			&studentsJSON,
			&s.MarkedBy,
			&isSynced,
			&isOfflineCreated,
			&createdMS,
		)
		if err != nil {
			return nil, &session.StorageError{Op: "scan", Err: fmt.Errorf("failed to scan session: %w", err)}
		}

		s.AcademicYear = year.String
		s.SemesterType = semType.String
		s.Semester = sem.String
		s.Section = section.String
		s.SessionDetails = details.String
		if subjectCode.Valid || subjectName.Valid {
			s.Subject = &session.Subject{Code: subjectCode.String, Name: subjectName.String}
		}
		s.IsSynced = isSynced != 0
		s.IsOfflineCreated = isOfflineCreated != 0
		s.CreatedAt = time.UnixMilli(createdMS)

		if studentsJSON != "" && studentsJSON != "null" {
			if err := json.Unmarshal([]byte(studentsJSON), &s.Students); err != nil {
				return nil, fmt.Errorf("failed to unmarshal students of %s: %w", s.ID, err)
			}
		}
		if s.Students == nil {
			s.Students = []session.Student{}
		}

		out = append(out, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, &session.StorageError{Op: "scan", Err: fmt.Errorf("error iterating sessions: %w", err)}
	}
	return out, nil
}

// nullString converts an empty string to SQL NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
