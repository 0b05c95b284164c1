package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/myclass/attendsync/internal/remote"
	"github.com/myclass/attendsync/internal/session"
)

// ids are TEXT so that deleting a client-side local id is a no-op instead
// of a cast error.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS attendance_sessions (
	id                 TEXT PRIMARY KEY,
	created_at         TIMESTAMPTZ NOT NULL,
	academic_year      TEXT NOT NULL DEFAULT '',
	semester_type      TEXT NOT NULL DEFAULT '',
	semester           TEXT NOT NULL DEFAULT '',
	subject_code       TEXT,
	subject_name       TEXT,
	section            TEXT NOT NULL DEFAULT '',
	session_details    TEXT NOT NULL DEFAULT '',
	students           JSONB NOT NULL,
	marked_by          TEXT NOT NULL,
	is_offline_created BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_attendance_sessions_owner_created
	ON attendance_sessions (marked_by, created_at DESC);
`

// PostgresRepository stores sessions in Postgres through the pgx driver.
type PostgresRepository struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and makes sure the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store requires server.database_url")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

func (p *PostgresRepository) Create(ctx context.Context, id string, createdAt time.Time, req remote.CreateRequest) error {
	students, err := json.Marshal(req.Students)
	if err != nil {
		return fmt.Errorf("failed to marshal students: %w", err)
	}
	var code, name sql.NullString
	if req.Subject != nil {
		code = sql.NullString{String: req.Subject.Code, Valid: true}
		name = sql.NullString{String: req.Subject.Name, Valid: true}
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions (
			id, created_at, academic_year, semester_type, semester,
			subject_code, subject_name, section, session_details,
			students, marked_by, is_offline_created
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, id, createdAt.UTC(), req.AcademicYear, req.SemesterType, req.Semester,
		code, name, req.Section, req.SessionDetails,
		string(students), req.MarkedBy, req.IsOfflineCreated)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", id, err)
	}
	return nil
}

func (p *PostgresRepository) List(ctx context.Context, owner string, r *remote.DateRange) ([]remote.SessionRecord, error) {
	query := `
		SELECT id, created_at, academic_year, semester_type, semester,
		       subject_code, subject_name, section, session_details,
		       students, marked_by, is_offline_created
		FROM attendance_sessions
		WHERE marked_by = $1`
	args := []any{owner}
	if r != nil {
		query += ` AND created_at >= $2 AND created_at <= $3`
		args = append(args, r.Start.UTC(), r.End.UTC())
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []remote.SessionRecord
	for rows.Next() {
		var (
			rec        remote.SessionRecord
			code, name sql.NullString
			students   []byte
		)
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.AcademicYear, &rec.SemesterType, &rec.Semester,
			&code, &name, &rec.Section, &rec.SessionDetails,
			&students, &rec.MarkedBy, &rec.IsOfflineCreated); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if code.Valid || name.Valid {
			rec.Subject = &session.Subject{Code: code.String, Name: name.String}
		}
		if err := json.Unmarshal(students, &rec.Students); err != nil {
			return nil, fmt.Errorf("session %s has malformed students: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresRepository) Delete(ctx context.Context, id, owner string) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if owner == "" {
		res, err = p.db.ExecContext(ctx, `DELETE FROM attendance_sessions WHERE id = $1`, id)
	} else {
		res, err = p.db.ExecContext(ctx, `DELETE FROM attendance_sessions WHERE id = $1 AND marked_by = $2`, id, owner)
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresRepository) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM attendance_sessions WHERE marked_by = $1`, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions of %s: %w", owner, err)
	}
	return res.RowsAffected()
}

func (p *PostgresRepository) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresRepository) Close() error {
	return p.db.Close()
}
