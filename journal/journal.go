// Package journal persists the outcome of every upload attempt in an
// embedded SQLite database, giving front ends a durable transfer history
// to report on. Recording is best-effort from the client's point of view:
// the session client logs and swallows journal errors.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	sncloud "github.com/notewell/sncloud-go"
)

// Record is one journaled upload attempt.
type Record struct {
	ID        string
	FilePath  string
	CloudPath string
	FileName  string
	Success   bool
	Error     string
	CreatedAt time.Time
}

// Journal is a SQLite-backed upload history. Use ":memory:" as the path
// for tests.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	insertStmt *sql.Stmt
	recentStmt *sql.Stmt
}

// Open opens (creating if needed) the journal database at dbPath, applies
// schema migrations, and prepares the repeated statements.
func Open(dbPath string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: opening %s: %w", dbPath, err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{db: db, logger: logger}

	if j.insertStmt, err = db.Prepare(
		`INSERT INTO uploads (id, file_path, cloud_path, file_name, success, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: preparing insert: %w", err)
	}

	if j.recentStmt, err = db.Prepare(
		`SELECT id, file_path, cloud_path, file_name, success, error, created_at
		 FROM uploads ORDER BY created_at DESC, id LIMIT ?`,
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: preparing recent query: %w", err)
	}

	return j, nil
}

// setPragmas configures the connection for durable single-writer use.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}

	return nil
}

// RecordUpload journals one upload outcome. Implements
// sncloud.UploadRecorder.
func (j *Journal) RecordUpload(ctx context.Context, res sncloud.UploadResult) error {
	_, err := j.insertStmt.ExecContext(ctx,
		uuid.NewString(),
		res.FilePath,
		res.CloudPath,
		res.FileName,
		res.Success,
		res.Error,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: recording upload: %w", err)
	}

	return nil
}

// Recent returns up to limit journaled uploads, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := j.recentStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: querying recent uploads: %w", err)
	}
	defer rows.Close()

	var records []Record

	for rows.Next() {
		var (
			rec       Record
			createdAt string
		)

		if err := rows.Scan(&rec.ID, &rec.FilePath, &rec.CloudPath, &rec.FileName, &rec.Success, &rec.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("journal: scanning upload row: %w", err)
		}

		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("journal: parsing created_at %q: %w", createdAt, err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating upload rows: %w", err)
	}

	return records, nil
}

// Close releases prepared statements and the database handle.
func (j *Journal) Close() error {
	if j.insertStmt != nil {
		_ = j.insertStmt.Close()
	}

	if j.recentStmt != nil {
		_ = j.recentStmt.Close()
	}

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("journal: closing database: %w", err)
	}

	return nil
}
