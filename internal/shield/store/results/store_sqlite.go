package results

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"idshield/internal/shield/models"
)

// SQLite stores results in a local database file.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens or creates the database at path and applies the schema.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create results directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open results database: %w", err)
	}
	// One writer at a time; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identity_sessions (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id    TEXT NOT NULL,
		id_hash       TEXT NOT NULL,
		fraud_verdict TEXT NOT NULL,
		is_duplicate  INTEGER NOT NULL,
		mode          TEXT NOT NULL,
		field_count   INTEGER NOT NULL,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_identity_sessions_id_hash ON identity_sessions(id_hash);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate identity_sessions: %w", err)
	}
	return nil
}

// Save appends a record.
func (s *SQLite) Save(ctx context.Context, rec models.ResultRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordID,
		rec.Fingerprint,
		rec.Verdict.Detail(),
		rec.Duplicate,
		string(rec.Mode),
		rec.FieldCount,
		rec.SubmittedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// ListByFingerprint returns records for a fingerprint, oldest first.
func (s *SQLite) ListByFingerprint(ctx context.Context, fingerprint string) ([]models.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM identity_sessions WHERE id_hash = ? ORDER BY id`,
		fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []models.ResultRecord
	for rows.Next() {
		var (
			rec       models.ResultRecord
			verdict   string
			mode      string
			createdAt string
		)
		if err := rows.Scan(&rec.RecordID, &rec.Fingerprint, &verdict, &rec.Duplicate, &mode, &rec.FieldCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		rec.Verdict = models.ParseVerdict(verdict)
		rec.Mode = models.Mode(mode)
		if rec.SubmittedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse result time: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

// Health pings the database.
func (s *SQLite) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
