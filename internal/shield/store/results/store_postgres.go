package results

import (
	"context"
	"database/sql"
	"fmt"

	"idshield/internal/shield/models"
	"idshield/pkg/platform/tx"
)

// PostgresSchema creates the results table.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS identity_sessions (
	id            BIGSERIAL PRIMARY KEY,
	session_id    TEXT NOT NULL,
	id_hash       TEXT NOT NULL,
	fraud_verdict TEXT NOT NULL,
	is_duplicate  BOOLEAN NOT NULL,
	mode          TEXT NOT NULL,
	field_count   INTEGER NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_identity_sessions_id_hash ON identity_sessions(id_hash)`

// Postgres stores results in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed result store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the table if it does not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("migrate identity_sessions: %w", err)
	}
	return nil
}

// Save appends a record.
func (s *Postgres) Save(ctx context.Context, rec models.ResultRecord) error {
	_, err := tx.Executor(ctx, s.db).ExecContext(ctx,
		`INSERT INTO identity_sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.RecordID,
		rec.Fingerprint,
		rec.Verdict.Detail(),
		rec.Duplicate,
		string(rec.Mode),
		rec.FieldCount,
		rec.SubmittedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// ListByFingerprint returns records for a fingerprint, oldest first.
func (s *Postgres) ListByFingerprint(ctx context.Context, fingerprint string) ([]models.ResultRecord, error) {
	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM identity_sessions WHERE id_hash = $1 ORDER BY id`,
		fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []models.ResultRecord
	for rows.Next() {
		var (
			rec     models.ResultRecord
			verdict string
			mode    string
		)
		if err := rows.Scan(&rec.RecordID, &rec.Fingerprint, &verdict, &rec.Duplicate, &mode, &rec.FieldCount, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		rec.Verdict = models.ParseVerdict(verdict)
		rec.Mode = models.Mode(mode)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

// Health pings the database.
func (s *Postgres) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
