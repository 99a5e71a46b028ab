package dupindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"idshield/internal/shield/models"
	"idshield/pkg/platform/tx"
	"idshield/pkg/requestcontext"
)

// PostgresSchema creates the fingerprint table.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS shield_fingerprints (
	fingerprint TEXT PRIMARY KEY,
	record_id   TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
)`

// Postgres persists the index in PostgreSQL. The primary key on fingerprint
// decides the first writer.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed index.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the table if it does not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("migrate shield_fingerprints: %w", err)
	}
	return nil
}

// CheckAndRecord inserts the candidate record and, if another writer got
// there first, returns the stored one.
func (s *Postgres) CheckAndRecord(ctx context.Context, fingerprint string) (models.DuplicateCheck, error) {
	exec := tx.Executor(ctx, s.db)
	candidate := models.DuplicateRecord{
		RecordID:   NewRecordID(),
		RecordedAt: requestcontext.Now(ctx).UTC().Truncate(time.Microsecond),
	}

	res, err := exec.ExecContext(ctx, `
		INSERT INTO shield_fingerprints (fingerprint, record_id, recorded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (fingerprint) DO NOTHING
	`, fingerprint, candidate.RecordID, candidate.RecordedAt)
	if err != nil {
		return models.DuplicateCheck{}, fmt.Errorf("record fingerprint: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return models.DuplicateCheck{}, fmt.Errorf("record fingerprint rows: %w", err)
	}
	if inserted == 1 {
		return models.DuplicateCheck{Record: candidate}, nil
	}

	var existing models.DuplicateRecord
	err = exec.QueryRowContext(ctx,
		`SELECT record_id, recorded_at FROM shield_fingerprints WHERE fingerprint = $1`,
		fingerprint,
	).Scan(&existing.RecordID, &existing.RecordedAt)
	if err != nil {
		return models.DuplicateCheck{}, fmt.Errorf("read fingerprint: %w", err)
	}
	return models.DuplicateCheck{Duplicate: true, Record: existing}, nil
}

// Health pings the database.
func (s *Postgres) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
