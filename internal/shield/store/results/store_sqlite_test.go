package results

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"idshield/internal/shield/models"
)

type SQLiteSuite struct {
	suite.Suite
	store *SQLite
	ctx   context.Context
}

func TestSQLiteSuite(t *testing.T) {
	suite.Run(t, new(SQLiteSuite))
}

func (s *SQLiteSuite) SetupTest() {
	store, err := NewSQLite(filepath.Join(s.T().TempDir(), "nested", "shield.db"))
	s.Require().NoError(err)
	s.store = store
	s.ctx = context.Background()
}

func (s *SQLiteSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *SQLiteSuite) TestSaveAndList() {
	first := time.Date(2026, 2, 1, 9, 0, 0, 123000000, time.UTC)
	records := []models.ResultRecord{
		{RecordID: "AB12CD34", Fingerprint: "fp-1", Verdict: models.VerdictClean, Mode: models.ModeLive, FieldCount: 3, SubmittedAt: first},
		{RecordID: "AB12CD34", Fingerprint: "fp-1", Verdict: models.VerdictDuplicate, Duplicate: true, Mode: models.ModeDegraded, SubmittedAt: first.Add(time.Minute)},
		{RecordID: "FFFF0000", Fingerprint: "fp-2", Verdict: models.VerdictClean, Mode: models.ModeLive, SubmittedAt: first},
	}
	for _, rec := range records {
		s.Require().NoError(s.store.Save(s.ctx, rec))
	}

	got, err := s.store.ListByFingerprint(s.ctx, "fp-1")
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(records[0], got[0])
	s.Equal(records[1], got[1])

	none, err := s.store.ListByFingerprint(s.ctx, "missing")
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *SQLiteSuite) TestVerdictColumnHoldsDetail() {
	s.Require().NoError(s.store.Save(s.ctx, models.ResultRecord{
		RecordID: "AB12CD34", Fingerprint: "fp-d", Verdict: models.VerdictDuplicate, Duplicate: true, Mode: models.ModeLive, SubmittedAt: time.Now(),
	}))

	var stored string
	s.Require().NoError(s.store.db.QueryRowContext(s.ctx,
		`SELECT fraud_verdict FROM identity_sessions WHERE id_hash = ?`, "fp-d").Scan(&stored))
	s.Equal("DUPLICATE - possible identity reuse", stored)
}

func (s *SQLiteSuite) TestReopenKeepsData() {
	path := filepath.Join(s.T().TempDir(), "shield.db")
	store, err := NewSQLite(path)
	s.Require().NoError(err)
	s.Require().NoError(store.Save(s.ctx, models.ResultRecord{
		RecordID: "AB12CD34", Fingerprint: "fp", Verdict: models.VerdictClean, Mode: models.ModeLive, SubmittedAt: time.Now(),
	}))
	s.Require().NoError(store.Close())

	reopened, err := NewSQLite(path)
	s.Require().NoError(err)
	defer reopened.Close()
	got, err := reopened.ListByFingerprint(s.ctx, "fp")
	s.Require().NoError(err)
	s.Len(got, 1)
}

func (s *SQLiteSuite) TestHealth() {
	s.NoError(s.store.Health(s.ctx))
	s.NoError(Nop{}.Health(s.ctx))
	s.NoError(Nop{}.Save(s.ctx, models.ResultRecord{}))
}
