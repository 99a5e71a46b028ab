//go:build integration

package dupindex_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"idshield/internal/shield/models"
	"idshield/internal/shield/store/dupindex"
	"idshield/pkg/platform/tx"
	"idshield/pkg/requestcontext"
	"idshield/pkg/testutil/containers"
)

type PostgresIndexSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	index    *dupindex.Postgres
}

func TestPostgresIndexSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresIndexSuite))
}

func (s *PostgresIndexSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.index = dupindex.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.index.Migrate(context.Background()))
}

func (s *PostgresIndexSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "shield_fingerprints")
	s.Require().NoError(err)
}

func (s *PostgresIndexSuite) TestDuplicateReturnsFirstRecord() {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	first, err := s.index.CheckAndRecord(ctx, "fp-1")
	s.Require().NoError(err)
	s.False(first.Duplicate)

	later := requestcontext.WithTime(context.Background(), now.Add(time.Hour))
	second, err := s.index.CheckAndRecord(later, "fp-1")
	s.Require().NoError(err)
	s.True(second.Duplicate)
	s.Equal(first.Record.RecordID, second.Record.RecordID)
	s.True(now.Equal(second.Record.RecordedAt))
}

func (s *PostgresIndexSuite) TestConcurrentFirstWriterWins() {
	ctx := context.Background()
	const goroutines = 32
	results := make([]models.DuplicateCheck, goroutines)

	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			check, err := s.index.CheckAndRecord(ctx, "fp-race")
			s.NoError(err)
			results[i] = check
		}(i)
	}
	wg.Wait()

	clean := 0
	for _, r := range results {
		if !r.Duplicate {
			clean++
		}
		s.Equal(results[0].Record.RecordID, r.Record.RecordID)
	}
	s.Equal(1, clean)
}

func (s *PostgresIndexSuite) TestRolledBackTransactionRecordsNothing() {
	ctx := context.Background()
	sqlTx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)

	_, err = s.index.CheckAndRecord(tx.WithTx(ctx, sqlTx), "fp-tx")
	s.Require().NoError(err)
	s.Require().NoError(sqlTx.Rollback())

	check, err := s.index.CheckAndRecord(ctx, "fp-tx")
	s.Require().NoError(err)
	s.False(check.Duplicate)
}
