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
	"idshield/pkg/requestcontext"
	"idshield/pkg/testutil/containers"
)

type RedisIndexSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	index *dupindex.Redis
}

func TestRedisIndexSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisIndexSuite))
}

func (s *RedisIndexSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.index = dupindex.NewRedis(s.redis.Client, dupindex.WithKeyPrefix("test:fp:"))
}

func (s *RedisIndexSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisIndexSuite) TestDuplicateReturnsFirstRecord() {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	first, err := s.index.CheckAndRecord(ctx, "fp-1")
	s.Require().NoError(err)
	s.False(first.Duplicate)
	s.True(now.Equal(first.Record.RecordedAt))

	later := requestcontext.WithTime(context.Background(), now.Add(time.Hour))
	second, err := s.index.CheckAndRecord(later, "fp-1")
	s.Require().NoError(err)
	s.True(second.Duplicate)
	s.Equal(first.Record.RecordID, second.Record.RecordID)
	s.True(first.Record.RecordedAt.Equal(second.Record.RecordedAt))
}

func (s *RedisIndexSuite) TestConcurrentFirstWriterWins() {
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

func (s *RedisIndexSuite) TestHealth() {
	s.NoError(s.index.Health(context.Background()))
}
