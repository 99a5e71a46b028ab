package dupindex

import (
	"context"
	"sync"

	"idshield/internal/shield/models"
	"idshield/pkg/requestcontext"
)

// InMemory keeps fingerprints in a map owned by the instance.
// Suitable for a single process; records are lost on restart.
type InMemory struct {
	mu      sync.Mutex
	records map[string]models.DuplicateRecord
	newID   func() string
}

// NewInMemory creates an empty in-memory index.
func NewInMemory() *InMemory {
	return &InMemory{
		records: make(map[string]models.DuplicateRecord),
		newID:   NewRecordID,
	}
}

// CheckAndRecord returns the existing record for fingerprint, or creates one.
func (s *InMemory) CheckAndRecord(ctx context.Context, fingerprint string) (models.DuplicateCheck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[fingerprint]; ok {
		return models.DuplicateCheck{Duplicate: true, Record: rec}, nil
	}
	rec := models.DuplicateRecord{
		RecordID:   s.newID(),
		RecordedAt: requestcontext.Now(ctx),
	}
	s.records[fingerprint] = rec
	return models.DuplicateCheck{Record: rec}, nil
}

// Len returns the number of recorded fingerprints.
func (s *InMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Health always succeeds.
func (s *InMemory) Health(context.Context) error {
	return nil
}
