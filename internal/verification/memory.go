package verification

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.Email] = rec
	return nil
}

func (s *MemoryStore) Mutate(_ context.Context, email string, fn MutateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[email]
	if !ok {
		fn(nil)
		return nil
	}

	switch fn(&rec) {
	case Save:
		s.records[email] = rec
	case Delete:
		delete(s.records, email)
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, codeBefore, verifiedBefore time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for email, rec := range s.records {
		if limit > 0 && deleted >= int64(limit) {
			break
		}
		stale := !rec.Verified && rec.ExpiresAt.Before(codeBefore)
		if rec.Verified && rec.VerifiedAt != nil && rec.VerifiedAt.Before(verifiedBefore) {
			stale = true
		}
		if stale {
			delete(s.records, email)
			deleted++
		}
	}
	return deleted, nil
}

// Get returns a copy of the record for email. Used by tests and diagnostics.
func (s *MemoryStore) Get(email string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[email]
	return rec, ok
}
