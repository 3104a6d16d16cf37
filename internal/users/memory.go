package users

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps users in process memory. Every method holds the store lock
// for its whole read-modify-write, which gives per-key atomicity.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]User
	idByKey map[string]string
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		idByKey: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(_ context.Context, profile Profile, passwordHash string) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(profile.Email)
	if _, ok := s.idByKey[key]; ok {
		return User{}, ErrDuplicateEmail
	}

	u := User{
		ID:           id.String(),
		Email:        profile.Email,
		PasswordHash: passwordHash,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		StudentID:    profile.StudentID,
		CreatedAt:    s.now(),
		Progress:     InitialProgress(),
		CurrentPhase: FirstPhase,
	}
	s.byID[u.ID] = u
	s.idByKey[key] = u.ID
	return copyUser(u), nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.idByKey[emailKey(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return copyUser(s.byID[id]), nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryStore) SetRefreshToken(_ context.Context, id string, tokenHash *string, loginAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.RefreshTokenHash = copyString(tokenHash)
	if loginAt != nil {
		at := loginAt.UTC()
		u.LastLoginAt = &at
	}
	s.byID[id] = u
	return nil
}

func (s *MemoryStore) RotateRefreshToken(_ context.Context, id, oldHash, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if u.RefreshTokenHash == nil || *u.RefreshTokenHash != oldHash {
		return ErrStaleToken
	}
	u.RefreshTokenHash = &newHash
	s.byID[id] = u
	return nil
}

func (s *MemoryStore) UpdateProgress(_ context.Context, id string, mutate ProgressMutation) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	progress, current, err := mutate(copyUser(u))
	if err != nil {
		return User{}, err
	}
	u.Progress = progress.Clone()
	u.CurrentPhase = current
	s.byID[id] = u
	return copyUser(u), nil
}

func (s *MemoryStore) SetAssessmentLevel(_ context.Context, id, level string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.AssessmentLevel = level
	s.byID[id] = u
	return nil
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyUser(u User) User {
	u.Progress = u.Progress.Clone()
	u.RefreshTokenHash = copyString(u.RefreshTokenHash)
	if u.LastLoginAt != nil {
		at := *u.LastLoginAt
		u.LastLoginAt = &at
	}
	return u
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
