package guard

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 30 * time.Minute
)

// Attempts is the failed-login tracker for one email.
type Attempts struct {
	Count         int
	LastFailureAt time.Time
}

// LockoutStore persists Attempts. RecordFailure must be atomic per email and
// restart the count when the previous failure is older than window.
type LockoutStore interface {
	Get(ctx context.Context, email string) (Attempts, error)
	RecordFailure(ctx context.Context, email string, now time.Time, window time.Duration) (Attempts, error)
	Clear(ctx context.Context, email string) error
	DeleteStale(ctx context.Context, before time.Time, limit int) (int64, error)
}

type Lockout struct {
	store     LockoutStore
	threshold int
	duration  time.Duration
	now       func() time.Time
}

type LockoutOption func(*Lockout)

func WithLockoutPolicy(threshold int, duration time.Duration) LockoutOption {
	return func(l *Lockout) {
		if threshold > 0 {
			l.threshold = threshold
		}
		if duration > 0 {
			l.duration = duration
		}
	}
}

func WithLockoutClock(now func() time.Time) LockoutOption {
	return func(l *Lockout) {
		if now != nil {
			l.now = now
		}
	}
}

func NewLockout(store LockoutStore, opts ...LockoutOption) *Lockout {
	l := &Lockout{
		store:     store,
		threshold: DefaultLockoutThreshold,
		duration:  DefaultLockoutDuration,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lockout) Duration() time.Duration { return l.duration }

// IsLocked reports whether email has reached the threshold and the lock has
// not yet run out. until is zero when not locked.
func (l *Lockout) IsLocked(ctx context.Context, email string) (bool, time.Time, error) {
	attempts, err := l.store.Get(ctx, lockoutKey(email))
	if err != nil {
		return false, time.Time{}, err
	}
	if attempts.Count < l.threshold {
		return false, time.Time{}, nil
	}

	until := attempts.LastFailureAt.Add(l.duration)
	if !l.now().Before(until) {
		return false, time.Time{}, nil
	}
	return true, until, nil
}

func (l *Lockout) RecordFailure(ctx context.Context, email string) (Attempts, error) {
	return l.store.RecordFailure(ctx, lockoutKey(email), l.now(), l.duration)
}

func (l *Lockout) RecordSuccess(ctx context.Context, email string) error {
	return l.store.Clear(ctx, lockoutKey(email))
}

// DeleteStale drops trackers whose last failure is older than the lock
// duration; they would reset on the next failure anyway.
func (l *Lockout) DeleteStale(ctx context.Context, limit int) (int64, error) {
	return l.store.DeleteStale(ctx, l.now().Add(-l.duration), limit)
}

func lockoutKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type MemoryLockoutStore struct {
	mu       sync.Mutex
	attempts map[string]Attempts
}

func NewMemoryLockoutStore() *MemoryLockoutStore {
	return &MemoryLockoutStore{attempts: make(map[string]Attempts)}
}

func (s *MemoryLockoutStore) Get(_ context.Context, email string) (Attempts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[email], nil
}

func (s *MemoryLockoutStore) RecordFailure(_ context.Context, email string, now time.Time, window time.Duration) (Attempts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.attempts[email]
	if a.Count > 0 && now.Sub(a.LastFailureAt) >= window {
		a.Count = 0
	}
	a.Count++
	a.LastFailureAt = now
	s.attempts[email] = a
	return a, nil
}

func (s *MemoryLockoutStore) Clear(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, email)
	return nil
}

func (s *MemoryLockoutStore) DeleteStale(_ context.Context, before time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for email, a := range s.attempts {
		if limit > 0 && deleted >= int64(limit) {
			break
		}
		if a.LastFailureAt.Before(before) {
			delete(s.attempts, email)
			deleted++
		}
	}
	return deleted, nil
}
