// Package guard holds the abuse defenses: per-IP fixed-window rate limits and
// per-email login lockout. Both sit behind small store interfaces so a
// multi-instance deployment can share state through Redis or Postgres.
package guard

import (
	"context"
	"sync"
	"time"
)

// CounterStore counts hits on key inside a fixed window that starts with the
// first hit. resetIn is the time left until the window closes.
type CounterStore interface {
	Hit(ctx context.Context, key string, window time.Duration) (count int64, resetIn time.Duration, err error)
	DeleteStale(ctx context.Context, before time.Time, limit int) (int64, error)
}

type memoryWindow struct {
	hits    int64
	resetAt time.Time
}

type MemoryCounter struct {
	mu        sync.Mutex
	windows   map[string]memoryWindow
	maxMemory int
	now       func() time.Time
}

func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryCounter{
		windows:   make(map[string]memoryWindow),
		maxMemory: 5000,
		now:       now,
	}
}

func (c *MemoryCounter) Hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = memoryWindow{resetAt: now.Add(window)}
	}
	w.hits++
	c.windows[key] = w

	if len(c.windows) > c.maxMemory {
		c.sweepLocked(now, 0)
	}

	return w.hits, w.resetAt.Sub(now), nil
}

func (c *MemoryCounter) DeleteStale(_ context.Context, before time.Time, limit int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(before, limit), nil
}

func (c *MemoryCounter) sweepLocked(before time.Time, limit int) int64 {
	var deleted int64
	for key, w := range c.windows {
		if limit > 0 && deleted >= int64(limit) {
			break
		}
		if !before.Before(w.resetAt) {
			delete(c.windows, key)
			deleted++
		}
	}
	return deleted
}
