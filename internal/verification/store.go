package verification

import (
	"context"
	"time"
)

type Record struct {
	Email      string
	Code       string
	ExpiresAt  time.Time
	Attempts   int
	Verified   bool
	VerifiedAt *time.Time
	CreatedAt  time.Time
}

// Action tells a Store what to do with a record after a Mutate callback.
type Action int

const (
	Keep Action = iota
	Save
	Delete
)

// MutateFunc inspects and optionally edits the locked record. rec is nil when
// no record exists for the email; returning Save or Delete then has no effect.
type MutateFunc func(rec *Record) Action

type Store interface {
	// Upsert replaces any existing record for rec.Email.
	Upsert(ctx context.Context, rec Record) error
	// Mutate runs fn while holding the record for email exclusively.
	Mutate(ctx context.Context, email string, fn MutateFunc) error
	// DeleteExpired removes unverified records whose code expired before
	// codeBefore and verified records verified before verifiedBefore.
	DeleteExpired(ctx context.Context, codeBefore, verifiedBefore time.Time, limit int) (int64, error)
}
