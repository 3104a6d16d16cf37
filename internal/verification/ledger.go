// Package verification holds the short-lived per-email codes that prove a
// student controls an address before an account is created.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"
)

const (
	CodeTTL      = time.Hour
	FreshnessTTL = time.Hour
	// MaxAttempts counts wrong submissions: the first try plus two retries.
	MaxAttempts = 3
	CodeLength  = 6
)

type Outcome int

const (
	Verified Outcome = iota + 1
	Invalid
	Expired
	AttemptsExhausted
	NotVerified
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Verified:
		return "verified"
	case Invalid:
		return "invalid"
	case Expired:
		return "expired"
	case AttemptsExhausted:
		return "attempts_exhausted"
	case NotVerified:
		return "not_verified"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

type Ledger struct {
	store        Store
	now          func() time.Time
	codeTTL      time.Duration
	freshnessTTL time.Duration
	maxAttempts  int
	generate     func() (string, error)
}

type Option func(*Ledger)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithTTLs(codeTTL, freshnessTTL time.Duration) Option {
	return func(l *Ledger) {
		if codeTTL > 0 {
			l.codeTTL = codeTTL
		}
		if freshnessTTL > 0 {
			l.freshnessTTL = freshnessTTL
		}
	}
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(l *Ledger) {
		if gen != nil {
			l.generate = gen
		}
	}
}

func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:        store,
		now:          func() time.Time { return time.Now().UTC() },
		codeTTL:      CodeTTL,
		freshnessTTL: FreshnessTTL,
		maxAttempts:  MaxAttempts,
		generate:     RandomCode,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Issue creates a fresh code for email, replacing any earlier record.
func (l *Ledger) Issue(ctx context.Context, email string) (string, error) {
	code, err := l.generate()
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}

	now := l.now()
	rec := Record{
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(l.codeTTL),
		CreatedAt: now,
	}
	if err := l.store.Upsert(ctx, rec); err != nil {
		return "", err
	}
	return code, nil
}

// Check compares submitted against the live code. Expiry wins over the
// attempt counter when both apply.
func (l *Ledger) Check(ctx context.Context, email, submitted string) (Outcome, error) {
	outcome := Invalid
	err := l.store.Mutate(ctx, email, func(rec *Record) Action {
		if rec == nil {
			outcome = Invalid
			return Keep
		}

		now := l.now()
		if now.After(rec.ExpiresAt) {
			outcome = Expired
			return Delete
		}

		if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(submitted)) != 1 {
			rec.Attempts++
			if rec.Attempts >= l.maxAttempts {
				outcome = AttemptsExhausted
				return Delete
			}
			outcome = Invalid
			return Save
		}

		rec.Verified = true
		rec.VerifiedAt = &now
		outcome = Verified
		return Save
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

// ConsumeIfFresh spends a verified record as registration proof. It succeeds at
// most once per verification.
func (l *Ledger) ConsumeIfFresh(ctx context.Context, email string) (Outcome, error) {
	outcome := NotVerified
	err := l.store.Mutate(ctx, email, func(rec *Record) Action {
		if rec == nil || !rec.Verified || rec.VerifiedAt == nil {
			outcome = NotVerified
			return Keep
		}

		if l.now().Sub(*rec.VerifiedAt) > l.freshnessTTL {
			outcome = Stale
			return Delete
		}

		outcome = Verified
		return Delete
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

// Cleanup removes records that can no longer serve as proof.
func (l *Ledger) Cleanup(ctx context.Context, limit int) (int64, error) {
	now := l.now()
	return l.store.DeleteExpired(ctx, now, now.Add(-l.freshnessTTL), limit)
}

// RandomCode returns a uniformly random six digit code without a leading zero.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
