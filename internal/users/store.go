// Package users is the credential store: persisted student records with their
// password hash, live refresh token and phase progress.
package users

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
	ErrStaleToken     = errors.New("refresh token is not the current one")
)

// ProgressMutation receives the locked user and returns the new progress and
// current phase. Returning an error aborts the write.
type ProgressMutation func(u User) (Progress, int, error)

type Store interface {
	Create(ctx context.Context, profile Profile, passwordHash string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	// SetRefreshToken stores tokenHash as the only live refresh token, or clears
	// it when tokenHash is nil. A non-nil loginAt also stamps the last login.
	SetRefreshToken(ctx context.Context, id string, tokenHash *string, loginAt *time.Time) error
	// RotateRefreshToken swaps oldHash for newHash only if oldHash is still stored.
	RotateRefreshToken(ctx context.Context, id, oldHash, newHash string) error
	UpdateProgress(ctx context.Context, id string, mutate ProgressMutation) (User, error)
	SetAssessmentLevel(ctx context.Context, id, level string) error
}
