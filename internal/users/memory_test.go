package users

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProfile(email string) Profile {
	return Profile{Email: email, FirstName: "Jane", LastName: "Doe", StudentID: "S12345"}
}

func TestMemoryStore_CreateAndFind(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	u, err := s.Create(ctx, newProfile("jdoe@students.bowiestate.edu"), "hash")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, []int{1}, u.Progress.Unlocked)
	assert.Empty(t, u.Progress.Completed)
	assert.Equal(t, FirstPhase, u.CurrentPhase)
	assert.NotZero(t, u.CreatedAt)

	byEmail, err := s.FindByEmail(ctx, "JDOE@students.bowiestate.edu")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	byID, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "jdoe@students.bowiestate.edu", byID.Email)

	_, err = s.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindByEmail(ctx, "nobody@bowiestate.edu")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CreateDuplicateEmail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Create(ctx, newProfile("jdoe@students.bowiestate.edu"), "hash")
	require.NoError(t, err)

	_, err = s.Create(ctx, newProfile("jdoe@students.bowiestate.edu"), "hash")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestMemoryStore_RefreshTokenLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u, err := s.Create(ctx, newProfile("a@bowiestate.edu"), "hash")
	require.NoError(t, err)

	first := "hash-1"
	loginAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.SetRefreshToken(ctx, u.ID, &first, &loginAt))

	stored, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshTokenHash)
	assert.Equal(t, "hash-1", *stored.RefreshTokenHash)
	require.NotNil(t, stored.LastLoginAt)
	assert.True(t, loginAt.Equal(*stored.LastLoginAt))

	require.NoError(t, s.RotateRefreshToken(ctx, u.ID, "hash-1", "hash-2"))
	assert.ErrorIs(t, s.RotateRefreshToken(ctx, u.ID, "hash-1", "hash-3"), ErrStaleToken)

	require.NoError(t, s.SetRefreshToken(ctx, u.ID, nil, nil))
	assert.ErrorIs(t, s.RotateRefreshToken(ctx, u.ID, "hash-2", "hash-4"), ErrStaleToken)

	stored, err = s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RefreshTokenHash)
	assert.NotNil(t, stored.LastLoginAt, "clearing the token keeps the last login")
}

func TestMemoryStore_RotateIsCompareAndSwap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u, err := s.Create(ctx, newProfile("race@bowiestate.edu"), "hash")
	require.NoError(t, err)
	old := "old"
	require.NoError(t, s.SetRefreshToken(ctx, u.ID, &old, nil))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.RotateRefreshToken(ctx, u.ID, "old", "new"); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrStaleToken)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryStore_UpdateProgress(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u, err := s.Create(ctx, newProfile("p@bowiestate.edu"), "hash")
	require.NoError(t, err)

	updated, err := s.UpdateProgress(ctx, u.ID, func(cur User) (Progress, int, error) {
		p := cur.Progress.Clone()
		p.Completed = append(p.Completed, 1)
		p.Unlocked = append(p.Unlocked, 2)
		return p, 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, updated.Progress.Completed)
	assert.Equal(t, []int{1, 2}, updated.Progress.Unlocked)
	assert.Equal(t, 2, updated.CurrentPhase)

	boom := errors.New("boom")
	_, err = s.UpdateProgress(ctx, u.ID, func(User) (Progress, int, error) {
		return Progress{}, 0, boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, stored.Progress.Unlocked, "failed mutation leaves state untouched")

	_, err = s.UpdateProgress(ctx, "missing", func(cur User) (Progress, int, error) {
		return cur.Progress, cur.CurrentPhase, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ReturnedUsersDoNotAlias(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u, err := s.Create(ctx, newProfile("alias@bowiestate.edu"), "hash")
	require.NoError(t, err)

	u.Progress.Unlocked[0] = 99

	stored, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, stored.Progress.Unlocked)
}

func TestUser_PublicOmitsSecrets(t *testing.T) {
	hash := "refresh-hash"
	u := User{ID: "1", Email: "a@bowiestate.edu", PasswordHash: "$2a$12$secret", RefreshTokenHash: &hash, Progress: InitialProgress()}

	pub := u.Public()
	assert.Equal(t, "1", pub.ID)
	assert.Equal(t, "a@bowiestate.edu", pub.Email)
	assert.Equal(t, []int{1}, pub.Progress.Unlocked)
}
