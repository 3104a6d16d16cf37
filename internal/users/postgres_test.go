package users

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userRowColumns = []string{
	"id", "email", "password_hash", "first_name", "last_name", "student_id", "created_at",
	"last_login_at", "refresh_token_hash", "progress", "current_phase", "assessment_level",
}

const testUserID = "0190a0b2-7c3e-7d4a-9f1e-2b3c4d5e6f70"

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func userRow(progress string) *sqlmock.Rows {
	return sqlmock.NewRows(userRowColumns).AddRow(
		testUserID, "jdoe@students.bowiestate.edu", "$2a$12$hash", "Jane", "Doe", "S12345",
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil, "refresh-hash", []byte(progress), int64(1), nil,
	)
}

func TestPostgresStore_Create(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "jdoe@students.bowiestate.edu", "hash", "Jane", "Doe", "S12345", sqlmock.AnyArg(), sqlmock.AnyArg(), FirstPhase).
		WillReturnResult(sqlmock.NewResult(0, 1))

	u, err := s.Create(context.Background(), newProfile("jdoe@students.bowiestate.edu"), "hash")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, []int{1}, u.Progress.Unlocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO users").WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	_, err := s.Create(context.Background(), newProfile("jdoe@students.bowiestate.edu"), "hash")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByEmail(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("FROM users WHERE email = ").
		WithArgs("jdoe@students.bowiestate.edu").
		WillReturnRows(userRow(`{"completed":[1],"unlocked":[2,1]}`))

	u, err := s.FindByEmail(context.Background(), "jdoe@students.bowiestate.edu")
	require.NoError(t, err)
	assert.Equal(t, testUserID, u.ID)
	assert.Equal(t, []int{1}, u.Progress.Completed)
	assert.Equal(t, []int{1, 2}, u.Progress.Unlocked)
	require.NotNil(t, u.RefreshTokenHash)
	assert.Equal(t, "refresh-hash", *u.RefreshTokenHash)
	assert.Nil(t, u.LastLoginAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("FROM users WHERE email = ").WillReturnError(sql.ErrNoRows)
	_, err := s.FindByEmail(context.Background(), "ghost@bowiestate.edu")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RotateRefreshToken(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users").
		WithArgs(testUserID, "old", "new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users").
		WithArgs(testUserID, "old", "newer").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.RotateRefreshToken(context.Background(), testUserID, "old", "new"))
	assert.ErrorIs(t, s.RotateRefreshToken(context.Background(), testUserID, "old", "newer"), ErrStaleToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetRefreshTokenMissingUser(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetRefreshToken(context.Background(), testUserID, nil, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateProgress(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(testUserID).WillReturnRows(userRow(`{"completed":[],"unlocked":[1]}`))
	mock.ExpectExec("UPDATE users SET progress").
		WithArgs(testUserID, sqlmock.AnyArg(), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u, err := s.UpdateProgress(context.Background(), testUserID, func(cur User) (Progress, int, error) {
		p := cur.Progress.Clone()
		p.Completed = append(p.Completed, 1)
		return p, cur.CurrentPhase, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, u.Progress.Completed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateProgressAbortRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(testUserID).WillReturnRows(userRow(`{"completed":[],"unlocked":[1]}`))
	mock.ExpectRollback()

	_, err := s.UpdateProgress(context.Background(), testUserID, func(User) (Progress, int, error) {
		return Progress{}, 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
