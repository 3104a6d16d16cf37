package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, first_name, last_name, student_id, created_at,
	last_login_at, refresh_token_hash, progress, current_phase, assessment_level`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, profile Profile, passwordHash string) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	u := User{
		ID:           id.String(),
		Email:        profile.Email,
		PasswordHash: passwordHash,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		StudentID:    profile.StudentID,
		CreatedAt:    time.Now().UTC(),
		Progress:     InitialProgress(),
		CurrentPhase: FirstPhase,
	}
	progress, err := json.Marshal(u.Progress)
	if err != nil {
		return User{}, fmt.Errorf("encode progress: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, student_id, created_at, progress, current_phase)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.StudentID, u.CreatedAt, progress, u.CurrentPhase)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return u, nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		return User{}, wrapLookup(err, "query user by email")
	}
	return u, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return User{}, wrapLookup(err, "query user by id")
	}
	return u, nil
}

func (s *PostgresStore) SetRefreshToken(ctx context.Context, id string, tokenHash *string, loginAt *time.Time) error {
	var hash sql.NullString
	if tokenHash != nil {
		hash = sql.NullString{String: *tokenHash, Valid: true}
	}
	var login sql.NullTime
	if loginAt != nil {
		login = sql.NullTime{Time: loginAt.UTC(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token_hash = $2, last_login_at = COALESCE($3, last_login_at)
		WHERE id = $1
	`, id, hash, login)
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	return expectOneRow(res, ErrNotFound)
}

func (s *PostgresStore) RotateRefreshToken(ctx context.Context, id, oldHash, newHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token_hash = $3
		WHERE id = $1 AND refresh_token_hash = $2
	`, id, oldHash, newHash)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	return expectOneRow(res, ErrStaleToken)
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, id string, mutate ProgressMutation) (User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin progress tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	u, err := scanUser(row)
	if err != nil {
		return User{}, wrapLookup(err, "lock user progress")
	}

	progress, current, err := mutate(u)
	if err != nil {
		return User{}, err
	}
	progress = progress.Clone()
	encoded, err := json.Marshal(progress)
	if err != nil {
		return User{}, fmt.Errorf("encode progress: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET progress = $2, current_phase = $3 WHERE id = $1
	`, id, encoded, current); err != nil {
		return User{}, fmt.Errorf("update progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit progress tx: %w", err)
	}

	u.Progress = progress
	u.CurrentPhase = current
	return u, nil
}

func (s *PostgresStore) SetAssessmentLevel(ctx context.Context, id, level string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET assessment_level = $2 WHERE id = $1`, id, level)
	if err != nil {
		return fmt.Errorf("update assessment level: %w", err)
	}
	return expectOneRow(res, ErrNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u           User
		lastLoginAt sql.NullTime
		refreshHash sql.NullString
		progress    []byte
		assessment  sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.StudentID, &u.CreatedAt,
		&lastLoginAt, &refreshHash, &progress, &u.CurrentPhase, &assessment)
	if err != nil {
		return User{}, err
	}

	if lastLoginAt.Valid {
		at := lastLoginAt.Time.UTC()
		u.LastLoginAt = &at
	}
	if refreshHash.Valid {
		hash := refreshHash.String
		u.RefreshTokenHash = &hash
	}
	u.AssessmentLevel = assessment.String
	u.CreatedAt = u.CreatedAt.UTC()

	if len(progress) == 0 {
		u.Progress = InitialProgress()
	} else if err := json.Unmarshal(progress, &u.Progress); err != nil {
		return User{}, fmt.Errorf("decode progress: %w", err)
	}
	u.Progress = u.Progress.Clone()
	return u, nil
}

func wrapLookup(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func expectOneRow(res sql.Result, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return missing
	}
	return nil
}
