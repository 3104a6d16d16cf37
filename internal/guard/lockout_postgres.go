package guard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresLockoutStore struct {
	db *sql.DB
}

func NewPostgresLockoutStore(db *sql.DB) *PostgresLockoutStore {
	return &PostgresLockoutStore{db: db}
}

func (s *PostgresLockoutStore) Get(ctx context.Context, email string) (Attempts, error) {
	var attempts Attempts
	err := s.db.QueryRowContext(ctx, `
		SELECT failed_attempts, last_failed_at
		FROM auth_login_attempts
		WHERE email = $1
	`, email).Scan(&attempts.Count, &attempts.LastFailureAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempts{}, nil
		}
		return Attempts{}, fmt.Errorf("query login attempts: %w", err)
	}

	attempts.LastFailureAt = attempts.LastFailureAt.UTC()
	return attempts, nil
}

func (s *PostgresLockoutStore) RecordFailure(ctx context.Context, email string, now time.Time, window time.Duration) (Attempts, error) {
	now = now.UTC()

	var attempts Attempts
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO auth_login_attempts (email, failed_attempts, last_failed_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (email) DO UPDATE
		SET
			failed_attempts = CASE
				WHEN auth_login_attempts.last_failed_at <= $3 THEN 1
				ELSE auth_login_attempts.failed_attempts + 1
			END,
			last_failed_at = $2
		RETURNING failed_attempts, last_failed_at
	`, email, now, now.Add(-window)).Scan(&attempts.Count, &attempts.LastFailureAt)
	if err != nil {
		return Attempts{}, fmt.Errorf("upsert failed login attempt: %w", err)
	}

	attempts.LastFailureAt = attempts.LastFailureAt.UTC()
	return attempts, nil
}

func (s *PostgresLockoutStore) Clear(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM auth_login_attempts
		WHERE email = $1
	`, email)
	if err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	return nil
}

func (s *PostgresLockoutStore) DeleteStale(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}

	res, err := s.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT email
			FROM auth_login_attempts
			WHERE last_failed_at < $1
			ORDER BY last_failed_at ASC
			LIMIT $2
		)
		DELETE FROM auth_login_attempts t
		USING stale
		WHERE t.email = stale.email
	`, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("delete stale login attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login attempts rows affected: %w", err)
	}
	return affected, nil
}
