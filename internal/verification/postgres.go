package verification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_codes (email, code, expires_at, attempts, verified, verified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email)
		DO UPDATE SET
			code = EXCLUDED.code,
			expires_at = EXCLUDED.expires_at,
			attempts = EXCLUDED.attempts,
			verified = EXCLUDED.verified,
			verified_at = EXCLUDED.verified_at,
			created_at = EXCLUDED.created_at
	`, rec.Email, rec.Code, rec.ExpiresAt.UTC(), rec.Attempts, rec.Verified, nullTime(rec.VerifiedAt), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert verification code: %w", err)
	}
	return nil
}

func (s *PostgresStore) Mutate(ctx context.Context, email string, fn MutateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin verification tx: %w", err)
	}
	defer tx.Rollback()

	var (
		rec        Record
		verifiedAt sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `
		SELECT email, code, expires_at, attempts, verified, verified_at, created_at
		FROM verification_codes
		WHERE email = $1
		FOR UPDATE
	`, email).Scan(&rec.Email, &rec.Code, &rec.ExpiresAt, &rec.Attempts, &rec.Verified, &verifiedAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			fn(nil)
			return nil
		}
		return fmt.Errorf("lock verification code: %w", err)
	}
	if verifiedAt.Valid {
		at := verifiedAt.Time.UTC()
		rec.VerifiedAt = &at
	}
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()

	switch fn(&rec) {
	case Save:
		if _, err := tx.ExecContext(ctx, `
			UPDATE verification_codes
			SET attempts = $2, verified = $3, verified_at = $4
			WHERE email = $1
		`, email, rec.Attempts, rec.Verified, nullTime(rec.VerifiedAt)); err != nil {
			return fmt.Errorf("update verification code: %w", err)
		}
	case Delete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM verification_codes WHERE email = $1`, email); err != nil {
			return fmt.Errorf("delete verification code: %w", err)
		}
	default:
		return nil
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit verification tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, codeBefore, verifiedBefore time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	res, err := s.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT email
			FROM verification_codes
			WHERE (verified = false AND expires_at < $1)
			   OR (verified = true AND verified_at < $2)
			ORDER BY created_at ASC
			LIMIT $3
		)
		DELETE FROM verification_codes t
		USING stale
		WHERE t.email = stale.email
	`, codeBefore.UTC(), verifiedBefore.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired verification codes: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired verification codes rows affected: %w", err)
	}
	return affected, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
