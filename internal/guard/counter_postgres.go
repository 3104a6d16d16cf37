package guard

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresCounter struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresCounter(db *sql.DB, now func() time.Time) *PostgresCounter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &PostgresCounter{db: db, now: now}
}

func (c *PostgresCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := c.now().UTC()

	var hits int64
	var windowEndsAt time.Time
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO auth_rate_limits (bucket_key, hits, window_started_at, window_ends_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (bucket_key) DO UPDATE
		SET
			hits = CASE
				WHEN auth_rate_limits.window_ends_at <= $2 THEN 1
				ELSE auth_rate_limits.hits + 1
			END,
			window_started_at = CASE
				WHEN auth_rate_limits.window_ends_at <= $2 THEN $2
				ELSE auth_rate_limits.window_started_at
			END,
			window_ends_at = CASE
				WHEN auth_rate_limits.window_ends_at <= $2 THEN $3
				ELSE auth_rate_limits.window_ends_at
			END
		RETURNING hits, window_ends_at
	`, key, now, now.Add(window)).Scan(&hits, &windowEndsAt)
	if err != nil {
		return 0, 0, fmt.Errorf("upsert rate limit counter: %w", err)
	}

	return hits, windowEndsAt.Sub(now), nil
}

func (c *PostgresCounter) DeleteStale(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}

	res, err := c.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT bucket_key
			FROM auth_rate_limits
			WHERE window_ends_at < $1
			ORDER BY window_ends_at ASC
			LIMIT $2
		)
		DELETE FROM auth_rate_limits t
		USING stale
		WHERE t.bucket_key = stale.bucket_key
	`, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("delete stale rate limits: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale rate limits rows affected: %w", err)
	}
	return affected, nil
}
