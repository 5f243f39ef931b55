package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresLimiter struct {
	pool *pgxpool.Pool
	opts Options
	now  func() time.Time
}

func NewPostgres(pool *pgxpool.Pool, opts Options) Limiter {
	if opts.disabled() {
		return Disabled{}
	}
	return &PostgresLimiter{pool: pool, opts: opts, now: time.Now}
}

// Allow resets or increments the row for key in a single upsert.
func (l *PostgresLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now().UTC()
	var count int
	err := l.pool.QueryRow(ctx, `
		INSERT INTO rate_limits (ip, window_start, count, updated_at)
		VALUES ($1, $2, 1, $2)
		ON CONFLICT (ip) DO UPDATE
		SET count = CASE
		        WHEN rate_limits.window_start >= $3 THEN rate_limits.count + 1
		        ELSE 1
		    END,
		    window_start = CASE
		        WHEN rate_limits.window_start >= $3 THEN rate_limits.window_start
		        ELSE EXCLUDED.window_start
		    END,
		    updated_at = EXCLUDED.updated_at
		RETURNING count
	`, key, now, now.Add(-l.opts.Window)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	return count <= l.opts.Max, nil
}

func (l *PostgresLimiter) Prune(ctx context.Context, now time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, now.Add(-l.opts.Window))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
