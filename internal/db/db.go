package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oralhistory/backend/internal/logging"
)

// Pool is the slice of *pgxpool.Pool the repositories need. Tests
// substitute a pool whose Acquire always fails.
type Pool interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Close()
}

const (
	connectAttempts = 10
	connectBackoff  = 500 * time.Millisecond
)

// Connect opens a pool for databaseURL and blocks until CockroachDB or
// Postgres answers a ping, backing off linearly between attempts.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	logger := logging.FromContext(ctx)
	for attempt := 1; ; attempt++ {
		err = pool.Ping(ctx)
		if err == nil {
			return pool, nil
		}
		if attempt >= connectAttempts {
			pool.Close()
			return nil, fmt.Errorf("ping database after %d attempts: %w", attempt, err)
		}

		delay := time.Duration(attempt) * connectBackoff
		logger.Warn("database not ready", "attempt", attempt, "retry_in", delay, "error", err)

		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
