package repositories

import (
	"context"
	"fmt"

	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oralhistory/backend/internal/db"
	"github.com/oralhistory/backend/internal/events"
)

// querier is satisfied by both pooled connections and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// withConn runs fn on a pooled connection.
func withConn(ctx context.Context, pool db.Pool, fn func(querier) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return fn(conn)
}

// withTx runs fn inside a transaction, retrying on serialization failures.
// fn may run more than once and must not leak partial results between attempts.
func withTx(ctx context.Context, pool db.Pool, fn func(pgx.Tx) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, fn)
}

// insertOutbox records a domain event in the same transaction as the state change.
func insertOutbox(ctx context.Context, q querier, event events.Event) error {
	_, err := q.Exec(ctx, `
        INSERT INTO outbox (event_id, event_type, aggregate_id, payload, occurred_at)
        VALUES ($1, $2, $3, $4, $5)
    `, event.ID, event.Type, event.AggregateID, []byte(event.Payload), event.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert outbox event %s: %w", event.Type, err)
	}
	return nil
}

// clampPage normalises paging parameters.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
