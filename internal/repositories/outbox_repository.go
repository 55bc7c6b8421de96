package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/oralhistory/backend/internal/events"
)

// OutboxRepository reads pending outbox rows for the relay through sqlx.
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository wraps a database/sql handle opened from the pool.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Pending returns up to limit unprocessed events in insertion order.
func (r *OutboxRepository) Pending(ctx context.Context, limit int) ([]events.Record, error) {
	query := `
		SELECT id, event_id, event_type, aggregate_id, payload, occurred_at
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY id
		LIMIT $1
	`
	var records []events.Record
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("select pending outbox: %w", err)
	}
	return records, nil
}

// MarkProcessed acknowledges a published event.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id int64) error {
	query := `UPDATE outbox SET processed_at = NOW() WHERE id = $1 AND processed_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark outbox processed: %w", err)
	}
	return nil
}

var _ events.OutboxStore = (*OutboxRepository)(nil)
