package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// OutboxStore reads and acknowledges pending outbox rows.
type OutboxStore interface {
	Pending(ctx context.Context, limit int) ([]Record, error)
	MarkProcessed(ctx context.Context, id int64) error
}

// Sink publishes an encoded event keyed by aggregate.
type Sink interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

// RelayConfig configures a Relay.
type RelayConfig struct {
	Store     OutboxStore
	Sink      Sink
	Interval  time.Duration
	BatchSize int
	Logger    *slog.Logger
}

// Relay polls the outbox and forwards events to the sink with at-least-once
// delivery. Consumers must tolerate duplicates.
type Relay struct {
	store     OutboxStore
	sink      Sink
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewRelay validates cfg and constructs a Relay.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	if cfg.Store == nil {
		return nil, errors.New("outbox store is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("event sink is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got: %v", cfg.Interval)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got: %d", cfg.BatchSize)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		store:     cfg.Store,
		sink:      cfg.Sink,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logger:    logger.With(slog.String("component", "outbox_relay")),
	}, nil
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", "interval", r.interval, "batch_size", r.batchSize)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				r.logger.Error("publish outbox batch", "error", err)
			}
		}
	}
}

// Flush publishes one batch and returns how many events were acknowledged.
// A failed publish leaves the row pending for the next tick.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	records, err := r.store.Pending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending records: %w", err)
	}

	marked := 0
	for _, record := range records {
		logger := r.logger.With(
			slog.String("event_id", record.EventID),
			slog.String("event_type", record.EventType),
			slog.Int64("outbox_id", record.ID),
		)

		body, err := record.encode()
		if err != nil {
			logger.Error("encode outbox event", "error", err)
			continue
		}

		if err := r.sink.Publish(ctx, record.AggregateID, body); err != nil {
			logger.Error("publish outbox event", "error", err)
			continue
		}

		if err := r.store.MarkProcessed(ctx, record.ID); err != nil {
			logger.Warn("mark outbox event processed", "error", err)
			continue
		}
		marked++
	}

	if len(records) > 0 {
		r.logger.Debug("outbox batch processed", "total", len(records), "marked", marked)
	}
	return marked, nil
}
