package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oralhistory/backend/internal/db"
	"github.com/oralhistory/backend/internal/models"
)

// NotificationRepository defines data access for user notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n models.Notification) error
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// PostgresNotificationRepository provides PostgreSQL-backed persistence for notifications.
type PostgresNotificationRepository struct {
	pool db.Pool
}

// NewPostgresNotificationRepository constructs a notification repository backed by PostgreSQL.
func NewPostgresNotificationRepository(pool db.Pool) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{pool: pool}
}

func insertNotification(ctx context.Context, q querier, n models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
        INSERT INTO notifications (id, user_id, type, title, message, link, read, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
    `, n.ID, n.UserID, n.Type, n.Title, n.Message, n.Link, n.CreatedAt.UTC())
	if err != nil {
		return mapWriteError("insert notification", err)
	}
	return nil
}

// Create persists a notification.
func (r *PostgresNotificationRepository) Create(ctx context.Context, n models.Notification) error {
	return withConn(ctx, r.pool, func(q querier) error {
		return insertNotification(ctx, q, n)
	})
}

// List returns the user's notifications, newest first.
func (r *PostgresNotificationRepository) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []models.Notification
	err := withConn(ctx, r.pool, func(q querier) error {
		rows, err := q.Query(ctx, `
            SELECT id, user_id, type, title, message, link, read, created_at
            FROM notifications
            WHERE user_id = $1 AND (NOT $2 OR NOT read)
            ORDER BY created_at DESC
            LIMIT $3
        `, userID, unreadOnly, limit)
		if err != nil {
			return mapReadError("query notifications", err)
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Notification, error) {
			var n models.Notification
			err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Link, &n.Read, &n.CreatedAt)
			return n, err
		})
		if err != nil {
			return mapReadError("scan notifications", err)
		}
		return nil
	})
	return out, err
}

// MarkRead flags one of the user's notifications as read. Notifications
// owned by someone else are reported as not found.
func (r *PostgresNotificationRepository) MarkRead(ctx context.Context, userID, id string) error {
	return withConn(ctx, r.pool, func(q querier) error {
		tag, err := q.Exec(ctx, `
            UPDATE notifications SET read = TRUE
            WHERE id = $1 AND user_id = $2
        `, id, userID)
		if err != nil {
			return mapWriteError("mark notification read", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// MarkAllRead flags every unread notification of the user as read.
func (r *PostgresNotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	var affected int64
	err := withConn(ctx, r.pool, func(q querier) error {
		tag, err := q.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE user_id = $1 AND NOT read`, userID)
		if err != nil {
			return mapWriteError("mark all notifications read", err)
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// UnreadCount returns the number of unread notifications.
func (r *PostgresNotificationRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := withConn(ctx, r.pool, func(q querier) error {
		if err := q.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT read`, userID).Scan(&count); err != nil {
			return mapReadError("count unread notifications", err)
		}
		return nil
	})
	return count, err
}

var _ NotificationRepository = (*PostgresNotificationRepository)(nil)
