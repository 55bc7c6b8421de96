package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oralhistory/backend/internal/db"
	"github.com/oralhistory/backend/internal/models"
)

// FriendRepository defines data access for friendships.
type FriendRepository interface {
	Create(ctx context.Context, friendship models.Friendship) error
	FindByID(ctx context.Context, id string) (models.Friendship, error)
	FindActiveBetween(ctx context.Context, a, b string) (models.Friendship, error)
	UpdateStatus(ctx context.Context, id string, from, to models.FriendshipStatus) (models.Friendship, error)
	ListAccepted(ctx context.Context, userID string) ([]models.FriendEntry, error)
	ListIncoming(ctx context.Context, userID string) ([]models.FriendEntry, error)
	ListOutgoing(ctx context.Context, userID string) ([]models.FriendEntry, error)
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// PostgresFriendRepository provides PostgreSQL-backed persistence for friendships.
type PostgresFriendRepository struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgresFriendRepository constructs a friend repository backed by PostgreSQL.
func NewPostgresFriendRepository(pool db.Pool) *PostgresFriendRepository {
	return &PostgresFriendRepository{pool: pool, now: time.Now}
}

const friendshipColumns = `id, initiator_id, receiver_id, status, created_at, updated_at`

// orderedPair returns the pair in the canonical order used by the unique index.
func orderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func scanFriendship(row pgx.Row) (models.Friendship, error) {
	var f models.Friendship
	err := row.Scan(&f.ID, &f.InitiatorID, &f.ReceiverID, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

func insertFriendship(ctx context.Context, q querier, f models.Friendship) error {
	low, high := orderedPair(f.InitiatorID, f.ReceiverID)
	_, err := q.Exec(ctx, `
        INSERT INTO friendships (id, initiator_id, receiver_id, user_low, user_high, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
    `, f.ID, f.InitiatorID, f.ReceiverID, low, high, f.Status, f.CreatedAt.UTC())
	if err != nil {
		return mapWriteError("insert friendship", err)
	}
	return nil
}

// Create persists a friendship. An existing pending, accepted or blocked
// row for the same pair yields ErrConflict.
func (r *PostgresFriendRepository) Create(ctx context.Context, f models.Friendship) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = r.now().UTC()
	}
	return withConn(ctx, r.pool, func(q querier) error {
		return insertFriendship(ctx, q, f)
	})
}

// FindByID fetches a friendship row.
func (r *PostgresFriendRepository) FindByID(ctx context.Context, id string) (models.Friendship, error) {
	var f models.Friendship
	err := withConn(ctx, r.pool, func(q querier) error {
		var err error
		f, err = scanFriendship(q.QueryRow(ctx, `SELECT `+friendshipColumns+` FROM friendships WHERE id = $1`, id))
		if err != nil {
			return mapReadError("select friendship", err)
		}
		return nil
	})
	return f, err
}

// FindActiveBetween returns the non-terminal relationship for the unordered pair.
func (r *PostgresFriendRepository) FindActiveBetween(ctx context.Context, a, b string) (models.Friendship, error) {
	low, high := orderedPair(a, b)
	var f models.Friendship
	err := withConn(ctx, r.pool, func(q querier) error {
		var err error
		f, err = scanFriendship(q.QueryRow(ctx, `
            SELECT `+friendshipColumns+` FROM friendships
            WHERE user_low = $1 AND user_high = $2 AND status IN ('PENDING', 'ACCEPTED', 'BLOCKED')
        `, low, high))
		if err != nil {
			return mapReadError("select friendship by pair", err)
		}
		return nil
	})
	return f, err
}

// UpdateStatus moves the friendship from one status to another. A row that
// is no longer in the expected status yields ErrConflict.
func (r *PostgresFriendRepository) UpdateStatus(ctx context.Context, id string, from, to models.FriendshipStatus) (models.Friendship, error) {
	var f models.Friendship
	err := withConn(ctx, r.pool, func(q querier) error {
		var err error
		f, err = scanFriendship(q.QueryRow(ctx, `
            UPDATE friendships SET status = $3, updated_at = $4
            WHERE id = $1 AND status = $2
            RETURNING `+friendshipColumns,
			id, from, to, r.now().UTC()))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConflict
			}
			return fmt.Errorf("update friendship status: %w", err)
		}
		return nil
	})
	return f, err
}

func (r *PostgresFriendRepository) listEntries(ctx context.Context, op, query string, userID string) ([]models.FriendEntry, error) {
	var entries []models.FriendEntry
	err := withConn(ctx, r.pool, func(q querier) error {
		rows, err := q.Query(ctx, query, userID)
		if err != nil {
			return mapReadError(op, err)
		}
		defer rows.Close()

		for rows.Next() {
			var entry models.FriendEntry
			if err := rows.Scan(&entry.FriendshipID, &entry.Status, &entry.Since,
				&entry.User.ID, &entry.User.FullName, &entry.User.Email, &entry.User.ImageURL); err != nil {
				return mapReadError(op, err)
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	return entries, err
}

// ListAccepted returns accepted friendships mapped to the other participant.
func (r *PostgresFriendRepository) ListAccepted(ctx context.Context, userID string) ([]models.FriendEntry, error) {
	return r.listEntries(ctx, "query friends", `
        SELECT f.id, f.status, f.updated_at, u.id, u.full_name, u.email, u.image_url
        FROM friendships f
        JOIN users u ON u.id = CASE WHEN f.initiator_id = $1 THEN f.receiver_id ELSE f.initiator_id END
        WHERE f.status = 'ACCEPTED'
          AND (f.initiator_id = $1 OR f.receiver_id = $1)
          AND u.deleted_at IS NULL
        ORDER BY u.full_name, u.email
    `, userID)
}

// ListIncoming returns pending requests addressed to userID with initiator details.
func (r *PostgresFriendRepository) ListIncoming(ctx context.Context, userID string) ([]models.FriendEntry, error) {
	return r.listEntries(ctx, "query incoming requests", `
        SELECT f.id, f.status, f.created_at, u.id, u.full_name, u.email, u.image_url
        FROM friendships f
        JOIN users u ON u.id = f.initiator_id
        WHERE f.receiver_id = $1 AND f.status = 'PENDING' AND u.deleted_at IS NULL
        ORDER BY f.created_at DESC
    `, userID)
}

// ListOutgoing returns pending requests sent by userID with receiver details.
func (r *PostgresFriendRepository) ListOutgoing(ctx context.Context, userID string) ([]models.FriendEntry, error) {
	return r.listEntries(ctx, "query outgoing requests", `
        SELECT f.id, f.status, f.created_at, u.id, u.full_name, u.email, u.image_url
        FROM friendships f
        JOIN users u ON u.id = f.receiver_id
        WHERE f.initiator_id = $1 AND f.status = 'PENDING' AND u.deleted_at IS NULL
        ORDER BY f.created_at DESC
    `, userID)
}

// AreFriends reports whether an accepted friendship links a and b.
func (r *PostgresFriendRepository) AreFriends(ctx context.Context, a, b string) (bool, error) {
	low, high := orderedPair(a, b)
	var exists bool
	err := withConn(ctx, r.pool, func(q querier) error {
		err := q.QueryRow(ctx, `
            SELECT EXISTS (
                SELECT 1 FROM friendships
                WHERE user_low = $1 AND user_high = $2 AND status = 'ACCEPTED'
            )
        `, low, high).Scan(&exists)
		if err != nil {
			return mapReadError("check friendship", err)
		}
		return nil
	})
	return exists, err
}

var _ FriendRepository = (*PostgresFriendRepository)(nil)
