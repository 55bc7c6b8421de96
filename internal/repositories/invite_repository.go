package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oralhistory/backend/internal/db"
	"github.com/oralhistory/backend/internal/models"
)

// InviteRepository defines data access for email invitations.
type InviteRepository interface {
	Create(ctx context.Context, invite models.FriendInvite) error
	FindByID(ctx context.Context, id string) (models.FriendInvite, error)
	FindPending(ctx context.Context, inviterID, email string, now time.Time) (models.FriendInvite, error)
	MarkExpired(ctx context.Context, id string) error
	MarkAccepted(ctx context.Context, id string, at time.Time) error
	AcceptWithFriendship(ctx context.Context, inviteID string, at time.Time, friendship models.Friendship, notice models.Notification) error
}

// PostgresInviteRepository provides PostgreSQL-backed persistence for invites.
type PostgresInviteRepository struct {
	pool db.Pool
}

// NewPostgresInviteRepository constructs an invite repository backed by PostgreSQL.
func NewPostgresInviteRepository(pool db.Pool) *PostgresInviteRepository {
	return &PostgresInviteRepository{pool: pool}
}

const inviteColumns = `id, inviter_id, email, token_hash, status, expires_at, accepted_at, created_at`

func scanInvite(row pgx.Row) (models.FriendInvite, error) {
	var (
		invite     models.FriendInvite
		acceptedAt sql.NullTime
	)
	if err := row.Scan(&invite.ID, &invite.InviterID, &invite.Email, &invite.TokenHash, &invite.Status,
		&invite.ExpiresAt, &acceptedAt, &invite.CreatedAt); err != nil {
		return models.FriendInvite{}, err
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time.UTC()
		invite.AcceptedAt = &t
	}
	return invite, nil
}

// Create persists a new invite.
func (r *PostgresInviteRepository) Create(ctx context.Context, invite models.FriendInvite) error {
	return withConn(ctx, r.pool, func(q querier) error {
		_, err := q.Exec(ctx, `
            INSERT INTO friend_invites (id, inviter_id, email, token_hash, status, expires_at, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
        `, invite.ID, invite.InviterID, invite.Email, invite.TokenHash, invite.Status, invite.ExpiresAt.UTC(), invite.CreatedAt.UTC())
		if err != nil {
			return mapWriteError("insert invite", err)
		}
		return nil
	})
}

// FindByID fetches an invite.
func (r *PostgresInviteRepository) FindByID(ctx context.Context, id string) (models.FriendInvite, error) {
	var invite models.FriendInvite
	err := withConn(ctx, r.pool, func(q querier) error {
		var err error
		invite, err = scanInvite(q.QueryRow(ctx, `SELECT `+inviteColumns+` FROM friend_invites WHERE id = $1`, id))
		if err != nil {
			return mapReadError("select invite", err)
		}
		return nil
	})
	return invite, err
}

// FindPending returns an unexpired pending invite from inviter to email.
func (r *PostgresInviteRepository) FindPending(ctx context.Context, inviterID, email string, now time.Time) (models.FriendInvite, error) {
	var invite models.FriendInvite
	err := withConn(ctx, r.pool, func(q querier) error {
		var err error
		invite, err = scanInvite(q.QueryRow(ctx, `
            SELECT `+inviteColumns+` FROM friend_invites
            WHERE inviter_id = $1 AND lower(email) = lower($2) AND status = 'PENDING' AND expires_at > $3
            ORDER BY created_at DESC
            LIMIT 1
        `, inviterID, email, now.UTC()))
		if err != nil {
			return mapReadError("select pending invite", err)
		}
		return nil
	})
	return invite, err
}

// MarkExpired flags a pending invite as expired.
func (r *PostgresInviteRepository) MarkExpired(ctx context.Context, id string) error {
	return withConn(ctx, r.pool, func(q querier) error {
		return setInviteStatus(ctx, q, id, models.InviteExpired, nil)
	})
}

// MarkAccepted flags a pending invite as accepted.
func (r *PostgresInviteRepository) MarkAccepted(ctx context.Context, id string, at time.Time) error {
	return withConn(ctx, r.pool, func(q querier) error {
		return setInviteStatus(ctx, q, id, models.InviteAccepted, &at)
	})
}

// setInviteStatus only moves invites out of PENDING; anything else is a conflict.
func setInviteStatus(ctx context.Context, q querier, id string, status models.InviteStatus, acceptedAt *time.Time) error {
	var at any
	if acceptedAt != nil {
		at = acceptedAt.UTC()
	}
	tag, err := q.Exec(ctx, `
        UPDATE friend_invites SET status = $2, accepted_at = $3
        WHERE id = $1 AND status = 'PENDING'
    `, id, status, at)
	if err != nil {
		return mapWriteError("update invite status", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// AcceptWithFriendship accepts the invite, creates the friendship and
// records the inviter's notification in one transaction.
func (r *PostgresInviteRepository) AcceptWithFriendship(ctx context.Context, inviteID string, at time.Time, friendship models.Friendship, notice models.Notification) error {
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := setInviteStatus(ctx, tx, inviteID, models.InviteAccepted, &at); err != nil {
			return err
		}
		if err := insertFriendship(ctx, tx, friendship); err != nil {
			return err
		}
		return insertNotification(ctx, tx, notice)
	})
	if err != nil && !errors.Is(err, ErrConflict) && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("accept invite: %w", err)
	}
	return err
}

var _ InviteRepository = (*PostgresInviteRepository)(nil)
