package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/db"
)

// PostgresSessionStore persists hashed session tokens to PostgreSQL.
type PostgresSessionStore struct {
	pool db.Pool
}

// NewPostgresSessionStore constructs a session store backed by PostgreSQL.
func NewPostgresSessionStore(pool db.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// Save stores or updates a session record.
func (s *PostgresSessionStore) Save(ctx context.Context, session auth.Session) error {
	return withConn(ctx, s.pool, func(q querier) error {
		_, err := q.Exec(ctx, `
            INSERT INTO sessions (refresh_token_hash, access_token_hash, user_id, access_expires_at, expires_at)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (refresh_token_hash)
            DO UPDATE SET access_token_hash = EXCLUDED.access_token_hash,
                          user_id = EXCLUDED.user_id,
                          access_expires_at = EXCLUDED.access_expires_at,
                          expires_at = EXCLUDED.expires_at
        `, session.RefreshHash, session.AccessHash, session.UserID, session.AccessExpiresAt.UTC(), session.ExpiresAt.UTC())
		if err != nil {
			return mapWriteError("upsert session", err)
		}
		return nil
	})
}

// FindByRefresh loads a session by its refresh token hash.
func (s *PostgresSessionStore) FindByRefresh(ctx context.Context, refreshHash string) (auth.Session, error) {
	return s.find(ctx, "refresh_token_hash", refreshHash)
}

// FindByAccess loads a session by its access token hash.
func (s *PostgresSessionStore) FindByAccess(ctx context.Context, accessHash string) (auth.Session, error) {
	return s.find(ctx, "access_token_hash", accessHash)
}

func (s *PostgresSessionStore) find(ctx context.Context, column, hash string) (auth.Session, error) {
	var session auth.Session
	err := withConn(ctx, s.pool, func(q querier) error {
		row := q.QueryRow(ctx, `
            SELECT refresh_token_hash, access_token_hash, user_id, access_expires_at, expires_at
            FROM sessions
            WHERE `+column+` = $1
        `, hash)
		if err := row.Scan(&session.RefreshHash, &session.AccessHash, &session.UserID, &session.AccessExpiresAt, &session.ExpiresAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return auth.ErrSessionNotFound
			}
			return fmt.Errorf("select session: %w", err)
		}
		return nil
	})
	session.AccessExpiresAt = session.AccessExpiresAt.UTC()
	session.ExpiresAt = session.ExpiresAt.UTC()
	return session, err
}

// Delete removes a session by its refresh token hash.
func (s *PostgresSessionStore) Delete(ctx context.Context, refreshHash string) error {
	return withConn(ctx, s.pool, func(q querier) error {
		tag, err := q.Exec(ctx, `DELETE FROM sessions WHERE refresh_token_hash = $1`, refreshHash)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return auth.ErrSessionNotFound
		}
		return nil
	})
}

var _ auth.SessionStore = (*PostgresSessionStore)(nil)
