package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oralhistory/backend/internal/db"
	"github.com/oralhistory/backend/internal/models"
)

// UserRepository defines the data access contract for users.
type UserRepository interface {
	Upsert(ctx context.Context, user models.User) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByExternalID(ctx context.Context, externalID string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	SoftDeleteByExternalID(ctx context.Context, externalID string, at time.Time) error
	ListAdmins(ctx context.Context) ([]models.User, error)
}

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

const userColumns = `id, external_id, email, full_name, image_url, role, last_sign_in_at, created_at, updated_at, deleted_at`

func scanUser(row pgx.Row) (models.User, error) {
	var (
		user       models.User
		lastSignIn sql.NullTime
		deletedAt  sql.NullTime
	)
	if err := row.Scan(&user.ID, &user.ExternalID, &user.Email, &user.FullName, &user.ImageURL, &user.Role,
		&lastSignIn, &user.CreatedAt, &user.UpdatedAt, &deletedAt); err != nil {
		return models.User{}, err
	}
	if lastSignIn.Valid {
		t := lastSignIn.Time.UTC()
		user.LastSignInAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		user.DeletedAt = &t
	}
	return user, nil
}

// Upsert inserts or refreshes the user keyed by external id. A previously
// soft-deleted user is restored. The stored row is returned.
func (r *PostgresUserRepository) Upsert(ctx context.Context, user models.User) (models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now().UTC()
	}
	var stored models.User
	err := withConn(ctx, r.pool, func(q querier) error {
		row := q.QueryRow(ctx, `
            INSERT INTO users (id, external_id, email, full_name, image_url, role, last_sign_in_at, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
            ON CONFLICT (external_id) DO UPDATE SET
                email = EXCLUDED.email,
                full_name = EXCLUDED.full_name,
                image_url = EXCLUDED.image_url,
                role = EXCLUDED.role,
                last_sign_in_at = COALESCE(EXCLUDED.last_sign_in_at, users.last_sign_in_at),
                updated_at = EXCLUDED.updated_at,
                deleted_at = NULL
            RETURNING `+userColumns,
			user.ID, user.ExternalID, user.Email, user.FullName, user.ImageURL, user.Role, user.LastSignInAt, user.UpdatedAt.UTC())

		var err error
		stored, err = scanUser(row)
		if err != nil {
			return mapWriteError("upsert user", err)
		}
		return nil
	})
	return stored, err
}

// FindByID fetches an active user by primary key.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, "select user by id", `WHERE id = $1 AND deleted_at IS NULL`, id)
}

// FindByExternalID fetches an active user by the identity provider's id.
func (r *PostgresUserRepository) FindByExternalID(ctx context.Context, externalID string) (models.User, error) {
	return r.findOne(ctx, "select user by external id", `WHERE external_id = $1 AND deleted_at IS NULL`, externalID)
}

// FindByEmail fetches an active user by email, case-insensitively.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, "select user by email", `WHERE lower(email) = lower($1) AND deleted_at IS NULL ORDER BY created_at LIMIT 1`, email)
}

func (r *PostgresUserRepository) findOne(ctx context.Context, op, where string, arg any) (models.User, error) {
	var user models.User
	err := withConn(ctx, r.pool, func(q querier) error {
		var err error
		user, err = scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users `+where, arg))
		if err != nil {
			return mapReadError(op, err)
		}
		return nil
	})
	return user, err
}

// SoftDeleteByExternalID marks the user deleted and revokes their sessions.
func (r *PostgresUserRepository) SoftDeleteByExternalID(ctx context.Context, externalID string, at time.Time) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
            UPDATE users SET deleted_at = $2, updated_at = $2
            WHERE external_id = $1 AND deleted_at IS NULL
            RETURNING id
        `, externalID, at.UTC()).Scan(&id)
		if err != nil {
			return mapReadError("soft delete user", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, id); err != nil {
			return mapWriteError("revoke user sessions", err)
		}
		return nil
	})
}

// ListAdmins returns every active administrator.
func (r *PostgresUserRepository) ListAdmins(ctx context.Context) ([]models.User, error) {
	var admins []models.User
	err := withConn(ctx, r.pool, func(q querier) error {
		rows, err := q.Query(ctx, `
            SELECT `+userColumns+` FROM users
            WHERE role = $1 AND deleted_at IS NULL
            ORDER BY created_at
        `, models.RoleAdmin)
		if err != nil {
			return mapReadError("query admins", err)
		}
		defer rows.Close()

		for rows.Next() {
			user, err := scanUser(rows)
			if err != nil {
				return mapReadError("scan admin", err)
			}
			admins = append(admins, user)
		}
		return rows.Err()
	})
	return admins, err
}

var _ UserRepository = (*PostgresUserRepository)(nil)
