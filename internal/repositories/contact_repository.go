package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/oralhistory/backend/internal/db"
	"github.com/oralhistory/backend/internal/models"
)

// ContactRepository stores contact form submissions.
type ContactRepository interface {
	Create(ctx context.Context, contact models.Contact) error
	ListRecent(ctx context.Context, limit int) ([]models.Contact, error)
}

// PostgresContactRepository provides PostgreSQL-backed persistence for contacts.
type PostgresContactRepository struct {
	pool db.Pool
}

// NewPostgresContactRepository constructs a contact repository backed by PostgreSQL.
func NewPostgresContactRepository(pool db.Pool) *PostgresContactRepository {
	return &PostgresContactRepository{pool: pool}
}

// Create persists a submission.
func (r *PostgresContactRepository) Create(ctx context.Context, c models.Contact) error {
	var userID any
	if c.UserID != "" {
		userID = c.UserID
	}
	return withConn(ctx, r.pool, func(q querier) error {
		_, err := q.Exec(ctx, `
            INSERT INTO contacts (id, name, email, comment, user_id, created_at)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, c.ID, c.Name, c.Email, c.Comment, userID, c.CreatedAt.UTC())
		if err != nil {
			return mapWriteError("insert contact", err)
		}
		return nil
	})
}

// ListRecent returns the newest submissions.
func (r *PostgresContactRepository) ListRecent(ctx context.Context, limit int) ([]models.Contact, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var contacts []models.Contact
	err := withConn(ctx, r.pool, func(q querier) error {
		rows, err := q.Query(ctx, `
            SELECT id, name, email, comment, COALESCE(user_id, ''), created_at
            FROM contacts
            ORDER BY created_at DESC
            LIMIT $1
        `, limit)
		if err != nil {
			return mapReadError("query contacts", err)
		}
		contacts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Contact, error) {
			var c models.Contact
			err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Comment, &c.UserID, &c.CreatedAt)
			return c, err
		})
		if err != nil {
			return mapReadError("scan contacts", err)
		}
		return nil
	})
	return contacts, err
}

var _ ContactRepository = (*PostgresContactRepository)(nil)
