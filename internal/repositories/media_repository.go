package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oralhistory/backend/internal/db"
	"github.com/oralhistory/backend/internal/events"
	"github.com/oralhistory/backend/internal/lifecycle"
	"github.com/oralhistory/backend/internal/models"
)

// MediaMutator adjusts a locked asset before it is written back. It must not
// change Stage; stage changes go through Transition.
type MediaMutator func(asset *models.MediaAsset) error

// MediaRepository defines data access for media assets. Every write locks the
// row, derives the projected statuses from the stage and appends an outbox
// event in the same transaction.
type MediaRepository interface {
	Create(ctx context.Context, asset models.MediaAsset) error
	FindByID(ctx context.Context, id string) (models.MediaAsset, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.MediaAsset, error)
	ListPublic(ctx context.Context, limit, offset int) ([]models.MediaAsset, error)
	ListFriendsFeed(ctx context.Context, userID string, limit, offset int) ([]models.MediaAsset, error)
	ListByStage(ctx context.Context, stage lifecycle.Stage, limit int) ([]models.MediaAsset, error)
	ListPendingApproval(ctx context.Context, requireTranscript bool, limit int) ([]models.MediaAsset, error)
	Transition(ctx context.Context, id string, e lifecycle.Event, mutate MediaMutator) (models.MediaAsset, error)
	Update(ctx context.Context, id, eventType string, mutate MediaMutator) (models.MediaAsset, error)
}

// PostgresMediaRepository provides PostgreSQL-backed persistence for media assets.
type PostgresMediaRepository struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgresMediaRepository constructs a media repository backed by PostgreSQL.
func NewPostgresMediaRepository(pool db.Pool) *PostgresMediaRepository {
	return &PostgresMediaRepository{pool: pool, now: time.Now}
}

const mediaColumns = `id, owner_id, object_key, url, poster_url, name, description, content_type, size_bytes,
    stage, moderation_status, approval_status, visibility, requested_visibility,
    moderation_label, moderation_score, notes, created_at, updated_at, deleted_at`

func scanMedia(row pgx.Row) (models.MediaAsset, error) {
	var (
		asset     models.MediaAsset
		deletedAt sql.NullTime
	)
	err := row.Scan(&asset.ID, &asset.OwnerID, &asset.ObjectKey, &asset.URL, &asset.PosterURL, &asset.Name,
		&asset.Description, &asset.ContentType, &asset.SizeBytes, &asset.Stage, &asset.ModerationStatus,
		&asset.ApprovalStatus, &asset.Visibility, &asset.RequestedVisibility, &asset.ModerationLabel,
		&asset.ModerationScore, &asset.Notes, &asset.CreatedAt, &asset.UpdatedAt, &deletedAt)
	if err != nil {
		return models.MediaAsset{}, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		asset.DeletedAt = &t
	}
	return asset, nil
}

func collectMedia(rows pgx.Rows) ([]models.MediaAsset, error) {
	defer rows.Close()

	var assets []models.MediaAsset
	for rows.Next() {
		asset, err := scanMedia(rows)
		if err != nil {
			return nil, mapReadError("scan media asset", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, mapReadError("iterate media assets", err)
	}
	return assets, nil
}

// project derives the stored status columns from the stage.
func project(asset *models.MediaAsset) {
	asset.ModerationStatus = asset.Stage.Moderation()
	asset.ApprovalStatus = asset.Stage.Approval()
	asset.Visibility = lifecycle.EffectiveVisibility(asset.Stage, asset.Visibility)
	if asset.RequestedVisibility == "" {
		asset.RequestedVisibility = lifecycle.VisibilityPrivate
	}
}

// Create persists a new asset together with its media.created event.
func (r *PostgresMediaRepository) Create(ctx context.Context, asset models.MediaAsset) error {
	now := r.now().UTC()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	asset.UpdatedAt = asset.CreatedAt
	if asset.Stage == "" {
		asset.Stage = lifecycle.StageUploading
	}
	project(&asset)

	event, err := events.NewMediaEvent(events.TypeMediaCreated, asset, now)
	if err != nil {
		return err
	}

	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
            INSERT INTO media_assets (`+mediaColumns+`)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NULL)
        `, asset.ID, asset.OwnerID, asset.ObjectKey, asset.URL, asset.PosterURL, asset.Name, asset.Description,
			asset.ContentType, asset.SizeBytes, asset.Stage, asset.ModerationStatus, asset.ApprovalStatus,
			asset.Visibility, asset.RequestedVisibility, asset.ModerationLabel, asset.ModerationScore, asset.Notes,
			asset.CreatedAt, asset.UpdatedAt)
		if err != nil {
			return mapWriteError("insert media asset", err)
		}
		return insertOutbox(ctx, tx, event)
	})
}

// FindByID fetches an asset that has not been deleted.
func (r *PostgresMediaRepository) FindByID(ctx context.Context, id string) (models.MediaAsset, error) {
	var asset models.MediaAsset
	err := withConn(ctx, r.pool, func(q querier) error {
		var err error
		asset, err = scanMedia(q.QueryRow(ctx, `
            SELECT `+mediaColumns+` FROM media_assets
            WHERE id = $1 AND deleted_at IS NULL
        `, id))
		if err != nil {
			return mapReadError("select media asset", err)
		}
		return nil
	})
	return asset, err
}

func (r *PostgresMediaRepository) list(ctx context.Context, op, query string, args ...any) ([]models.MediaAsset, error) {
	var assets []models.MediaAsset
	err := withConn(ctx, r.pool, func(q querier) error {
		rows, err := q.Query(ctx, query, args...)
		if err != nil {
			return mapReadError(op, err)
		}
		assets, err = collectMedia(rows)
		return err
	})
	return assets, err
}

// ListByOwner returns the owner's assets, newest first.
func (r *PostgresMediaRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.MediaAsset, error) {
	limit, offset = clampPage(limit, offset)
	return r.list(ctx, "query owner media", `
        SELECT `+mediaColumns+` FROM media_assets
        WHERE owner_id = $1 AND deleted_at IS NULL
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3
    `, ownerID, limit, offset)
}

// ListPublic returns approved public assets, newest first.
func (r *PostgresMediaRepository) ListPublic(ctx context.Context, limit, offset int) ([]models.MediaAsset, error) {
	limit, offset = clampPage(limit, offset)
	return r.list(ctx, "query public media", `
        SELECT `+mediaColumns+` FROM media_assets
        WHERE visibility = $1 AND approval_status = $2 AND deleted_at IS NULL
        ORDER BY created_at DESC
        LIMIT $3 OFFSET $4
    `, lifecycle.VisibilityPublic, lifecycle.ApprovalApproved, limit, offset)
}

// ListFriendsFeed returns FRIENDS and PUBLIC assets owned by accepted friends.
func (r *PostgresMediaRepository) ListFriendsFeed(ctx context.Context, userID string, limit, offset int) ([]models.MediaAsset, error) {
	limit, offset = clampPage(limit, offset)
	return r.list(ctx, "query friends feed", `
        WITH accepted_friends AS (
            SELECT CASE WHEN f.initiator_id = $1 THEN f.receiver_id ELSE f.initiator_id END AS friend_id
            FROM friendships f
            WHERE f.status = 'ACCEPTED'
              AND (f.initiator_id = $1 OR f.receiver_id = $1)
        )
        SELECT `+mediaColumns+` FROM media_assets
        WHERE owner_id IN (SELECT friend_id FROM accepted_friends)
          AND visibility IN ($2, $3)
          AND approval_status = $4
          AND deleted_at IS NULL
        ORDER BY created_at DESC
        LIMIT $5 OFFSET $6
    `, userID, lifecycle.VisibilityFriends, lifecycle.VisibilityPublic, lifecycle.ApprovalApproved, limit, offset)
}

// ListByStage returns assets in stage, oldest first.
func (r *PostgresMediaRepository) ListByStage(ctx context.Context, stage lifecycle.Stage, limit int) ([]models.MediaAsset, error) {
	if limit <= 0 {
		limit = 500
	}
	return r.list(ctx, "query media by stage", `
        SELECT `+mediaColumns+` FROM media_assets
        WHERE stage = $1 AND deleted_at IS NULL
        ORDER BY created_at
        LIMIT $2
    `, stage, limit)
}

// ListPendingApproval returns assets awaiting an admin decision, oldest
// first. With requireTranscript only assets with a completed current
// transcript are returned.
func (r *PostgresMediaRepository) ListPendingApproval(ctx context.Context, requireTranscript bool, limit int) ([]models.MediaAsset, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, "query pending approval", `
        SELECT `+mediaColumns+` FROM media_assets m
        WHERE m.stage = $1 AND m.deleted_at IS NULL
          AND (NOT $2 OR EXISTS (
              SELECT 1 FROM transcripts t
              WHERE t.media_id = m.id AND t.is_current AND t.status = 'COMPLETED'
          ))
        ORDER BY m.created_at
        LIMIT $3
    `, lifecycle.StagePendingApproval, requireTranscript, limit)
}

// Transition applies e to the locked asset, lets mutate adjust non-stage
// fields and records the resulting event.
func (r *PostgresMediaRepository) Transition(ctx context.Context, id string, e lifecycle.Event, mutate MediaMutator) (models.MediaAsset, error) {
	var updated models.MediaAsset
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		asset, err := lockMedia(ctx, tx, id)
		if err != nil {
			return err
		}
		asset, err = applyTransition(ctx, tx, asset, e, mutate, r.now().UTC())
		if err != nil {
			return err
		}
		updated = asset
		return nil
	})
	return updated, err
}

// Update applies mutate to the locked asset without changing its stage.
func (r *PostgresMediaRepository) Update(ctx context.Context, id, eventType string, mutate MediaMutator) (models.MediaAsset, error) {
	var updated models.MediaAsset
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		asset, err := lockMedia(ctx, tx, id)
		if err != nil {
			return err
		}
		stage := asset.Stage
		if mutate != nil {
			if err := mutate(&asset); err != nil {
				return err
			}
		}
		asset.Stage = stage

		now := r.now().UTC()
		asset.UpdatedAt = now
		project(&asset)
		if err := saveMedia(ctx, tx, asset); err != nil {
			return err
		}
		event, err := events.NewMediaEvent(eventType, asset, now)
		if err != nil {
			return err
		}
		if err := insertOutbox(ctx, tx, event); err != nil {
			return err
		}
		updated = asset
		return nil
	})
	return updated, err
}

func lockMedia(ctx context.Context, tx pgx.Tx, id string) (models.MediaAsset, error) {
	asset, err := scanMedia(tx.QueryRow(ctx, `
        SELECT `+mediaColumns+` FROM media_assets
        WHERE id = $1 AND deleted_at IS NULL
        FOR UPDATE
    `, id))
	if err != nil {
		return models.MediaAsset{}, mapReadError("lock media asset", err)
	}
	return asset, nil
}

func applyTransition(ctx context.Context, tx pgx.Tx, asset models.MediaAsset, e lifecycle.Event, mutate MediaMutator, now time.Time) (models.MediaAsset, error) {
	next, err := lifecycle.Transition(asset.Stage, e)
	if err != nil {
		return models.MediaAsset{}, err
	}
	asset.Stage = next
	if mutate != nil {
		if err := mutate(&asset); err != nil {
			return models.MediaAsset{}, err
		}
		asset.Stage = next
	}
	asset.UpdatedAt = now
	project(&asset)

	if err := saveMedia(ctx, tx, asset); err != nil {
		return models.MediaAsset{}, err
	}
	event, err := events.NewMediaEvent(events.TypeForTransition(e), asset, now)
	if err != nil {
		return models.MediaAsset{}, err
	}
	if err := insertOutbox(ctx, tx, event); err != nil {
		return models.MediaAsset{}, err
	}
	return asset, nil
}

func saveMedia(ctx context.Context, tx pgx.Tx, asset models.MediaAsset) error {
	var deletedAt any
	if asset.DeletedAt != nil {
		deletedAt = asset.DeletedAt.UTC()
	}
	tag, err := tx.Exec(ctx, `
        UPDATE media_assets SET
            object_key = $2, url = $3, poster_url = $4, name = $5, description = $6,
            content_type = $7, size_bytes = $8, stage = $9, moderation_status = $10,
            approval_status = $11, visibility = $12, requested_visibility = $13,
            moderation_label = $14, moderation_score = $15, notes = $16,
            updated_at = $17, deleted_at = $18
        WHERE id = $1
    `, asset.ID, asset.ObjectKey, asset.URL, asset.PosterURL, asset.Name, asset.Description,
		asset.ContentType, asset.SizeBytes, asset.Stage, asset.ModerationStatus,
		asset.ApprovalStatus, asset.Visibility, asset.RequestedVisibility,
		asset.ModerationLabel, asset.ModerationScore, asset.Notes,
		asset.UpdatedAt, deletedAt)
	if err != nil {
		return mapWriteError("update media asset", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ MediaRepository = (*PostgresMediaRepository)(nil)
