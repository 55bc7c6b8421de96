package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oralhistory/backend/internal/db"
	"github.com/oralhistory/backend/internal/models"
)

// JobRepository tracks background stage progress for the status endpoint.
type JobRepository interface {
	Create(ctx context.Context, job models.MediaJob) error
	Start(ctx context.Context, id string) error
	Progress(ctx context.Context, id string, percent int) error
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, reason string) error
	Latest(ctx context.Context, mediaID string, kind models.JobKind) (models.MediaJob, error)
}

// PostgresJobRepository provides PostgreSQL-backed persistence for media jobs.
type PostgresJobRepository struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgresJobRepository constructs a job repository backed by PostgreSQL.
func NewPostgresJobRepository(pool db.Pool) *PostgresJobRepository {
	return &PostgresJobRepository{pool: pool, now: time.Now}
}

const jobColumns = `id, media_id, kind, state, progress, attempts_made, failed_reason, created_at, updated_at`

func scanJob(row pgx.Row) (models.MediaJob, error) {
	var job models.MediaJob
	err := row.Scan(&job.ID, &job.MediaID, &job.Kind, &job.State, &job.Progress, &job.AttemptsMade,
		&job.FailedReason, &job.CreatedAt, &job.UpdatedAt)
	return job, err
}

// Create inserts a waiting job.
func (r *PostgresJobRepository) Create(ctx context.Context, job models.MediaJob) error {
	now := r.now().UTC()
	if job.State == "" {
		job.State = models.JobWaiting
	}
	return withConn(ctx, r.pool, func(q querier) error {
		_, err := q.Exec(ctx, `
            INSERT INTO media_jobs (id, media_id, kind, state, progress, attempts_made, failed_reason, created_at, updated_at)
            VALUES ($1, $2, $3, $4, 0, 0, '', $5, $5)
        `, job.ID, job.MediaID, job.Kind, job.State, now)
		if err != nil {
			return mapWriteError("insert media job", err)
		}
		return nil
	})
}

// Start marks the job active and counts the attempt.
func (r *PostgresJobRepository) Start(ctx context.Context, id string) error {
	return r.exec(ctx, "start media job", `
        UPDATE media_jobs
        SET state = 'active', attempts_made = attempts_made + 1, progress = 10, failed_reason = '', updated_at = $2
        WHERE id = $1
    `, id)
}

// Progress records partial completion, clamped to 0..99.
func (r *PostgresJobRepository) Progress(ctx context.Context, id string, percent int) error {
	percent = min(max(percent, 0), 99)
	return r.exec(ctx, "update media job progress", `
        UPDATE media_jobs SET progress = $3, updated_at = $2
        WHERE id = $1 AND state = 'active'
    `, id, percent)
}

// Complete marks the job finished.
func (r *PostgresJobRepository) Complete(ctx context.Context, id string) error {
	return r.exec(ctx, "complete media job", `
        UPDATE media_jobs SET state = 'completed', progress = 100, updated_at = $2
        WHERE id = $1
    `, id)
}

// Fail marks the job failed with reason.
func (r *PostgresJobRepository) Fail(ctx context.Context, id, reason string) error {
	return r.exec(ctx, "fail media job", `
        UPDATE media_jobs SET state = 'failed', failed_reason = $3, updated_at = $2
        WHERE id = $1
    `, id, reason)
}

func (r *PostgresJobRepository) exec(ctx context.Context, op, query, id string, args ...any) error {
	return withConn(ctx, r.pool, func(q querier) error {
		params := append([]any{id, r.now().UTC()}, args...)
		tag, err := q.Exec(ctx, query, params...)
		if err != nil {
			return mapWriteError(op, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Latest returns the most recent job of kind for the asset.
func (r *PostgresJobRepository) Latest(ctx context.Context, mediaID string, kind models.JobKind) (models.MediaJob, error) {
	var job models.MediaJob
	err := withConn(ctx, r.pool, func(q querier) error {
		var err error
		job, err = scanJob(q.QueryRow(ctx, `
            SELECT `+jobColumns+` FROM media_jobs
            WHERE media_id = $1 AND kind = $2
            ORDER BY created_at DESC
            LIMIT 1
        `, mediaID, kind))
		if err != nil {
			return mapReadError("select latest media job", err)
		}
		return nil
	})
	return job, err
}

var _ JobRepository = (*PostgresJobRepository)(nil)
