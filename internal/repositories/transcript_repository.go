package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oralhistory/backend/internal/db"
	"github.com/oralhistory/backend/internal/lifecycle"
	"github.com/oralhistory/backend/internal/models"
)

// TranscriptResult is the output of a successful transcription run.
type TranscriptResult struct {
	Text     string
	Language string
	SRTURL   string
	VTTURL   string
}

// TranscriptMutator adjusts the current transcript during owner review.
type TranscriptMutator func(t *models.Transcript) error

// TranscriptRepository defines data access for transcripts.
type TranscriptRepository interface {
	CreateQueued(ctx context.Context, transcript models.Transcript) error
	MarkProcessing(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, result TranscriptResult) (models.MediaAsset, models.Transcript, error)
	Current(ctx context.Context, mediaID string) (models.Transcript, error)
	Latest(ctx context.Context, mediaID string) (models.Transcript, error)
	UpdateContent(ctx context.Context, mediaID string, mutate TranscriptMutator) (models.Transcript, error)
	Finalize(ctx context.Context, mediaID string) (models.MediaAsset, models.Transcript, error)
}

// PostgresTranscriptRepository provides PostgreSQL-backed persistence for transcripts.
type PostgresTranscriptRepository struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgresTranscriptRepository constructs a transcript repository backed by PostgreSQL.
func NewPostgresTranscriptRepository(pool db.Pool) *PostgresTranscriptRepository {
	return &PostgresTranscriptRepository{pool: pool, now: time.Now}
}

const transcriptColumns = `id, media_id, text, language, speaker_mappings, status, is_current, user_approved,
    finalized_at, srt_url, vtt_url, created_at, updated_at`

func scanTranscript(row pgx.Row) (models.Transcript, error) {
	var (
		t           models.Transcript
		finalizedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.MediaID, &t.Text, &t.Language, &t.SpeakerMappings, &t.Status, &t.IsCurrent,
		&t.UserApproved, &finalizedAt, &t.SRTURL, &t.VTTURL, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Transcript{}, err
	}
	if finalizedAt.Valid {
		ts := finalizedAt.Time.UTC()
		t.FinalizedAt = &ts
	}
	if t.SpeakerMappings == nil {
		t.SpeakerMappings = map[string]string{}
	}
	return t, nil
}

func mappingsOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// CreateQueued inserts a transcript awaiting transcription.
func (r *PostgresTranscriptRepository) CreateQueued(ctx context.Context, t models.Transcript) error {
	now := r.now().UTC()
	return withConn(ctx, r.pool, func(q querier) error {
		_, err := q.Exec(ctx, `
            INSERT INTO transcripts (id, media_id, speaker_mappings, status, is_current, user_approved, created_at, updated_at)
            VALUES ($1, $2, $3, $4, FALSE, FALSE, $5, $5)
        `, t.ID, t.MediaID, mappingsOrEmpty(t.SpeakerMappings), models.TranscriptQueued, now)
		if err != nil {
			return mapWriteError("insert transcript", err)
		}
		return nil
	})
}

// MarkProcessing records that transcription has started.
func (r *PostgresTranscriptRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, models.TranscriptProcessing)
}

// MarkFailed records a failed transcription attempt.
func (r *PostgresTranscriptRepository) MarkFailed(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, models.TranscriptFailed)
}

func (r *PostgresTranscriptRepository) setStatus(ctx context.Context, id string, status models.TranscriptStatus) error {
	return withConn(ctx, r.pool, func(q querier) error {
		tag, err := q.Exec(ctx, `
            UPDATE transcripts SET status = $2, updated_at = $3
            WHERE id = $1 AND status <> 'COMPLETED'
        `, id, status, r.now().UTC())
		if err != nil {
			return mapWriteError("update transcript status", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Complete stores the transcription result, makes it the only current
// transcript for the asset and moves the asset to owner review, atomically.
func (r *PostgresTranscriptRepository) Complete(ctx context.Context, id string, result TranscriptResult) (models.MediaAsset, models.Transcript, error) {
	var (
		asset      models.MediaAsset
		transcript models.Transcript
	)
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var mediaID string
		if err := tx.QueryRow(ctx, `SELECT media_id FROM transcripts WHERE id = $1`, id).Scan(&mediaID); err != nil {
			return mapReadError("select transcript media", err)
		}

		locked, err := lockMedia(ctx, tx, mediaID)
		if err != nil {
			return err
		}

		now := r.now().UTC()
		if _, err := tx.Exec(ctx, `
            UPDATE transcripts SET is_current = FALSE, updated_at = $3
            WHERE media_id = $1 AND is_current AND id <> $2
        `, mediaID, id, now); err != nil {
			return mapWriteError("supersede transcript", err)
		}

		transcript, err = scanTranscript(tx.QueryRow(ctx, `
            UPDATE transcripts SET
                text = $2, language = $3, srt_url = $4, vtt_url = $5, status = $6,
                is_current = TRUE, user_approved = FALSE, finalized_at = NULL, updated_at = $7
            WHERE id = $1
            RETURNING `+transcriptColumns,
			id, result.Text, result.Language, result.SRTURL, result.VTTURL, models.TranscriptCompleted, now))
		if err != nil {
			return mapWriteError("complete transcript", err)
		}

		asset, err = applyTransition(ctx, tx, locked, lifecycle.EventTranscriptionCompleted, nil, now)
		return err
	})
	return asset, transcript, err
}

// Current returns the current transcript for the asset.
func (r *PostgresTranscriptRepository) Current(ctx context.Context, mediaID string) (models.Transcript, error) {
	return r.findOne(ctx, "select current transcript", `WHERE media_id = $1 AND is_current`, mediaID)
}

// Latest returns the most recently created transcript for the asset.
func (r *PostgresTranscriptRepository) Latest(ctx context.Context, mediaID string) (models.Transcript, error) {
	return r.findOne(ctx, "select latest transcript", `WHERE media_id = $1 ORDER BY created_at DESC LIMIT 1`, mediaID)
}

func (r *PostgresTranscriptRepository) findOne(ctx context.Context, op, where string, arg any) (models.Transcript, error) {
	var t models.Transcript
	err := withConn(ctx, r.pool, func(q querier) error {
		var err error
		t, err = scanTranscript(q.QueryRow(ctx, `SELECT `+transcriptColumns+` FROM transcripts `+where, arg))
		if err != nil {
			return mapReadError(op, err)
		}
		return nil
	})
	return t, err
}

// lockCurrentForReview locks the asset and its current transcript and
// verifies both are still open for owner changes.
func lockCurrentForReview(ctx context.Context, tx pgx.Tx, mediaID string) (models.MediaAsset, models.Transcript, error) {
	asset, err := lockMedia(ctx, tx, mediaID)
	if err != nil {
		return models.MediaAsset{}, models.Transcript{}, err
	}
	t, err := scanTranscript(tx.QueryRow(ctx, `
        SELECT `+transcriptColumns+` FROM transcripts
        WHERE media_id = $1 AND is_current
        FOR UPDATE
    `, mediaID))
	if err != nil {
		return models.MediaAsset{}, models.Transcript{}, mapReadError("lock current transcript", err)
	}
	if t.UserApproved {
		return models.MediaAsset{}, models.Transcript{}, lifecycle.ErrTranscriptFinalized
	}
	if err := lifecycle.CanEditTranscript(asset.Stage); err != nil {
		return models.MediaAsset{}, models.Transcript{}, err
	}
	return asset, t, nil
}

// UpdateContent lets mutate change the text and speaker mappings of the
// current transcript while it is still under owner review.
func (r *PostgresTranscriptRepository) UpdateContent(ctx context.Context, mediaID string, mutate TranscriptMutator) (models.Transcript, error) {
	var updated models.Transcript
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, t, err := lockCurrentForReview(ctx, tx, mediaID)
		if err != nil {
			return err
		}
		if err := mutate(&t); err != nil {
			return err
		}

		updated, err = scanTranscript(tx.QueryRow(ctx, `
            UPDATE transcripts SET text = $2, speaker_mappings = $3, updated_at = $4
            WHERE id = $1 AND user_approved = FALSE
            RETURNING `+transcriptColumns,
			t.ID, t.Text, mappingsOrEmpty(t.SpeakerMappings), r.now().UTC()))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return lifecycle.ErrTranscriptFinalized
			}
			return fmt.Errorf("update transcript content: %w", err)
		}
		return nil
	})
	return updated, err
}

// Finalize marks the current transcript approved by its owner and moves the
// asset to pending approval in the same transaction.
func (r *PostgresTranscriptRepository) Finalize(ctx context.Context, mediaID string) (models.MediaAsset, models.Transcript, error) {
	var (
		asset      models.MediaAsset
		transcript models.Transcript
	)
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		locked, t, err := lockCurrentForReview(ctx, tx, mediaID)
		if err != nil {
			return err
		}

		now := r.now().UTC()
		transcript, err = scanTranscript(tx.QueryRow(ctx, `
            UPDATE transcripts SET user_approved = TRUE, finalized_at = $2, updated_at = $2
            WHERE id = $1 AND user_approved = FALSE
            RETURNING `+transcriptColumns,
			t.ID, now))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return lifecycle.ErrTranscriptFinalized
			}
			return fmt.Errorf("finalize transcript: %w", err)
		}

		asset, err = applyTransition(ctx, tx, locked, lifecycle.EventOwnerFinalized, nil, now)
		return err
	})
	return asset, transcript, err
}

var _ TranscriptRepository = (*PostgresTranscriptRepository)(nil)
