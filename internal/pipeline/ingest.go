package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/lifecycle"
	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/repositories"
	"github.com/oralhistory/backend/internal/storage"
	"github.com/oralhistory/backend/internal/validation"
)

const (
	maxNameLength        = 200
	maxDescriptionLength = 5000
)

// UploadInput describes a new testimonial upload.
type UploadInput struct {
	Name        string
	Description string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

var videoExtensions = map[string]string{
	"video/mp4":        ".mp4",
	"video/quicktime":  ".mov",
	"video/webm":       ".webm",
	"video/x-matroska": ".mkv",
	"video/x-msvideo":  ".avi",
	"video/mpeg":       ".mpeg",
	"video/ogg":        ".ogv",
}

func extensionFor(fileName, contentType string) string {
	if ext := strings.ToLower(path.Ext(fileName)); ext != "" && len(ext) <= 6 {
		return ext
	}
	return videoExtensions[strings.ToLower(contentType)]
}

func validateDetails(c validation.Collector, name, description string) {
	switch {
	case name == "":
		c.Add("name", "is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		c.Add("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		c.Add("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLength))
	}
}

func (s *Service) validateUpload(in *UploadInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.ContentType = strings.ToLower(strings.TrimSpace(in.ContentType))

	if in.Size > s.cfg.MaxUploadBytes {
		return validation.Wrap(ErrPayloadTooLarge, "file",
			"must be at most "+humanize.IBytes(uint64(s.cfg.MaxUploadBytes)))
	}
	if !strings.HasPrefix(in.ContentType, "video/") {
		return validation.Wrap(ErrUnsupportedMediaType, "file", "must be a video")
	}

	c := validation.Collector{}
	validateDetails(c, in.Name, in.Description)
	if in.Body == nil || in.Size <= 0 {
		c.Add("file", "is required")
	}
	return c.Err()
}

// Ingest stores a new upload and queues it for moderation.
func (s *Service) Ingest(ctx context.Context, p auth.Principal, in UploadInput) (models.MediaAsset, error) {
	if err := p.RequireUser(); err != nil {
		return models.MediaAsset{}, err
	}
	if err := s.validateUpload(&in); err != nil {
		return models.MediaAsset{}, err
	}

	now := s.now().UTC()
	id := s.newID()
	asset := models.MediaAsset{
		ID:                  id,
		OwnerID:             p.UserID,
		ObjectKey:           fmt.Sprintf("user-media/%s/%s%s", p.UserID, id, extensionFor(in.FileName, in.ContentType)),
		Name:                in.Name,
		Description:         in.Description,
		ContentType:         in.ContentType,
		SizeBytes:           in.Size,
		Stage:               lifecycle.StageUploading,
		Visibility:          lifecycle.VisibilityPrivate,
		RequestedVisibility: lifecycle.VisibilityPrivate,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.media.Create(ctx, asset); err != nil {
		return models.MediaAsset{}, fmt.Errorf("create media asset: %w", err)
	}

	logger := logging.FromContext(ctx).With(slog.String("media_id", id))
	result, err := s.upload(ctx, asset.ObjectKey, in)
	if err != nil {
		logger.Error("store upload", slog.Any("error", err))
		if _, terr := s.media.Transition(ctx, id, lifecycle.EventUploadFailed, func(a *models.MediaAsset) error {
			a.Notes = "upload failed"
			return nil
		}); terr != nil {
			logger.Error("mark upload failed", slog.Any("error", terr))
		}
		return models.MediaAsset{}, fmt.Errorf("store upload: %w", err)
	}

	asset, err = s.media.Transition(ctx, id, lifecycle.EventUploadStored, func(a *models.MediaAsset) error {
		a.URL = s.store.PublicURL(result.Key)
		return nil
	})
	if err != nil {
		return models.MediaAsset{}, fmt.Errorf("record upload: %w", err)
	}

	if err := s.queueModeration(ctx, id); err != nil {
		// The resume pass picks the asset up again on the next start.
		logger.Warn("queue moderation", slog.Any("error", err))
	}
	return s.present(ctx, asset), nil
}

func (s *Service) upload(ctx context.Context, key string, in UploadInput) (storage.UploadResult, error) {
	if in.Size <= s.cfg.BufferedUploadLimit {
		body, err := io.ReadAll(io.LimitReader(in.Body, in.Size+1))
		if err != nil {
			return storage.UploadResult{}, fmt.Errorf("read upload: %w", err)
		}
		if int64(len(body)) > in.Size {
			body = body[:in.Size]
		}
		return s.store.PutObject(ctx, key, body, in.ContentType, storage.ACLPrivate)
	}

	body := in.Body
	if _, ok := body.(io.ReadSeeker); !ok {
		body = io.LimitReader(body, s.cfg.MaxUploadBytes)
	}
	return s.store.UploadStream(ctx, key, body, in.ContentType, storage.ACLPrivate)
}

func (s *Service) queueModeration(ctx context.Context, mediaID string) error {
	job := models.MediaJob{ID: s.newID(), MediaID: mediaID, Kind: models.JobModeration, State: models.JobWaiting}
	if err := s.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("create moderation job: %w", err)
	}
	if s.moderation == nil {
		return nil
	}
	return s.moderation.Enqueue(ctx, mediaID)
}

func (s *Service) queueTranscription(ctx context.Context, mediaID string) error {
	transcript := models.Transcript{ID: s.newID(), MediaID: mediaID, Status: models.TranscriptQueued}
	if err := s.transcripts.CreateQueued(ctx, transcript); err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	job := models.MediaJob{ID: s.newID(), MediaID: mediaID, Kind: models.JobTranscription, State: models.JobWaiting}
	if err := s.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("create transcription job: %w", err)
	}
	if s.transcription == nil {
		return nil
	}
	return s.transcription.Enqueue(ctx, mediaID)
}

// latestJob returns the newest job of kind, creating one if none exists.
func (s *Service) latestJob(ctx context.Context, mediaID string, kind models.JobKind) (models.MediaJob, error) {
	job, err := s.jobs.Latest(ctx, mediaID, kind)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return models.MediaJob{}, err
	}
	job = models.MediaJob{ID: s.newID(), MediaID: mediaID, Kind: kind, State: models.JobWaiting}
	if err := s.jobs.Create(ctx, job); err != nil {
		return models.MediaJob{}, err
	}
	return job, nil
}

func (s *Service) progress(ctx context.Context, jobID string, percent int) {
	if err := s.jobs.Progress(ctx, jobID, percent); err != nil {
		logging.FromContext(ctx).Warn("record job progress", slog.String("job_id", jobID), slog.Any("error", err))
	}
}

// Resume re-enqueues work interrupted by a restart. Assets caught
// mid-moderation are marked failed so an admin can retry them.
func (s *Service) Resume(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	interrupted, err := s.media.ListByStage(ctx, lifecycle.StageModerating, 500)
	if err != nil {
		return fmt.Errorf("list interrupted moderation: %w", err)
	}
	for _, asset := range interrupted {
		if _, err := s.media.Transition(ctx, asset.ID, lifecycle.EventModerationErrored, func(a *models.MediaAsset) error {
			a.Notes = "moderation interrupted by restart"
			return nil
		}); err != nil {
			logger.Warn("mark interrupted moderation", slog.String("media_id", asset.ID), slog.Any("error", err))
		}
	}

	resumed := 0
	for stage, queue := range map[lifecycle.Stage]Enqueuer{
		lifecycle.StageAwaitingModeration: s.moderation,
		lifecycle.StageTranscribing:       s.transcription,
	} {
		if queue == nil {
			continue
		}
		assets, err := s.media.ListByStage(ctx, stage, 500)
		if err != nil {
			return fmt.Errorf("list %s: %w", stage, err)
		}
		for _, asset := range assets {
			if err := queue.Enqueue(ctx, asset.ID); err != nil {
				return fmt.Errorf("resume %s: %w", asset.ID, err)
			}
			resumed++
		}
	}
	logger.Info("pipeline resumed", slog.Int("requeued", resumed), slog.Int("interrupted", len(interrupted)))
	return nil
}

// Retry re-runs a failed moderation or transcription.
func (s *Service) Retry(ctx context.Context, p auth.Principal, mediaID string) (models.MediaAsset, error) {
	if err := p.RequireAdmin(); err != nil {
		return models.MediaAsset{}, err
	}
	asset, err := s.media.Transition(ctx, mediaID, lifecycle.EventRetryRequested, func(a *models.MediaAsset) error {
		a.Notes = ""
		return nil
	})
	if err != nil {
		return models.MediaAsset{}, err
	}

	switch asset.Stage {
	case lifecycle.StageAwaitingModeration:
		err = s.queueModeration(ctx, mediaID)
	case lifecycle.StageTranscribing:
		err = s.queueTranscription(ctx, mediaID)
	}
	if err != nil {
		return models.MediaAsset{}, fmt.Errorf("requeue %s: %w", mediaID, err)
	}
	return s.present(ctx, asset), nil
}

func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, ErrPayloadTooLarge
	}
	return buf.Bytes(), nil
}
