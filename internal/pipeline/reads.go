package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/events"
	"github.com/oralhistory/backend/internal/lifecycle"
	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/repositories"
	"github.com/oralhistory/backend/internal/storage"
	"github.com/oralhistory/backend/internal/validation"
)

// present fills the readable URL: public objects get their CDN URL and
// everything else a short-lived signed URL.
func (s *Service) present(ctx context.Context, asset models.MediaAsset) models.MediaAsset {
	if asset.ObjectKey == "" || asset.Stage == lifecycle.StageUploading || asset.Stage == lifecycle.StageUploadFailed {
		asset.URL = ""
		return asset
	}
	if asset.Visibility == lifecycle.VisibilityPublic {
		asset.URL = s.store.PublicURL(asset.ObjectKey)
		return asset
	}
	if s.urls == nil {
		asset.URL = ""
		return asset
	}
	signed, err := s.urls.URL(ctx, asset.ObjectKey)
	if err != nil {
		logging.FromContext(ctx).Warn("sign media url", slog.String("media_id", asset.ID), slog.Any("error", err))
		signed = ""
	}
	asset.URL = signed
	return asset
}

func (s *Service) presentAll(ctx context.Context, assets []models.MediaAsset) []models.MediaAsset {
	out := make([]models.MediaAsset, 0, len(assets))
	for _, asset := range assets {
		out = append(out, s.present(ctx, asset))
	}
	return out
}

// Get returns an asset if viewer may see it. Anonymous viewers pass a zero
// Principal. Hidden assets are reported as not found.
func (s *Service) Get(ctx context.Context, viewer auth.Principal, id string) (models.MediaAsset, error) {
	asset, err := s.media.FindByID(ctx, id)
	if err != nil {
		return models.MediaAsset{}, err
	}
	ok, err := s.canView(ctx, viewer, asset)
	if err != nil {
		return models.MediaAsset{}, err
	}
	if !ok {
		return models.MediaAsset{}, repositories.ErrNotFound
	}
	return s.present(ctx, asset), nil
}

func (s *Service) canView(ctx context.Context, viewer auth.Principal, asset models.MediaAsset) (bool, error) {
	if viewer.Authenticated() && (viewer.UserID == asset.OwnerID || viewer.IsAdmin()) {
		return true, nil
	}
	switch lifecycle.EffectiveVisibility(asset.Stage, asset.Visibility) {
	case lifecycle.VisibilityPublic:
		return true, nil
	case lifecycle.VisibilityFriends:
		if !viewer.Authenticated() || s.friends == nil {
			return false, nil
		}
		return s.friends.AreFriends(ctx, viewer.UserID, asset.OwnerID)
	default:
		return false, nil
	}
}

// ListMine returns the caller's own assets.
func (s *Service) ListMine(ctx context.Context, p auth.Principal, limit, offset int) ([]models.MediaAsset, error) {
	if err := p.RequireUser(); err != nil {
		return nil, err
	}
	assets, err := s.media.ListByOwner(ctx, p.UserID, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.presentAll(ctx, assets), nil
}

// ListPublic returns approved public assets, newest first.
func (s *Service) ListPublic(ctx context.Context, limit, offset int) ([]models.MediaAsset, error) {
	assets, err := s.media.ListPublic(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.presentAll(ctx, assets), nil
}

// ListFriendsFeed returns shared assets of the caller's accepted friends.
func (s *Service) ListFriendsFeed(ctx context.Context, p auth.Principal, limit, offset int) ([]models.MediaAsset, error) {
	if err := p.RequireUser(); err != nil {
		return nil, err
	}
	assets, err := s.media.ListFriendsFeed(ctx, p.UserID, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.presentAll(ctx, assets), nil
}

// MediaStatus summarises the asset for status polling.
type MediaStatus struct {
	ID              string                     `json:"id"`
	Status          lifecycle.ModerationStatus `json:"status"`
	ApprovalStatus  lifecycle.ApprovalStatus   `json:"approvalStatus"`
	Visibility      lifecycle.Visibility       `json:"visibility"`
	Notes           string                     `json:"notes,omitempty"`
	Stage           lifecycle.Stage            `json:"stage"`
	ModerationLabel string                     `json:"moderationLabel,omitempty"`
	ModerationScore float64                    `json:"moderationScore,omitempty"`
}

// JobStatus is the polling projection of a background job.
type JobStatus struct {
	ID           string          `json:"id"`
	State        models.JobState `json:"state"`
	Progress     int             `json:"progress"`
	AttemptsMade int             `json:"attemptsMade"`
	FailedReason string          `json:"failedReason,omitempty"`
}

// TranscriptStatus is the polling projection of the latest transcript.
type TranscriptStatus struct {
	ID     string                  `json:"id"`
	Text   string                  `json:"text"`
	Status models.TranscriptStatus `json:"status"`
}

// StatusView is returned by the status endpoint.
type StatusView struct {
	Media         MediaStatus       `json:"media"`
	Moderation    *JobStatus        `json:"moderation"`
	Transcription *JobStatus        `json:"transcription"`
	Transcript    *TranscriptStatus `json:"transcript"`
}

// Status reports pipeline progress to the owner or an admin.
func (s *Service) Status(ctx context.Context, p auth.Principal, id string) (StatusView, error) {
	asset, err := s.managedAsset(ctx, p, id)
	if err != nil {
		return StatusView{}, err
	}

	view := StatusView{Media: MediaStatus{
		ID:              asset.ID,
		Status:          asset.ModerationStatus,
		ApprovalStatus:  asset.ApprovalStatus,
		Visibility:      asset.Visibility,
		Notes:           asset.Notes,
		Stage:           asset.Stage,
		ModerationLabel: asset.ModerationLabel,
		ModerationScore: asset.ModerationScore,
	}}

	for kind, dst := range map[models.JobKind]**JobStatus{
		models.JobModeration:    &view.Moderation,
		models.JobTranscription: &view.Transcription,
	} {
		job, err := s.jobs.Latest(ctx, id, kind)
		if errors.Is(err, repositories.ErrNotFound) {
			continue
		}
		if err != nil {
			return StatusView{}, fmt.Errorf("load %s job: %w", kind, err)
		}
		*dst = &JobStatus{
			ID:           job.ID,
			State:        job.State,
			Progress:     job.Progress,
			AttemptsMade: job.AttemptsMade,
			FailedReason: job.FailedReason,
		}
	}

	t, err := s.transcripts.Latest(ctx, id)
	switch {
	case err == nil:
		view.Transcript = &TranscriptStatus{ID: t.ID, Text: t.Text, Status: t.Status}
	case !errors.Is(err, repositories.ErrNotFound):
		return StatusView{}, fmt.Errorf("load transcript: %w", err)
	}
	return view, nil
}

// Delete soft-deletes an asset and takes its object offline.
func (s *Service) Delete(ctx context.Context, p auth.Principal, id string) error {
	if _, err := s.managedAsset(ctx, p, id); err != nil {
		return err
	}
	asset, err := s.media.Update(ctx, id, events.TypeMediaDeleted, func(a *models.MediaAsset) error {
		now := s.now().UTC()
		a.DeletedAt = &now
		a.Visibility = lifecycle.VisibilityPrivate
		a.RequestedVisibility = lifecycle.VisibilityPrivate
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.store.SetObjectVisibility(ctx, asset.ObjectKey, false); err != nil {
		logging.FromContext(ctx).Error("force deleted object private", slog.String("media_id", id), slog.Any("error", err))
	}
	s.purge(ctx, asset.ObjectKey)
	return nil
}

// PosterInput is an uploaded poster image.
type PosterInput struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// SetPoster stores a public poster image for the asset.
func (s *Service) SetPoster(ctx context.Context, p auth.Principal, id string, in PosterInput) (models.MediaAsset, error) {
	contentType := strings.ToLower(strings.TrimSpace(in.ContentType))
	if in.Size > s.cfg.MaxPosterBytes {
		return models.MediaAsset{}, validation.Wrap(ErrPayloadTooLarge, "poster",
			"must be at most "+humanize.IBytes(uint64(s.cfg.MaxPosterBytes)))
	}
	if !strings.HasPrefix(contentType, "image/") {
		return models.MediaAsset{}, validation.Wrap(ErrUnsupportedMediaType, "poster", "must be an image")
	}
	if in.Body == nil {
		return models.MediaAsset{}, validation.Field("poster", "is required")
	}
	current, err := s.ownedAsset(ctx, p, id)
	if err != nil {
		return models.MediaAsset{}, err
	}

	body, err := readAllLimited(in.Body, s.cfg.MaxPosterBytes)
	if errors.Is(err, ErrPayloadTooLarge) {
		return models.MediaAsset{}, validation.Wrap(ErrPayloadTooLarge, "poster",
			"must be at most "+humanize.IBytes(uint64(s.cfg.MaxPosterBytes)))
	}
	if err != nil {
		return models.MediaAsset{}, fmt.Errorf("read poster: %w", err)
	}

	ext := imageExtensions[contentType]
	key := fmt.Sprintf("posters/%s/%s%s", id, s.newID(), ext)
	result, err := s.store.PutObject(ctx, key, body, contentType, storage.ACLPublicRead)
	if err != nil {
		return models.MediaAsset{}, fmt.Errorf("store poster: %w", err)
	}

	asset, err := s.media.Update(ctx, id, events.TypeMediaUpdated, func(a *models.MediaAsset) error {
		a.PosterURL = result.URL
		return nil
	})
	if err != nil {
		return models.MediaAsset{}, err
	}
	if current.PosterURL != "" && current.PosterURL != result.URL {
		if err := s.store.DeleteObject(ctx, current.PosterURL); err != nil {
			logging.FromContext(ctx).Warn("delete old poster", slog.String("media_id", id), slog.Any("error", err))
		}
	}
	return s.present(ctx, asset), nil
}
