// Package pipeline drives user-submitted testimonials from upload through
// moderation, transcription, owner review and admin approval to publication.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/notify"
	"github.com/oralhistory/backend/internal/processing"
	"github.com/oralhistory/backend/internal/repositories"
	"github.com/oralhistory/backend/internal/storage"
	"github.com/oralhistory/backend/internal/transcripts"
)

// ObjectStore is the object storage surface the pipeline uses.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string, acl storage.ACL) (storage.UploadResult, error)
	UploadStream(ctx context.Context, key string, body io.Reader, contentType string, acl storage.ACL) (storage.UploadResult, error)
	Download(ctx context.Context, key string, dst io.Writer) (int64, error)
	SetObjectVisibility(ctx context.Context, key string, public bool) error
	DeleteObject(ctx context.Context, keyOrURL string) error
	PublicURL(key string) string
}

// URLResolver hands out readable URLs for private objects.
type URLResolver interface {
	URL(ctx context.Context, key string) (string, error)
	Invalidate(key string)
}

// Purger invalidates CDN copies of objects.
type Purger interface {
	Purge(ctx context.Context, keys ...string) error
}

// Moderator classifies a downloaded video.
type Moderator interface {
	Moderate(ctx context.Context, videoPath string) (processing.Verdict, error)
}

// AudioExtractor converts a video into speech-recognition input.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, src, dst string) error
}

// Transcriber turns audio into timed segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (processing.TranscriptionResult, error)
}

// FriendChecker answers whether two users are accepted friends.
type FriendChecker interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// Dependencies groups the collaborators of Service.
type Dependencies struct {
	Media       repositories.MediaRepository
	Transcripts repositories.TranscriptRepository
	Jobs        repositories.JobRepository
	Friends     FriendChecker
	Storage     ObjectStore
	URLs        URLResolver
	CDN         Purger
	Moderator   Moderator
	Audio       AudioExtractor
	Transcriber Transcriber
	Analyzer    transcripts.Analyzer
	Notifier    notify.Notifier
}

// Config holds pipeline limits.
type Config struct {
	MaxUploadBytes      int64
	BufferedUploadLimit int64
	MaxPosterBytes      int64
	WorkDir             string
}

// WorkerConfig sizes the stage worker pools.
type WorkerConfig struct {
	QueueSize            int
	ModerationWorkers    int
	TranscriptionWorkers int
	ModerationTimeout    time.Duration
	TranscriptionTimeout time.Duration
}

// Service implements the media pipeline operations.
type Service struct {
	media       repositories.MediaRepository
	transcripts repositories.TranscriptRepository
	jobs        repositories.JobRepository
	friends     FriendChecker
	store       ObjectStore
	urls        URLResolver
	cdn         Purger
	moderator   Moderator
	audio       AudioExtractor
	transcriber Transcriber
	analyzer    transcripts.Analyzer
	notifier    notify.Notifier
	cfg         Config

	moderation    Enqueuer
	transcription Enqueuer
	queues        []*Queue

	now   func() time.Time
	newID func() string
}

// NewService wires the pipeline.
func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 500 << 20
	}
	if cfg.BufferedUploadLimit <= 0 {
		cfg.BufferedUploadLimit = 8 << 20
	}
	if cfg.MaxPosterBytes <= 0 {
		cfg.MaxPosterBytes = 10 << 20
	}
	analyzer := deps.Analyzer
	if analyzer == nil {
		analyzer = transcripts.MappingAnalyzer{}
	}
	return &Service{
		media:       deps.Media,
		transcripts: deps.Transcripts,
		jobs:        deps.Jobs,
		friends:     deps.Friends,
		store:       deps.Storage,
		urls:        deps.URLs,
		cdn:         deps.CDN,
		moderator:   deps.Moderator,
		audio:       deps.Audio,
		transcriber: deps.Transcriber,
		analyzer:    transcripts.WithFallback(analyzer, transcripts.MappingAnalyzer{}),
		notifier:    deps.Notifier,
		cfg:         cfg,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Start launches the moderation and transcription worker pools.
func (s *Service) Start(cfg WorkerConfig, logger *slog.Logger) {
	moderation := NewQueue(QueueConfig{
		Name:      "moderation",
		QueueSize: cfg.QueueSize,
		Workers:   cfg.ModerationWorkers,
		Timeout:   cfg.ModerationTimeout,
		OnPanic:   s.abortModeration,
	}, s.RunModeration, logger)
	transcription := NewQueue(QueueConfig{
		Name:      "transcription",
		QueueSize: cfg.QueueSize,
		Workers:   cfg.TranscriptionWorkers,
		Timeout:   cfg.TranscriptionTimeout,
		OnPanic:   s.abortTranscription,
	}, s.RunTranscription, logger)

	s.moderation = moderation
	s.transcription = transcription
	s.queues = []*Queue{moderation, transcription}
}

// Shutdown drains the worker pools.
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error
	for _, q := range s.queues {
		if err := q.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s queue: %w", q.name, err))
		}
	}
	return errors.Join(errs...)
}

// ownedAsset loads an asset the caller owns.
func (s *Service) ownedAsset(ctx context.Context, p auth.Principal, id string) (models.MediaAsset, error) {
	if err := p.RequireUser(); err != nil {
		return models.MediaAsset{}, err
	}
	asset, err := s.media.FindByID(ctx, id)
	if err != nil {
		return models.MediaAsset{}, err
	}
	if asset.OwnerID != p.UserID {
		return models.MediaAsset{}, ErrForbidden
	}
	return asset, nil
}

// managedAsset loads an asset the caller owns or administers.
func (s *Service) managedAsset(ctx context.Context, p auth.Principal, id string) (models.MediaAsset, error) {
	if err := p.RequireUser(); err != nil {
		return models.MediaAsset{}, err
	}
	asset, err := s.media.FindByID(ctx, id)
	if err != nil {
		return models.MediaAsset{}, err
	}
	if asset.OwnerID != p.UserID && !p.IsAdmin() {
		return models.MediaAsset{}, ErrForbidden
	}
	return asset, nil
}

func (s *Service) notify(ctx context.Context, userID string, in notify.Input) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, userID, in); err != nil {
		logging.FromContext(ctx).Error("send notification",
			slog.String("user_id", userID),
			slog.String("type", in.Type),
			slog.Any("error", err),
		)
	}
}

func (s *Service) notifyAdmins(ctx context.Context, in notify.Input) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyAdmins(ctx, in); err != nil {
		logging.FromContext(ctx).Error("notify admins", slog.String("type", in.Type), slog.Any("error", err))
	}
}

func (s *Service) purge(ctx context.Context, key string) {
	if s.urls != nil {
		s.urls.Invalidate(key)
	}
	if s.cdn == nil {
		return
	}
	if err := s.cdn.Purge(ctx, key); err != nil {
		logging.FromContext(ctx).Warn("purge cdn", slog.String("key", key), slog.Any("error", err))
	}
}

func videoLink(id string) string {
	return "/videos/" + id
}
