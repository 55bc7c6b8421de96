package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/oralhistory/backend/internal/lifecycle"
	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/notify"
	"github.com/oralhistory/backend/internal/repositories"
	"github.com/oralhistory/backend/internal/storage"
	"github.com/oralhistory/backend/internal/transcripts"
)

// outcomeWriteTimeout bounds recording a stage failure after the job's own
// context has expired or been cancelled.
const outcomeWriteTimeout = 10 * time.Second

// detached returns a context for recording a stage outcome. It keeps the
// job's logger but not its deadline or cancellation.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
}

// download copies the asset's object into a temp file under dir.
func (s *Service) download(ctx context.Context, asset models.MediaAsset, dir string) (string, error) {
	dst := filepath.Join(dir, "source"+path.Ext(asset.ObjectKey))
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := s.store.Download(ctx, asset.ObjectKey, f); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("download %s: %w", asset.ObjectKey, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return dst, nil
}

// RunModeration is the moderation stage handler.
func (s *Service) RunModeration(ctx context.Context, mediaID string) error {
	logger := logging.FromContext(ctx)

	asset, err := s.media.Transition(ctx, mediaID, lifecycle.EventModerationStarted, nil)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) || errors.Is(err, repositories.ErrNotFound) {
			logger.Info("skip moderation", slog.Any("reason", err))
			return nil
		}
		return fmt.Errorf("start moderation: %w", err)
	}

	job, err := s.latestJob(ctx, mediaID, models.JobModeration)
	if err != nil {
		return s.failModeration(ctx, asset, "", fmt.Errorf("load moderation job: %w", err))
	}
	if err := s.jobs.Start(ctx, job.ID); err != nil {
		return s.failModeration(ctx, asset, job.ID, fmt.Errorf("start moderation job: %w", err))
	}

	dir, err := os.MkdirTemp(s.cfg.WorkDir, "moderation-*")
	if err != nil {
		return s.failModeration(ctx, asset, job.ID, fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(dir)

	src, err := s.download(ctx, asset, dir)
	if err != nil {
		return s.failModeration(ctx, asset, job.ID, err)
	}
	s.progress(ctx, job.ID, 30)

	verdict, err := s.moderator.Moderate(ctx, src)
	if err != nil {
		return s.failModeration(ctx, asset, job.ID, err)
	}
	s.progress(ctx, job.ID, 90)

	logger.Info("moderation verdict",
		slog.Bool("safe", verdict.Safe),
		slog.String("label", verdict.Label),
		slog.Float64("score", verdict.Score),
		slog.Int("frames", verdict.Frames),
	)

	if !verdict.Safe {
		return s.rejectContent(ctx, asset, job.ID, verdict.Label, verdict.Score, verdict.At.String())
	}

	asset, err = s.media.Transition(ctx, mediaID, lifecycle.EventModerationPassed, func(a *models.MediaAsset) error {
		a.ModerationLabel = verdict.Label
		a.ModerationScore = verdict.Score
		return nil
	})
	if err != nil {
		return s.failModeration(ctx, asset, job.ID, fmt.Errorf("record moderation pass: %w", err))
	}
	if err := s.jobs.Complete(ctx, job.ID); err != nil {
		logger.Warn("complete moderation job", slog.Any("error", err))
	}

	s.notify(ctx, asset.OwnerID, notify.Input{
		Type:    notify.TypeModerationApproved,
		Title:   "Video passed review",
		Message: fmt.Sprintf("%q passed content review and is being transcribed.", asset.Name),
		Link:    videoLink(asset.ID),
	})

	if err := s.queueTranscription(ctx, mediaID); err != nil {
		logger.Warn("queue transcription", slog.Any("error", err))
	}
	return nil
}

func (s *Service) rejectContent(ctx context.Context, asset models.MediaAsset, jobID, label string, score float64, at string) error {
	logger := logging.FromContext(ctx)

	asset, err := s.media.Transition(ctx, asset.ID, lifecycle.EventModerationFlagged, func(a *models.MediaAsset) error {
		a.ModerationLabel = label
		a.ModerationScore = score
		a.Notes = fmt.Sprintf("flagged as %s (%.2f) at %s", label, score, at)
		return nil
	})
	if err != nil {
		return s.failModeration(ctx, asset, jobID, fmt.Errorf("record moderation rejection: %w", err))
	}
	if err := s.jobs.Complete(ctx, jobID); err != nil {
		logger.Warn("complete moderation job", slog.Any("error", err))
	}
	if err := s.store.SetObjectVisibility(ctx, asset.ObjectKey, false); err != nil {
		logger.Error("force object private", slog.Any("error", err))
	}
	s.purge(ctx, asset.ObjectKey)

	s.notify(ctx, asset.OwnerID, notify.Input{
		Type:    notify.TypeModerationRejected,
		Title:   "Video not accepted",
		Message: fmt.Sprintf("%q did not pass content review and will stay private.", asset.Name),
		Link:    videoLink(asset.ID),
	})
	return nil
}

func (s *Service) failModeration(ctx context.Context, asset models.MediaAsset, jobID string, cause error) error {
	ctx, cancel := detached(ctx)
	defer cancel()
	logger := logging.FromContext(ctx)
	reason := cause.Error()

	if jobID != "" {
		if err := s.jobs.Fail(ctx, jobID, reason); err != nil {
			logger.Warn("fail moderation job", slog.Any("error", err))
		}
	}
	if _, err := s.media.Transition(ctx, asset.ID, lifecycle.EventModerationErrored, func(a *models.MediaAsset) error {
		a.Notes = "moderation failed"
		return nil
	}); err != nil {
		logger.Error("record moderation failure", slog.Any("error", err))
	}
	s.notify(ctx, asset.OwnerID, notify.Input{
		Type:    notify.TypeProcessingFailed,
		Title:   "Processing problem",
		Message: fmt.Sprintf("We could not review %q yet. An administrator will retry it.", asset.Name),
		Link:    videoLink(asset.ID),
	})
	return cause
}

// RunTranscription is the transcription stage handler.
func (s *Service) RunTranscription(ctx context.Context, mediaID string) error {
	logger := logging.FromContext(ctx)

	asset, err := s.media.FindByID(ctx, mediaID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			logger.Info("skip transcription", slog.Any("reason", err))
			return nil
		}
		return fmt.Errorf("load media asset: %w", err)
	}
	if asset.Stage != lifecycle.StageTranscribing {
		logger.Info("skip transcription", slog.String("stage", string(asset.Stage)))
		return nil
	}

	transcript, err := s.pendingTranscript(ctx, mediaID)
	if err != nil {
		return s.failTranscription(ctx, asset, "", "", err)
	}
	job, err := s.latestJob(ctx, mediaID, models.JobTranscription)
	if err != nil {
		return s.failTranscription(ctx, asset, transcript.ID, "", fmt.Errorf("load transcription job: %w", err))
	}
	if err := s.transcripts.MarkProcessing(ctx, transcript.ID); err != nil {
		return s.failTranscription(ctx, asset, transcript.ID, job.ID, fmt.Errorf("mark transcript processing: %w", err))
	}
	if err := s.jobs.Start(ctx, job.ID); err != nil {
		return s.failTranscription(ctx, asset, transcript.ID, job.ID, fmt.Errorf("start transcription job: %w", err))
	}

	dir, err := os.MkdirTemp(s.cfg.WorkDir, "transcription-*")
	if err != nil {
		return s.failTranscription(ctx, asset, transcript.ID, job.ID, fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(dir)

	src, err := s.download(ctx, asset, dir)
	if err != nil {
		return s.failTranscription(ctx, asset, transcript.ID, job.ID, err)
	}
	audio := filepath.Join(dir, "audio.wav")
	if err := s.audio.ExtractAudio(ctx, src, audio); err != nil {
		return s.failTranscription(ctx, asset, transcript.ID, job.ID, err)
	}
	s.progress(ctx, job.ID, 30)

	result, err := s.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return s.failTranscription(ctx, asset, transcript.ID, job.ID, err)
	}
	s.progress(ctx, job.ID, 80)

	text := transcripts.BuildSRT(result.Segments)
	if text == "" {
		text = result.Text
	}
	vtt := transcripts.BuildVTT(result.Segments)

	base := fmt.Sprintf("transcripts/%s/%s", mediaID, transcript.ID)
	srtResult, err := s.store.PutObject(ctx, base+".srt", []byte(text), "application/x-subrip", storage.ACLPrivate)
	if err != nil {
		return s.failTranscription(ctx, asset, transcript.ID, job.ID, err)
	}
	vttResult, err := s.store.PutObject(ctx, base+".vtt", []byte(vtt), "text/vtt", storage.ACLPrivate)
	if err != nil {
		return s.failTranscription(ctx, asset, transcript.ID, job.ID, err)
	}

	asset, _, err = s.transcripts.Complete(ctx, transcript.ID, repositories.TranscriptResult{
		Text:     text,
		Language: NormalizeLanguage(result.Language),
		SRTURL:   s.store.PublicURL(srtResult.Key),
		VTTURL:   s.store.PublicURL(vttResult.Key),
	})
	if err != nil {
		return s.failTranscription(ctx, asset, transcript.ID, job.ID, fmt.Errorf("complete transcript: %w", err))
	}
	if err := s.jobs.Complete(ctx, job.ID); err != nil {
		logger.Warn("complete transcription job", slog.Any("error", err))
	}

	logger.Info("transcription completed",
		slog.Int("segments", len(result.Segments)),
		slog.Int("speakers", len(transcripts.Speakers(text))),
	)
	s.notify(ctx, asset.OwnerID, notify.Input{
		Type:    notify.TypeTranscriptReady,
		Title:   "Transcript ready",
		Message: fmt.Sprintf("The transcript for %q is ready for your review.", asset.Name),
		Link:    videoLink(asset.ID) + "/transcript",
	})
	return nil
}

// pendingTranscript returns the transcript row this run should fill,
// creating one when the latest row is already settled.
func (s *Service) pendingTranscript(ctx context.Context, mediaID string) (models.Transcript, error) {
	latest, err := s.transcripts.Latest(ctx, mediaID)
	switch {
	case err == nil && (latest.Status == models.TranscriptQueued || latest.Status == models.TranscriptProcessing):
		return latest, nil
	case err != nil && !errors.Is(err, repositories.ErrNotFound):
		return models.Transcript{}, fmt.Errorf("load transcript: %w", err)
	}
	transcript := models.Transcript{ID: s.newID(), MediaID: mediaID, Status: models.TranscriptQueued}
	if err := s.transcripts.CreateQueued(ctx, transcript); err != nil {
		return models.Transcript{}, fmt.Errorf("create transcript: %w", err)
	}
	return transcript, nil
}

func (s *Service) failTranscription(ctx context.Context, asset models.MediaAsset, transcriptID, jobID string, cause error) error {
	ctx, cancel := detached(ctx)
	defer cancel()
	logger := logging.FromContext(ctx)

	if transcriptID != "" {
		if err := s.transcripts.MarkFailed(ctx, transcriptID); err != nil {
			logger.Warn("mark transcript failed", slog.Any("error", err))
		}
	}
	if jobID != "" {
		if err := s.jobs.Fail(ctx, jobID, cause.Error()); err != nil {
			logger.Warn("fail transcription job", slog.Any("error", err))
		}
	}
	if _, err := s.media.Transition(ctx, asset.ID, lifecycle.EventTranscriptionErrored, func(a *models.MediaAsset) error {
		a.Notes = "transcription failed"
		return nil
	}); err != nil {
		logger.Error("record transcription failure", slog.Any("error", err))
	}
	s.notify(ctx, asset.OwnerID, notify.Input{
		Type:    notify.TypeProcessingFailed,
		Title:   "Transcription problem",
		Message: fmt.Sprintf("We could not transcribe %q. You can submit it without a transcript or wait for a retry.", asset.Name),
		Link:    videoLink(asset.ID),
	})
	return cause
}

// unsettledJobID returns the latest job of kind unless it already finished.
func (s *Service) unsettledJobID(ctx context.Context, mediaID string, kind models.JobKind) string {
	job, err := s.jobs.Latest(ctx, mediaID, kind)
	if err != nil || job.State == models.JobCompleted || job.State == models.JobFailed {
		return ""
	}
	return job.ID
}

// abortModeration records a moderation run that ended without a verdict,
// such as one that panicked.
func (s *Service) abortModeration(ctx context.Context, mediaID string, cause error) {
	ctx, cancel := detached(ctx)
	defer cancel()
	asset, err := s.media.FindByID(ctx, mediaID)
	if err != nil || asset.Stage != lifecycle.StageModerating {
		return
	}
	_ = s.failModeration(ctx, asset, s.unsettledJobID(ctx, mediaID, models.JobModeration), cause)
}

// abortTranscription records a transcription run that ended without a result.
func (s *Service) abortTranscription(ctx context.Context, mediaID string, cause error) {
	ctx, cancel := detached(ctx)
	defer cancel()
	asset, err := s.media.FindByID(ctx, mediaID)
	if err != nil || asset.Stage != lifecycle.StageTranscribing {
		return
	}
	var transcriptID string
	if t, err := s.transcripts.Latest(ctx, mediaID); err == nil &&
		(t.Status == models.TranscriptQueued || t.Status == models.TranscriptProcessing) {
		transcriptID = t.ID
	}
	_ = s.failTranscription(ctx, asset, transcriptID, s.unsettledJobID(ctx, mediaID, models.JobTranscription), cause)
}

// NormalizeLanguage canonicalises a BCP 47 tag or returns "und" when the
// value cannot be parsed.
func NormalizeLanguage(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return language.Und.String()
	}
	return tag.String()
}
