package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/lifecycle"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/notify"
	"github.com/oralhistory/backend/internal/processing"
	"github.com/oralhistory/backend/internal/repositories"
	"github.com/oralhistory/backend/internal/storage"
	"github.com/oralhistory/backend/internal/transcripts"
	"github.com/oralhistory/backend/internal/validation"
)

var (
	owner    = auth.Principal{UserID: "owner-1", Role: models.RoleUser}
	stranger = auth.Principal{UserID: "user-2", Role: models.RoleUser}
	admin    = auth.Principal{UserID: "admin-1", Role: models.RoleAdmin}
)

type harness struct {
	svc           *Service
	media         *memoryMedia
	transcripts   *memoryTranscripts
	jobs          *memoryJobs
	store         *mockStore
	moderator     *mockModerator
	audio         *mockAudio
	transcriber   *mockTranscriber
	cdn           *mockPurger
	urls          *stubURLs
	notifier      *recordingNotifier
	friends       friendSet
	moderation    *recordingQueue
	transcription *recordingQueue
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	media := newMemoryMedia()
	h := &harness{
		media:         media,
		transcripts:   &memoryTranscripts{media: media},
		jobs:          &memoryJobs{},
		store:         &mockStore{},
		moderator:     &mockModerator{},
		audio:         &mockAudio{},
		transcriber:   &mockTranscriber{},
		cdn:           &mockPurger{},
		urls:          &stubURLs{},
		notifier:      &recordingNotifier{},
		friends:       friendSet{},
		moderation:    &recordingQueue{},
		transcription: &recordingQueue{},
	}
	h.svc = NewService(Dependencies{
		Media:       h.media,
		Transcripts: h.transcripts,
		Jobs:        h.jobs,
		Friends:     h.friends,
		Storage:     h.store,
		URLs:        h.urls,
		CDN:         h.cdn,
		Moderator:   h.moderator,
		Audio:       h.audio,
		Transcriber: h.transcriber,
		Notifier:    h.notifier,
	}, Config{
		MaxUploadBytes:      1 << 20,
		BufferedUploadLimit: 64,
		WorkDir:             t.TempDir(),
	})
	h.svc.moderation = h.moderation
	h.svc.transcription = h.transcription

	var n int
	h.svc.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}

	t.Cleanup(func() {
		h.store.AssertExpectations(t)
		h.moderator.AssertExpectations(t)
		h.audio.AssertExpectations(t)
		h.transcriber.AssertExpectations(t)
	})
	return h
}

func (h *harness) seed(id string, stage lifecycle.Stage) models.MediaAsset {
	return h.media.seed(models.MediaAsset{
		ID:          id,
		OwnerID:     owner.UserID,
		ObjectKey:   "user-media/owner-1/" + id + ".mp4",
		Name:        "Grandma's story",
		ContentType: "video/mp4",
		Stage:       stage,
	})
}

func (h *harness) expectDownload(key string) {
	h.store.On("Download", mock.Anything, key, mock.Anything).
		Run(func(args mock.Arguments) {
			_, _ = args.Get(2).(io.Writer).Write([]byte("video-bytes"))
		}).
		Return(int64(11), nil).Once()
}

func (h *harness) stage(t *testing.T, id string) lifecycle.Stage {
	t.Helper()
	asset, err := h.media.FindByID(context.Background(), id)
	require.NoError(t, err)
	return asset.Stage
}

func TestIngestStoresPrivateObjectAndQueuesModeration(t *testing.T) {
	h := newHarness(t)
	h.store.On("PutObject", mock.Anything, "user-media/owner-1/id-1.mp4", []byte("tiny"), "video/mp4", storage.ACLPrivate).
		Return(storage.UploadResult{Key: "user-media/owner-1/id-1.mp4"}, nil).Once()

	asset, err := h.svc.Ingest(context.Background(), owner, UploadInput{
		Name:        "  Grandma's story ",
		FileName:    "clip.MP4",
		ContentType: "Video/MP4",
		Size:        4,
		Body:        strings.NewReader("tiny"),
	})
	require.NoError(t, err)

	assert.Equal(t, "id-1", asset.ID)
	assert.Equal(t, "Grandma's story", asset.Name)
	assert.Equal(t, lifecycle.StageAwaitingModeration, asset.Stage)
	assert.Equal(t, lifecycle.ModerationPending, asset.ModerationStatus)
	assert.Equal(t, lifecycle.VisibilityPrivate, asset.Visibility)
	assert.Contains(t, asset.URL, "sig=")
	assert.Equal(t, []string{"id-1"}, h.moderation.ids)

	job, err := h.jobs.Latest(context.Background(), "id-1", models.JobModeration)
	require.NoError(t, err)
	assert.Equal(t, models.JobWaiting, job.State)
}

func TestIngestStreamsLargeUploads(t *testing.T) {
	h := newHarness(t)
	body := bytes.Repeat([]byte("x"), 128)
	h.store.On("UploadStream", mock.Anything, "user-media/owner-1/id-1.webm", mock.Anything, "video/webm", storage.ACLPrivate).
		Return(storage.UploadResult{Key: "user-media/owner-1/id-1.webm"}, nil).Once()

	asset, err := h.svc.Ingest(context.Background(), owner, UploadInput{
		Name:        "Long interview",
		ContentType: "video/webm",
		Size:        int64(len(body)),
		Body:        bytes.NewReader(body),
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StageAwaitingModeration, asset.Stage)
}

func TestIngestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Ingest(ctx, auth.Principal{}, UploadInput{})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = h.svc.Ingest(ctx, owner, UploadInput{Name: "big", ContentType: "video/mp4", Size: 2 << 20, Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.ErrorIs(t, err, validation.ErrInvalid)

	_, err = h.svc.Ingest(ctx, owner, UploadInput{Name: "doc", ContentType: "application/pdf", Size: 3, Body: strings.NewReader("pdf")})
	assert.ErrorIs(t, err, ErrUnsupportedMediaType)

	_, err = h.svc.Ingest(ctx, owner, UploadInput{ContentType: "video/mp4", Size: 3, Body: strings.NewReader("abc")})
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is required", verr.Fields["name"])

	assert.Empty(t, h.media.assets)
}

func TestIngestStorageFailureMarksUploadFailed(t *testing.T) {
	h := newHarness(t)
	h.store.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, storage.ACLPrivate).
		Return(storage.UploadResult{}, errors.New("bucket unavailable")).Once()

	_, err := h.svc.Ingest(context.Background(), owner, UploadInput{
		Name: "Story", ContentType: "video/mp4", Size: 3, Body: strings.NewReader("abc"),
	})
	require.Error(t, err)

	assert.Equal(t, lifecycle.StageUploadFailed, h.stage(t, "id-1"))
	assert.Empty(t, h.moderation.ids)
}

func TestModerationPassQueuesTranscription(t *testing.T) {
	h := newHarness(t)
	asset := h.seed("m1", lifecycle.StageAwaitingModeration)
	h.expectDownload(asset.ObjectKey)
	h.moderator.On("Moderate", mock.Anything, mock.MatchedBy(func(p string) bool { return strings.HasSuffix(p, "source.mp4") })).
		Return(processing.Verdict{Safe: true, Label: "sfw", Score: 0.97, Frames: 5}, nil).Once()

	require.NoError(t, h.svc.RunModeration(context.Background(), "m1"))

	got, err := h.media.FindByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StageTranscribing, got.Stage)
	assert.Equal(t, lifecycle.ModerationApproved, got.ModerationStatus)
	assert.Equal(t, "sfw", got.ModerationLabel)

	job, err := h.jobs.Latest(context.Background(), "m1", models.JobModeration)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.State)
	assert.Equal(t, 1, job.AttemptsMade)

	latest, err := h.transcripts.Latest(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptQueued, latest.Status)
	assert.Equal(t, []string{"m1"}, h.transcription.ids)
	assert.Equal(t, []string{notify.TypeModerationApproved}, h.notifier.typesFor(owner.UserID))
}

func TestModerationFlagIsTerminalAndPrivate(t *testing.T) {
	h := newHarness(t)
	asset := h.seed("m1", lifecycle.StageAwaitingModeration)
	h.expectDownload(asset.ObjectKey)
	h.moderator.On("Moderate", mock.Anything, mock.Anything).
		Return(processing.Verdict{Safe: false, Label: "nsfw", Score: 0.91, At: 2 * time.Second}, nil).Once()
	h.store.On("SetObjectVisibility", mock.Anything, asset.ObjectKey, false).Return(nil).Once()
	h.cdn.On("Purge", mock.Anything, []string{asset.ObjectKey}).Return(nil).Once()

	require.NoError(t, h.svc.RunModeration(context.Background(), "m1"))

	got, err := h.media.FindByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StageModerationRejected, got.Stage)
	assert.Equal(t, lifecycle.ModerationRejected, got.ModerationStatus)
	assert.Equal(t, lifecycle.VisibilityPrivate, got.Visibility)
	assert.Contains(t, got.Notes, "nsfw")
	assert.Empty(t, h.transcription.ids)
	assert.Equal(t, []string{notify.TypeModerationRejected}, h.notifier.typesFor(owner.UserID))
	assert.Equal(t, []string{asset.ObjectKey}, h.urls.invalidated)

	_, err = h.svc.SetVisibility(context.Background(), owner, "m1", lifecycle.VisibilityPublic)
	assert.ErrorIs(t, err, lifecycle.ErrVisibilityLocked)

	_, err = h.svc.Retry(context.Background(), admin, "m1")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	h.cdn.AssertExpectations(t)
}

func TestModerationErrorCanBeRetried(t *testing.T) {
	h := newHarness(t)
	asset := h.seed("m1", lifecycle.StageAwaitingModeration)
	h.expectDownload(asset.ObjectKey)
	h.moderator.On("Moderate", mock.Anything, mock.Anything).
		Return(processing.Verdict{}, errors.New("model missing")).Once()

	err := h.svc.RunModeration(context.Background(), "m1")
	require.Error(t, err)
	assert.Equal(t, lifecycle.StageModerationFailed, h.stage(t, "m1"))

	job, err := h.jobs.Latest(context.Background(), "m1", models.JobModeration)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.State)
	assert.Equal(t, "model missing", job.FailedReason)
	assert.Equal(t, []string{notify.TypeProcessingFailed}, h.notifier.typesFor(owner.UserID))

	_, err = h.svc.Retry(context.Background(), owner, "m1")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	retried, err := h.svc.Retry(context.Background(), admin, "m1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StageAwaitingModeration, retried.Stage)
	assert.Equal(t, []string{"m1"}, h.moderation.ids)
}

func TestModerationSkipsAssetsInOtherStages(t *testing.T) {
	h := newHarness(t)
	h.seed("m1", lifecycle.StageOwnerReview)

	require.NoError(t, h.svc.RunModeration(context.Background(), "m1"))
	require.NoError(t, h.svc.RunModeration(context.Background(), "missing"))
	assert.Equal(t, lifecycle.StageOwnerReview, h.stage(t, "m1"))
}

func (h *harness) transcribe(t *testing.T, id string) {
	t.Helper()
	asset := h.seed(id, lifecycle.StageTranscribing)
	require.NoError(t, h.transcripts.CreateQueued(context.Background(), models.Transcript{ID: "t-" + id, MediaID: id}))

	h.expectDownload(asset.ObjectKey)
	h.audio.On("ExtractAudio", mock.Anything, mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasSuffix(p, "audio.wav")
	})).Return(nil).Once()
	h.transcriber.On("Transcribe", mock.Anything, mock.Anything).Return(processing.TranscriptionResult{
		Language: "EN",
		Segments: []transcripts.Segment{
			{Start: 0, End: 2 * time.Second, Speaker: "SPEAKER_00", Text: "I was born in 1931."},
			{Start: 2 * time.Second, End: 4 * time.Second, Speaker: "SPEAKER_01", Text: "Where?"},
		},
	}, nil).Once()
	h.store.On("PutObject", mock.Anything, "transcripts/"+id+"/t-"+id+".srt", mock.Anything, "application/x-subrip", storage.ACLPrivate).
		Return(storage.UploadResult{Key: "transcripts/" + id + "/t-" + id + ".srt"}, nil).Once()
	h.store.On("PutObject", mock.Anything, "transcripts/"+id+"/t-"+id+".vtt", mock.Anything, "text/vtt", storage.ACLPrivate).
		Return(storage.UploadResult{Key: "transcripts/" + id + "/t-" + id + ".vtt"}, nil).Once()

	require.NoError(t, h.svc.RunTranscription(context.Background(), id))
}

func TestTranscriptionMovesToOwnerReview(t *testing.T) {
	h := newHarness(t)
	h.transcribe(t, "m1")

	assert.Equal(t, lifecycle.StageOwnerReview, h.stage(t, "m1"))

	current, err := h.transcripts.Current(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptCompleted, current.Status)
	assert.Equal(t, "en", current.Language)
	assert.Contains(t, current.Text, "[SPEAKER_00] I was born in 1931.")
	assert.Contains(t, current.SRTURL, "transcripts/m1/t-m1.srt")
	assert.Equal(t, []string{notify.TypeTranscriptReady}, h.notifier.typesFor(owner.UserID))

	job, err := h.jobs.Latest(context.Background(), "m1", models.JobTranscription)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.State)
}

func TestTranscriptionFailureAllowsSkip(t *testing.T) {
	h := newHarness(t)
	asset := h.seed("m1", lifecycle.StageTranscribing)
	h.expectDownload(asset.ObjectKey)
	h.audio.On("ExtractAudio", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("no audio stream")).Once()

	require.Error(t, h.svc.RunTranscription(context.Background(), "m1"))
	assert.Equal(t, lifecycle.StageTranscriptionFailed, h.stage(t, "m1"))

	latest, err := h.transcripts.Latest(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptFailed, latest.Status)

	submitted, err := h.svc.SkipTranscript(context.Background(), owner, "m1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StagePendingApproval, submitted.Stage)
	assert.Equal(t, []string{notify.TypeMediaPendingApproval}, h.notifier.admins)
}

func TestOwnerReviewAndFinalize(t *testing.T) {
	h := newHarness(t)
	h.transcribe(t, "m1")
	ctx := context.Background()

	_, err := h.svc.GetTranscript(ctx, stranger, "m1")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	view, err := h.svc.RelabelSpeaker(ctx, owner, "m1", "SPEAKER_00", "Rosa")
	require.NoError(t, err)
	assert.Contains(t, view.Transcript.Text, "[Rosa] I was born in 1931.")
	assert.Equal(t, map[string]string{"SPEAKER_00": "Rosa"}, view.Transcript.SpeakerMappings)
	assert.True(t, view.Editable)
	assert.True(t, view.Timed)

	again, err := h.svc.RelabelSpeaker(ctx, owner, "m1", "SPEAKER_00", "Rosa")
	require.NoError(t, err)
	assert.Equal(t, view.Transcript.Text, again.Transcript.Text)

	_, err = h.svc.RelabelSpeaker(ctx, stranger, "m1", "SPEAKER_01", "Tom")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	edited, err := h.svc.EditTranscript(ctx, owner, "m1", "<b>Plain</b> words &amp; more")
	require.NoError(t, err)
	assert.Equal(t, "Plain words & more", edited.Transcript.Text)
	assert.False(t, edited.Timed)

	_, err = h.svc.FinalizeTranscript(ctx, owner, "m1", false)
	assert.ErrorIs(t, err, validation.ErrInvalid)

	asset, err := h.svc.FinalizeTranscript(ctx, owner, "m1", true)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StagePendingApproval, asset.Stage)
	assert.Equal(t, lifecycle.ApprovalPendingApproval, asset.ApprovalStatus)
	assert.Equal(t, []string{notify.TypeMediaPendingApproval}, h.notifier.admins)

	_, err = h.svc.EditTranscript(ctx, owner, "m1", "too late")
	assert.ErrorIs(t, err, lifecycle.ErrTranscriptFinalized)
	_, err = h.svc.FinalizeTranscript(ctx, owner, "m1", true)
	assert.ErrorIs(t, err, lifecycle.ErrTranscriptFinalized)
}

func TestReanalyzeFallsBackToMappings(t *testing.T) {
	h := newHarness(t)
	h.transcribe(t, "m1")

	view, err := h.svc.ReanalyzeSpeakers(context.Background(), owner, "m1", map[string]string{"SPEAKER_01": " [Interviewer] "})
	require.NoError(t, err)
	assert.Contains(t, view.Transcript.Text, "[Interviewer] Where?")
	assert.Equal(t, "Interviewer", view.Transcript.SpeakerMappings["SPEAKER_01"])
}

func TestFinalApprovalIsOneShotAndKeepsAssetPrivate(t *testing.T) {
	h := newHarness(t)
	asset := h.seed("m1", lifecycle.StagePendingApproval)
	ctx := context.Background()

	_, err := h.svc.SetVisibility(ctx, owner, "m1", lifecycle.VisibilityPublic)
	assert.ErrorIs(t, err, lifecycle.ErrVisibilityLocked)

	_, err = h.svc.FinalApprove(ctx, owner, "m1", true, "")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	pending, err := h.svc.ListPendingApproval(ctx, admin, false)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	approved, err := h.svc.FinalApprove(ctx, admin, "m1", true, "lovely")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StageApproved, approved.Stage)
	assert.Equal(t, lifecycle.ApprovalApproved, approved.ApprovalStatus)
	assert.Equal(t, lifecycle.VisibilityPrivate, approved.Visibility)
	assert.Equal(t, []string{notify.TypeMediaApproved}, h.notifier.typesFor(owner.UserID))

	_, err = h.svc.FinalApprove(ctx, admin, "m1", false, "changed my mind")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	_, err = h.svc.Get(ctx, auth.Principal{}, "m1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	h.store.On("SetObjectVisibility", mock.Anything, asset.ObjectKey, true).Return(nil).Once()
	h.cdn.On("Purge", mock.Anything, []string{asset.ObjectKey}).Return(nil).Once()

	public, err := h.svc.SetVisibility(ctx, owner, "m1", lifecycle.VisibilityPublic)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.VisibilityPublic, public.Visibility)
	assert.Equal(t, "https://media.example.org/"+asset.ObjectKey, public.URL)

	seen, err := h.svc.Get(ctx, auth.Principal{}, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", seen.ID)

	_, err = h.svc.SetVisibility(ctx, owner, "m1", lifecycle.Visibility("EVERYONE"))
	assert.ErrorIs(t, err, validation.ErrInvalid)
	h.cdn.AssertExpectations(t)
}

func TestFinalRejectionNotifiesOwnerWithNotes(t *testing.T) {
	h := newHarness(t)
	h.seed("m1", lifecycle.StagePendingApproval)

	rejected, err := h.svc.FinalApprove(context.Background(), admin, "m1", false, "audio unusable")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StageRejected, rejected.Stage)
	assert.Equal(t, "audio unusable", rejected.Notes)
	assert.Equal(t, []string{notify.TypeMediaRejected}, h.notifier.typesFor(owner.UserID))

	_, err = h.svc.FinalApprove(context.Background(), admin, "m1", false, strings.Repeat("n", maxNotesLength+1))
	assert.ErrorIs(t, err, validation.ErrInvalid)
}

func TestGetHonoursFriendsVisibility(t *testing.T) {
	h := newHarness(t)
	h.media.seed(models.MediaAsset{
		ID:                  "m1",
		OwnerID:             owner.UserID,
		ObjectKey:           "user-media/owner-1/m1.mp4",
		Stage:               lifecycle.StageApproved,
		Visibility:          lifecycle.VisibilityFriends,
		RequestedVisibility: lifecycle.VisibilityFriends,
	})
	ctx := context.Background()

	_, err := h.svc.Get(ctx, stranger, "m1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	h.friends[[2]string{owner.UserID, stranger.UserID}] = true
	got, err := h.svc.Get(ctx, stranger, "m1")
	require.NoError(t, err)
	assert.Contains(t, got.URL, "sig=")

	_, err = h.svc.Get(ctx, auth.Principal{}, "m1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	_, err = h.svc.Get(ctx, admin, "m1")
	assert.NoError(t, err)
}

func TestStatusReportsStageAndJobs(t *testing.T) {
	h := newHarness(t)
	h.transcribe(t, "m1")

	status, err := h.svc.Status(context.Background(), owner, "m1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StageOwnerReview, status.Media.Stage)
	require.NotNil(t, status.Transcription)
	assert.Equal(t, models.JobCompleted, status.Transcription.State)
	require.NotNil(t, status.Transcript)
	assert.Equal(t, models.TranscriptCompleted, status.Transcript.Status)

	_, err = h.svc.Status(context.Background(), stranger, "m1")
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestResumeRequeuesInterruptedWork(t *testing.T) {
	h := newHarness(t)
	h.seed("waiting", lifecycle.StageAwaitingModeration)
	h.seed("stuck", lifecycle.StageModerating)
	h.seed("transcribing", lifecycle.StageTranscribing)

	require.NoError(t, h.svc.Resume(context.Background()))

	assert.Equal(t, []string{"waiting"}, h.moderation.ids)
	assert.Equal(t, []string{"transcribing"}, h.transcription.ids)
	assert.Equal(t, lifecycle.StageModerationFailed, h.stage(t, "stuck"))
}

func TestDeleteHidesAssetAndForcesPrivate(t *testing.T) {
	h := newHarness(t)
	asset := h.seed("m1", lifecycle.StageOwnerReview)
	h.store.On("SetObjectVisibility", mock.Anything, asset.ObjectKey, false).Return(nil).Once()
	h.cdn.On("Purge", mock.Anything, []string{asset.ObjectKey}).Return(nil).Once()

	assert.ErrorIs(t, h.svc.Delete(context.Background(), stranger, "m1"), auth.ErrForbidden)
	require.NoError(t, h.svc.Delete(context.Background(), owner, "m1"))

	_, err := h.media.FindByID(context.Background(), "m1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, "en", NormalizeLanguage("EN"))
	assert.Equal(t, "pt-BR", NormalizeLanguage("pt-br"))
	assert.Equal(t, "und", NormalizeLanguage("not a language!"))
	assert.Equal(t, "", NormalizeLanguage(" "))
}
