package pipeline

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/oralhistory/backend/internal/lifecycle"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/notify"
	"github.com/oralhistory/backend/internal/processing"
	"github.com/oralhistory/backend/internal/repositories"
	"github.com/oralhistory/backend/internal/storage"
)

type memoryMedia struct {
	mu     sync.Mutex
	assets map[string]models.MediaAsset
	events []string
}

func newMemoryMedia() *memoryMedia {
	return &memoryMedia{assets: make(map[string]models.MediaAsset)}
}

func projectAsset(a *models.MediaAsset) {
	a.ModerationStatus = a.Stage.Moderation()
	a.ApprovalStatus = a.Stage.Approval()
	a.Visibility = lifecycle.EffectiveVisibility(a.Stage, a.Visibility)
	if a.RequestedVisibility == "" {
		a.RequestedVisibility = lifecycle.VisibilityPrivate
	}
}

func (m *memoryMedia) Create(_ context.Context, asset models.MediaAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[asset.ID]; ok {
		return repositories.ErrConflict
	}
	projectAsset(&asset)
	m.assets[asset.ID] = asset
	m.events = append(m.events, "media.created")
	return nil
}

func (m *memoryMedia) FindByID(_ context.Context, id string) (models.MediaAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok || a.DeletedAt != nil {
		return models.MediaAsset{}, repositories.ErrNotFound
	}
	return a, nil
}

func (m *memoryMedia) filter(keep func(models.MediaAsset) bool) []models.MediaAsset {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MediaAsset
	for _, a := range m.assets {
		if a.DeletedAt == nil && keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memoryMedia) ListByOwner(_ context.Context, ownerID string, _, _ int) ([]models.MediaAsset, error) {
	return m.filter(func(a models.MediaAsset) bool { return a.OwnerID == ownerID }), nil
}

func (m *memoryMedia) ListPublic(context.Context, int, int) ([]models.MediaAsset, error) {
	return m.filter(func(a models.MediaAsset) bool {
		return a.Stage == lifecycle.StageApproved && a.Visibility == lifecycle.VisibilityPublic
	}), nil
}

func (m *memoryMedia) ListFriendsFeed(context.Context, string, int, int) ([]models.MediaAsset, error) {
	return nil, nil
}

func (m *memoryMedia) ListByStage(_ context.Context, stage lifecycle.Stage, _ int) ([]models.MediaAsset, error) {
	return m.filter(func(a models.MediaAsset) bool { return a.Stage == stage }), nil
}

func (m *memoryMedia) ListPendingApproval(_ context.Context, _ bool, _ int) ([]models.MediaAsset, error) {
	return m.filter(func(a models.MediaAsset) bool { return a.Stage == lifecycle.StagePendingApproval }), nil
}

func (m *memoryMedia) Transition(_ context.Context, id string, e lifecycle.Event, mutate repositories.MediaMutator) (models.MediaAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, e, mutate)
}

func (m *memoryMedia) transitionLocked(id string, e lifecycle.Event, mutate repositories.MediaMutator) (models.MediaAsset, error) {
	a, ok := m.assets[id]
	if !ok || a.DeletedAt != nil {
		return models.MediaAsset{}, repositories.ErrNotFound
	}
	next, err := lifecycle.Transition(a.Stage, e)
	if err != nil {
		return models.MediaAsset{}, err
	}
	a.Stage = next
	if mutate != nil {
		if err := mutate(&a); err != nil {
			return models.MediaAsset{}, err
		}
		a.Stage = next
	}
	projectAsset(&a)
	m.assets[id] = a
	m.events = append(m.events, "media."+string(e))
	return a, nil
}

func (m *memoryMedia) Update(_ context.Context, id, eventType string, mutate repositories.MediaMutator) (models.MediaAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok || a.DeletedAt != nil {
		return models.MediaAsset{}, repositories.ErrNotFound
	}
	stage := a.Stage
	if mutate != nil {
		if err := mutate(&a); err != nil {
			return models.MediaAsset{}, err
		}
	}
	a.Stage = stage
	projectAsset(&a)
	m.assets[id] = a
	m.events = append(m.events, eventType)
	return a, nil
}

func (m *memoryMedia) seed(asset models.MediaAsset) models.MediaAsset {
	m.mu.Lock()
	defer m.mu.Unlock()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now()
	}
	projectAsset(&asset)
	m.assets[asset.ID] = asset
	return asset
}

type memoryTranscripts struct {
	mu    sync.Mutex
	media *memoryMedia
	rows  []models.Transcript
}

func (m *memoryTranscripts) CreateQueued(_ context.Context, t models.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Status = models.TranscriptQueued
	m.rows = append(m.rows, t)
	return nil
}

func (m *memoryTranscripts) setStatus(id string, status models.TranscriptStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id && m.rows[i].Status != models.TranscriptCompleted {
			m.rows[i].Status = status
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (m *memoryTranscripts) MarkProcessing(_ context.Context, id string) error {
	return m.setStatus(id, models.TranscriptProcessing)
}

func (m *memoryTranscripts) MarkFailed(_ context.Context, id string) error {
	return m.setStatus(id, models.TranscriptFailed)
}

func (m *memoryTranscripts) Complete(_ context.Context, id string, result repositories.TranscriptResult) (models.MediaAsset, models.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i := range m.rows {
		if m.rows[i].ID == id {
			idx = i
		}
	}
	if idx < 0 {
		return models.MediaAsset{}, models.Transcript{}, repositories.ErrNotFound
	}
	m.media.mu.Lock()
	asset, err := m.media.transitionLocked(m.rows[idx].MediaID, lifecycle.EventTranscriptionCompleted, nil)
	m.media.mu.Unlock()
	if err != nil {
		return models.MediaAsset{}, models.Transcript{}, err
	}
	for i := range m.rows {
		if m.rows[i].MediaID == m.rows[idx].MediaID {
			m.rows[i].IsCurrent = false
		}
	}
	row := &m.rows[idx]
	row.Text, row.Language, row.SRTURL, row.VTTURL = result.Text, result.Language, result.SRTURL, result.VTTURL
	row.Status = models.TranscriptCompleted
	row.IsCurrent = true
	row.UserApproved = false
	return asset, *row, nil
}

func (m *memoryTranscripts) find(mediaID string, current bool) (int, error) {
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].MediaID == mediaID && (!current || m.rows[i].IsCurrent) {
			return i, nil
		}
	}
	return -1, repositories.ErrNotFound
}

func (m *memoryTranscripts) Current(_ context.Context, mediaID string) (models.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.find(mediaID, true)
	if err != nil {
		return models.Transcript{}, err
	}
	return m.rows[i], nil
}

func (m *memoryTranscripts) Latest(_ context.Context, mediaID string) (models.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.find(mediaID, false)
	if err != nil {
		return models.Transcript{}, err
	}
	return m.rows[i], nil
}

func (m *memoryTranscripts) lockedForReview(mediaID string) (int, error) {
	i, err := m.find(mediaID, true)
	if err != nil {
		return -1, err
	}
	if m.rows[i].UserApproved {
		return -1, lifecycle.ErrTranscriptFinalized
	}
	m.media.mu.Lock()
	stage := m.media.assets[mediaID].Stage
	m.media.mu.Unlock()
	if err := lifecycle.CanEditTranscript(stage); err != nil {
		return -1, err
	}
	return i, nil
}

func (m *memoryTranscripts) UpdateContent(_ context.Context, mediaID string, mutate repositories.TranscriptMutator) (models.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.lockedForReview(mediaID)
	if err != nil {
		return models.Transcript{}, err
	}
	t := m.rows[i]
	if err := mutate(&t); err != nil {
		return models.Transcript{}, err
	}
	m.rows[i] = t
	return t, nil
}

func (m *memoryTranscripts) Finalize(_ context.Context, mediaID string) (models.MediaAsset, models.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.lockedForReview(mediaID)
	if err != nil {
		return models.MediaAsset{}, models.Transcript{}, err
	}
	m.media.mu.Lock()
	asset, err := m.media.transitionLocked(mediaID, lifecycle.EventOwnerFinalized, nil)
	m.media.mu.Unlock()
	if err != nil {
		return models.MediaAsset{}, models.Transcript{}, err
	}
	now := time.Now()
	m.rows[i].UserApproved = true
	m.rows[i].FinalizedAt = &now
	return asset, m.rows[i], nil
}

type memoryJobs struct {
	mu   sync.Mutex
	jobs []models.MediaJob
}

func (m *memoryJobs) Create(_ context.Context, job models.MediaJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *memoryJobs) update(id string, fn func(j *models.MediaJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.jobs {
		if m.jobs[i].ID == id {
			fn(&m.jobs[i])
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (m *memoryJobs) Start(_ context.Context, id string) error {
	return m.update(id, func(j *models.MediaJob) {
		j.State = models.JobActive
		j.AttemptsMade++
		j.Progress = 10
	})
}

func (m *memoryJobs) Progress(_ context.Context, id string, percent int) error {
	return m.update(id, func(j *models.MediaJob) { j.Progress = percent })
}

func (m *memoryJobs) Complete(_ context.Context, id string) error {
	return m.update(id, func(j *models.MediaJob) {
		j.State = models.JobCompleted
		j.Progress = 100
	})
}

func (m *memoryJobs) Fail(_ context.Context, id, reason string) error {
	return m.update(id, func(j *models.MediaJob) {
		j.State = models.JobFailed
		j.FailedReason = reason
	})
}

func (m *memoryJobs) Latest(_ context.Context, mediaID string, kind models.JobKind) (models.MediaJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.jobs) - 1; i >= 0; i-- {
		if m.jobs[i].MediaID == mediaID && m.jobs[i].Kind == kind {
			return m.jobs[i], nil
		}
	}
	return models.MediaJob{}, repositories.ErrNotFound
}

type mockStore struct{ mock.Mock }

func (m *mockStore) PutObject(ctx context.Context, key string, body []byte, contentType string, acl storage.ACL) (storage.UploadResult, error) {
	args := m.Called(ctx, key, body, contentType, acl)
	return args.Get(0).(storage.UploadResult), args.Error(1)
}

func (m *mockStore) UploadStream(ctx context.Context, key string, body io.Reader, contentType string, acl storage.ACL) (storage.UploadResult, error) {
	args := m.Called(ctx, key, body, contentType, acl)
	return args.Get(0).(storage.UploadResult), args.Error(1)
}

func (m *mockStore) Download(ctx context.Context, key string, dst io.Writer) (int64, error) {
	args := m.Called(ctx, key, dst)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) SetObjectVisibility(ctx context.Context, key string, public bool) error {
	return m.Called(ctx, key, public).Error(0)
}

func (m *mockStore) DeleteObject(ctx context.Context, keyOrURL string) error {
	return m.Called(ctx, keyOrURL).Error(0)
}

func (m *mockStore) PublicURL(key string) string {
	return "https://media.example.org/" + key
}

type mockModerator struct{ mock.Mock }

func (m *mockModerator) Moderate(ctx context.Context, videoPath string) (processing.Verdict, error) {
	args := m.Called(ctx, videoPath)
	return args.Get(0).(processing.Verdict), args.Error(1)
}

type mockAudio struct{ mock.Mock }

func (m *mockAudio) ExtractAudio(ctx context.Context, src, dst string) error {
	return m.Called(ctx, src, dst).Error(0)
}

type mockTranscriber struct{ mock.Mock }

func (m *mockTranscriber) Transcribe(ctx context.Context, audioPath string) (processing.TranscriptionResult, error) {
	args := m.Called(ctx, audioPath)
	return args.Get(0).(processing.TranscriptionResult), args.Error(1)
}

type mockPurger struct{ mock.Mock }

func (m *mockPurger) Purge(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

type stubURLs struct {
	mu          sync.Mutex
	invalidated []string
}

func (s *stubURLs) URL(_ context.Context, key string) (string, error) {
	return "https://signed.example.org/" + key + "?sig=1", nil
}

func (s *stubURLs) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, key)
}

type recordingNotifier struct {
	mu     sync.Mutex
	sent   map[string][]string
	admins []string
}

func (r *recordingNotifier) Notify(_ context.Context, userID string, in notify.Input) (models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = make(map[string][]string)
	}
	r.sent[userID] = append(r.sent[userID], in.Type)
	return models.Notification{UserID: userID, Type: in.Type}, nil
}

func (r *recordingNotifier) NotifyAdmins(_ context.Context, in notify.Input) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins = append(r.admins, in.Type)
	return nil
}

func (r *recordingNotifier) typesFor(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent[userID]...)
}

type recordingQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *recordingQueue) Enqueue(_ context.Context, mediaID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, mediaID)
	return nil
}

type friendSet map[[2]string]bool

func (f friendSet) AreFriends(_ context.Context, a, b string) (bool, error) {
	return f[[2]string{a, b}] || f[[2]string{b, a}], nil
}
