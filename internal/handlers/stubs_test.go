package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/contacts"
	"github.com/oralhistory/backend/internal/friends"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/notify"
	"github.com/oralhistory/backend/internal/pipeline"
	"github.com/oralhistory/backend/internal/webhooks"
)

// stubMedia embeds the interface so unexpected calls panic and fail the test.
type stubMedia struct {
	MediaService
	ingest       func(p auth.Principal, in pipeline.UploadInput) (models.MediaAsset, error)
	get          func(p auth.Principal, id string) (models.MediaAsset, error)
	update       func(p auth.Principal, id string, in pipeline.DetailsInput) (models.MediaAsset, error)
	finalApprove func(p auth.Principal, id string, approve bool, notes string) (models.MediaAsset, error)
	listPublic   func(limit, offset int) ([]models.MediaAsset, error)
	status       func(p auth.Principal, id string) (pipeline.StatusView, error)
}

func (s *stubMedia) Ingest(_ context.Context, p auth.Principal, in pipeline.UploadInput) (models.MediaAsset, error) {
	return s.ingest(p, in)
}

func (s *stubMedia) Get(_ context.Context, p auth.Principal, id string) (models.MediaAsset, error) {
	return s.get(p, id)
}

func (s *stubMedia) UpdateDetails(_ context.Context, p auth.Principal, id string, in pipeline.DetailsInput) (models.MediaAsset, error) {
	return s.update(p, id, in)
}

func (s *stubMedia) FinalApprove(_ context.Context, p auth.Principal, id string, approve bool, notes string) (models.MediaAsset, error) {
	return s.finalApprove(p, id, approve, notes)
}

func (s *stubMedia) ListPublic(_ context.Context, limit, offset int) ([]models.MediaAsset, error) {
	return s.listPublic(limit, offset)
}

func (s *stubMedia) Status(_ context.Context, p auth.Principal, id string) (pipeline.StatusView, error) {
	return s.status(p, id)
}

type stubFriends struct {
	FriendService
	sendRequest func(p auth.Principal, receiverID string) (models.Friendship, error)
	invite      func(p auth.Principal, email string) (friends.InviteResult, error)
	list        func(p auth.Principal) ([]models.FriendEntry, error)
}

func (s *stubFriends) SendRequest(_ context.Context, p auth.Principal, receiverID string) (models.Friendship, error) {
	return s.sendRequest(p, receiverID)
}

func (s *stubFriends) InviteByEmail(_ context.Context, p auth.Principal, email string) (friends.InviteResult, error) {
	return s.invite(p, email)
}

func (s *stubFriends) ListFriends(_ context.Context, p auth.Principal) ([]models.FriendEntry, error) {
	return s.list(p)
}

type stubNotifications struct {
	NotificationService
	broker *notify.LocalBroker
	unread int
	sent   []models.Notification
	ready  chan struct{}
}

func newStubNotifications() *stubNotifications {
	return &stubNotifications{broker: notify.NewLocalBroker(8), ready: make(chan struct{}, 1)}
}

func (s *stubNotifications) Notify(_ context.Context, userID string, in notify.Input) (models.Notification, error) {
	n := models.Notification{ID: "n-1", UserID: userID, Type: in.Type, Title: in.Title, Message: in.Message, Link: in.Link}
	s.sent = append(s.sent, n)
	return n, nil
}

func (s *stubNotifications) UnreadCount(_ context.Context, p auth.Principal) (int, error) {
	if err := p.RequireUser(); err != nil {
		return 0, err
	}
	return s.unread, nil
}

func (s *stubNotifications) Subscribe(p auth.Principal) (<-chan notify.Event, func(), error) {
	if err := p.RequireUser(); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.broker.Subscribe(p.UserID)
	s.ready <- struct{}{}
	return ch, cancel, nil
}

type stubWebhooks struct {
	headers webhooks.Headers
	body    []byte
	err     error
}

func (s *stubWebhooks) Process(_ context.Context, h webhooks.Headers, body []byte) (string, error) {
	s.headers = h
	s.body = body
	if s.err != nil {
		return "", s.err
	}
	return webhooks.OutcomeProcessed, nil
}

type stubContacts struct {
	submitted []contacts.Input
	principal auth.Principal
}

func (s *stubContacts) Submit(_ context.Context, p auth.Principal, in contacts.Input) (models.Contact, error) {
	s.submitted = append(s.submitted, in)
	s.principal = p
	return models.Contact{ID: "c-1", Name: in.Name, Email: in.Email, Comment: in.Comment}, nil
}

func (s *stubContacts) ListRecent(_ context.Context, p auth.Principal) ([]models.Contact, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}
	return []models.Contact{{ID: "c-1"}}, nil
}

// testServer is a router wired to stubs with a member and an admin session.
type testServer struct {
	handler       http.Handler
	media         *stubMedia
	friends       *stubFriends
	notifications *stubNotifications
	webhooks      *stubWebhooks
	contacts      *stubContacts
	memberToken   string
	adminToken    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	users := newInMemoryUserStore(
		models.User{ID: "u1", ExternalID: "user_member", Role: models.RoleUser},
		models.User{ID: "a1", ExternalID: "user_admin", Role: models.RoleAdmin},
	)
	manager := auth.NewManager(time.Minute, time.Hour, auth.NewMemoryStore())

	member, err := manager.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("issue member session: %v", err)
	}
	admin, err := manager.Issue(context.Background(), "a1")
	if err != nil {
		t.Fatalf("issue admin session: %v", err)
	}

	ts := &testServer{
		media:         &stubMedia{},
		friends:       &stubFriends{},
		notifications: newStubNotifications(),
		webhooks:      &stubWebhooks{},
		contacts:      &stubContacts{},
		memberToken:   member.AccessToken,
		adminToken:    admin.AccessToken,
	}
	ts.handler = NewRouter(Dependencies{
		Users:          users,
		Sessions:       manager,
		BridgeSecret:   "bridge-secret",
		Media:          ts.media,
		Friends:        ts.friends,
		Notifications:  ts.notifications,
		Webhooks:       ts.webhooks,
		Contacts:       ts.contacts,
		Pages:          testPages(t),
		CORSOrigins:    []string{"http://localhost:3000"},
		MaxUploadBytes: 1 << 20,
		Heartbeat:      time.Hour,
	})
	return ts
}

func (ts *testServer) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}
