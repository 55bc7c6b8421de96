package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/repositories"
)

type memoryNotifications struct {
	mu    sync.Mutex
	items []models.Notification
}

func (m *memoryNotifications) Create(_ context.Context, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, n)
	return nil
}

func (m *memoryNotifications) List(_ context.Context, userID string, unreadOnly bool, _ int) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.items {
		if n.UserID == userID && (!unreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memoryNotifications) MarkRead(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id && m.items[i].UserID == userID {
			m.items[i].Read = true
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (m *memoryNotifications) MarkAllRead(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.items {
		if m.items[i].UserID == userID && !m.items[i].Read {
			m.items[i].Read = true
			n++
		}
	}
	return n, nil
}

func (m *memoryNotifications) UnreadCount(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.items {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

type staticAdmins []models.User

func (s staticAdmins) ListAdmins(context.Context) ([]models.User, error) { return s, nil }

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed")
		return evt
	default:
		t.Fatal("expected a buffered event")
		return Event{}
	}
}

func TestLocalBrokerDropsWhenFull(t *testing.T) {
	broker := NewLocalBroker(2)
	ch, cancel := broker.Subscribe("u1")
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, broker.Publish(context.Background(), "u1", CountUpdate(i)))
	}
	assert.Len(t, ch, 2)
	assert.Equal(t, 0, *receive(t, ch).Count)
	assert.Equal(t, 1, *receive(t, ch).Count)
}

func TestLocalBrokerCancelIsIdempotent(t *testing.T) {
	broker := NewLocalBroker(4)
	ch, cancel := broker.Subscribe("u1")
	other, cancelOther := broker.Subscribe("u1")
	defer cancelOther()
	assert.Equal(t, 2, broker.Subscribers("u1"))

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 1, broker.Subscribers("u1"))

	require.NoError(t, broker.Publish(context.Background(), "u1", Connected()))
	assert.Equal(t, EventConnected, receive(t, other).Type)
}

func TestLocalBrokerIsolatesUsers(t *testing.T) {
	broker := NewLocalBroker(4)
	a, cancelA := broker.Subscribe("a")
	defer cancelA()
	b, cancelB := broker.Subscribe("b")
	defer cancelB()

	require.NoError(t, broker.Publish(context.Background(), "a", Connected()))
	assert.Len(t, a, 1)
	assert.Len(t, b, 0)

	require.NoError(t, broker.Close())
	_, ok := <-b
	assert.False(t, ok)
}

func TestServiceNotifyPublishesNotificationThenCount(t *testing.T) {
	repo := &memoryNotifications{}
	broker := NewLocalBroker(8)
	svc := NewService(repo, staticAdmins{}, broker)

	ch, cancel := broker.Subscribe("u1")
	defer cancel()

	n, err := svc.Notify(context.Background(), "u1", Input{Type: TypeFriendRequest, Title: "New Friend Request", Message: "Ada sent you a friend request", Link: "/friends"})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)

	first := receive(t, ch)
	assert.Equal(t, EventNewNotification, first.Type)
	assert.Equal(t, n.ID, first.Notification.ID)

	second := receive(t, ch)
	assert.Equal(t, EventCountUpdate, second.Type)
	assert.Equal(t, 1, *second.Count)
}

func TestServiceMarkReadOnlyOwnNotifications(t *testing.T) {
	repo := &memoryNotifications{}
	svc := NewService(repo, staticAdmins{}, nil)
	n, err := svc.Notify(context.Background(), "owner", Input{Type: TypeAnnouncement, Title: "t", Message: "m"})
	require.NoError(t, err)

	err = svc.MarkRead(context.Background(), auth.Principal{UserID: "intruder", Role: models.RoleUser}, n.ID)
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	owner := auth.Principal{UserID: "owner", Role: models.RoleUser}
	ch, cancel, err := svc.Subscribe(owner)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, svc.MarkRead(context.Background(), owner, n.ID))
	evt := receive(t, ch)
	assert.Equal(t, 0, *evt.Count)

	count, err := svc.UnreadCount(context.Background(), owner)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestServiceRequiresPrincipal(t *testing.T) {
	svc := NewService(&memoryNotifications{}, staticAdmins{}, nil)
	_, err := svc.List(context.Background(), auth.Principal{}, false, 10)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	_, _, err = svc.Subscribe(auth.Principal{})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestNotifyAdmins(t *testing.T) {
	repo := &memoryNotifications{}
	svc := NewService(repo, staticAdmins{{ID: "admin-1"}, {ID: "admin-2"}}, nil)

	require.NoError(t, svc.NotifyAdmins(context.Background(), Input{Type: TypeMediaPendingApproval, Title: "Review", Message: "A video awaits review"}))
	assert.Len(t, repo.items, 2)

	marked, err := svc.MarkAllRead(context.Background(), auth.Principal{UserID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)
}

func TestDecodeRedisMessage(t *testing.T) {
	payload, err := json.Marshal(CountUpdate(3))
	require.NoError(t, err)

	userID, evt, err := decodeMessage("notifications:user-9", string(payload))
	require.NoError(t, err)
	assert.Equal(t, "user-9", userID)
	assert.Equal(t, 3, *evt.Count)

	_, _, err = decodeMessage("other:user-9", string(payload))
	assert.Error(t, err)
	_, _, err = decodeMessage("notifications:user-9", "{")
	assert.Error(t, err)
}

func TestEventJSONKeepsZeroCount(t *testing.T) {
	raw, err := json.Marshal(CountUpdate(0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"count_update","count":0}`, string(raw))
}
