// Package friends manages friend requests, the accepted friend graph and
// email invitations for people who have not signed up yet.
package friends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/notify"
	"github.com/oralhistory/backend/internal/repositories"
	"github.com/oralhistory/backend/internal/validation"
)

const inviteTTL = 7 * 24 * time.Hour

// UserDirectory resolves members by id or email.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

// Notifications creates notifications, including ones persisted inside a
// repository transaction and published afterwards.
type Notifications interface {
	notify.Notifier
	NewNotification(userID string, in notify.Input) models.Notification
	Published(ctx context.Context, n models.Notification)
}

// Service implements the friend graph operations.
type Service struct {
	friends repositories.FriendRepository
	invites repositories.InviteRepository
	users   UserDirectory
	notes   Notifications
	mailer  Mailer
	appURL  string

	now   func() time.Time
	newID func() string
}

// NewService wires the friends service. appURL is the public web origin
// used in invitation links.
func NewService(friends repositories.FriendRepository, invites repositories.InviteRepository, users UserDirectory, notes Notifications, mailer Mailer, appURL string) *Service {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &Service{
		friends: friends,
		invites: invites,
		users:   users,
		notes:   notes,
		mailer:  mailer,
		appURL:  strings.TrimRight(appURL, "/"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// AreFriends reports whether a and b share an accepted friendship.
func (s *Service) AreFriends(ctx context.Context, a, b string) (bool, error) {
	if a == "" || b == "" || a == b {
		return false, nil
	}
	return s.friends.AreFriends(ctx, a, b)
}

// SendRequest asks receiverID to become the caller's friend.
func (s *Service) SendRequest(ctx context.Context, p auth.Principal, receiverID string) (models.Friendship, error) {
	if err := p.RequireUser(); err != nil {
		return models.Friendship{}, err
	}
	receiverID = strings.TrimSpace(receiverID)
	switch {
	case receiverID == "":
		return models.Friendship{}, validation.Field("receiverId", "is required")
	case receiverID == p.UserID:
		return models.Friendship{}, validation.Field("receiverId", "cannot be yourself")
	}

	if _, err := s.users.FindByID(ctx, receiverID); err != nil {
		return models.Friendship{}, err
	}
	if _, err := s.friends.FindActiveBetween(ctx, p.UserID, receiverID); err == nil {
		return models.Friendship{}, fmt.Errorf("%w: a friendship or request already exists", repositories.ErrConflict)
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return models.Friendship{}, err
	}

	now := s.now().UTC()
	friendship := models.Friendship{
		ID:          s.newID(),
		InitiatorID: p.UserID,
		ReceiverID:  receiverID,
		Status:      models.FriendshipPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.friends.Create(ctx, friendship); err != nil {
		return models.Friendship{}, err
	}

	s.notify(ctx, receiverID, notify.Input{
		Type:    notify.TypeFriendRequest,
		Title:   "New Friend Request",
		Message: fmt.Sprintf("%s sent you a friend request", s.displayName(ctx, p.UserID)),
		Link:    "/friends",
	})
	return friendship, nil
}

// ListFriends returns the caller's accepted friends.
func (s *Service) ListFriends(ctx context.Context, p auth.Principal) ([]models.FriendEntry, error) {
	if err := p.RequireUser(); err != nil {
		return nil, err
	}
	return nonNil(s.friends.ListAccepted(ctx, p.UserID))
}

// ListIncoming returns pending requests addressed to the caller.
func (s *Service) ListIncoming(ctx context.Context, p auth.Principal) ([]models.FriendEntry, error) {
	if err := p.RequireUser(); err != nil {
		return nil, err
	}
	return nonNil(s.friends.ListIncoming(ctx, p.UserID))
}

// ListOutgoing returns pending requests the caller sent.
func (s *Service) ListOutgoing(ctx context.Context, p auth.Principal) ([]models.FriendEntry, error) {
	if err := p.RequireUser(); err != nil {
		return nil, err
	}
	return nonNil(s.friends.ListOutgoing(ctx, p.UserID))
}

func nonNil(entries []models.FriendEntry, err error) ([]models.FriendEntry, error) {
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.FriendEntry{}
	}
	return entries, nil
}

// Accept accepts a pending request addressed to the caller.
func (s *Service) Accept(ctx context.Context, p auth.Principal, friendshipID string) (models.Friendship, error) {
	friendship, err := s.respond(ctx, p, friendshipID, models.FriendshipAccepted)
	if err != nil {
		return models.Friendship{}, err
	}
	s.notify(ctx, friendship.InitiatorID, notify.Input{
		Type:    notify.TypeFriendRequestAccepted,
		Title:   "Friend Request Accepted",
		Message: fmt.Sprintf("%s accepted your friend request", s.displayName(ctx, p.UserID)),
		Link:    "/friends",
	})
	return friendship, nil
}

// Reject declines a pending request addressed to the caller.
func (s *Service) Reject(ctx context.Context, p auth.Principal, friendshipID string) (models.Friendship, error) {
	return s.respond(ctx, p, friendshipID, models.FriendshipRejected)
}

func (s *Service) respond(ctx context.Context, p auth.Principal, friendshipID string, to models.FriendshipStatus) (models.Friendship, error) {
	if err := p.RequireUser(); err != nil {
		return models.Friendship{}, err
	}
	friendshipID = strings.TrimSpace(friendshipID)
	if friendshipID == "" {
		return models.Friendship{}, validation.Field("friendshipId", "is required")
	}
	friendship, err := s.friends.FindByID(ctx, friendshipID)
	if err != nil {
		return models.Friendship{}, err
	}
	if friendship.ReceiverID != p.UserID {
		return models.Friendship{}, auth.ErrForbidden
	}
	if friendship.Status != models.FriendshipPending {
		return models.Friendship{}, validation.Field("friendshipId", "is not a pending request")
	}
	return s.friends.UpdateStatus(ctx, friendshipID, models.FriendshipPending, to)
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "Someone"
	}
	return user.DisplayName()
}

func (s *Service) notify(ctx context.Context, userID string, in notify.Input) {
	if s.notes == nil {
		return
	}
	if _, err := s.notes.Notify(ctx, userID, in); err != nil {
		logging.FromContext(ctx).Error("send notification",
			slog.String("user_id", userID),
			slog.String("type", in.Type),
			slog.Any("error", err),
		)
	}
}
