package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/repositories"
)

// Notification types raised by the platform.
const (
	TypeFriendRequest         = "FRIEND_REQUEST"
	TypeFriendRequestAccepted = "FRIEND_REQUEST_ACCEPTED"
	TypeFriendInviteAccepted  = "FRIEND_INVITE_ACCEPTED"
	TypeModerationApproved    = "MODERATION_APPROVED"
	TypeModerationRejected    = "MODERATION_REJECTED"
	TypeTranscriptReady       = "TRANSCRIPT_READY"
	TypeMediaPendingApproval  = "MEDIA_PENDING_APPROVAL"
	TypeMediaApproved         = "MEDIA_APPROVED"
	TypeMediaRejected         = "MEDIA_REJECTED"
	TypeProcessingFailed      = "PROCESSING_FAILED"
	TypeAnnouncement          = "ANNOUNCEMENT"
)

// Input describes a notification to create.
type Input struct {
	Type    string `json:"type" validate:"required,max=64"`
	Title   string `json:"title" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=2000"`
	Link    string `json:"link,omitempty" validate:"omitempty,max=500"`
}

// Notifier is the subset of Service other packages depend on.
type Notifier interface {
	Notify(ctx context.Context, userID string, in Input) (models.Notification, error)
	NotifyAdmins(ctx context.Context, in Input) error
}

// AdminDirectory lists the administrators to alert.
type AdminDirectory interface {
	ListAdmins(ctx context.Context) ([]models.User, error)
}

// Service persists notifications and publishes them to live streams.
type Service struct {
	repo   repositories.NotificationRepository
	admins AdminDirectory
	broker Broker
	now    func() time.Time
}

// NewService wires the notification service.
func NewService(repo repositories.NotificationRepository, admins AdminDirectory, broker Broker) *Service {
	if broker == nil {
		broker = NewLocalBroker(defaultBuffer)
	}
	return &Service{repo: repo, admins: admins, broker: broker, now: time.Now}
}

// Broker returns the broker used for live delivery.
func (s *Service) Broker() Broker { return s.broker }

// NewNotification builds a notification row for userID without persisting it.
func (s *Service) NewNotification(userID string, in Input) models.Notification {
	return models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      strings.TrimSpace(in.Type),
		Title:     strings.TrimSpace(in.Title),
		Message:   strings.TrimSpace(in.Message),
		Link:      strings.TrimSpace(in.Link),
		CreatedAt: s.now().UTC(),
	}
}

// Notify persists a notification for userID and pushes it to their streams.
func (s *Service) Notify(ctx context.Context, userID string, in Input) (models.Notification, error) {
	if userID == "" {
		return models.Notification{}, fmt.Errorf("notify: user id is required")
	}
	n := s.NewNotification(userID, in)
	if err := s.repo.Create(ctx, n); err != nil {
		return models.Notification{}, fmt.Errorf("notify: %w", err)
	}
	s.Published(ctx, n)
	return n, nil
}

// Published pushes a notification that was persisted elsewhere, for example
// inside another repository transaction.
func (s *Service) Published(ctx context.Context, n models.Notification) {
	s.publish(ctx, n.UserID, NewNotification(n))
	s.publishCount(ctx, n.UserID)
}

// NotifyAdmins notifies every administrator. Individual failures are logged.
func (s *Service) NotifyAdmins(ctx context.Context, in Input) error {
	admins, err := s.admins.ListAdmins(ctx)
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}
	for _, admin := range admins {
		if _, err := s.Notify(ctx, admin.ID, in); err != nil {
			logging.FromContext(ctx).Error("notify admin", slog.String("admin_id", admin.ID), slog.Any("error", err))
		}
	}
	return nil
}

// List returns the caller's notifications, newest first.
func (s *Service) List(ctx context.Context, p auth.Principal, unreadOnly bool, limit int) ([]models.Notification, error) {
	if err := p.RequireUser(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, p.UserID, unreadOnly, limit)
}

// MarkRead marks one of the caller's notifications read.
func (s *Service) MarkRead(ctx context.Context, p auth.Principal, id string) error {
	if err := p.RequireUser(); err != nil {
		return err
	}
	if err := s.repo.MarkRead(ctx, p.UserID, id); err != nil {
		return err
	}
	s.publishCount(ctx, p.UserID)
	return nil
}

// MarkAllRead marks every notification of the caller read.
func (s *Service) MarkAllRead(ctx context.Context, p auth.Principal) (int64, error) {
	if err := p.RequireUser(); err != nil {
		return 0, err
	}
	n, err := s.repo.MarkAllRead(ctx, p.UserID)
	if err != nil {
		return 0, err
	}
	s.publishCount(ctx, p.UserID)
	return n, nil
}

// UnreadCount returns the number of unread notifications of the caller.
func (s *Service) UnreadCount(ctx context.Context, p auth.Principal) (int, error) {
	if err := p.RequireUser(); err != nil {
		return 0, err
	}
	return s.repo.UnreadCount(ctx, p.UserID)
}

// Subscribe opens a live stream for the caller.
func (s *Service) Subscribe(p auth.Principal) (<-chan Event, func(), error) {
	if err := p.RequireUser(); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.broker.Subscribe(p.UserID)
	return ch, cancel, nil
}

func (s *Service) publishCount(ctx context.Context, userID string) {
	count, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		logging.FromContext(ctx).Warn("count unread notifications", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	s.publish(ctx, userID, CountUpdate(count))
}

func (s *Service) publish(ctx context.Context, userID string, evt Event) {
	if err := s.broker.Publish(ctx, userID, evt); err != nil {
		logging.FromContext(ctx).Warn("publish notification event",
			slog.String("user_id", userID),
			slog.String("type", evt.Type),
			slog.Any("error", err),
		)
	}
}

var _ Notifier = (*Service)(nil)
