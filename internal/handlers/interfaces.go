package handlers

import (
	"context"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/contacts"
	"github.com/oralhistory/backend/internal/content"
	"github.com/oralhistory/backend/internal/friends"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/notify"
	"github.com/oralhistory/backend/internal/pipeline"
	"github.com/oralhistory/backend/internal/webhooks"
)

// UserStore captures the user lookups required by the auth handlers.
type UserStore interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByExternalID(ctx context.Context, externalID string) (models.User, error)
}

// SessionManager issues, refreshes and revokes authentication tokens.
type SessionManager interface {
	Issue(ctx context.Context, userID string) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Authenticate(ctx context.Context, accessToken string) (string, error)
	Revoke(ctx context.Context, refreshToken string)
}

// MediaService is the media pipeline surface exposed over HTTP.
type MediaService interface {
	Ingest(ctx context.Context, p auth.Principal, in pipeline.UploadInput) (models.MediaAsset, error)
	Get(ctx context.Context, viewer auth.Principal, id string) (models.MediaAsset, error)
	ListMine(ctx context.Context, p auth.Principal, limit, offset int) ([]models.MediaAsset, error)
	ListPublic(ctx context.Context, limit, offset int) ([]models.MediaAsset, error)
	ListFriendsFeed(ctx context.Context, p auth.Principal, limit, offset int) ([]models.MediaAsset, error)
	UpdateDetails(ctx context.Context, p auth.Principal, id string, in pipeline.DetailsInput) (models.MediaAsset, error)
	Delete(ctx context.Context, p auth.Principal, id string) error
	SetPoster(ctx context.Context, p auth.Principal, id string, in pipeline.PosterInput) (models.MediaAsset, error)
	RelabelSpeaker(ctx context.Context, p auth.Principal, id, from, to string) (pipeline.TranscriptView, error)
	ReanalyzeSpeakers(ctx context.Context, p auth.Principal, id string, mappings map[string]string) (pipeline.TranscriptView, error)
	Status(ctx context.Context, p auth.Principal, id string) (pipeline.StatusView, error)
	GetTranscript(ctx context.Context, p auth.Principal, id string) (pipeline.TranscriptView, error)
	EditTranscript(ctx context.Context, p auth.Principal, id, text string) (pipeline.TranscriptView, error)
	FinalizeTranscript(ctx context.Context, p auth.Principal, id string, confirm bool) (models.MediaAsset, error)
	SkipTranscript(ctx context.Context, p auth.Principal, id string) (models.MediaAsset, error)
	ListPendingApproval(ctx context.Context, p auth.Principal, requireTranscript bool) ([]models.MediaAsset, error)
	FinalApprove(ctx context.Context, p auth.Principal, id string, approve bool, notes string) (models.MediaAsset, error)
	Retry(ctx context.Context, p auth.Principal, id string) (models.MediaAsset, error)
}

// FriendService captures the friend graph operations.
type FriendService interface {
	ListFriends(ctx context.Context, p auth.Principal) ([]models.FriendEntry, error)
	ListIncoming(ctx context.Context, p auth.Principal) ([]models.FriendEntry, error)
	ListOutgoing(ctx context.Context, p auth.Principal) ([]models.FriendEntry, error)
	SendRequest(ctx context.Context, p auth.Principal, receiverID string) (models.Friendship, error)
	Accept(ctx context.Context, p auth.Principal, friendshipID string) (models.Friendship, error)
	Reject(ctx context.Context, p auth.Principal, friendshipID string) (models.Friendship, error)
	InviteByEmail(ctx context.Context, p auth.Principal, email string) (friends.InviteResult, error)
	AcceptInvite(ctx context.Context, p auth.Principal, token string) (friends.AcceptResult, error)
}

// NotificationService captures notification reads, writes and live streams.
type NotificationService interface {
	Notify(ctx context.Context, userID string, in notify.Input) (models.Notification, error)
	List(ctx context.Context, p auth.Principal, unreadOnly bool, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, p auth.Principal) (int, error)
	MarkRead(ctx context.Context, p auth.Principal, id string) error
	MarkAllRead(ctx context.Context, p auth.Principal) (int64, error)
	Subscribe(p auth.Principal) (<-chan notify.Event, func(), error)
}

// WebhookProcessor verifies and applies identity provider deliveries.
type WebhookProcessor interface {
	Process(ctx context.Context, h webhooks.Headers, body []byte) (string, error)
}

// ContactService stores and lists contact form submissions.
type ContactService interface {
	Submit(ctx context.Context, p auth.Principal, in contacts.Input) (models.Contact, error)
	ListRecent(ctx context.Context, p auth.Principal) ([]models.Contact, error)
}

// PageLibrary serves the static informational pages.
type PageLibrary interface {
	List() []content.Summary
	Get(slug string) (content.Page, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
