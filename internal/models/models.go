package models

import (
	"time"

	"github.com/oralhistory/backend/internal/lifecycle"
)

// Role distinguishes administrators from regular members.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User mirrors an account managed by the external identity provider.
type User struct {
	ID           string     `json:"id"`
	ExternalID   string     `json:"externalId"`
	Email        string     `json:"email"`
	FullName     string     `json:"fullName"`
	ImageURL     string     `json:"imageUrl,omitempty"`
	Role         Role       `json:"role"`
	LastSignInAt *time.Time `json:"lastSignInAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	DeletedAt    *time.Time `json:"-"`
}

// MediaAsset is a user-submitted video testimonial.
type MediaAsset struct {
	ID                  string                     `json:"id"`
	OwnerID             string                     `json:"ownerId"`
	ObjectKey           string                     `json:"-"`
	URL                 string                     `json:"url,omitempty"`
	PosterURL           string                     `json:"posterUrl,omitempty"`
	Name                string                     `json:"name"`
	Description         string                     `json:"description"`
	ContentType         string                     `json:"contentType"`
	SizeBytes           int64                      `json:"sizeBytes"`
	Stage               lifecycle.Stage            `json:"stage"`
	ModerationStatus    lifecycle.ModerationStatus `json:"moderationStatus"`
	ApprovalStatus      lifecycle.ApprovalStatus   `json:"approvalStatus"`
	Visibility          lifecycle.Visibility       `json:"visibility"`
	RequestedVisibility lifecycle.Visibility       `json:"requestedVisibility"`
	ModerationLabel     string                     `json:"moderationLabel,omitempty"`
	ModerationScore     float64                    `json:"moderationScore,omitempty"`
	Notes               string                     `json:"notes,omitempty"`
	CreatedAt           time.Time                  `json:"createdAt"`
	UpdatedAt           time.Time                  `json:"updatedAt"`
	DeletedAt           *time.Time                 `json:"-"`
}

// TranscriptStatus tracks speech-to-text progress for a transcript row.
type TranscriptStatus string

const (
	TranscriptQueued     TranscriptStatus = "QUEUED"
	TranscriptProcessing TranscriptStatus = "PROCESSING"
	TranscriptCompleted  TranscriptStatus = "COMPLETED"
	TranscriptFailed     TranscriptStatus = "FAILED"
)

// Transcript holds subtitle-timed text for a media asset.
type Transcript struct {
	ID              string            `json:"id"`
	MediaID         string            `json:"mediaId"`
	Text            string            `json:"text"`
	Language        string            `json:"language,omitempty"`
	SpeakerMappings map[string]string `json:"speakerMappings,omitempty"`
	Status          TranscriptStatus  `json:"status"`
	IsCurrent       bool              `json:"isCurrent"`
	UserApproved    bool              `json:"userApproved"`
	FinalizedAt     *time.Time        `json:"finalizedAt,omitempty"`
	SRTURL          string            `json:"srtUrl,omitempty"`
	VTTURL          string            `json:"vttUrl,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// JobKind names a background pipeline stage.
type JobKind string

const (
	JobModeration    JobKind = "moderation"
	JobTranscription JobKind = "transcription"
)

// JobState mirrors the queue states reported to polling clients.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// MediaJob records the progress of a background stage for one asset.
type MediaJob struct {
	ID           string    `json:"id"`
	MediaID      string    `json:"mediaId"`
	Kind         JobKind   `json:"kind"`
	State        JobState  `json:"state"`
	Progress     int       `json:"progress"`
	AttemptsMade int       `json:"attemptsMade"`
	FailedReason string    `json:"failedReason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FriendshipStatus describes the state of a relationship between two users.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "PENDING"
	FriendshipAccepted FriendshipStatus = "ACCEPTED"
	FriendshipRejected FriendshipStatus = "REJECTED"
	FriendshipBlocked  FriendshipStatus = "BLOCKED"
)

// Friendship is a relationship row between an initiator and a receiver.
type Friendship struct {
	ID          string           `json:"id"`
	InitiatorID string           `json:"initiatorId"`
	ReceiverID  string           `json:"receiverId"`
	Status      FriendshipStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Other returns the participant that is not userID.
func (f Friendship) Other(userID string) string {
	if f.InitiatorID == userID {
		return f.ReceiverID
	}
	return f.InitiatorID
}

// InviteStatus is the state of an email invitation.
type InviteStatus string

const (
	InvitePending  InviteStatus = "PENDING"
	InviteAccepted InviteStatus = "ACCEPTED"
	InviteExpired  InviteStatus = "EXPIRED"
)

// FriendInvite invites a not-yet-registered person by email.
type FriendInvite struct {
	ID         string       `json:"id"`
	InviterID  string       `json:"inviterId"`
	Email      string       `json:"email"`
	TokenHash  string       `json:"-"`
	Status     InviteStatus `json:"status"`
	ExpiresAt  time.Time    `json:"expiresAt"`
	AcceptedAt *time.Time   `json:"acceptedAt,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Notification is a user-facing alert.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Contact is a contact form submission.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Comment   string    `json:"comment"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// UserSummary is the public projection of a user shown to other members.
type UserSummary struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Summary projects the user for display to other members.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, FullName: u.FullName, Email: u.Email, ImageURL: u.ImageURL}
}

// DisplayName falls back to the email address when no name is known.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}

// FriendEntry pairs a friendship row with the counterpart user.
type FriendEntry struct {
	FriendshipID string           `json:"friendshipId"`
	Status       FriendshipStatus `json:"status"`
	User         UserSummary      `json:"user"`
	Since        time.Time        `json:"since"`
}
