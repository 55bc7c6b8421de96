package friends

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/notify"
	"github.com/oralhistory/backend/internal/repositories"
	"github.com/oralhistory/backend/internal/validation"
)

// Invite result types.
const (
	ResultRequest = "request"
	ResultInvite  = "invite"
)

// InviteResult reports whether an email invite became a direct friend
// request or an invitation email.
type InviteResult struct {
	Type       string               `json:"type"`
	Friendship *models.Friendship   `json:"friendship,omitempty"`
	Invite     *models.FriendInvite `json:"invite,omitempty"`
}

// AcceptResult is returned when an invitation is redeemed.
type AcceptResult struct {
	AlreadyFriends bool               `json:"alreadyFriends"`
	Friend         models.UserSummary `json:"friend"`
}

// InviteByEmail invites email to connect. Registered addresses receive a
// friend request instead of an email.
func (s *Service) InviteByEmail(ctx context.Context, p auth.Principal, email string) (InviteResult, error) {
	if err := p.RequireUser(); err != nil {
		return InviteResult{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if !validation.Email(email) {
		return InviteResult{}, validation.Field("email", "must be a valid email address")
	}

	existing, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		friendship, err := s.SendRequest(ctx, p, existing.ID)
		if err != nil {
			return InviteResult{}, err
		}
		return InviteResult{Type: ResultRequest, Friendship: &friendship}, nil
	case !errors.Is(err, repositories.ErrNotFound):
		return InviteResult{}, err
	}

	now := s.now().UTC()
	if _, err := s.invites.FindPending(ctx, p.UserID, email, now); err == nil {
		return InviteResult{}, fmt.Errorf("%w: an invitation to %s is already pending", repositories.ErrConflict, email)
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return InviteResult{}, err
	}

	secret, err := randomSecret()
	if err != nil {
		return InviteResult{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return InviteResult{}, fmt.Errorf("hash invite token: %w", err)
	}

	invite := models.FriendInvite{
		ID:        s.newID(),
		InviterID: p.UserID,
		Email:     email,
		TokenHash: string(hash),
		Status:    models.InvitePending,
		ExpiresAt: now.Add(inviteTTL),
		CreatedAt: now,
	}
	if err := s.invites.Create(ctx, invite); err != nil {
		return InviteResult{}, err
	}

	inviter := s.displayName(ctx, p.UserID)
	link := s.appURL + "/invite?token=" + url.QueryEscape(invite.ID+"."+secret)
	if err := s.mailer.Send(ctx, inviteMessage(email, inviter, link)); err != nil {
		// The invite stays valid; the inviter can share the link another way.
		logging.FromContext(ctx).Error("send invite email", slog.String("invite_id", invite.ID), slog.Any("error", err))
	}
	return InviteResult{Type: ResultInvite, Invite: &invite}, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// splitToken separates "<invite id>.<secret>".
func splitToken(token string) (string, string, bool) {
	id, secret, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || id == "" || len(secret) != 64 {
		return "", "", false
	}
	return id, secret, true
}

// AcceptInvite redeems an invitation for the caller.
func (s *Service) AcceptInvite(ctx context.Context, p auth.Principal, token string) (AcceptResult, error) {
	if err := p.RequireUser(); err != nil {
		return AcceptResult{}, err
	}
	id, secret, ok := splitToken(token)
	if !ok {
		return AcceptResult{}, repositories.ErrNotFound
	}
	invite, err := s.invites.FindByID(ctx, id)
	if err != nil {
		return AcceptResult{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(invite.TokenHash), []byte(secret)) != nil {
		return AcceptResult{}, repositories.ErrNotFound
	}
	if invite.Status != models.InvitePending {
		return AcceptResult{}, validation.Field("token", "invitation has already been used")
	}

	now := s.now().UTC()
	if !now.Before(invite.ExpiresAt) {
		if err := s.invites.MarkExpired(ctx, invite.ID); err != nil && !errors.Is(err, repositories.ErrConflict) {
			logging.FromContext(ctx).Warn("expire invite", slog.String("invite_id", invite.ID), slog.Any("error", err))
		}
		return AcceptResult{}, validation.Field("token", "invitation has expired")
	}

	me, err := s.users.FindByID(ctx, p.UserID)
	if err != nil {
		return AcceptResult{}, err
	}
	if !strings.EqualFold(strings.TrimSpace(me.Email), invite.Email) {
		return AcceptResult{}, auth.ErrForbidden
	}
	inviter, err := s.users.FindByID(ctx, invite.InviterID)
	if err != nil {
		return AcceptResult{}, err
	}
	result := AcceptResult{Friend: inviter.Summary()}

	existing, err := s.friends.FindActiveBetween(ctx, invite.InviterID, p.UserID)
	switch {
	case err == nil && existing.Status == models.FriendshipAccepted:
		if err := s.invites.MarkAccepted(ctx, invite.ID, now); err != nil {
			return AcceptResult{}, err
		}
		result.AlreadyFriends = true
		return result, nil
	case err == nil && existing.Status == models.FriendshipPending:
		// A request between the two is already open; accepting the invite settles it.
		if err := s.invites.MarkAccepted(ctx, invite.ID, now); err != nil {
			return AcceptResult{}, err
		}
		if _, err := s.friends.UpdateStatus(ctx, existing.ID, models.FriendshipPending, models.FriendshipAccepted); err != nil {
			return AcceptResult{}, err
		}
		s.notify(ctx, invite.InviterID, inviteAccepted(me))
		return result, nil
	case err == nil:
		return AcceptResult{}, fmt.Errorf("%w: friendship is %s", repositories.ErrConflict, strings.ToLower(string(existing.Status)))
	case !errors.Is(err, repositories.ErrNotFound):
		return AcceptResult{}, err
	}

	friendship := models.Friendship{
		ID:          s.newID(),
		InitiatorID: invite.InviterID,
		ReceiverID:  p.UserID,
		Status:      models.FriendshipAccepted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	notice := s.notes.NewNotification(invite.InviterID, inviteAccepted(me))
	if err := s.invites.AcceptWithFriendship(ctx, invite.ID, now, friendship, notice); err != nil {
		return AcceptResult{}, err
	}
	s.notes.Published(ctx, notice)
	return result, nil
}

func inviteAccepted(accepter models.User) notify.Input {
	return notify.Input{
		Type:    notify.TypeFriendInviteAccepted,
		Title:   "Invitation Accepted",
		Message: fmt.Sprintf("%s accepted your invitation and is now your friend", accepter.DisplayName()),
		Link:    "/friends",
	}
}
