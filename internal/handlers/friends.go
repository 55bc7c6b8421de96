package handlers

import (
	"context"
	"net/http"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/models"
)

// FriendHandler provides friend request, invite and listing endpoints.
type FriendHandler struct {
	Friends FriendService
}

// List handles GET /api/friends.
func (h FriendHandler) List(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	h.respondEntries(w, r, p, "friends", h.Friends.ListFriends)
}

// Incoming handles GET /api/friends/requests.
func (h FriendHandler) Incoming(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	h.respondEntries(w, r, p, "requests", h.Friends.ListIncoming)
}

// Outgoing handles GET /api/friends/requests/outgoing.
func (h FriendHandler) Outgoing(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	h.respondEntries(w, r, p, "requests", h.Friends.ListOutgoing)
}

func (h FriendHandler) respondEntries(w http.ResponseWriter, r *http.Request, p auth.Principal, key string,
	list func(context.Context, auth.Principal) ([]models.FriendEntry, error)) {
	ctx := r.Context()
	entries, err := list(ctx, p)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{key: entries})
}

// Request handles POST /api/friends/request.
func (h FriendHandler) Request(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	var req struct {
		ReceiverID string `json:"receiverId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	friendship, err := h.Friends.SendRequest(ctx, p, req.ReceiverID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, map[string]any{"friendship": friendship})
}

// Accept handles POST /api/friends/accept.
func (h FriendHandler) Accept(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	h.respond(w, r, p, h.Friends.Accept)
}

// Reject handles POST /api/friends/reject.
func (h FriendHandler) Reject(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	h.respond(w, r, p, h.Friends.Reject)
}

func (h FriendHandler) respond(w http.ResponseWriter, r *http.Request, p auth.Principal,
	decide func(context.Context, auth.Principal, string) (models.Friendship, error)) {
	ctx := r.Context()
	var req struct {
		FriendshipID string `json:"friendshipId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	if req.FriendshipID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{
			Error:  "friendshipId is required",
			Fields: map[string]string{"friendshipId": "is required"},
		})
		return
	}
	friendship, err := decide(ctx, p, req.FriendshipID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"friendship": friendship})
}

// InviteEmail handles POST /api/friends/invite-email.
func (h FriendHandler) InviteEmail(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	result, err := h.Friends.InviteByEmail(ctx, p, req.Email)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, result)
}

// AcceptInvite handles POST /api/friends/accept-invite.
func (h FriendHandler) AcceptInvite(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	if req.Token == "" {
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{
			Error:  "token is required",
			Fields: map[string]string{"token": "is required"},
		})
		return
	}
	result, err := h.Friends.AcceptInvite(ctx, p, req.Token)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, result)
}
