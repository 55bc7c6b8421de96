package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/middleware"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/repositories"
)

// BridgeSecretHeader authenticates the trusted server calling the auth bridge.
const BridgeSecretHeader = "X-Auth-Bridge-Secret"

// AuthHandler exchanges identity provider sessions for API tokens.
type AuthHandler struct {
	Users        UserStore
	Sessions     SessionManager
	BridgeSecret string
}

// Session handles POST /api/auth/session. The caller is the web tier, which
// already verified the provider session and vouches for externalId.
func (h AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Sessions == nil {
		logger.Error("auth bridge not wired", "users", h.Users != nil, "sessions", h.Sessions != nil)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "authentication services unavailable"})
		return
	}
	if !h.bridgeAuthorized(r) {
		logger.Warn("auth bridge rejected caller", "client_ip", middleware.ClientIP(r))
		respondJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "invalid bridge credentials"})
		return
	}

	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{
			Error:  "externalId is required",
			Fields: map[string]string{"externalId": "is required"},
		})
		return
	}

	// Accounts only exist once the identity webhook has created them.
	user, err := h.Users.FindByExternalID(ctx, externalID)
	if errors.Is(err, repositories.ErrNotFound) {
		logger.Warn("auth bridge for unprovisioned identity", "external_id", externalID)
	}
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	tokens, err := h.Sessions.Issue(ctx, user.ID)
	if err != nil {
		logger.Error("issue bridge session", "error", err, "user_id", user.ID)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "failed to create session"})
		return
	}
	respondJSON(ctx, w, http.StatusOK, authResponse{User: &user, Tokens: tokens})
}

func (h AuthHandler) bridgeAuthorized(r *http.Request) bool {
	if h.BridgeSecret == "" {
		return false
	}
	presented := r.Header.Get(BridgeSecretHeader)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.BridgeSecret)) == 1
}

// Refresh handles POST /api/auth/refresh. Spent, revoked and expired refresh
// tokens all answer 401 so clients fall back to the bridge.
func (h AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Sessions == nil {
		logging.FromContext(ctx).Error("auth refresh not wired")
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "session service unavailable"})
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{
			Error:  "refresh token is required",
			Fields: map[string]string{"refreshToken": "is required"},
		})
		return
	}

	tokens, err := h.Sessions.Refresh(ctx, token)
	switch {
	case err == nil:
		respondJSON(ctx, w, http.StatusOK, authResponse{Tokens: tokens})
	case errors.Is(err, auth.ErrRefreshTokenExpired), errors.Is(err, auth.ErrSessionNotFound):
		respondJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "unable to refresh session"})
	default:
		respondError(ctx, w, err)
	}
}

// Logout revokes the presented refresh token. Unknown tokens are not an error.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	if token := strings.TrimSpace(req.RefreshToken); token != "" && h.Sessions != nil {
		h.Sessions.Revoke(ctx, token)
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionRequest struct {
	ExternalID string `json:"externalId"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authResponse struct {
	User   *models.User         `json:"user,omitempty"`
	Tokens models.SessionTokens `json:"tokens"`
}
