package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/content"
	"github.com/oralhistory/backend/internal/lifecycle"
	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/pipeline"
	"github.com/oralhistory/backend/internal/repositories"
	"github.com/oralhistory/backend/internal/validation"
	"github.com/oralhistory/backend/internal/webhooks"
)

const maxJSONBody = 1 << 20

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// principalHandlerFunc receives the caller explicitly. Anonymous callers on
// optional-auth routes arrive as the zero Principal.
type principalHandlerFunc func(w http.ResponseWriter, r *http.Request, p auth.Principal)

func withPrincipal(h principalHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.PrincipalFromContext(r.Context())
		h(w, r, p)
	}
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

// respondError maps domain errors onto HTTP statuses. Anything unrecognised
// is logged with its cause and answered with a generic 500.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, pipeline.ErrPayloadTooLarge):
			status = http.StatusRequestEntityTooLarge
		case errors.Is(err, pipeline.ErrUnsupportedMediaType):
			status = http.StatusUnsupportedMediaType
		}
		respondJSON(ctx, w, status, errorResponse{Error: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, validation.ErrInvalid),
		errors.Is(err, lifecycle.ErrInvalidVisibility),
		webhooks.IsClientError(err):
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrSessionNotFound),
		errors.Is(err, auth.ErrRefreshTokenExpired),
		errors.Is(err, auth.ErrAccessTokenExpired):
		respondJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.Is(err, auth.ErrForbidden):
		respondJSON(ctx, w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, repositories.ErrNotFound), errors.Is(err, content.ErrNotFound):
		respondJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, repositories.ErrConflict),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrVisibilityLocked),
		errors.Is(err, lifecycle.ErrTranscriptLocked),
		errors.Is(err, lifecycle.ErrTranscriptFinalized):
		respondJSON(ctx, w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		logging.FromContext(ctx).Error("unhandled request error", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return validation.Wrap(pipeline.ErrPayloadTooLarge, "body", "is too large")
		}
		return validation.Field("body", "must be valid JSON")
	}
	return nil
}

// page reads limit and offset query parameters, clamping limit to [1,100].
func page(r *http.Request) (limit, offset int) {
	limit = 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, 100)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
