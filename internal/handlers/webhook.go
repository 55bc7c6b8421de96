package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/pipeline"
	"github.com/oralhistory/backend/internal/validation"
	"github.com/oralhistory/backend/internal/webhooks"
)

const maxWebhookBody = 1 << 20

// WebhookHandler ingests identity provider user events.
type WebhookHandler struct {
	Processor WebhookProcessor
}

// Handle implements POST /api/webhook.
func (h WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.Processor == nil {
		logging.FromContext(ctx).Error("webhook processor unavailable")
		respondJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "webhooks are not configured"})
		return
	}

	headers, err := webhooks.HeadersFrom(r.Header)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(ctx, w, validation.Wrap(pipeline.ErrPayloadTooLarge, "body", "is too large"))
			return
		}
		respondError(ctx, w, validation.Field("body", "could not be read"))
		return
	}

	outcome, err := h.Processor.Process(ctx, headers, body)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]string{"status": outcome})
}
