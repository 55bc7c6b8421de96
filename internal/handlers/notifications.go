package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/notify"
	"github.com/oralhistory/backend/internal/validation"
)

const defaultHeartbeat = 25 * time.Second

// NotificationHandler serves notification listings, read markers and the
// live event stream.
type NotificationHandler struct {
	Notifications NotificationService
	Heartbeat     time.Duration
}

// List handles GET /api/notifications?unread=true&limit=N.
func (h NotificationHandler) List(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	limit, _ := page(r)
	if r.URL.Query().Get("limit") == "" {
		limit = 50
	}
	items, err := h.Notifications.List(ctx, p, unreadOnly, limit)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"notifications": items})
}

// UnreadCount handles GET /api/notifications/unread-count.
func (h NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	count, err := h.Notifications.UnreadCount(ctx, p)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]int{"count": count})
}

// MarkRead handles PATCH /api/notifications/{id}/read.
func (h NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	if err := h.Notifications.MarkRead(ctx, p, chi.URLParam(r, "id")); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

// MarkAllRead handles POST /api/notifications/mark-all-read.
func (h NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	n, err := h.Notifications.MarkAllRead(ctx, p)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]int64{"updated": n})
}

type sendRequest struct {
	UserID string `json:"userId" validate:"required"`
	notify.Input
}

// Send handles POST /api/admin/notifications/send.
func (h NotificationHandler) Send(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	if err := p.RequireAdmin(); err != nil {
		respondError(ctx, w, err)
		return
	}
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.Type == "" {
		req.Type = notify.TypeAnnouncement
	}
	if err := validation.Struct(req); err != nil {
		respondError(ctx, w, err)
		return
	}
	n, err := h.Notifications.Notify(ctx, req.UserID, req.Input)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, map[string]any{"success": true, "notification": n})
}

// Stream handles GET /api/notifications/stream as server-sent events. The
// client receives connected, then the unread count, then live events.
func (h NotificationHandler) Stream(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	events, cancel, err := h.Notifications.Subscribe(p)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	defer cancel()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn("clear stream write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(evt notify.Event) error {
		payload, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		return rc.Flush()
	}

	if err := send(notify.Connected()); err != nil {
		return
	}
	if count, err := h.Notifications.UnreadCount(ctx, p); err == nil {
		if err := send(notify.CountUpdate(count)); err != nil {
			return
		}
	} else {
		logger.Warn("initial unread count", "error", err)
	}

	interval := h.Heartbeat
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := send(evt); err != nil {
				logger.Debug("notification stream closed", "error", err)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
