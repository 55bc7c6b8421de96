package handlers

import (
	"net/http"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/contacts"
)

// ContactHandler accepts contact form submissions and lists them for admins.
type ContactHandler struct {
	Contacts ContactService
}

// Submit handles POST /api/contact. Signed-in callers are linked to the submission.
func (h ContactHandler) Submit(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	var in contacts.Input
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(ctx, w, err)
		return
	}
	contact, err := h.Contacts.Submit(ctx, p, in)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, map[string]any{"success": true, "contact": contact})
}

// List handles GET /api/admin/contacts.
func (h ContactHandler) List(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	items, err := h.Contacts.ListRecent(ctx, p)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"contacts": items})
}
