package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// PageHandler serves the embedded informational pages.
type PageHandler struct {
	Pages PageLibrary
}

// List handles GET /api/pages.
func (h PageHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusOK, map[string]any{"pages": h.Pages.List()})
}

// Get handles GET /api/pages/{slug}.
func (h PageHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.Pages.Get(chi.URLParam(r, "slug"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	respondJSON(ctx, w, http.StatusOK, p)
}
