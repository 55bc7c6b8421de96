package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/lifecycle"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/pipeline"
	"github.com/oralhistory/backend/internal/validation"
)

const (
	multipartMemory   = 8 << 20
	multipartOverhead = 1 << 20
	defaultMaxUpload  = 500 << 20
	defaultMaxPoster  = 10 << 20
)

// MediaHandler exposes the media pipeline: uploads, owner review, reads and
// the admin approval queue.
type MediaHandler struct {
	Media          MediaService
	MaxUploadBytes int64
	MaxPosterBytes int64
}

// Upload handles POST /api/user-media as multipart form data with the
// fields file, name and description.
func (h MediaHandler) Upload(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUpload
	}

	file, header, cleanup, err := readMultipartFile(w, r, "file", limit)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	defer cleanup()
	defer file.Close()

	asset, err := h.Media.Ingest(ctx, p, pipeline.UploadInput{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, map[string]any{"media": asset})
}

// readMultipartFile parses a bounded multipart body and opens field. Parts
// beyond the in-memory threshold spill to temporary files removed by cleanup.
func readMultipartFile(w http.ResponseWriter, r *http.Request, field string, limit int64) (multipart.File, *multipart.FileHeader, func(), error) {
	noop := func() {}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return nil, nil, noop, validation.Wrap(pipeline.ErrPayloadTooLarge, field,
				"must be at most "+humanize.IBytes(uint64(limit)))
		}
		return nil, nil, noop, validation.Field(field, "must be sent as multipart form data")
	}
	cleanup := func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		cleanup()
		return nil, nil, noop, validation.Field(field, "is required")
	}
	return file, header, cleanup, nil
}

// ListMine handles GET /api/videos.
func (h MediaHandler) ListMine(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	limit, offset := page(r)
	assets, err := h.Media.ListMine(ctx, p, limit, offset)
	h.respondList(w, r, "videos", assets, err)
}

// Feed handles GET /api/videos/feed.
func (h MediaHandler) Feed(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	limit, offset := page(r)
	assets, err := h.Media.ListFriendsFeed(ctx, p, limit, offset)
	h.respondList(w, r, "videos", assets, err)
}

// Public handles GET /api/videos/public.
func (h MediaHandler) Public(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset := page(r)
	assets, err := h.Media.ListPublic(ctx, limit, offset)
	h.respondList(w, r, "videos", assets, err)
}

func (h MediaHandler) respondList(w http.ResponseWriter, r *http.Request, key string, assets []models.MediaAsset, err error) {
	ctx := r.Context()
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if assets == nil {
		assets = []models.MediaAsset{}
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{key: assets})
}

// Get handles GET /api/videos/{id}. Anonymous callers see public videos only.
func (h MediaHandler) Get(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	asset, err := h.Media.Get(ctx, p, chi.URLParam(r, "id"))
	h.respondAsset(w, r, http.StatusOK, asset, err)
}

func (h MediaHandler) respondAsset(w http.ResponseWriter, r *http.Request, status int, asset models.MediaAsset, err error) {
	ctx := r.Context()
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, status, map[string]any{"media": asset})
}

type updateRequest struct {
	Name            string                `json:"name"`
	Description     *string               `json:"description"`
	Visibility      *lifecycle.Visibility `json:"visibility"`
	Transcript      *string               `json:"transcript"`
	SpeakerMappings map[string]string     `json:"speakerMappings"`
}

// Update handles PATCH /api/videos/{id}.
func (h MediaHandler) Update(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	asset, err := h.Media.UpdateDetails(ctx, p, chi.URLParam(r, "id"), pipeline.DetailsInput{
		Name:            req.Name,
		Description:     req.Description,
		Visibility:      req.Visibility,
		Transcript:      req.Transcript,
		SpeakerMappings: req.SpeakerMappings,
	})
	h.respondAsset(w, r, http.StatusOK, asset, err)
}

// Delete handles DELETE /api/videos/{id}.
func (h MediaHandler) Delete(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	if err := h.Media.Delete(ctx, p, chi.URLParam(r, "id")); err != nil {
		respondError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Poster handles POST /api/videos/{id}/poster with a multipart "poster" image.
func (h MediaHandler) Poster(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	limit := h.MaxPosterBytes
	if limit <= 0 {
		limit = defaultMaxPoster
	}

	file, header, cleanup, err := readMultipartFile(w, r, "poster", limit)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	defer cleanup()
	defer file.Close()

	asset, err := h.Media.SetPoster(ctx, p, chi.URLParam(r, "id"), pipeline.PosterInput{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	h.respondAsset(w, r, http.StatusOK, asset, err)
}

// RelabelSpeaker handles POST /api/videos/{id}/speakers.
func (h MediaHandler) RelabelSpeaker(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	view, err := h.Media.RelabelSpeaker(ctx, p, chi.URLParam(r, "id"), req.From, req.To)
	h.respondTranscript(w, r, view, err)
}

// ReanalyzeSpeakers handles POST /api/videos/{id}/reanalyze-speakers.
func (h MediaHandler) ReanalyzeSpeakers(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	var req struct {
		SpeakerMappings map[string]string `json:"speakerMappings"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	view, err := h.Media.ReanalyzeSpeakers(ctx, p, chi.URLParam(r, "id"), req.SpeakerMappings)
	h.respondTranscript(w, r, view, err)
}

// Status handles GET /api/media/{id}/status.
func (h MediaHandler) Status(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	view, err := h.Media.Status(ctx, p, chi.URLParam(r, "id"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, view)
}

// Transcript handles GET /api/user-media/{id}/transcript.
func (h MediaHandler) Transcript(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	view, err := h.Media.GetTranscript(r.Context(), p, chi.URLParam(r, "id"))
	h.respondTranscript(w, r, view, err)
}

// EditTranscript handles PUT /api/user-media/{id}/transcript.
func (h MediaHandler) EditTranscript(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	view, err := h.Media.EditTranscript(ctx, p, chi.URLParam(r, "id"), req.Text)
	h.respondTranscript(w, r, view, err)
}

func (h MediaHandler) respondTranscript(w http.ResponseWriter, r *http.Request, view pipeline.TranscriptView, err error) {
	ctx := r.Context()
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, view)
}

// Finalize handles POST /api/user-media/{id}/approve, the owner's sign-off
// on the transcript.
func (h MediaHandler) Finalize(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	asset, err := h.Media.FinalizeTranscript(ctx, p, chi.URLParam(r, "id"), req.Confirm)
	h.respondAsset(w, r, http.StatusOK, asset, err)
}

// SkipTranscript handles POST /api/user-media/{id}/skip-transcript.
func (h MediaHandler) SkipTranscript(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	asset, err := h.Media.SkipTranscript(r.Context(), p, chi.URLParam(r, "id"))
	h.respondAsset(w, r, http.StatusOK, asset, err)
}

// PendingApproval handles GET /api/admin/user-media?requireTranscript=true.
func (h MediaHandler) PendingApproval(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	requireTranscript, _ := strconv.ParseBool(r.URL.Query().Get("requireTranscript"))
	assets, err := h.Media.ListPendingApproval(r.Context(), p, requireTranscript)
	h.respondList(w, r, "media", assets, err)
}

// FinalApprove handles POST /api/admin/user-media/{id}/final-approve.
func (h MediaHandler) FinalApprove(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ctx := r.Context()
	var req struct {
		Approve *bool  `json:"approve"`
		Notes   string `json:"notes"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	if req.Approve == nil {
		respondError(ctx, w, validation.Field("approve", "is required"))
		return
	}
	asset, err := h.Media.FinalApprove(ctx, p, chi.URLParam(r, "id"), *req.Approve, req.Notes)
	h.respondAsset(w, r, http.StatusOK, asset, err)
}

// Retry handles POST /api/admin/user-media/{id}/retry.
func (h MediaHandler) Retry(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	asset, err := h.Media.Retry(r.Context(), p, chi.URLParam(r, "id"))
	h.respondAsset(w, r, http.StatusAccepted, asset, err)
}
