package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/events"
	"github.com/oralhistory/backend/internal/lifecycle"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/notify"
	"github.com/oralhistory/backend/internal/repositories"
	"github.com/oralhistory/backend/internal/storage"
	"github.com/oralhistory/backend/internal/transcripts"
	"github.com/oralhistory/backend/internal/validation"
)

const maxTranscriptLength = 200_000

var strictPolicy = bluemonday.StrictPolicy()

// TranscriptView is the owner-facing projection of the current transcript.
type TranscriptView struct {
	Transcript  models.Transcript `json:"transcript"`
	DisplayText string            `json:"displayText"`
	Speakers    []string          `json:"speakers"`
	Timed       bool              `json:"timed"`
	Editable    bool              `json:"editable"`
}

func (s *Service) transcriptView(ctx context.Context, asset models.MediaAsset, t models.Transcript) TranscriptView {
	t.SRTURL = s.signedURL(ctx, t.SRTURL)
	t.VTTURL = s.signedURL(ctx, t.VTTURL)
	if t.SpeakerMappings == nil {
		t.SpeakerMappings = map[string]string{}
	}
	speakers := transcripts.Speakers(t.Text)
	if speakers == nil {
		speakers = []string{}
	}
	return TranscriptView{
		Transcript:  t,
		DisplayText: transcripts.DisplayText(t.Text),
		Speakers:    speakers,
		Timed:       transcripts.Timed(t.Text),
		Editable:    asset.Stage == lifecycle.StageOwnerReview && !t.UserApproved,
	}
}

// signedURL turns a stored object URL into one the caller can read.
func (s *Service) signedURL(ctx context.Context, stored string) string {
	if stored == "" || s.urls == nil {
		return stored
	}
	signed, err := s.urls.URL(ctx, storage.KeyFromURL(stored))
	if err != nil {
		return ""
	}
	return signed
}

// GetTranscript returns the current transcript to the owner or an admin.
func (s *Service) GetTranscript(ctx context.Context, p auth.Principal, mediaID string) (TranscriptView, error) {
	asset, err := s.managedAsset(ctx, p, mediaID)
	if err != nil {
		return TranscriptView{}, err
	}
	t, err := s.transcripts.Current(ctx, mediaID)
	if err != nil {
		return TranscriptView{}, err
	}
	return s.transcriptView(ctx, asset, t), nil
}

// checkEditable fails fast before slow work; the repository re-checks under lock.
func (s *Service) checkEditable(ctx context.Context, p auth.Principal, mediaID string) (models.MediaAsset, models.Transcript, error) {
	asset, err := s.ownedAsset(ctx, p, mediaID)
	if err != nil {
		return models.MediaAsset{}, models.Transcript{}, err
	}
	t, err := s.transcripts.Current(ctx, mediaID)
	if err != nil {
		return models.MediaAsset{}, models.Transcript{}, err
	}
	if t.UserApproved {
		return models.MediaAsset{}, models.Transcript{}, lifecycle.ErrTranscriptFinalized
	}
	if err := lifecycle.CanEditTranscript(asset.Stage); err != nil {
		return models.MediaAsset{}, models.Transcript{}, err
	}
	return asset, t, nil
}

func (s *Service) updateTranscript(ctx context.Context, p auth.Principal, mediaID string, mutate repositories.TranscriptMutator) (TranscriptView, error) {
	asset, _, err := s.checkEditable(ctx, p, mediaID)
	if err != nil {
		return TranscriptView{}, err
	}
	t, err := s.transcripts.UpdateContent(ctx, mediaID, mutate)
	if err != nil {
		return TranscriptView{}, err
	}
	return s.transcriptView(ctx, asset, t), nil
}

// RelabelSpeaker renames one speaker throughout the current transcript.
func (s *Service) RelabelSpeaker(ctx context.Context, p auth.Principal, mediaID, from, to string) (TranscriptView, error) {
	from = strings.TrimSpace(from)
	if from == "" {
		return TranscriptView{}, validation.Field("from", "is required")
	}
	return s.updateTranscript(ctx, p, mediaID, func(t *models.Transcript) error {
		t.Text, t.SpeakerMappings = transcripts.RelabelSpeaker(t.Text, t.SpeakerMappings, from, to)
		return nil
	})
}

// ReanalyzeSpeakers asks the analyzer to correct speaker attribution using
// mappings as a hint and stores the result.
func (s *Service) ReanalyzeSpeakers(ctx context.Context, p auth.Principal, mediaID string, mappings map[string]string) (TranscriptView, error) {
	asset, current, err := s.checkEditable(ctx, p, mediaID)
	if err != nil {
		return TranscriptView{}, err
	}

	merged := make(map[string]string, len(current.SpeakerMappings)+len(mappings))
	for id, name := range current.SpeakerMappings {
		merged[id] = name
	}
	for id, name := range mappings {
		if name = transcripts.NormalizeLabel(name); strings.TrimSpace(id) != "" && name != "" {
			merged[strings.TrimSpace(id)] = name
		}
	}

	corrected, err := s.analyzer.Reanalyze(ctx, transcripts.RestoreIDs(current.Text, current.SpeakerMappings), merged)
	if err != nil {
		return TranscriptView{}, fmt.Errorf("reanalyze speakers: %w", err)
	}

	t, err := s.transcripts.UpdateContent(ctx, mediaID, func(t *models.Transcript) error {
		if t.ID != current.ID || t.Text != current.Text {
			return fmt.Errorf("%w: transcript changed during analysis", repositories.ErrConflict)
		}
		t.Text = corrected
		t.SpeakerMappings = merged
		return nil
	})
	if err != nil {
		return TranscriptView{}, err
	}
	return s.transcriptView(ctx, asset, t), nil
}

// SanitizeTranscript strips markup from free-hand transcript text and
// decodes entities. The result is plain text: it is stored once, never
// sanitized again, and clients escape it when rendering.
func SanitizeTranscript(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(text)))
}

func validateTranscript(text string) (string, error) {
	clean := SanitizeTranscript(text)
	switch {
	case clean == "":
		return "", validation.Field("text", "is required")
	case utf8.RuneCountInString(clean) > maxTranscriptLength:
		return "", validation.Fieldf("text", "must be at most %d characters", maxTranscriptLength)
	}
	return clean, nil
}

// EditTranscript replaces the transcript with free-hand text.
func (s *Service) EditTranscript(ctx context.Context, p auth.Principal, mediaID, text string) (TranscriptView, error) {
	clean, err := validateTranscript(text)
	if err != nil {
		return TranscriptView{}, err
	}
	return s.updateTranscript(ctx, p, mediaID, func(t *models.Transcript) error {
		t.Text = clean
		return nil
	})
}

// FinalizeTranscript locks the transcript and submits the asset for admin approval.
func (s *Service) FinalizeTranscript(ctx context.Context, p auth.Principal, mediaID string, confirm bool) (models.MediaAsset, error) {
	if !confirm {
		return models.MediaAsset{}, validation.Field("confirm", "must be true")
	}
	if _, err := s.ownedAsset(ctx, p, mediaID); err != nil {
		return models.MediaAsset{}, err
	}
	asset, _, err := s.transcripts.Finalize(ctx, mediaID)
	if err != nil {
		return models.MediaAsset{}, err
	}
	s.announceSubmission(ctx, asset)
	return s.present(ctx, asset), nil
}

// SkipTranscript submits an asset whose transcription failed without a transcript.
func (s *Service) SkipTranscript(ctx context.Context, p auth.Principal, mediaID string) (models.MediaAsset, error) {
	if _, err := s.ownedAsset(ctx, p, mediaID); err != nil {
		return models.MediaAsset{}, err
	}
	asset, err := s.media.Transition(ctx, mediaID, lifecycle.EventOwnerSkippedTranscript, func(a *models.MediaAsset) error {
		a.Notes = "submitted without transcript"
		return nil
	})
	if err != nil {
		return models.MediaAsset{}, err
	}
	s.announceSubmission(ctx, asset)
	return s.present(ctx, asset), nil
}

func (s *Service) announceSubmission(ctx context.Context, asset models.MediaAsset) {
	s.notifyAdmins(ctx, notify.Input{
		Type:    notify.TypeMediaPendingApproval,
		Title:   "Video awaiting approval",
		Message: fmt.Sprintf("%q is ready for final review.", asset.Name),
		Link:    "/admin/user-media",
	})
}

// DetailsInput is a partial update of an asset. Nil fields are left alone.
type DetailsInput struct {
	Name            string
	Description     *string
	Visibility      *lifecycle.Visibility
	Transcript      *string
	SpeakerMappings map[string]string
}

// UpdateDetails applies an owner edit of name, description, transcript,
// speaker labels and visibility. Every precondition is checked before the
// first write, so a refused edit changes nothing.
func (s *Service) UpdateDetails(ctx context.Context, p auth.Principal, mediaID string, in DetailsInput) (models.MediaAsset, error) {
	asset, err := s.ownedAsset(ctx, p, mediaID)
	if err != nil {
		return models.MediaAsset{}, err
	}

	name := strings.TrimSpace(in.Name)
	description := asset.Description
	if in.Description != nil {
		description = strings.TrimSpace(*in.Description)
	}
	c := validation.Collector{}
	validateDetails(c, name, description)
	if in.Visibility != nil {
		if _, err := lifecycle.ParseVisibility(string(*in.Visibility)); err != nil {
			c.Add("visibility", "must be one of PRIVATE FRIENDS PUBLIC")
		}
	}
	var transcriptText string
	if in.Transcript != nil {
		clean, err := validateTranscript(*in.Transcript)
		var verr *validation.Error
		if errors.As(err, &verr) {
			for field, msg := range verr.Fields {
				c.Add("transcript."+field, msg)
			}
		}
		transcriptText = clean
	}
	if err := c.Err(); err != nil {
		return models.MediaAsset{}, err
	}

	changeVisibility := in.Visibility != nil && *in.Visibility != asset.Visibility
	if changeVisibility {
		if err := lifecycle.CanSetVisibility(asset.Stage); err != nil {
			return models.MediaAsset{}, err
		}
	}
	editTranscript := in.Transcript != nil || len(in.SpeakerMappings) > 0
	if editTranscript {
		if _, _, err := s.checkEditable(ctx, p, mediaID); err != nil {
			return models.MediaAsset{}, err
		}
	}

	if editTranscript {
		ids := make([]string, 0, len(in.SpeakerMappings))
		for id := range in.SpeakerMappings {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if _, err := s.transcripts.UpdateContent(ctx, mediaID, func(t *models.Transcript) error {
			if in.Transcript != nil {
				t.Text = transcriptText
			}
			for _, id := range ids {
				t.Text, t.SpeakerMappings = transcripts.RelabelSpeaker(t.Text, t.SpeakerMappings, id, in.SpeakerMappings[id])
			}
			return nil
		}); err != nil {
			return models.MediaAsset{}, err
		}
	}

	eventType := events.TypeMediaUpdated
	if changeVisibility {
		eventType = events.TypeMediaVisibilityChanged
	}
	asset, err = s.media.Update(ctx, mediaID, eventType, func(a *models.MediaAsset) error {
		if changeVisibility {
			if err := lifecycle.CanSetVisibility(a.Stage); err != nil {
				return err
			}
			a.Visibility = *in.Visibility
			a.RequestedVisibility = *in.Visibility
		}
		a.Name = name
		a.Description = description
		return nil
	})
	if err != nil {
		return models.MediaAsset{}, err
	}

	if changeVisibility {
		if err := s.applyObjectVisibility(ctx, asset); err != nil {
			return models.MediaAsset{}, err
		}
	}
	return s.present(ctx, asset), nil
}
