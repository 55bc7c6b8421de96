package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/events"
	"github.com/oralhistory/backend/internal/lifecycle"
	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/notify"
	"github.com/oralhistory/backend/internal/validation"
)

const maxNotesLength = 2000

// ListPendingApproval returns assets awaiting the admin decision. With
// requireTranscript only assets with a finalized transcript are listed.
func (s *Service) ListPendingApproval(ctx context.Context, p auth.Principal, requireTranscript bool) ([]models.MediaAsset, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}
	assets, err := s.media.ListPendingApproval(ctx, requireTranscript, 100)
	if err != nil {
		return nil, err
	}
	return s.presentAll(ctx, assets), nil
}

// FinalApprove records the one-shot admin decision on a submitted asset.
// Approved assets stay private until the owner publishes them.
func (s *Service) FinalApprove(ctx context.Context, p auth.Principal, mediaID string, approve bool, notes string) (models.MediaAsset, error) {
	if err := p.RequireAdmin(); err != nil {
		return models.MediaAsset{}, err
	}
	notes = strings.TrimSpace(notes)
	if len([]rune(notes)) > maxNotesLength {
		return models.MediaAsset{}, validation.Fieldf("notes", "must be at most %d characters", maxNotesLength)
	}

	e := lifecycle.EventAdminRejected
	if approve {
		e = lifecycle.EventAdminApproved
	}
	asset, err := s.media.Transition(ctx, mediaID, e, func(a *models.MediaAsset) error {
		a.Notes = notes
		return nil
	})
	if err != nil {
		return models.MediaAsset{}, err
	}

	logging.FromContext(ctx).Info("final approval recorded",
		slog.String("media_id", mediaID),
		slog.Bool("approved", approve),
		slog.String("admin_id", p.UserID),
	)

	in := notify.Input{
		Type:    notify.TypeMediaApproved,
		Title:   "Video approved",
		Message: fmt.Sprintf("%q was approved. Choose who can see it.", asset.Name),
		Link:    videoLink(asset.ID),
	}
	if !approve {
		in.Type = notify.TypeMediaRejected
		in.Title = "Video not approved"
		in.Message = fmt.Sprintf("%q was not approved and will stay private.", asset.Name)
		if notes != "" {
			in.Message += " Notes: " + notes
		}
	}
	s.notify(ctx, asset.OwnerID, in)
	return s.present(ctx, asset), nil
}

// SetVisibility publishes an approved asset to friends or everyone, or
// makes it private again.
func (s *Service) SetVisibility(ctx context.Context, p auth.Principal, mediaID string, v lifecycle.Visibility) (models.MediaAsset, error) {
	if _, err := lifecycle.ParseVisibility(string(v)); err != nil {
		return models.MediaAsset{}, validation.Field("visibility", "must be one of PRIVATE FRIENDS PUBLIC")
	}
	asset, err := s.ownedAsset(ctx, p, mediaID)
	if err != nil {
		return models.MediaAsset{}, err
	}
	if err := lifecycle.CanSetVisibility(asset.Stage); err != nil {
		return models.MediaAsset{}, err
	}

	asset, err = s.media.Update(ctx, mediaID, events.TypeMediaVisibilityChanged, func(a *models.MediaAsset) error {
		if err := lifecycle.CanSetVisibility(a.Stage); err != nil {
			return err
		}
		a.Visibility = v
		a.RequestedVisibility = v
		return nil
	})
	if err != nil {
		return models.MediaAsset{}, err
	}

	if err := s.applyObjectVisibility(ctx, asset); err != nil {
		return models.MediaAsset{}, err
	}
	return s.present(ctx, asset), nil
}

// applyObjectVisibility makes the stored object match the asset's
// visibility and drops cached copies.
func (s *Service) applyObjectVisibility(ctx context.Context, asset models.MediaAsset) error {
	if err := s.store.SetObjectVisibility(ctx, asset.ObjectKey, asset.Visibility == lifecycle.VisibilityPublic); err != nil {
		return fmt.Errorf("set object acl: %w", err)
	}
	s.purge(ctx, asset.ObjectKey)
	return nil
}
