// Package contacts records contact form submissions.
package contacts

import (
	"context"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/repositories"
	"github.com/oralhistory/backend/internal/validation"
)

// Input is a contact form submission.
type Input struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"required,email,max=320"`
	Comment string `json:"comment" validate:"required,max=5000"`
	UserID  string `json:"userId,omitempty"`
}

// Service stores and lists submissions.
type Service struct {
	repo   repositories.ContactRepository
	policy *bluemonday.Policy
	now    func() time.Time
}

// NewService wires the contacts service.
func NewService(repo repositories.ContactRepository) *Service {
	return &Service{repo: repo, policy: bluemonday.StrictPolicy(), now: time.Now}
}

func (s *Service) clean(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(strings.TrimSpace(v))))
}

// Submit validates and stores a submission. Signed-in callers are linked to
// the submission regardless of the userId they send.
func (s *Service) Submit(ctx context.Context, p auth.Principal, in Input) (models.Contact, error) {
	in.Name = s.clean(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Comment = s.clean(in.Comment)
	if err := validation.Struct(in); err != nil {
		return models.Contact{}, err
	}

	contact := models.Contact{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Email:     in.Email,
		Comment:   in.Comment,
		CreatedAt: s.now().UTC(),
	}
	if p.Authenticated() {
		contact.UserID = p.UserID
	}
	if err := s.repo.Create(ctx, contact); err != nil {
		return models.Contact{}, err
	}
	return contact, nil
}

// ListRecent returns the 100 newest submissions to an administrator.
func (s *Service) ListRecent(ctx context.Context, p auth.Principal) ([]models.Contact, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}
	contacts, err := s.repo.ListRecent(ctx, 100)
	if err != nil {
		return nil, err
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	return contacts, nil
}
