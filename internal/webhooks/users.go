package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/validation"
)

// Event types handled by the processor.
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// Outcomes reported to the caller.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
)

// UserStore persists users mirrored from the identity provider.
type UserStore interface {
	Upsert(ctx context.Context, user models.User) (models.User, error)
	SoftDeleteByExternalID(ctx context.Context, externalID string, at time.Time) error
}

// Event is the envelope of an identity provider delivery.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type userData struct {
	ID                    string          `json:"id"`
	FirstName             string          `json:"first_name"`
	LastName              string          `json:"last_name"`
	ImageURL              string          `json:"image_url"`
	PrimaryEmailAddressID string          `json:"primary_email_address_id"`
	EmailAddresses        []emailAddress  `json:"email_addresses"`
	LastSignInAt          json.RawMessage `json:"last_sign_in_at"`
	UpdatedAt             json.RawMessage `json:"updated_at"`
	PublicMetadata        struct {
		Role string `json:"role"`
	} `json:"public_metadata"`
}

// Processor verifies deliveries and applies them to the user store.
type Processor struct {
	verifier *Verifier
	users    UserStore
	now      func() time.Time
}

// NewProcessor wires a processor.
func NewProcessor(verifier *Verifier, users UserStore) *Processor {
	return &Processor{verifier: verifier, users: users, now: time.Now}
}

// Process authenticates body and applies the event it carries. Replays of
// the same delivery are harmless because user writes are upserts.
func (p *Processor) Process(ctx context.Context, h Headers, body []byte) (string, error) {
	if err := p.verifier.Verify(h, body); err != nil {
		return "", err
	}

	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return "", validation.Field("body", "must be a JSON event")
	}
	logger := logging.FromContext(ctx).With(slog.String("svix_id", h.ID), slog.String("event", evt.Type))

	switch evt.Type {
	case EventUserCreated, EventUserUpdated:
		user, err := decodeUser(evt.Data)
		if err != nil {
			return "", err
		}
		if user.UpdatedAt.IsZero() {
			user.UpdatedAt = p.now().UTC()
		}
		stored, err := p.users.Upsert(ctx, user)
		if err != nil {
			return "", fmt.Errorf("upsert user: %w", err)
		}
		logger.Info("user synced", slog.String("user_id", stored.ID), slog.String("role", string(stored.Role)))
		return OutcomeProcessed, nil
	case EventUserDeleted:
		var data struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(evt.Data, &data); err != nil || data.ID == "" {
			return "", validation.Field("data.id", "is required")
		}
		if err := p.users.SoftDeleteByExternalID(ctx, data.ID, p.now().UTC()); err != nil {
			return "", fmt.Errorf("delete user: %w", err)
		}
		logger.Info("user deleted", slog.String("external_id", data.ID))
		return OutcomeProcessed, nil
	default:
		logger.Debug("webhook event ignored")
		return OutcomeIgnored, nil
	}
}

func decodeUser(raw json.RawMessage) (models.User, error) {
	var data userData
	if err := json.Unmarshal(raw, &data); err != nil {
		return models.User{}, validation.Field("data", "must be a user object")
	}
	if data.ID == "" {
		return models.User{}, validation.Field("data.id", "is required")
	}

	user := models.User{
		ExternalID: data.ID,
		Email:      primaryEmail(data),
		FullName:   strings.TrimSpace(strings.TrimSpace(data.FirstName) + " " + strings.TrimSpace(data.LastName)),
		ImageURL:   data.ImageURL,
		Role:       models.RoleUser,
	}
	if strings.EqualFold(strings.TrimSpace(data.PublicMetadata.Role), string(models.RoleAdmin)) {
		user.Role = models.RoleAdmin
	}
	if t, ok := parseTime(data.LastSignInAt); ok {
		user.LastSignInAt = &t
	}
	if t, ok := parseTime(data.UpdatedAt); ok {
		user.UpdatedAt = t
	}
	return user, nil
}

func primaryEmail(data userData) string {
	for _, e := range data.EmailAddresses {
		if e.ID == data.PrimaryEmailAddressID {
			return strings.TrimSpace(e.EmailAddress)
		}
	}
	if len(data.EmailAddresses) > 0 {
		return strings.TrimSpace(data.EmailAddresses[0].EmailAddress)
	}
	return ""
}

// parseTime accepts epoch seconds, epoch milliseconds, numeric strings and
// RFC 3339 strings. Values below 1e12 are seconds.
func parseTime(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		text = string(raw)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}

	if n, err := strconv.ParseFloat(text, 64); err == nil {
		if n < 1e12 {
			return time.UnixMilli(int64(n * 1000)).UTC(), true
		}
		return time.UnixMilli(int64(n)).UTC(), true
	}
	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// IsClientError reports whether err should be answered with 400.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingHeaders) || errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrTimestamp) || errors.Is(err, validation.ErrInvalid)
}
