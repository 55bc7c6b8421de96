// Package events defines the domain events written to the transactional
// outbox and the relay that forwards them to the message bus.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oralhistory/backend/internal/lifecycle"
	"github.com/oralhistory/backend/internal/models"
)

const (
	TypeMediaCreated           = "media.created"
	TypeMediaUpdated           = "media.updated"
	TypeMediaVisibilityChanged = "media.visibility_changed"
	TypeMediaDeleted           = "media.deleted"
)

// Event is a domain event ready to be stored in the outbox.
type Event struct {
	ID          string
	Type        string
	AggregateID string
	OccurredAt  time.Time
	Payload     json.RawMessage
}

// Record is an outbox row awaiting publication.
type Record struct {
	ID          int64     `db:"id"`
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	AggregateID string    `db:"aggregate_id"`
	Payload     []byte    `db:"payload"`
	OccurredAt  time.Time `db:"occurred_at"`
}

// MediaSnapshot is the payload carried by media events.
type MediaSnapshot struct {
	MediaID          string                     `json:"mediaId"`
	OwnerID          string                     `json:"ownerId"`
	Stage            lifecycle.Stage            `json:"stage"`
	ModerationStatus lifecycle.ModerationStatus `json:"moderationStatus"`
	ApprovalStatus   lifecycle.ApprovalStatus   `json:"approvalStatus"`
	Visibility       lifecycle.Visibility       `json:"visibility"`
	ObjectKey        string                     `json:"objectKey,omitempty"`
	OccurredAt       time.Time                  `json:"occurredAt"`
}

// TypeForTransition names the event emitted when a lifecycle event is applied.
func TypeForTransition(e lifecycle.Event) string {
	return "media." + string(e)
}

// NewMediaEvent snapshots the asset into an event of the given type.
func NewMediaEvent(eventType string, asset models.MediaAsset, now time.Time) (Event, error) {
	snapshot := MediaSnapshot{
		MediaID:          asset.ID,
		OwnerID:          asset.OwnerID,
		Stage:            asset.Stage,
		ModerationStatus: asset.ModerationStatus,
		ApprovalStatus:   asset.ApprovalStatus,
		Visibility:       asset.Visibility,
		ObjectKey:        asset.ObjectKey,
		OccurredAt:       now.UTC(),
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		AggregateID: asset.ID,
		OccurredAt:  now.UTC(),
		Payload:     payload,
	}, nil
}

// envelope is the message body published to the bus.
type envelope struct {
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType"`
	AggregateID string          `json:"aggregateId"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Data        json.RawMessage `json:"data"`
}

func (r Record) encode() ([]byte, error) {
	return json.Marshal(envelope{
		EventID:     r.EventID,
		EventType:   r.EventType,
		AggregateID: r.AggregateID,
		OccurredAt:  r.OccurredAt,
		Data:        json.RawMessage(r.Payload),
	})
}
