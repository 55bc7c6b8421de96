// Package lifecycle models the media approval pipeline as a single tagged
// state. Moderation status, approval status and effective visibility are
// projections of a Stage and are never stored independently of it.
package lifecycle

import (
	"errors"
	"fmt"
)

// Stage is the position of a media asset in the approval pipeline.
type Stage string

const (
	StageUploading           Stage = "uploading"
	StageUploadFailed        Stage = "upload_failed"
	StageAwaitingModeration  Stage = "awaiting_moderation"
	StageModerating          Stage = "moderating"
	StageModerationFailed    Stage = "moderation_failed"
	StageModerationRejected  Stage = "moderation_rejected"
	StageTranscribing        Stage = "transcribing"
	StageTranscriptionFailed Stage = "transcription_failed"
	StageOwnerReview         Stage = "owner_review"
	StagePendingApproval     Stage = "pending_approval"
	StageApproved            Stage = "approved"
	StageRejected            Stage = "rejected"
)

// Event is an input that moves an asset between stages.
type Event string

const (
	EventUploadStored           Event = "upload_stored"
	EventUploadFailed           Event = "upload_failed"
	EventModerationStarted      Event = "moderation_started"
	EventModerationPassed       Event = "moderation_passed"
	EventModerationFlagged      Event = "moderation_flagged"
	EventModerationErrored      Event = "moderation_errored"
	EventTranscriptionCompleted Event = "transcription_completed"
	EventTranscriptionErrored   Event = "transcription_errored"
	EventOwnerFinalized         Event = "owner_finalized"
	EventOwnerSkippedTranscript Event = "owner_skipped_transcript"
	EventAdminApproved          Event = "admin_approved"
	EventAdminRejected          Event = "admin_rejected"
	EventRetryRequested         Event = "retry_requested"
)

// ModerationStatus is the automated safety outcome derived from a Stage.
type ModerationStatus string

const (
	ModerationPending    ModerationStatus = "PENDING"
	ModerationProcessing ModerationStatus = "PROCESSING"
	ModerationApproved   ModerationStatus = "APPROVED"
	ModerationRejected   ModerationStatus = "REJECTED"
	ModerationFailed     ModerationStatus = "FAILED"
)

// ApprovalStatus is the human sign-off state derived from a Stage.
type ApprovalStatus string

const (
	ApprovalDraft           ApprovalStatus = "DRAFT"
	ApprovalPendingApproval ApprovalStatus = "PENDING_APPROVAL"
	ApprovalApproved        ApprovalStatus = "APPROVED"
	ApprovalRejected        ApprovalStatus = "REJECTED"
)

// Visibility controls who may read an asset.
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityFriends Visibility = "FRIENDS"
	VisibilityPublic  Visibility = "PUBLIC"
)

var (
	// ErrInvalidTransition indicates the event is not accepted in the current stage.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrUnknownStage indicates a stage value outside the enumerated set.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrUnknownEvent indicates an event value outside the enumerated set.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrVisibilityLocked indicates visibility cannot change before approval.
	ErrVisibilityLocked = errors.New("visibility can only change after approval")
	// ErrTranscriptLocked indicates the transcript is not open for owner edits.
	ErrTranscriptLocked = errors.New("transcript is not open for review")
	// ErrTranscriptFinalized indicates the owner already approved the transcript.
	ErrTranscriptFinalized = errors.New("transcript already finalized")
	// ErrInvalidVisibility indicates an unrecognised visibility value.
	ErrInvalidVisibility = errors.New("invalid visibility")
)

// TransitionError describes a rejected transition.
type TransitionError struct {
	From  Stage
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s on %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// AllStages lists every stage in pipeline order.
func AllStages() []Stage {
	return []Stage{
		StageUploading,
		StageUploadFailed,
		StageAwaitingModeration,
		StageModerating,
		StageModerationFailed,
		StageModerationRejected,
		StageTranscribing,
		StageTranscriptionFailed,
		StageOwnerReview,
		StagePendingApproval,
		StageApproved,
		StageRejected,
	}
}

// AllEvents lists every event.
func AllEvents() []Event {
	return []Event{
		EventUploadStored,
		EventUploadFailed,
		EventModerationStarted,
		EventModerationPassed,
		EventModerationFlagged,
		EventModerationErrored,
		EventTranscriptionCompleted,
		EventTranscriptionErrored,
		EventOwnerFinalized,
		EventOwnerSkippedTranscript,
		EventAdminApproved,
		EventAdminRejected,
		EventRetryRequested,
	}
}

// Valid reports whether s is one of the enumerated stages.
func (s Stage) Valid() bool {
	for _, known := range AllStages() {
		if s == known {
			return true
		}
	}
	return false
}

// Valid reports whether e is one of the enumerated events.
func (e Event) Valid() bool {
	for _, known := range AllEvents() {
		if e == known {
			return true
		}
	}
	return false
}

// ParseVisibility validates a visibility value supplied by a client.
func ParseVisibility(v string) (Visibility, error) {
	switch Visibility(v) {
	case VisibilityPrivate, VisibilityFriends, VisibilityPublic:
		return Visibility(v), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVisibility, v)
	}
}
