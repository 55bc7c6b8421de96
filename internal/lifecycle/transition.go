package lifecycle

import "fmt"

// Transition returns the stage reached by applying e in stage from. Every
// stage is handled explicitly; unknown inputs are errors rather than no-ops.
func Transition(from Stage, e Event) (Stage, error) {
	if !e.Valid() {
		return from, fmt.Errorf("%w: %q", ErrUnknownEvent, e)
	}

	var (
		next Stage
		ok   bool
	)

	switch from {
	case StageUploading:
		switch e {
		case EventUploadStored:
			next, ok = StageAwaitingModeration, true
		case EventUploadFailed:
			next, ok = StageUploadFailed, true
		}
	case StageAwaitingModeration:
		if e == EventModerationStarted {
			next, ok = StageModerating, true
		}
	case StageModerating:
		switch e {
		case EventModerationPassed:
			next, ok = StageTranscribing, true
		case EventModerationFlagged:
			next, ok = StageModerationRejected, true
		case EventModerationErrored:
			next, ok = StageModerationFailed, true
		}
	case StageModerationFailed:
		if e == EventRetryRequested {
			next, ok = StageAwaitingModeration, true
		}
	case StageTranscribing:
		switch e {
		case EventTranscriptionCompleted:
			next, ok = StageOwnerReview, true
		case EventTranscriptionErrored:
			next, ok = StageTranscriptionFailed, true
		}
	case StageTranscriptionFailed:
		switch e {
		case EventRetryRequested:
			next, ok = StageTranscribing, true
		case EventOwnerSkippedTranscript:
			next, ok = StagePendingApproval, true
		}
	case StageOwnerReview:
		if e == EventOwnerFinalized {
			next, ok = StagePendingApproval, true
		}
	case StagePendingApproval:
		switch e {
		case EventAdminApproved:
			next, ok = StageApproved, true
		case EventAdminRejected:
			next, ok = StageRejected, true
		}
	case StageUploadFailed, StageModerationRejected, StageApproved, StageRejected:
		// terminal
	default:
		return from, fmt.Errorf("%w: %q", ErrUnknownStage, from)
	}

	if !ok {
		return from, &TransitionError{From: from, Event: e}
	}
	return next, nil
}

// Terminal reports whether no further workflow events are accepted.
func (s Stage) Terminal() bool {
	switch s {
	case StageUploadFailed, StageModerationRejected, StageApproved, StageRejected:
		return true
	default:
		return false
	}
}

// Moderation projects the moderation status for the stage.
func (s Stage) Moderation() ModerationStatus {
	switch s {
	case StageUploading, StageAwaitingModeration:
		return ModerationPending
	case StageModerating:
		return ModerationProcessing
	case StageUploadFailed, StageModerationFailed:
		return ModerationFailed
	case StageModerationRejected:
		return ModerationRejected
	case StageTranscribing, StageTranscriptionFailed, StageOwnerReview,
		StagePendingApproval, StageApproved, StageRejected:
		return ModerationApproved
	default:
		return ModerationFailed
	}
}

// Approval projects the approval status for the stage.
func (s Stage) Approval() ApprovalStatus {
	switch s {
	case StagePendingApproval:
		return ApprovalPendingApproval
	case StageApproved:
		return ApprovalApproved
	case StageRejected, StageModerationRejected:
		return ApprovalRejected
	default:
		return ApprovalDraft
	}
}

// EffectiveVisibility returns the visibility readers observe. Anything short
// of an approved asset is private regardless of what the owner requested.
func EffectiveVisibility(s Stage, requested Visibility) Visibility {
	if s != StageApproved {
		return VisibilityPrivate
	}
	switch requested {
	case VisibilityFriends, VisibilityPublic:
		return requested
	default:
		return VisibilityPrivate
	}
}

// CanSetVisibility reports whether the owner may change visibility.
func CanSetVisibility(s Stage) error {
	if s != StageApproved {
		return ErrVisibilityLocked
	}
	return nil
}

// CanEditTranscript reports whether the owner may still change transcript content.
func CanEditTranscript(s Stage) error {
	if s != StageOwnerReview {
		return ErrTranscriptLocked
	}
	return nil
}

// Processing reports whether automated work is queued or running.
func (s Stage) Processing() bool {
	switch s {
	case StageUploading, StageAwaitingModeration, StageModerating, StageTranscribing:
		return true
	default:
		return false
	}
}
