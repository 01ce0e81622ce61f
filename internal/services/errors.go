package services

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationError means the caller's input is malformed (blank fields, count
// mismatches, bad answer encodings). Correct the input and resubmit.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError means the caller acted on stale state (reorder id set no
// longer matches, quiz still referenced). Refetch and resubmit.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func conflictErrorf(format string, args ...interface{}) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// GenerationError means the generation gateway returned an invalid or
// incomplete result, after its single transient retry was spent.
type GenerationError struct {
	Reason string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %s", e.Reason)
}

// PublishBlockedError means the quiz still needs citation review; the caller
// may resubmit with the force override.
type PublishBlockedError struct {
	QuizID uuid.UUID
}

func (e *PublishBlockedError) Error() string {
	return fmt.Sprintf("quiz %s needs citation review before publishing", e.QuizID)
}

// NotFoundError identifies a missing entity by kind and id.
type NotFoundError struct {
	Kind string
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}
