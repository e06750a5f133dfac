package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain layer operations.
var (
	// ErrNotFound indicates that a requested entity was not found
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a uniqueness violation, such as subscribing a chat
	// to the same URL twice
	ErrConflict = errors.New("entity already exists")

	// ErrScheduleInconsistent is matched by every ScheduleInconsistencyError.
	ErrScheduleInconsistent = errors.New("schedule inconsistent")
)

// ValidationError represents a validation error with detailed field information.
// It is returned both for malformed user input and for rejected resilience
// configuration.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns a formatted error message for the validation error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Is reports ErrInvalidInput so callers can branch without a type assertion.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ScheduleInconsistencyError reports that a feed's schedule entry and the feed
// registry disagree after a removal or reconcile attempt.
//
// Index names the schedule index that still held the feed ("entries", "cron"
// or "store"). Passes counts consecutive reconcile passes that observed the
// mismatch; a value of 0 means the error came from a direct verification.
type ScheduleInconsistencyError struct {
	FeedID string
	Index  string
	Passes int
}

func (e *ScheduleInconsistencyError) Error() string {
	if e.Passes > 0 {
		return fmt.Sprintf("schedule inconsistency for feed %s in %s index (%d passes)", e.FeedID, e.Index, e.Passes)
	}
	return fmt.Sprintf("schedule inconsistency for feed %s in %s index", e.FeedID, e.Index)
}

// Is reports ErrScheduleInconsistent.
func (e *ScheduleInconsistencyError) Is(target error) bool {
	return target == ErrScheduleInconsistent
}
