package schedule

import "errors"

var (
	// ErrNotScheduled is returned when a feed has no active entry.
	ErrNotScheduled = errors.New("feed not scheduled")

	// ErrInFlight is returned when a check of the same feed is still running.
	ErrInFlight = errors.New("check already in flight")
)
