// Package feed provides the subscription use cases: subscribing a chat to a
// feed URL, enabling, disabling and deleting feeds, and keeping the schedule
// in step with each change.
package feed

import "errors"

// Sentinel errors for feed use case operations.
var (
	// ErrFeedNotFound indicates that no feed has the requested ID.
	ErrFeedNotFound = errors.New("feed not found")

	// ErrAlreadySubscribed indicates that the chat already follows the URL.
	ErrAlreadySubscribed = errors.New("chat already subscribed to this feed")
)
