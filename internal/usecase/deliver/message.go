package deliver

import (
	"time"

	"feedrelay/internal/resilience/faults"
)

// Message is one chat notification. ID is assigned on first delivery when
// empty; EnqueuedAt is stamped on first enqueue and survives replays.
// Replays counts the attempts made from the replay queue.
type Message struct {
	ID         string    `json:"id"`
	FeedID     string    `json:"feed_id"`
	ItemID     string    `json:"item_id"`
	ChatID     int64     `json:"chat_id"`
	Text       string    `json:"text"`
	EnqueuedAt time.Time `json:"enqueued_at,omitempty"`
	Replays    int       `json:"replays"`
}

// Outcome is the terminal state of a delivery.
type Outcome string

const (
	Delivered Outcome = "delivered"
	Queued    Outcome = "queued"
	Dropped   Outcome = "dropped"
)

// Result describes how a delivery ended. Kind and Err are empty for
// Delivered; Err is the last failure or gate refusal otherwise.
type Result struct {
	Outcome  Outcome
	Kind     faults.Kind
	Attempts int
	Err      error
}

// Accepted reports whether the message is delivered or safely queued.
func (r Result) Accepted() bool {
	return r.Outcome == Delivered || r.Outcome == Queued
}
