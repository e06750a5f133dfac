package entity

import (
	"net/url"
	"strings"
	"time"
)

// Interval bounds for a feed's check cadence, in minutes.
const (
	MinIntervalMinutes     = 1
	MaxIntervalMinutes     = 24 * 60
	DefaultIntervalMinutes = 10
)

// Feed is a chat's subscription to one feed URL. It is the registry row that
// the scheduler reconciles against.
type Feed struct {
	ID              string
	ChatID          int64
	URL             string
	Title           string
	IntervalMinutes int
	LastItemID      string
	Enabled         bool
	FailureCount    int
	LastCheckedAt   *time.Time
	CreatedAt       time.Time
}

// Validate checks the fields required to schedule the feed.
func (f *Feed) Validate() error {
	if f.ChatID == 0 {
		return &ValidationError{Field: "chat_id", Message: "is required"}
	}
	if err := ValidateURL(f.URL); err != nil {
		return err
	}
	return ValidateInterval(f.IntervalMinutes)
}

// Check builds the schedule entry for the feed.
func (f *Feed) Check() ScheduledCheck {
	return ScheduledCheck{
		FeedID:          f.ID,
		ChatID:          f.ChatID,
		FeedURL:         f.URL,
		LastItemID:      f.LastItemID,
		IntervalMinutes: f.IntervalMinutes,
	}
}

// SourceKey returns the rate-limit and breaker key for a feed URL: the
// lowercased hostname without a leading "www.". Unparseable URLs map to the
// raw string so that they still partition cleanly.
func SourceKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(rawURL)
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
