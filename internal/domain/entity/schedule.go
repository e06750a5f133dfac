package entity

import "time"

// ScheduledCheck is one recurring feed check owned by the scheduler.
// There is at most one per enabled feed.
type ScheduledCheck struct {
	FeedID          string
	ChatID          int64
	FeedURL         string
	LastItemID      string
	IntervalMinutes int
	ScheduledAt     time.Time
}

// Interval returns the check cadence as a duration.
func (c ScheduledCheck) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// SameTarget reports whether two entries poll the same URL for the same chat
// at the same cadence. LastItemID and ScheduledAt are ignored.
func (c ScheduledCheck) SameTarget(o ScheduledCheck) bool {
	return c.FeedID == o.FeedID &&
		c.ChatID == o.ChatID &&
		c.FeedURL == o.FeedURL &&
		c.IntervalMinutes == o.IntervalMinutes
}
