package entity

import "time"

// Item is a normalized feed entry handed over by the format decoder.
// ID is only set when the format carries an explicit identifier distinct
// from the GUID (JSON Feed "id").
type Item struct {
	ID          string
	GUID        string
	Link        string
	Title       string
	Content     string
	PublishedAt *time.Time
}

// DedupeRecord marks an item as delivered (or queued for delivery) for a feed
// until ExpiresAt.
type DedupeRecord struct {
	FeedID    string
	ItemID    string
	SeenAt    time.Time
	ExpiresAt time.Time
}

// Live reports whether the record still suppresses the item at now.
func (r DedupeRecord) Live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}
