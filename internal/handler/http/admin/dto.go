package admin

import (
	"time"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/resilience/circuitbreaker"
	"feedrelay/internal/resilience/ratelimit"
	"feedrelay/internal/resilience/recovery"
	"feedrelay/internal/usecase/schedule"
)

type FeedDTO struct {
	ID              string     `json:"id"`
	ChatID          int64      `json:"chat_id"`
	URL             string     `json:"url"`
	Title           string     `json:"title,omitempty"`
	IntervalMinutes int        `json:"interval_minutes"`
	LastItemID      string     `json:"last_item_id,omitempty"`
	Enabled         bool       `json:"enabled"`
	Scheduled       bool       `json:"scheduled"`
	FailureCount    int        `json:"failure_count"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toFeedDTO(f *entity.Feed, scheduled bool) FeedDTO {
	return FeedDTO{
		ID:              f.ID,
		ChatID:          f.ChatID,
		URL:             f.URL,
		Title:           f.Title,
		IntervalMinutes: f.IntervalMinutes,
		LastItemID:      f.LastItemID,
		Enabled:         f.Enabled,
		Scheduled:       scheduled,
		FailureCount:    f.FailureCount,
		LastCheckedAt:   f.LastCheckedAt,
		CreatedAt:       f.CreatedAt,
	}
}

// CreateFeedRequest is the body of POST /admin/feeds.
type CreateFeedRequest struct {
	ChatID          int64  `json:"chat_id"`
	URL             string `json:"url"`
	Title           string `json:"title"`
	IntervalMinutes int    `json:"interval_minutes"`
}

type EntryDTO struct {
	FeedID          string     `json:"feed_id"`
	ChatID          int64      `json:"chat_id"`
	FeedURL         string     `json:"feed_url"`
	IntervalMinutes int        `json:"interval_minutes"`
	LastItemID      string     `json:"last_item_id,omitempty"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	Generation      uint64     `json:"generation"`
	Next            *time.Time `json:"next,omitempty"`
	Prev            *time.Time `json:"prev,omitempty"`
	Running         bool       `json:"running"`
}

func toEntryDTO(e schedule.Entry) EntryDTO {
	return EntryDTO{
		FeedID:          e.FeedID,
		ChatID:          e.ChatID,
		FeedURL:         e.FeedURL,
		IntervalMinutes: e.IntervalMinutes,
		LastItemID:      e.LastItemID,
		ScheduledAt:     e.ScheduledAt,
		Generation:      e.Generation,
		Next:            nonZero(e.Next),
		Prev:            nonZero(e.Prev),
		Running:         e.Running,
	}
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type ScheduleDTO struct {
	Entries         []EntryDTO     `json:"entries"`
	InFlight        int            `json:"in_flight"`
	Inconsistencies map[string]int `json:"inconsistencies,omitempty"`
}

type ReconcileDTO struct {
	schedule.Report
	Inconsistencies []string `json:"inconsistencies,omitempty"`
}

type StatsDTO struct {
	GeneratedAt time.Time                              `json:"generated_at"`
	Breakers    map[string]circuitbreaker.SourceStatus `json:"breakers"`
	RateLimits  map[string]ratelimit.SourceStats       `json:"rate_limits"`
	Recovery    map[string]recovery.Stats              `json:"recovery"`
	ReplayDepth int                                    `json:"replay_depth"`
}
