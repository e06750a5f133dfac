// Package dedupe suppresses items that were already delivered for a feed.
//
// Records live in memory, one set per feed, and are written through to a
// DedupeRepository so that a restart does not redeliver. Expired records are
// reclaimed lazily on lookup and in bulk by Sweep.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/pkg/clock"
	"feedrelay/internal/repository"
)

// DefaultTTL is how long a seen item stays suppressed.
const DefaultTTL = 30 * 24 * time.Hour

// Config configures a Deduplicator. Zero values select defaults.
type Config struct {
	TTL    time.Duration
	Clock  clock.Clock
	Logger *slog.Logger
}

// Deduplicator tracks seen items per feed.
type Deduplicator struct {
	repo   repository.DedupeRepository
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.RWMutex
	feeds map[string]*feedSet
}

type feedSet struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// New returns a Deduplicator. repo may be nil for a memory-only instance.
func New(repo repository.DedupeRepository, cfg Config) *Deduplicator {
	d := &Deduplicator{
		repo:   repo,
		ttl:    cfg.TTL,
		clock:  clock.OrSystem(cfg.Clock),
		logger: cfg.Logger,
		feeds:  make(map[string]*feedSet),
	}
	if d.ttl <= 0 {
		d.ttl = DefaultTTL
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// TTL returns the default record lifetime.
func (d *Deduplicator) TTL() time.Duration {
	return d.ttl
}

// IsNew reports whether itemID has no live record for feedID. An expired
// record is reclaimed on the way.
func (d *Deduplicator) IsNew(feedID, itemID string) bool {
	set := d.set(feedID)
	if set == nil {
		return true
	}
	now := d.clock.Now()

	set.mu.Lock()
	defer set.mu.Unlock()
	exp, ok := set.expires[itemID]
	if !ok {
		return true
	}
	if !now.Before(exp) {
		delete(set.expires, itemID)
		return true
	}
	return false
}

// MarkSeen records itemID for feedID until now+ttl, refreshing an existing
// record. A ttl of zero selects the default. The store write is best-effort:
// failures are logged and the in-memory record stands.
func (d *Deduplicator) MarkSeen(ctx context.Context, feedID, itemID string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = d.ttl
	}
	now := d.clock.Now()
	rec := entity.DedupeRecord{FeedID: feedID, ItemID: itemID, SeenAt: now, ExpiresAt: now.Add(ttl)}

	d.update(feedID, func(set *feedSet) {
		set.expires[itemID] = rec.ExpiresAt
	})

	if d.repo == nil {
		return
	}
	if err := d.repo.Upsert(ctx, rec); err != nil {
		d.logger.Warn("dedupe record not persisted",
			slog.String("feed_id", feedID),
			slog.String("item_id", itemID),
			slog.Any("error", err))
	}
}

// Sweep reclaims expired records in memory and in the store. It returns the
// number of in-memory records removed.
func (d *Deduplicator) Sweep(ctx context.Context) (int, error) {
	now := d.clock.Now()
	removed := 0

	d.mu.Lock()
	for feedID, set := range d.feeds {
		set.mu.Lock()
		for itemID, exp := range set.expires {
			if !now.Before(exp) {
				delete(set.expires, itemID)
				removed++
			}
		}
		empty := len(set.expires) == 0
		set.mu.Unlock()
		if empty {
			delete(d.feeds, feedID)
		}
	}
	d.mu.Unlock()

	if d.repo != nil {
		if _, err := d.repo.DeleteExpired(ctx, now); err != nil {
			return removed, fmt.Errorf("sweep dedupe store: %w", err)
		}
	}
	return removed, nil
}

// Load rebuilds the live records from the store. It returns how many were
// loaded.
func (d *Deduplicator) Load(ctx context.Context) (int, error) {
	if d.repo == nil {
		return 0, nil
	}
	recs, err := d.repo.ListLive(ctx, d.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("load dedupe records: %w", err)
	}
	for _, rec := range recs {
		d.update(rec.FeedID, func(set *feedSet) {
			if exp, ok := set.expires[rec.ItemID]; !ok || rec.ExpiresAt.After(exp) {
				set.expires[rec.ItemID] = rec.ExpiresAt
			}
		})
	}
	return len(recs), nil
}

// Forget drops every record of feedID, in memory and in the store.
func (d *Deduplicator) Forget(ctx context.Context, feedID string) error {
	d.mu.Lock()
	delete(d.feeds, feedID)
	d.mu.Unlock()
	if d.repo == nil {
		return nil
	}
	return d.repo.DeleteFeed(ctx, feedID)
}

// Len returns the number of in-memory records, live or not yet reclaimed.
func (d *Deduplicator) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, set := range d.feeds {
		set.mu.Lock()
		n += len(set.expires)
		set.mu.Unlock()
	}
	return n
}

func (d *Deduplicator) set(feedID string) *feedSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.feeds[feedID]
}

// update runs fn on feedID's set, creating it if needed. The map lock is held
// throughout so Sweep cannot drop the set while fn writes to it.
func (d *Deduplicator) update(feedID string, fn func(*feedSet)) {
	d.mu.RLock()
	if s, ok := d.feeds[feedID]; ok {
		s.mu.Lock()
		fn(s)
		s.mu.Unlock()
		d.mu.RUnlock()
		return
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.feeds[feedID]
	if !ok {
		s = &feedSet{expires: make(map[string]time.Time)}
		d.feeds[feedID] = s
	}
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}
