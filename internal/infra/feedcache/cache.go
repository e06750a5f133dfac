// Package feedcache keeps the last decoded snapshot of each feed together with
// the validators needed for conditional requests.
package feedcache

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/pkg/clock"
)

// DefaultCapacity is the number of feeds kept when no capacity is given.
const DefaultCapacity = 1000

// ErrNoSnapshot is returned by Handle304 when the cache no longer holds the
// feed. The caller must refetch without validators.
var ErrNoSnapshot = errors.New("feedcache: no snapshot for not-modified response")

// Entry is the cached state of one feed URL.
type Entry struct {
	URL          string
	Items        []entity.Item
	ETag         string
	LastModified string
	StoredAt     time.Time
}

// Cache is a bounded URL-keyed snapshot cache. Recency is storedAt: reads do
// not refresh an entry, only Set does.
type Cache struct {
	mu       sync.Mutex
	entries  *lru.Cache[string, Entry]
	capacity int
	clock    clock.Clock
}

// New returns a Cache holding at most capacity feeds. A capacity below 1
// selects DefaultCapacity.
func New(capacity int, clk clock.Clock) (*Cache, error) {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[string, Entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("feedcache: %w", err)
	}
	return &Cache{entries: entries, capacity: capacity, clock: clock.OrSystem(clk)}, nil
}

// Get returns the entry for url without affecting eviction order. The
// returned Items must not be modified.
func (c *Cache) Get(url string) (Entry, bool) {
	return c.entries.Peek(url)
}

// Set replaces the entry for url wholesale. Adding a new key to a full cache
// first evicts the oldest tenth of the entries, at least one.
func (c *Cache) Set(url string, items []entity.Item, etag, lastModified string) {
	entry := Entry{
		URL:          url,
		Items:        append([]entity.Item(nil), items...),
		ETag:         etag,
		LastModified: lastModified,
		StoredAt:     c.clock.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.entries.Contains(url) && c.entries.Len() >= c.capacity {
		evict := (c.capacity + 9) / 10
		for i := 0; i < evict; i++ {
			if _, _, ok := c.entries.RemoveOldest(); !ok {
				break
			}
		}
	}
	// Remove first so a replaced entry moves to the newest position even if
	// the underlying cache ever stops reordering on update.
	c.entries.Remove(url)
	c.entries.Add(url, entry)
}

// ConditionalHeaders returns If-None-Match and If-Modified-Since for url,
// or an empty header when nothing is cached.
func (c *Cache) ConditionalHeaders(url string) http.Header {
	h := make(http.Header)
	e, ok := c.entries.Peek(url)
	if !ok {
		return h
	}
	if e.ETag != "" {
		h.Set("If-None-Match", e.ETag)
	}
	if e.LastModified != "" {
		h.Set("If-Modified-Since", e.LastModified)
	}
	return h
}

// Handle304 returns the stored snapshot for a not-modified response. A 304
// is never read as an empty feed: without a snapshot it returns ErrNoSnapshot.
func (c *Cache) Handle304(url string) ([]entity.Item, error) {
	e, ok := c.entries.Peek(url)
	if !ok {
		return nil, ErrNoSnapshot
	}
	return e.Items, nil
}

// Invalidate drops url from the cache.
func (c *Cache) Invalidate(url string) {
	c.entries.Remove(url)
}

// Len returns the number of cached feeds.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Capacity returns the configured capacity.
func (c *Cache) Capacity() int {
	return c.capacity
}
