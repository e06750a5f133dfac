package feedcache

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/pkg/clock"
)

func items(ids ...string) []entity.Item {
	out := make([]entity.Item, len(ids))
	for i, id := range ids {
		out[i] = entity.Item{ID: id, Title: "title " + id, Link: "https://example.com/" + id}
	}
	return out
}

func TestCache_SetGet(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	c, err := New(10, clk)
	require.NoError(t, err)

	c.Set("https://example.com/feed", items("a", "b"), `"v1"`, "Mon, 02 Jan 2026 15:04:05 GMT")

	got, ok := c.Get("https://example.com/feed")
	require.True(t, ok)
	assert.Equal(t, `"v1"`, got.ETag)
	assert.Equal(t, clk.Now(), got.StoredAt)
	if diff := cmp.Diff(items("a", "b"), got.Items); diff != "" {
		t.Errorf("Items mismatch (-want +got):\n%s", diff)
	}

	_, ok = c.Get("https://example.com/missing")
	assert.False(t, ok)
}

func TestCache_SetReplacesWholesale(t *testing.T) {
	c, err := New(10, nil)
	require.NoError(t, err)

	c.Set("u", items("a"), `"v1"`, "yesterday")
	c.Set("u", items("b", "c"), "", "")

	got, _ := c.Get("u")
	assert.Empty(t, got.ETag)
	assert.Empty(t, got.LastModified)
	assert.Len(t, got.Items, 2)
}

func TestCache_SetCopiesItems(t *testing.T) {
	c, err := New(10, nil)
	require.NoError(t, err)

	in := items("a")
	c.Set("u", in, "", "")
	in[0].Title = "mutated"

	got, _ := c.Get("u")
	assert.Equal(t, "title a", got.Items[0].Title)
}

func TestCache_ConditionalHeaders(t *testing.T) {
	c, err := New(10, nil)
	require.NoError(t, err)

	assert.Empty(t, c.ConditionalHeaders("u"))

	c.Set("u", nil, `W/"abc"`, "Tue, 03 Mar 2026 10:00:00 GMT")
	h := c.ConditionalHeaders("u")
	assert.Equal(t, `W/"abc"`, h.Get("If-None-Match"))
	assert.Equal(t, "Tue, 03 Mar 2026 10:00:00 GMT", h.Get("If-Modified-Since"))

	c.Set("etag-only", nil, `"x"`, "")
	h = c.ConditionalHeaders("etag-only")
	assert.Equal(t, `"x"`, h.Get("If-None-Match"))
	assert.Empty(t, h.Get("If-Modified-Since"))
}

func TestCache_Handle304(t *testing.T) {
	c, err := New(10, nil)
	require.NoError(t, err)

	want := items("a", "b", "c")
	c.Set("u", want, `"v1"`, "")

	got, err := c.Handle304("u")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	_, err = c.Handle304("evicted")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestCache_EvictsOldestTenthWhenFull(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	c, err := New(20, clk)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		c.Set(fmt.Sprintf("u%02d", i), nil, "", "")
		clk.Advance(time.Second)
	}
	// Reads do not protect an entry from eviction.
	_, _ = c.Get("u00")

	c.Set("new", nil, "", "")

	assert.Equal(t, 19, c.Len())
	for _, gone := range []string{"u00", "u01"} {
		_, ok := c.Get(gone)
		assert.False(t, ok, "%s should be evicted", gone)
	}
	for _, kept := range []string{"u02", "u19", "new"} {
		_, ok := c.Get(kept)
		assert.True(t, ok, "%s should be kept", kept)
	}
}

func TestCache_EvictsAtLeastOne(t *testing.T) {
	c, err := New(3, nil)
	require.NoError(t, err)

	c.Set("a", nil, "", "")
	c.Set("b", nil, "", "")
	c.Set("c", nil, "", "")
	c.Set("d", nil, "", "")

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_UpdateDoesNotEvict(t *testing.T) {
	c, err := New(2, nil)
	require.NoError(t, err)

	c.Set("a", nil, "", "")
	c.Set("b", nil, "", "")
	c.Set("a", items("x"), "", "")

	assert.Equal(t, 2, c.Len())
	// "a" is now the newest, so "b" goes first.
	c.Set("c", nil, "", "")
	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestCache_DefaultCapacityAndInvalidate(t *testing.T) {
	c, err := New(0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, c.Capacity())

	c.Set("u", nil, "", "")
	c.Invalidate("u")
	_, ok := c.Get("u")
	assert.False(t, ok)
}
