package auditcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCache_GetSet(t *testing.T) {
	c := New(2)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", Entry{IsAudited: true, IsAuditedDetermined: true})
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, Entry{IsAudited: true, IsAuditedDetermined: true}, got)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2)

	c.Set("a", Entry{IsAudited: true})
	c.Set("b", Entry{IsAudited: false})

	// touch "a" so "b" becomes the least recently used entry
	_, _ = c.Get("a")

	c.Set("c", Entry{IsAudited: true, IsAuditedDetermined: true})

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")

	_, ok = c.Get("a")
	assert.True(t, ok)

	_, ok = c.Get("c")
	assert.True(t, ok)

	assert.Equal(t, 2, c.Len())
}

func TestCache_UpdateExistingKeyDoesNotGrow(t *testing.T) {
	c := New(1)

	c.Set("a", Entry{IsAudited: false})
	c.Set("a", Entry{IsAudited: true, IsAuditedDetermined: true})

	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.True(t, got.IsAudited)
	assert.Equal(t, 1, c.Len())
}

func TestCache_DisabledAlwaysMisses(t *testing.T) {
	c := New(0)

	c.Set("a", Entry{IsAudited: true, IsAuditedDetermined: true})

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Stats(t *testing.T) {
	c := New(10)

	c.Set("a", Entry{IsAudited: true})
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 10, stats.MaxSize)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}
