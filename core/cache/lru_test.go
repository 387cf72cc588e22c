package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborcore/assistant-core/core"
)

func entryFor(text string) *core.CacheEntry {
	return &core.CacheEntry{Response: core.Response{Text: text}}
}

func TestLRU_SetThenGet(t *testing.T) {
	l := NewLRU(10)
	l.Set("k1", entryFor("v1"))

	got, ok := l.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", got.Response.Text)
	assert.EqualValues(t, 1, got.AccessCount)
}

func TestLRU_MissingKey(t *testing.T) {
	l := NewLRU(10)
	_, ok := l.Get("absent")
	assert.False(t, ok)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	l := NewLRU(2)
	l.Set("k1", entryFor("v1"))
	l.Set("k2", entryFor("v2"))
	l.Set("k3", entryFor("v3")) // evicts k1, the LRU entry

	_, ok := l.Get("k1")
	assert.False(t, ok)

	_, ok = l.Get("k2")
	assert.True(t, ok)
	_, ok = l.Get("k3")
	assert.True(t, ok)
}

func TestLRU_GetRefreshesRecency(t *testing.T) {
	l := NewLRU(2)
	l.Set("k1", entryFor("v1"))
	l.Set("k2", entryFor("v2"))

	l.Get("k1") // k1 now more recently used than k2

	l.Set("k3", entryFor("v3")) // should evict k2, not k1

	_, ok := l.Get("k1")
	assert.True(t, ok)
	_, ok = l.Get("k2")
	assert.False(t, ok)
}

func TestLRU_ExpiredEntryEvictedOnGet(t *testing.T) {
	l := NewLRU(10)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	e := entryFor("v1")
	e.ExpiresAt = fixed.Add(-time.Second)
	l.Set("k1", e)

	_, ok := l.Get("k1")
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len())
}

func TestLRU_DeleteReportsPresence(t *testing.T) {
	l := NewLRU(10)
	assert.False(t, l.Delete("absent"))

	l.Set("k1", entryFor("v1"))
	assert.True(t, l.Delete("k1"))
	assert.False(t, l.Delete("k1"))
}

func TestLRU_SetExistingKeyReplacesValue(t *testing.T) {
	l := NewLRU(10)
	l.Set("k1", entryFor("v1"))
	l.Set("k1", entryFor("v2"))

	got, ok := l.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Response.Text)
	assert.Equal(t, 1, l.Len())
}

func TestLRU_DefaultsCapacityWhenNonPositive(t *testing.T) {
	l := NewLRU(0)
	assert.Equal(t, 1000, l.capacity)
}
