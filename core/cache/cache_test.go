package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arborcore/assistant-core/core"
)

type fakeL2 struct {
	rows map[string]*core.CacheEntry
}

func newFakeL2() *fakeL2 { return &fakeL2{rows: map[string]*core.CacheEntry{}} }

func (f *fakeL2) Get(_ context.Context, key string) (*core.CacheEntry, error) {
	e, ok := f.rows[key]
	if !ok {
		return nil, nil
	}
	return e, nil
}

func (f *fakeL2) Set(_ context.Context, entry *core.CacheEntry) error {
	f.rows[entry.Key] = entry
	return nil
}

func (f *fakeL2) Delete(_ context.Context, key string) (bool, error) {
	_, ok := f.rows[key]
	delete(f.rows, key)
	return ok, nil
}

func (f *fakeL2) DeleteByCategory(_ context.Context, category core.CacheCategory) (int64, error) {
	var n int64
	for k, v := range f.rows {
		if v.Category == category {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

type fakeL3 struct {
	entries map[string]*core.CacheEntry
}

func newFakeL3() *fakeL3 { return &fakeL3{entries: map[string]*core.CacheEntry{}} }

func (f *fakeL3) FindSimilar(_ context.Context, text string) (*core.CacheEntry, bool, error) {
	e, ok := f.entries[text]
	return e, ok, nil
}

func (f *fakeL3) Insert(_ context.Context, key, text string, entry *core.CacheEntry) error {
	f.entries[text] = entry
	return nil
}

func (f *fakeL3) Delete(key string) bool {
	for text, e := range f.entries {
		if e.Key == key {
			delete(f.entries, text)
			return true
		}
	}
	return false
}

func req(text string) core.Request {
	return core.Request{Messages: []core.Message{{Role: core.RoleUser, Text: text}}}
}

func TestCache_L0TemplateHitBypassesOtherTiers(t *testing.T) {
	c := New(NewTemplates(), NewLRU(10), nil, nil, nil, zap.NewNop())
	resp, ok := c.Lookup(context.Background(), req("hello"))
	require.True(t, ok)
	assert.Equal(t, "l0", resp.CacheTier)
	assert.EqualValues(t, 1, c.Hits().L0)
}

func TestCache_MissThenStoreThenL1Hit(t *testing.T) {
	c := New(NewTemplates(), NewLRU(10), nil, nil, nil, zap.NewNop())
	r := req("tell me about golang generics")

	_, ok := c.Lookup(context.Background(), r)
	require.False(t, ok)

	c.Store(context.Background(), r, core.Response{Text: "generics are..."}, core.CategoryGeneral)

	resp, ok := c.Lookup(context.Background(), r)
	require.True(t, ok)
	assert.Equal(t, "l1", resp.CacheTier)
	assert.Equal(t, "generics are...", resp.Text)
}

func TestCache_L2HitPromotesToL1(t *testing.T) {
	l2 := newFakeL2()
	c := New(NewTemplates(), NewLRU(10), l2, nil, nil, zap.NewNop())
	r := req("what's new in kubernetes 1.31")

	key := c.normalizer.Fingerprint(r.Messages)
	l2.rows[key] = &core.CacheEntry{Key: key, Response: core.Response{Text: "release notes..."}}

	resp, ok := c.Lookup(context.Background(), r)
	require.True(t, ok)
	assert.Equal(t, "l2", resp.CacheTier)

	resp2, ok := c.Lookup(context.Background(), r)
	require.True(t, ok)
	assert.Equal(t, "l1", resp2.CacheTier, "second lookup should be served from the promoted L1 entry")
}

func TestCache_L3SemanticHit(t *testing.T) {
	l3 := newFakeL3()
	c := New(NewTemplates(), NewLRU(10), nil, l3, nil, zap.NewNop())
	r := req("what's the forecast today")
	l3.entries["what's the forecast today"] = &core.CacheEntry{Response: core.Response{Text: "sunny"}}

	resp, ok := c.Lookup(context.Background(), r)
	require.True(t, ok)
	assert.Equal(t, "l3", resp.CacheTier)
	assert.Equal(t, "sunny", resp.Text)
}

func TestCache_SystemActionNeverStored(t *testing.T) {
	c := New(NewTemplates(), NewLRU(10), nil, nil, nil, zap.NewNop())
	r := req("turn off the living room lights")

	c.Store(context.Background(), r, core.Response{Text: "done"}, core.CategorySystemAction)

	_, ok := c.Lookup(context.Background(), r)
	assert.False(t, ok)
}

func TestCache_InvalidateByKeyRemovesFromAllTiers(t *testing.T) {
	l2 := newFakeL2()
	l3 := newFakeL3()
	c := New(NewTemplates(), NewLRU(10), l2, l3, nil, zap.NewNop())
	r := req("what's the capital of france")

	c.Store(context.Background(), r, core.Response{Text: "Paris"}, core.CategoryGeneral)
	key := c.normalizer.Fingerprint(r.Messages)

	c.InvalidateByKey(context.Background(), key)

	_, ok := c.Lookup(context.Background(), r)
	assert.False(t, ok)
}

func TestCache_InvalidateByCategory(t *testing.T) {
	l2 := newFakeL2()
	c := New(NewTemplates(), NewLRU(10), l2, nil, nil, zap.NewNop())
	l2.rows["k1"] = &core.CacheEntry{Key: "k1", Category: core.CategoryNews}
	l2.rows["k2"] = &core.CacheEntry{Key: "k2", Category: core.CategoryWeather}

	n, err := c.InvalidateByCategory(context.Background(), core.CategoryNews)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Len(t, l2.rows, 1)
}
