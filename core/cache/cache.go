// Package cache implements the four-tier response cache: L0 static
// templates, L1 in-memory LRU, L2 persistent store, and L3 semantic
// similarity index.
package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arborcore/assistant-core/core"
	"github.com/arborcore/assistant-core/core/cache/semantic"
	"github.com/arborcore/assistant-core/core/cache/store"
	"github.com/arborcore/assistant-core/core/fingerprint"
)

// L2Store is the persistence surface the orchestrator needs from the L2
// tier; satisfied by *store.Store.
type L2Store interface {
	Get(ctx context.Context, key string) (*core.CacheEntry, error)
	Set(ctx context.Context, entry *core.CacheEntry) error
	Delete(ctx context.Context, key string) (bool, error)
	DeleteByCategory(ctx context.Context, category core.CacheCategory) (int64, error)
}

// L3Index is the semantic-search surface the orchestrator needs;
// satisfied by *semantic.Index.
type L3Index interface {
	FindSimilar(ctx context.Context, text string) (*core.CacheEntry, bool, error)
	Insert(ctx context.Context, key, text string, entry *core.CacheEntry) error
	Delete(key string) bool
}

// HitCounters tallies lookups satisfied by each tier.
type HitCounters struct {
	L0 int64
	L1 int64
	L2 int64
	L3 int64
	Miss int64
}

// Cache is the MultiLevelCache orchestrator. Reads cascade L0 -> L1 -> L2
// (promoting into L1 on hit) -> L3; a successful live generation writes
// through L1, L2, and L3.
type Cache struct {
	templates   *Templates
	l1          *LRU
	l2          L2Store
	l3          L3Index
	normalizer  *fingerprint.Normalizer
	logger      *zap.Logger

	mu      chan struct{} // 1-buffered mutex for hits, avoids importing sync just for this
	hits    HitCounters
}

// New builds a Cache. l2 and l3 may be nil, in which case those tiers are
// skipped entirely (e.g. running without persistence or semantic search
// configured).
func New(templates *Templates, l1 *LRU, l2 L2Store, l3 L3Index, normalizer *fingerprint.Normalizer, logger *zap.Logger) *Cache {
	if normalizer == nil {
		normalizer = fingerprint.New()
	}
	return &Cache{
		templates:  templates,
		l1:         l1,
		l2:         l2,
		l3:         l3,
		normalizer: normalizer,
		logger:     logger.With(zap.String("component", "cache")),
		mu:         make(chan struct{}, 1),
	}
}

func (c *Cache) lock()   { c.mu <- struct{}{} }
func (c *Cache) unlock() { <-c.mu }

func (c *Cache) recordHit(tier string) {
	c.lock()
	defer c.unlock()
	switch tier {
	case "l0":
		c.hits.L0++
	case "l1":
		c.hits.L1++
	case "l2":
		c.hits.L2++
	case "l3":
		c.hits.L3++
	default:
		c.hits.Miss++
	}
}

// Hits returns a snapshot of the per-tier hit counters.
func (c *Cache) Hits() HitCounters {
	c.lock()
	defer c.unlock()
	return c.hits
}

// Lookup attempts to satisfy text (and its fingerprint-derived key) from
// the cache cascade, in tier order. A hit below L1 promotes the entry
// into L1.
func (c *Cache) Lookup(ctx context.Context, req core.Request) (core.Response, bool) {
	text := req.LastUserMessage()
	lowered := c.normalizer.Canonicalize(text)

	if resp, ok := c.templates.Lookup(lowered); ok {
		c.recordHit("l0")
		return resp, true
	}

	key := c.normalizer.Fingerprint(req.Messages)

	if entry, ok := c.l1.Get(key); ok {
		c.recordHit("l1")
		return withTier(entry.Response, "l1"), true
	}

	if c.l2 != nil {
		entry, err := c.l2.Get(ctx, key)
		if err != nil {
			c.logger.Warn("l2 lookup failed", zap.Error(err))
		} else if entry != nil {
			c.l1.Set(key, entry)
			c.recordHit("l2")
			return withTier(entry.Response, "l2"), true
		}
	}

	if c.l3 != nil {
		entry, found, err := c.l3.FindSimilar(ctx, text)
		if err != nil {
			c.logger.Warn("l3 lookup failed", zap.Error(err))
		} else if found {
			c.recordHit("l3")
			return withTier(entry.Response, "l3"), true
		}
	}

	c.recordHit("miss")
	return core.Response{}, false
}

// Store writes a freshly generated resp into L1, L2, and L3 (skipping
// whichever tiers are nil or unconfigured), provided category is
// cacheable. System-action responses, any response belonging to a
// non-cacheable category, and any response that ended in error or was
// interrupted are never persisted.
func (c *Cache) Store(ctx context.Context, req core.Request, resp core.Response, category core.CacheCategory) {
	if !category.Cacheable() {
		return
	}
	if resp.Terminal == core.ReasonError || resp.Terminal == core.ReasonInterrupted {
		return
	}

	text := req.LastUserMessage()
	key := c.normalizer.Fingerprint(req.Messages)

	now := time.Now()
	entry := &core.CacheEntry{
		Key:          key,
		Response:     resp,
		Category:     category,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  1,
	}
	if ttl, ok := core.CategoryTTL[category]; ok && ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	c.l1.Set(key, entry)

	if c.l2 != nil {
		if err := c.l2.Set(ctx, entry); err != nil {
			c.logger.Warn("l2 store failed", zap.Error(err))
		}
	}

	if c.l3 != nil {
		if err := c.l3.Insert(ctx, key, text, entry); err != nil {
			c.logger.Warn("l3 store failed", zap.Error(err))
		}
	}
}

// InvalidateByKey removes an entry from every tier by its fingerprint
// key.
func (c *Cache) InvalidateByKey(ctx context.Context, key string) {
	c.l1.Delete(key)
	if c.l2 != nil {
		if _, err := c.l2.Delete(ctx, key); err != nil {
			c.logger.Warn("l2 invalidate failed", zap.Error(err))
		}
	}
	if c.l3 != nil {
		c.l3.Delete(key)
	}
}

// InvalidateByCategory removes every L2 entry in category. L1 and L3 are
// not indexed by category, so matching entries there expire naturally or
// are evicted by capacity rather than being swept immediately.
func (c *Cache) InvalidateByCategory(ctx context.Context, category core.CacheCategory) (int64, error) {
	if c.l2 == nil {
		return 0, nil
	}
	return c.l2.DeleteByCategory(ctx, category)
}

func withTier(resp core.Response, tier string) core.Response {
	resp.Cached = true
	resp.CacheTier = tier
	return resp
}

var _ L2Store = (*store.Store)(nil)
var _ L3Index = (*semantic.Index)(nil)
