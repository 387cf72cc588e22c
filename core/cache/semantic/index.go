// Package semantic implements the L3 in-process semantic cache tier: a
// small cosine-similarity vector index with a pluggable embedding
// backend, gated by a similarity threshold.
package semantic

import (
	"context"
	"math"
	"sync"

	"github.com/arborcore/assistant-core/core"
)

// DefaultThreshold is the minimum cosine similarity for a semantic hit.
const DefaultThreshold = 0.92

// DefaultMaxEntries bounds the in-process index; past this the oldest
// inserted vector is evicted to make room.
const DefaultMaxEntries = 2000

// Embedder turns text into a fixed-dimension vector. Implementations must
// be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type record struct {
	key    string
	vector []float32
	entry  *core.CacheEntry
}

// Index is the L3 semantic cache: a flat list of (vector, entry) pairs
// searched by brute-force cosine similarity. At the sizes this tier is
// expected to hold (low thousands), a flat scan outperforms the
// bookkeeping of an approximate index.
type Index struct {
	mu        sync.Mutex
	embedder  Embedder
	threshold float64
	maxSize   int
	records   []record
}

// Option configures an Index.
type Option func(*Index)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(t float64) Option {
	return func(i *Index) { i.threshold = t }
}

// WithMaxEntries overrides DefaultMaxEntries.
func WithMaxEntries(n int) Option {
	return func(i *Index) { i.maxSize = n }
}

// New creates a semantic Index backed by embedder.
func New(embedder Embedder, opts ...Option) *Index {
	i := &Index{
		embedder:  embedder,
		threshold: DefaultThreshold,
		maxSize:   DefaultMaxEntries,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// FindSimilar embeds text and returns the closest cached entry if its
// cosine similarity meets the threshold.
func (i *Index) FindSimilar(ctx context.Context, text string) (*core.CacheEntry, bool, error) {
	vec, err := i.embedder.Embed(ctx, text)
	if err != nil {
		return nil, false, core.NewCacheBackendError("l3 embedding failed", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	var best *record
	bestScore := -1.0
	for idx := range i.records {
		score := cosineSimilarity(vec, i.records[idx].vector)
		if score > bestScore {
			bestScore = score
			best = &i.records[idx]
		}
	}

	if best == nil || bestScore < i.threshold {
		return nil, false, nil
	}
	return best.entry, true, nil
}

// Insert embeds text and stores entry under that vector, evicting the
// oldest-inserted record if the index is at capacity.
func (i *Index) Insert(ctx context.Context, key, text string, entry *core.CacheEntry) error {
	vec, err := i.embedder.Embed(ctx, text)
	if err != nil {
		return core.NewCacheBackendError("l3 embedding failed", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	for idx := range i.records {
		if i.records[idx].key == key {
			i.records[idx].vector = vec
			i.records[idx].entry = entry
			return nil
		}
	}

	if len(i.records) >= i.maxSize {
		i.records = i.records[1:]
	}
	i.records = append(i.records, record{key: key, vector: vec, entry: entry})
	return nil
}

// Delete removes key from the index if present.
func (i *Index) Delete(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	for idx := range i.records {
		if i.records[idx].key == key {
			i.records = append(i.records[:idx], i.records[idx+1:]...)
			return true
		}
	}
	return false
}

// Len returns the current record count.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.records)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, na, nb float64
	for idx := range a {
		dot += float64(a[idx]) * float64(b[idx])
		na += float64(a[idx]) * float64(a[idx])
		nb += float64(b[idx]) * float64(b[idx])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
