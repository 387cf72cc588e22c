package semantic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborcore/assistant-core/core"
)

// fixedEmbedder returns a preset vector per input text, for deterministic
// similarity assertions independent of any real embedding model.
type fixedEmbedder struct {
	vectors map[string][]float32
}

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0}, nil
}

func TestIndex_FindSimilar_ExactVectorMatch(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float32{
		"what's the weather like":   {1, 0, 0},
		"how's the weather looking": {1, 0, 0},
		"tell me a joke":            {0, 1, 0},
	}}
	idx := New(emb, WithThreshold(0.9))

	entry := &core.CacheEntry{Key: "k1", Response: core.Response{Text: "It's sunny."}}
	require.NoError(t, idx.Insert(context.Background(), "k1", "what's the weather like", entry))

	got, found, err := idx.FindSimilar(context.Background(), "how's the weather looking")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "It's sunny.", got.Response.Text)
}

func TestIndex_FindSimilar_BelowThresholdMisses(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float32{
		"a": {1, 0, 0},
		"b": {0, 1, 0},
	}}
	idx := New(emb, WithThreshold(0.92))
	require.NoError(t, idx.Insert(context.Background(), "k1", "a", &core.CacheEntry{Key: "k1"}))

	_, found, err := idx.FindSimilar(context.Background(), "b")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIndex_EmptyIndexMisses(t *testing.T) {
	idx := New(NewHashEmbedder(8))
	_, found, err := idx.FindSimilar(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIndex_EvictsOldestAtCapacity(t *testing.T) {
	idx := New(NewHashEmbedder(8), WithMaxEntries(2))
	ctx := context.Background()
	require.NoError(t, idx.Insert(ctx, "k1", "one", &core.CacheEntry{Key: "k1"}))
	require.NoError(t, idx.Insert(ctx, "k2", "two", &core.CacheEntry{Key: "k2"}))
	require.NoError(t, idx.Insert(ctx, "k3", "three", &core.CacheEntry{Key: "k3"}))

	assert.Equal(t, 2, idx.Len())
	assert.False(t, idx.Delete("k1"))
	assert.True(t, idx.Delete("k2") || idx.Delete("k3"))
}

func TestHashEmbedder_DeterministicForSameText(t *testing.T) {
	h := NewHashEmbedder(32)
	v1, err := h.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v2, err := h.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}
