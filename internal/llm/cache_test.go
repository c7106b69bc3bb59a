package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_EvictsOldestBeyondCapacity(t *testing.T) {
	c := NewLRUCache(2)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"))
	c.Set(ctx, "b", []byte("2"))
	c.Set(ctx, "c", []byte("3"))

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok, "oldest entry should have been evicted")

	v, ok := c.Get(ctx, "b")
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)

	v, ok = c.Get(ctx, "c")
	require.True(t, ok)
	assert.Equal(t, []byte("3"), v)
}

func TestLRUCache_GetRefreshesRecency(t *testing.T) {
	c := NewLRUCache(2)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"))
	c.Set(ctx, "b", []byte("2"))
	c.Get(ctx, "a") // touch a, making b the least-recently-used
	c.Set(ctx, "c", []byte("3"))

	_, ok := c.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted, not a")

	_, ok = c.Get(ctx, "a")
	assert.True(t, ok)
}

func TestLRUCache_SetOverwritesExisting(t *testing.T) {
	c := NewLRUCache(5)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"))
	c.Set(ctx, "a", []byte("2"))

	v, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)
	assert.Equal(t, 1, c.Len())
}

func TestEmbeddingRoundTrip(t *testing.T) {
	vec := []float64{0.1, 0.2, 0.3}
	raw, err := EncodeEmbedding(vec)
	require.NoError(t, err)

	decoded, err := DecodeEmbedding(raw)
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)
}

func TestExtractionCacheKey_TruncatesFields(t *testing.T) {
	title := make([]byte, 150)
	content := make([]byte, 250)
	for i := range title {
		title[i] = 'a'
	}
	for i := range content {
		content[i] = 'b'
	}
	key := ExtractionCacheKey(string(title), string(content))
	assert.Len(t, key, 100+1+200)
}

func TestNormalizeEntityType(t *testing.T) {
	assert.Equal(t, "ORGANIZATION", NormalizeEntityType("company"))
	assert.Equal(t, "TOKEN", NormalizeEntityType("CRYPTOCURRENCY"))
	assert.Equal(t, "PERSON", NormalizeEntityType("Person"), "unknown types pass through unchanged")
}
