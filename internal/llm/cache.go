package llm

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache is the key-value cache used for LLM responses and embeddings. The
// in-process LRU below is the default; a Redis-backed implementation is
// selected when NEWS_CACHE_REDIS_ADDR is set (see RedisCache).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// LRUCache is a fixed-capacity, thread-safe least-recently-used cache.
// Used with capacity 500 for the entity-extraction cache (C2) and 1,000 for
// the embedding cache (C3).
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type lruEntry struct {
	key   string
	value []byte
}

// NewLRUCache builds an in-process LRU of the given capacity.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 500
	}
	return &LRUCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the cached value for key, if present, and moves it to the
// front (most-recently-used).
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

// Set inserts or updates key, evicting the least-recently-used entry if the
// cache is at capacity.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).value = value
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&lruEntry{key: key, value: value})
	c.items[key] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
}

// Len reports the current number of cached entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// CachedEmbedding is the msgpack-encoded form stored for embedding cache
// entries, matching the teacher's choice of
// github.com/vmihailenco/msgpack/v5 for compact binary caching.
type CachedEmbedding struct {
	Vector   []float64
	CachedAt time.Time
}

// EncodeEmbedding serializes an embedding for storage in a Cache.
func EncodeEmbedding(vec []float64) ([]byte, error) {
	return msgpack.Marshal(CachedEmbedding{Vector: vec, CachedAt: time.Now()})
}

// DecodeEmbedding deserializes a cached embedding.
func DecodeEmbedding(raw []byte) ([]float64, error) {
	var cached CachedEmbedding
	if err := msgpack.Unmarshal(raw, &cached); err != nil {
		return nil, err
	}
	return cached.Vector, nil
}

// EncodeExtraction serializes an ExtractionResult for the C2 entity cache.
func EncodeExtraction(res ExtractionResult) ([]byte, error) {
	return msgpack.Marshal(res)
}

// DecodeExtraction deserializes a cached ExtractionResult.
func DecodeExtraction(raw []byte) (ExtractionResult, error) {
	var res ExtractionResult
	err := msgpack.Unmarshal(raw, &res)
	return res, err
}
