package embedding

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"

	"agentindex/internal/domain"
)

// lruEntry pairs a hash key with its embedding vector in the LRU list.
type lruEntry struct {
	key uint64
	vec []float32
}

// CachedEmbedder wraps a domain.EmbeddingProvider with an LRU cache for
// single-text calls — the discovery query path embeds one need string per
// request, and popular needs repeat. Batch calls (index rebuilds) pass
// through uncached.
type CachedEmbedder struct {
	inner   domain.EmbeddingProvider
	maxSize int

	mu    sync.RWMutex
	cache map[uint64]*list.Element
	order *list.List // most-recently-used at back
}

// NewCachedEmbedder wraps inner with an LRU cache of maxSize entries.
// If maxSize <= 0 the inner provider is returned directly.
func NewCachedEmbedder(inner domain.EmbeddingProvider, maxSize int) domain.EmbeddingProvider {
	if maxSize <= 0 {
		return inner
	}
	return &CachedEmbedder{
		inner:   inner,
		maxSize: maxSize,
		cache:   make(map[uint64]*list.Element, maxSize),
		order:   list.New(),
	}
}

// Embed implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) != 1 {
		return c.inner.Embed(ctx, texts)
	}

	key := hashText(texts[0])

	c.mu.RLock()
	elem, ok := c.cache[key]
	c.mu.RUnlock()

	if ok {
		c.mu.Lock()
		c.order.MoveToBack(elem)
		c.mu.Unlock()
		return [][]float32{elem.Value.(*lruEntry).vec}, nil
	}

	result, err := c.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return result, nil
	}

	c.mu.Lock()
	c.put(key, result[0])
	c.mu.Unlock()

	return result, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Name() string { return c.inner.Name() }

// hashText returns an FNV-1a hash of the input text.
func hashText(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// put inserts into the cache, evicting the LRU entry at capacity.
// Caller must hold c.mu.
func (c *CachedEmbedder) put(key uint64, vec []float32) {
	if elem, exists := c.cache[key]; exists {
		c.order.MoveToBack(elem)
		elem.Value.(*lruEntry).vec = vec
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.cache, oldest.Value.(*lruEntry).key)
	}

	c.cache[key] = c.order.PushBack(&lruEntry{key: key, vec: vec})
}

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*CachedEmbedder)(nil)
