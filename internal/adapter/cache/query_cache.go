package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"threatfeed/internal/domain"
	"threatfeed/internal/port"
)

// QueryCache is a small LRU of retrieval results. Entries are tagged with
// a generation; moving to a new generation drops everything.
type QueryCache struct {
	mu       sync.RWMutex
	entries  map[string]*cacheEntry
	order    []string
	maxSize  int
	ttl      time.Duration
	indexGen uint64
}

type cacheEntry struct {
	results   []domain.RetrievalResult
	timestamp time.Time
	indexGen  uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func cacheKey(query string, topK int) string {
	data := []byte(query)
	data = append(data, byte(topK>>8), byte(topK))
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

func (c *QueryCache) Get(query string, topK int) ([]domain.RetrievalResult, bool) {
	key := cacheKey(query, topK)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if time.Since(entry.timestamp) > c.ttl || entry.indexGen != c.indexGen {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return nil, false
	}

	c.moveToEnd(key)
	return cloneResults(entry.results), true
}

func (c *QueryCache) Put(query string, topK int, results []domain.RetrievalResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query, topK)
	entry := &cacheEntry{
		results:   cloneResults(results),
		timestamp: time.Now(),
		indexGen:  c.indexGen,
	}

	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		c.moveToEnd(key)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = entry
	c.order = append(c.order, key)
}

// SetGeneration drops all entries when gen differs from the current one.
func (c *QueryCache) SetGeneration(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.indexGen {
		return
	}
	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
	c.indexGen = gen
}

func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
	c.indexGen++
}

func (c *QueryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func cloneResults(in []domain.RetrievalResult) []domain.RetrievalResult {
	if in == nil {
		return nil
	}
	out := make([]domain.RetrievalResult, len(in))
	copy(out, in)
	return out
}

// Counter reports how many entries a store holds. Appends only ever grow
// it, so it doubles as a cache generation.
type Counter interface {
	Count() int
}

// CachedRetriever serves repeated queries from a QueryCache until the
// vector store grows.
type CachedRetriever struct {
	retriever port.Retriever
	cache     *QueryCache
	store     Counter
}

func NewCachedRetriever(retriever port.Retriever, cache *QueryCache, store Counter) *CachedRetriever {
	return &CachedRetriever{
		retriever: retriever,
		cache:     cache,
		store:     store,
	}
}

func (r *CachedRetriever) Search(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	r.cache.SetGeneration(uint64(r.store.Count()))

	if results, hit := r.cache.Get(query, k); hit {
		return results, nil
	}

	results, err := r.retriever.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	r.cache.Put(query, k, results)
	return results, nil
}
