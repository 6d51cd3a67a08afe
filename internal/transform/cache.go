package transform

import (
	"crypto/sha256"
	"sync"
)

// cacheKey is (path, content hash): a cache hit requires both the same
// file identity and the same bytes, so concurrent handlers racing on a
// just-edited file can never serve a stale transform.
type cacheKey struct {
	path string
	hash [sha256.Size]byte
}

type cacheValue struct {
	code       []byte
	components []string
	cssImports []string
}

// transformCache is a bounded, insertion-ordered cache. Eviction drops the
// oldest entry, the same ring-buffer approach as internal/runtime's module
// cache.
type transformCache struct {
	mu      sync.Mutex
	limit   int
	entries map[cacheKey]cacheValue
	order   []cacheKey
}

func newTransformCache(limit int) *transformCache {
	if limit <= 0 {
		limit = 512
	}
	return &transformCache{limit: limit, entries: make(map[cacheKey]cacheValue)}
}

func (c *transformCache) get(path string, src []byte) (cacheValue, bool) {
	key := cacheKey{path: path, hash: sha256.Sum256(src)}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *transformCache) put(path string, src []byte, v cacheValue) {
	key := cacheKey{path: path, hash: sha256.Sum256(src)}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = v
	for len(c.order) > c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}
