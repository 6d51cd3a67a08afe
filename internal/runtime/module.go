package runtime

import (
	"sync"

	"github.com/dop251/goja"
)

// Module is one loaded module record. Identity is the resolved path; it
// is inserted into the cache before its body executes (to break cycles)
// and removed on body failure.
type Module struct {
	Path     string
	Exports  goja.Value
	Loaded   bool
	Children []*Module
}

// moduleCache is bounded and insertion-ordered: on overflow the oldest
// entry is evicted, keeping long-lived runtimes from accumulating every
// module they ever loaded.
type moduleCache struct {
	mu       sync.Mutex
	limit    int
	entries  map[string]*Module
	order    []string // insertion order, oldest first
}

func newModuleCache(limit int) *moduleCache {
	if limit <= 0 {
		limit = 2048
	}
	return &moduleCache{limit: limit, entries: make(map[string]*Module)}
}

func (c *moduleCache) get(path string) (*Module, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[path]
	return m, ok
}

// insertPending installs a not-yet-loaded module record before its body
// runs, so that cyclic requires observe a partial-exports object rather than
// recursing forever.
func (c *moduleCache) insertPending(path string, exports goja.Value) *Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := &Module{Path: path, Exports: exports, Loaded: false}
	if _, exists := c.entries[path]; !exists {
		c.order = append(c.order, path)
	}
	c.entries[path] = m
	c.evictLocked()
	return m
}

func (c *moduleCache) markLoaded(m *Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m.Loaded = true
}

// remove deletes a module record, used when a module body throws — the
// cache must never be observed holding a module whose body threw.
func (c *moduleCache) remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
	for i, p := range c.order {
		if p == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *moduleCache) evictLocked() {
	for len(c.order) > c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *moduleCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Module)
	c.order = nil
}
