package files

import (
	"strings"
	"sync"
)

// SizeCache stores previously computed recursive directory sizes, keyed by
// normalized logical path ("" is the root). Entries are best-effort: a miss
// always falls back to recomputation, so implementations may drop entries
// freely but must never return stale data after Invalidate.
type SizeCache interface {
	Get(rel string) (int64, bool)
	Put(rel string, size int64)

	// Invalidate discards the entry for rel, every entry underneath it,
	// and every ancestor up to the root. Sizes are cumulative, so any
	// mutation at rel changes all of those. Invalidating "" clears the
	// whole cache.
	Invalidate(rel string)
}

// MemoryCache is an in-process SizeCache. It backs tests and servers
// running without a database.
type MemoryCache struct {
	mu    sync.RWMutex
	sizes map[string]int64
}

// NewMemoryCache creates an empty in-memory size cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{sizes: make(map[string]int64)}
}

func (c *MemoryCache) Get(rel string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	size, ok := c.sizes[Normalize(rel)]
	return size, ok
}

func (c *MemoryCache) Put(rel string, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sizes[Normalize(rel)] = size
}

func (c *MemoryCache) Invalidate(rel string) {
	rel = Normalize(rel)
	c.mu.Lock()
	defer c.mu.Unlock()
	if rel == "" {
		c.sizes = make(map[string]int64)
		return
	}
	for cached := range c.sizes {
		if cached == rel || strings.HasPrefix(cached, rel+"/") {
			delete(c.sizes, cached)
		}
	}
	for _, anc := range Ancestors(rel) {
		delete(c.sizes, anc)
	}
}

// Ancestors returns every proper ancestor of a normalized logical path,
// nearest first, ending with "" (the root). Ancestors("a/b/c") is
// ["a/b", "a", ""].
func Ancestors(rel string) []string {
	rel = Normalize(rel)
	if rel == "" {
		return nil
	}
	var out []string
	for {
		i := strings.LastIndexByte(rel, '/')
		if i < 0 {
			out = append(out, "")
			return out
		}
		rel = rel[:i]
		out = append(out, rel)
	}
}
