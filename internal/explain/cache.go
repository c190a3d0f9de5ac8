package explain

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
)

// Key identifies a dump text.
func Key(dump string) string {
	sum := sha256.Sum256([]byte(dump))
	return hex.EncodeToString(sum[:])
}

// CacheStats reports cache activity.
type CacheStats struct {
	Entries int   `json:"entries"`
	Builds  int64 `json:"builds"`
	Hits    int64 `json:"hits"`
}

// Cache keeps one Explainer per distinct dump so a model's tree is parsed
// once however many records are explained against it.
type Cache struct {
	attrs *AttributeTable
	limit int

	mu      sync.Mutex
	entries map[string]*Explainer
	order   []string

	builds atomic.Int64
	hits   atomic.Int64
}

// NewCache creates a cache holding at most limit trees (unbounded when
// limit <= 0). All explainers share attrs.
func NewCache(attrs *AttributeTable, limit int) *Cache {
	if attrs == nil {
		attrs = DefaultAttributes()
	}
	return &Cache{attrs: attrs, limit: limit, entries: make(map[string]*Explainer)}
}

// Get returns the explainer for dump, parsing it on first use.
func (c *Cache) Get(dump string) *Explainer {
	key := Key(dump)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.hits.Add(1)
		return e
	}
	e := New(dump, c.attrs)
	c.builds.Add(1)
	if c.limit > 0 && len(c.order) >= c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = e
	c.order = append(c.order, key)
	return e
}

// Forget drops the tree for dump, if cached.
func (c *Cache) Forget(dump string) {
	key := Key(dump)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Stats returns the current entry count and lifetime build and hit counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return CacheStats{Entries: n, Builds: c.builds.Load(), Hits: c.hits.Load()}
}
