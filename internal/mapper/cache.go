package mapper

import (
	"sync"

	"github.com/maruel/objdb/internal/schema"
)

// Cache is the identity map from (type, id) to the live instance representing
// that row.
type Cache struct {
	mu sync.RWMutex

	// Instances per type name, then per ID.
	entries map[string]map[schema.ID]schema.Persistable
}

// NewCache initializes a new cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]map[schema.ID]schema.Persistable)}
}

// Get returns the cached instance for (typeName, id).
func (c *Cache) Get(typeName string, id schema.ID) (schema.Persistable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[typeName][id]
	return p, ok
}

// Set caches p under (typeName, id).
func (c *Cache) Set(typeName string, id schema.ID, p schema.Persistable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[typeName]
	if !ok {
		m = make(map[schema.ID]schema.Persistable)
		c.entries[typeName] = m
	}
	m[id] = p
}

// Invalidate removes one instance from cache.
func (c *Cache) Invalidate(typeName string, id schema.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries[typeName], id)
}

// InvalidateType removes every instance of a type from cache.
func (c *Cache) InvalidateType(typeName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, typeName)
}

// InvalidateAll clears the entire cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]map[schema.ID]schema.Persistable)
}

// Len returns the number of cached instances.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, m := range c.entries {
		n += len(m)
	}
	return n
}
