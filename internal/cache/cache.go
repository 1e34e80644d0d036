package cache

import "sync"

// Cache is the table-name-keyed map of cache entries (spec §4.5 "State").
// Safe for concurrent use; the map itself is guarded separately from each
// entry's own lock, so looking up an entry never blocks on another
// table's in-flight fetch.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns an empty table cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Get returns the entry for table, or nil if the table has never been
// cached.
func (c *Cache) Get(table string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[table]
}

// GetOrCreate returns the existing entry for table, creating one with the
// given primary-key/date-field/row-cap parameters if absent.
func (c *Cache) GetOrCreate(table, pkField, dateField string, rowCap int) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[table]
	if !ok {
		e = NewEntry(table, pkField, dateField, rowCap)
		c.entries[table] = e
	}
	return e
}

// SetDefaultRowCap applies a new row cap to every existing cache entry —
// used by a hot config reload to tune memory use without a restart.
func (c *Cache) SetDefaultRowCap(rowCap int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		e.Lock()
		e.RowCap = rowCap
		e.Unlock()
	}
}

// Flush removes the cache entry for one table.
func (c *Cache) Flush(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, table)
}

// FlushAll removes every cache entry.
func (c *Cache) FlushAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}
