package memory

import (
	"sync"

	"github.com/xiy/lore-mcp/pkg/types"
)

// entry is one cache slot. Its mutex serializes every mutation to the
// entity it holds; the cache-level lock only guards the map itself, so
// operations on distinct ids proceed in parallel.
type entry struct {
	mu     sync.Mutex
	loaded bool
	e      types.MemoryEntity
}

// Cache is the in-memory keyed store of entities the service operates on.
type Cache struct {
	mu    sync.RWMutex
	slots map[string]*entry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{slots: make(map[string]*entry)}
}

// acquire returns the slot for id, creating an unloaded one if needed.
// Callers must hold the slot's mutex before touching its entity.
func (c *Cache) acquire(id string) *entry {
	c.mu.RLock()
	slot, ok := c.slots[id]
	c.mu.RUnlock()
	if ok {
		return slot
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if slot, ok := c.slots[id]; ok {
		return slot
	}
	slot = &entry{}
	c.slots[id] = slot
	return slot
}

// Len reports how many loaded entities the cache holds.
func (c *Cache) Len() int {
	return len(c.Entities())
}

// Entities returns a point-in-time copy of every loaded entity. Each slot
// is locked only long enough to copy it.
func (c *Cache) Entities() []types.MemoryEntity {
	c.mu.RLock()
	slots := make([]*entry, 0, len(c.slots))
	for _, slot := range c.slots {
		slots = append(slots, slot)
	}
	c.mu.RUnlock()

	out := make([]types.MemoryEntity, 0, len(slots))
	for _, slot := range slots {
		slot.mu.Lock()
		if slot.loaded {
			out = append(out, slot.e)
		}
		slot.mu.Unlock()
	}
	return out
}
