package memory

import (
	"context"
	"sync"

	"github.com/smallnest/taskgraphgo/cache"
)

// MemoryOutputCache implements cache.OutputCache with a process-local map.
// Outputs are stored by reference and treated as immutable.
type MemoryOutputCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]any
}

var _ cache.OutputCache = (*MemoryOutputCache)(nil)

// NewMemoryOutputCache creates an empty in-memory output cache.
func NewMemoryOutputCache() *MemoryOutputCache {
	return &MemoryOutputCache{
		entries: make(map[string]map[string]any),
	}
}

func entryKey(taskType, key string) string {
	return taskType + "\x00" + key
}

// GetOutput returns the cached output for the key.
func (c *MemoryOutputCache) GetOutput(_ context.Context, taskType, key string) (map[string]any, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.entries[entryKey(taskType, key)]
	return out, ok, nil
}

// PutOutput stores the output for the key.
func (c *MemoryOutputCache) PutOutput(_ context.Context, taskType, key string, output map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entryKey(taskType, key)] = output
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryOutputCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes every entry.
func (c *MemoryOutputCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]map[string]any)
}
