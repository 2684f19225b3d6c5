package dataset

import (
	"fmt"
	"sort"
	"sync"
)

// ManifestCache accumulates successfully transferred entries keyed by their
// merge index. Workers write concurrently, at most once per index; gaps
// (failed or skipped items) are expected. The cache lives for one operation
// and is always cleared after finalization, success or not.
type ManifestCache interface {
	Put(index int, e *ManifestEntry) error
	Get(index int) (*ManifestEntry, error)
	// Indexes returns all populated indexes in ascending order.
	Indexes() ([]int, error)
	Len() int
	Clear() error
}

// memoryCache is the default: a mutex-guarded map. Sufficient until dataset
// sizes threaten memory, at which point the disk or redis variants apply.
type memoryCache struct {
	mu sync.Mutex
	m  map[int]*EntryRecord
}

func NewMemoryCache() ManifestCache {
	return &memoryCache{m: make(map[int]*EntryRecord)}
}

func (c *memoryCache) Put(index int, e *ManifestEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[index]; ok {
		return fmt.Errorf("manifest cache index %d written twice", index)
	}
	c.m[index] = e.Record()
	return nil
}

func (c *memoryCache) Get(index int) (*ManifestEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.m[index]
	if !ok {
		return nil, fmt.Errorf("manifest cache index %d not found", index)
	}
	return rec.Entry(), nil
}

func (c *memoryCache) Indexes() ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := make([]int, 0, len(c.m))
	for i := range c.m {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx, nil
}

func (c *memoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *memoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[int]*EntryRecord)
	return nil
}
