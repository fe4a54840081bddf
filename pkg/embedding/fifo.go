package embedding

import (
	"container/list"
	"sync"
)

// DefaultCacheCapacity is the number of embeddings kept in process.
const DefaultCacheCapacity = 1000

// FIFOCache is a bounded embedding cache. When full it evicts the key that
// was inserted first, regardless of how often it has been read since.
type FIFOCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = oldest insert
	items    map[string]*list.Element
}

type fifoItem struct {
	key    string
	vector []float32
}

// NewFIFOCache creates a cache holding at most capacity vectors.
func NewFIFOCache(capacity int) *FIFOCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &FIFOCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns a copy of the cached vector.
func (c *FIFOCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return copyVector(elem.Value.(*fifoItem).vector), true
}

// Set stores a copy of vec. Replacing an existing key keeps its original
// insertion position.
func (c *FIFOCache) Set(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*fifoItem).vector = copyVector(vec)
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*fifoItem).key)
	}

	c.items[key] = c.order.PushBack(&fifoItem{key: key, vector: copyVector(vec)})
}

// Len returns the number of cached vectors.
func (c *FIFOCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the configured bound.
func (c *FIFOCache) Capacity() int {
	return c.capacity
}

// Clear drops every cached vector.
func (c *FIFOCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

func copyVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
