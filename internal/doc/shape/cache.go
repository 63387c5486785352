package shape

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of distinct bindings whose inferred
// Shape is held in memory at once, independent of each Shape's own
// DEFAULT_SCHEMA_COMPLEXITY_LIMIT -- a task with many bindings still
// can't grow unbounded widening state, per spec.md section 4.2.
const DefaultCacheSize = 256

// Cache is an LRU of per-binding inferred Shapes, evicting the
// least-recently-widened binding's shape once full. An evicted binding's
// next document starts widening from an empty Shape again; the
// persisted inferred schema in the state store is unaffected, since it's
// flushed independently by the runtime at commit.
type Cache struct {
	lru *lru.Cache[int, *Shape]
}

// NewCache returns a Cache holding up to size per-binding Shapes.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	var l, err = lru.New[int, *Shape](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Widen folds value into binding's cached Shape, creating one if absent.
func (c *Cache) Widen(binding int, value any) *Shape {
	var s, ok = c.lru.Get(binding)
	if !ok {
		s = NewShape()
	}
	s.Widen(value)
	c.lru.Add(binding, s)
	return s
}

// Get returns binding's cached Shape, if any is currently resident.
func (c *Cache) Get(binding int) (*Shape, bool) {
	return c.lru.Get(binding)
}

// Seed installs an already-loaded Shape for binding, used when a shard
// recovers its persisted inferred schema from the state store at open.
func (c *Cache) Seed(binding int, s *Shape) {
	c.lru.Add(binding, s)
}
