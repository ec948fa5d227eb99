// Package cache provides a thread-safe LRU cache with always-on statistics and
// optional Prometheus metrics. The GraphQL gateway keeps parsed documents in
// it, keyed by query text.
package cache

import (
	"container/list"
	"sync"

	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/metric"
)

// EvictCallback is called with entries dropped for capacity, deletion or
// Clear. It runs outside the cache lock.
type EvictCallback[V any] func(key string, value V)

// Option configures an LRU.
type Option[V any] func(*LRU[V])

// WithMetrics exports cache metrics labelled cache=name. Ignored when
// registry is nil or name empty.
func WithMetrics[V any](registry *metric.MetricsRegistry, name string) Option[V] {
	return func(c *LRU[V]) {
		if registry != nil && name != "" {
			c.registry, c.name = registry, name
		}
	}
}

func WithEvictionCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(c *LRU[V]) { c.onEvict = fn }
}

type entry[V any] struct {
	key   string
	value V
}

// LRU holds at most capacity entries and drops the least recently used.
type LRU[V any] struct {
	capacity int
	onEvict  EvictCallback[V]
	registry metric.Registerer
	name     string

	mu      sync.Mutex
	index   map[string]*list.Element
	recency *list.List // front is most recent

	stats  *Statistics
	meters *meters
}

// NewLRU creates an LRU holding at most capacity entries.
func NewLRU[V any](capacity int, opts ...Option[V]) (*LRU[V], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLRU", "capacity must be positive")
	}
	c := &LRU[V]{
		capacity: capacity,
		index:    map[string]*list.Element{},
		recency:  list.New(),
		stats:    NewStatistics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.registry != nil {
		m, err := newMeters(c.registry, c.name)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewLRU", "metrics registration")
		}
		c.meters = m
	}
	return c, nil
}

func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		c.stats.Miss()
		c.meters.count(opMiss)
		var zero V
		return zero, false
	}
	c.recency.MoveToFront(el)
	c.stats.Hit()
	c.meters.count(opHit)
	return el.Value.(*entry[V]).value, true
}

// Set stores value under key and reports whether the key is new.
func (c *LRU[V]) Set(key string, value V) (bool, error) {
	if key == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidData, "cache", "Set", "empty key")
	}

	c.mu.Lock()
	c.stats.Set()
	c.meters.count(opSet)
	if el, ok := c.index[key]; ok {
		el.Value.(*entry[V]).value = value
		c.recency.MoveToFront(el)
		c.mu.Unlock()
		return false, nil
	}

	c.index[key] = c.recency.PushFront(&entry[V]{key: key, value: value})
	var evicted []*entry[V]
	if len(c.index) > c.capacity {
		evicted = append(evicted, c.unlink(c.recency.Back()))
		c.stats.Eviction()
		c.meters.count(opEvict)
	}
	c.resized()
	c.mu.Unlock()

	c.notify(evicted)
	return true, nil
}

// Delete removes key and reports whether it was present.
func (c *LRU[V]) Delete(key string) (bool, error) {
	if key == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidData, "cache", "Delete", "empty key")
	}

	c.mu.Lock()
	el, ok := c.index[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	removed := c.unlink(el)
	c.stats.Delete()
	c.meters.count(opDelete)
	c.resized()
	c.mu.Unlock()

	c.notify([]*entry[V]{removed})
	return true, nil
}

// Clear empties the cache, oldest entries reported first.
func (c *LRU[V]) Clear() error {
	c.mu.Lock()
	var dropped []*entry[V]
	for el := c.recency.Back(); el != nil; el = el.Prev() {
		dropped = append(dropped, el.Value.(*entry[V]))
	}
	c.index = map[string]*list.Element{}
	c.recency.Init()
	c.resized()
	c.mu.Unlock()

	c.notify(dropped)
	return nil
}

func (c *LRU[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Keys lists keys, most recently used first.
func (c *LRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.index))
	for el := c.recency.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[V]).key)
	}
	return keys
}

func (c *LRU[V]) Stats() *Statistics { return c.stats }

func (c *LRU[V]) unlink(el *list.Element) *entry[V] {
	e := c.recency.Remove(el).(*entry[V])
	delete(c.index, e.key)
	return e
}

func (c *LRU[V]) resized() {
	c.stats.UpdateSize(int64(len(c.index)))
	c.meters.size(len(c.index))
}

func (c *LRU[V]) notify(entries []*entry[V]) {
	if c.onEvict == nil {
		return
	}
	for _, e := range entries {
		c.onEvict(e.key, e.value)
	}
}
