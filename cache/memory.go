// Package cache provides a small in-memory TTL cache with LRU eviction,
// used to keep recently fetched message bodies from being re-downloaded.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache stores values under string keys with a per-entry TTL.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
	Delete(key string)
	Len() int
	Clear()
}

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// MemoryCache is an in-memory Cache with LRU eviction. Expired entries are
// dropped lazily on access; there is no background sweeper.
type MemoryCache struct {
	mutex    sync.Mutex
	items    map[string]*list.Element
	order    *list.List
	capacity int
}

// NewMemoryCache creates a cache bounded to the given number of entries.
// A capacity of zero or less falls back to 128.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 128
	}
	return &MemoryCache{
		items:    make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
	}
}

// Get returns the value stored under key, if present and not expired.
// A hit refreshes the entry's LRU position.
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	element, exists := c.items[key]
	if !exists {
		return nil, false
	}

	e := element.Value.(*entry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.remove(element)
		return nil, false
	}

	c.order.MoveToFront(element)
	return e.value, true
}

// Set stores a value under key. A ttl of zero or less means no expiry. The
// least recently used entry is evicted when the cache is full.
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if element, exists := c.items[key]; exists {
		e := element.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(element)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.remove(oldest)
		}
	}

	element := c.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = element
}

// Delete removes the entry stored under key, if any.
func (c *MemoryCache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if element, exists := c.items[key]; exists {
		c.remove(element)
	}
}

// Len returns the number of stored entries, including expired ones not yet
// dropped.
func (c *MemoryCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.order.Len()
}

// Clear removes all entries.
func (c *MemoryCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

func (c *MemoryCache) remove(element *list.Element) {
	e := element.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(element)
}
