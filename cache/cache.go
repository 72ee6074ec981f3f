// Copyright 2026 Nexus
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides a goroutine-safe key/value store with TTL expiry
// and LRU eviction, plus typed façades for the engine's four cache
// namespaces (tool catalogs, call results, schemas, conversation sessions).
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is a single cached value with its expiry metadata.
type Entry struct {
	Value     interface{}
	CreatedAt time.Time
	TTL       time.Duration
	HitCount  int64

	element *list.Element
}

// IsExpired checks whether the entry's TTL has elapsed.
func (e *Entry) IsExpired() bool {
	return time.Since(e.CreatedAt) > e.TTL
}

// Stats tracks cache performance counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// Cache is an in-memory TTL+LRU store. The zero value is not usable;
// construct with New.
type Cache struct {
	entries  map[string]*Entry
	order    *list.List // front = most recently used
	capacity int
	mu       sync.Mutex

	hits      int64
	misses    int64
	evictions int64

	stopJanitor chan struct{}
	janitorOnce sync.Once
}

// New creates a cache holding at most capacity entries. A capacity of 0
// means unbounded. When janitorInterval > 0, a background goroutine
// removes expired entries periodically; Close stops it.
func New(capacity int, janitorInterval time.Duration) *Cache {
	c := &Cache{
		entries:     make(map[string]*Entry),
		order:       list.New(),
		capacity:    capacity,
		stopJanitor: make(chan struct{}),
	}

	if janitorInterval > 0 {
		go c.janitor(janitorInterval)
	}

	return c
}

// Get returns the value for key if present and unexpired. An expired
// entry is evicted lazily. Get refreshes the entry's LRU position.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil, false
	}

	if entry.IsExpired() {
		c.removeLocked(key, entry)
		c.misses++
		return nil, false
	}

	entry.HitCount++
	c.hits++
	c.order.MoveToFront(entry.element)

	return entry.Value, true
}

// Set stores value under key with the given TTL. Setting counts as an
// access for LRU purposes. When capacity is exceeded the
// least-recently-accessed entry is evicted first.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, exists := c.entries[key]; exists {
		existing.Value = value
		existing.CreatedAt = time.Now()
		existing.TTL = ttl
		c.order.MoveToFront(existing.element)
		return
	}

	entry := &Entry{
		Value:     value,
		CreatedAt: time.Now(),
		TTL:       ttl,
	}
	entry.element = c.order.PushFront(key)
	c.entries[key] = entry

	if c.capacity > 0 && len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
}

// Delete removes key from the cache. Returns true if the key was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return false
	}
	c.removeLocked(key, entry)
	return true
}

// Exists reports whether key is present and unexpired, without refreshing
// its LRU position.
func (c *Cache) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return false
	}
	if entry.IsExpired() {
		c.removeLocked(key, entry)
		return false
	}
	return true
}

// CleanupExpired removes all expired entries and returns the number
// evicted.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, entry := range c.entries {
		if entry.IsExpired() {
			c.removeLocked(key, entry)
			evicted++
		}
	}
	return evicted
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	c.order.Init()
}

// GetStats returns a snapshot of the cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}

// Close stops the background janitor, if any.
func (c *Cache) Close() {
	c.janitorOnce.Do(func() {
		close(c.stopJanitor)
	})
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopJanitor:
			return
		case <-ticker.C:
			c.CleanupExpired()
		}
	}
}

// removeLocked deletes an entry; counts as an eviction. Caller holds mu.
func (c *Cache) removeLocked(key string, entry *Entry) {
	c.order.Remove(entry.element)
	delete(c.entries, key)
	c.evictions++
}

// evictOldestLocked removes the least-recently-used entry. Caller holds mu.
func (c *Cache) evictOldestLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	if entry, exists := c.entries[key]; exists {
		c.removeLocked(key, entry)
	}
}
