// Package chunkcache implements the two caches the Fetch Engine leans on: a
// content-addressed, size-bounded cache of chunk blobs, and a per-session
// cache of refreshed handles. The handle cache has no size cap; an expired
// handle entry is dropped only when its key is next looked up. Neither is a
// performance tier in the
// traditional sense — they exist to absorb overlapping browser range
// probes and let an interrupted fetch resume without redoing completed
// work.
package chunkcache

import (
	"sync"
	"time"
)

const (
	defaultChunkTTL      = 60 * time.Second
	defaultChunkCapacity = 50
	defaultHandleTTL     = 30 * time.Minute
)

// ChunkKey identifies one 1 MiB blob within a Part.
type ChunkKey struct {
	PartID     int64
	ChunkIndex int64
}

type chunkEntry struct {
	bytes      []byte
	insertedAt time.Time
}

// ChunkCache is a size-bounded, TTL-expiring map of chunk blobs. It is safe
// for concurrent use. Eviction is approximate (oldest-insertion-first, not
// strict LRU) — acceptable because streams are mostly forward-sequential.
type ChunkCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[ChunkKey]*chunkEntry
	order    []ChunkKey // insertion order, oldest first
}

// NewChunkCache builds a ChunkCache with the default TTL (60s) and capacity
// (50 entries).
func NewChunkCache() *ChunkCache {
	return &ChunkCache{
		ttl:      defaultChunkTTL,
		capacity: defaultChunkCapacity,
		entries:  make(map[ChunkKey]*chunkEntry),
	}
}

// GetChunk returns the cached blob for (partID, chunkIndex) if present and
// unexpired. A stale entry found during the lookup is evicted lazily.
func (c *ChunkCache) GetChunk(partID, chunkIndex int64) ([]byte, bool) {
	key := ChunkKey{partID, chunkIndex}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.insertedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.bytes, true
}

// PutChunk inserts a blob, evicting the oldest entry if at capacity and
// opportunistically sweeping expired entries first.
func (c *ChunkCache) PutChunk(partID, chunkIndex int64, bytes []byte) {
	key := ChunkKey{partID, chunkIndex}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked()

	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.capacity && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = &chunkEntry{bytes: bytes, insertedAt: time.Now()}
}

func (c *ChunkCache) evictExpiredLocked() {
	if len(c.order) == 0 {
		return
	}
	kept := c.order[:0]
	for _, key := range c.order {
		entry, ok := c.entries[key]
		if !ok {
			continue
		}
		if time.Since(entry.insertedAt) >= c.ttl {
			delete(c.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}

// Len reports the current number of live entries, for tests and metrics.
func (c *ChunkCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
