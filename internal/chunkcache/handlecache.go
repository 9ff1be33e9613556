package chunkcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// HandleKey identifies a refreshed handle scoped to one session. Handles
// are never valid outside the session that minted them (invariant 4).
type HandleKey struct {
	PartID    int64
	SessionID string
}

type handleEntry struct {
	handle     string
	acquiredAt time.Time
}

// HandleCache holds the current best-known handle per (part, session),
// refreshed in memory only — the relational store's handle column is a
// bootstrap seed and is never written back from the hot path, to avoid
// write races across concurrent streams.
type HandleCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[HandleKey]*handleEntry

	// group collapses concurrent refreshes of the same key into one
	// backend call.
	group singleflight.Group
}

// NewHandleCache builds a HandleCache with the default 30-minute TTL.
func NewHandleCache() *HandleCache {
	return &HandleCache{
		ttl:     defaultHandleTTL,
		entries: make(map[HandleKey]*handleEntry),
	}
}

// GetHandle returns the cached handle if present and unexpired.
func (c *HandleCache) GetHandle(partID int64, sessionID string) (string, bool) {
	key := HandleKey{partID, sessionID}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Since(entry.acquiredAt) >= c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return entry.handle, true
}

// PutHandle inserts or replaces the cached handle for (partID, sessionID).
func (c *HandleCache) PutHandle(partID int64, sessionID, handle string) {
	key := HandleKey{partID, sessionID}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &handleEntry{handle: handle, acquiredAt: time.Now()}
}

// InvalidateHandle drops the cached handle for (partID, sessionID), forcing
// the next GetHandle/Refresh to mint a new one.
func (c *HandleCache) InvalidateHandle(partID int64, sessionID string) {
	key := HandleKey{partID, sessionID}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePartHandles drops every cached handle for partID, across all
// sessions.
func (c *HandleCache) InvalidatePartHandles(partID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.PartID == partID {
			delete(c.entries, key)
		}
	}
}

// Refresh returns the cached handle for (partID, sessionID) if fresh,
// otherwise calls mint exactly once even if multiple goroutines request a
// refresh for the same key concurrently, and caches the result. mint is
// expected to issue the backend fetch_message RPC.
func (c *HandleCache) Refresh(ctx context.Context, partID int64, sessionID string, mint func(ctx context.Context) (string, error)) (string, error) {
	if handle, ok := c.GetHandle(partID, sessionID); ok {
		return handle, nil
	}

	groupKey := fmt.Sprintf("%d:%s", partID, sessionID)
	result, err, _ := c.group.Do(groupKey, func() (interface{}, error) {
		if handle, ok := c.GetHandle(partID, sessionID); ok {
			return handle, nil
		}
		handle, err := mint(ctx)
		if err != nil {
			return "", err
		}
		c.PutHandle(partID, sessionID, handle)
		return handle, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
